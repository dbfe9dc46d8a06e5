package unit

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/tevino/abool"

	"github.com/qdbp/empty-status/service/effect"
	"github.com/qdbp/empty-status/service/mgr"
	"github.com/qdbp/empty-status/service/render"
)

// Scheduling is one instance's validated scheduling policy.
type Scheduling struct {
	// PollInterval is the cadence after a successful poll.
	PollInterval time.Duration
	// MinInterval is the global polling floor; no deadline, including
	// PollNow requests, may undercut it. It is also the Tick cadence.
	MinInterval time.Duration
	// Timeout bounds every single poll attempt.
	Timeout time.Duration
	Backoff BackoffPolicy
}

// Actor runs one configured unit instance: it owns the unit state,
// drives the machine's transitions, schedules polls and publishes the
// latest view for the aggregator.
type Actor struct {
	name    string
	machine Machine
	kernel  *effect.Kernel
	sched   Scheduling

	clicks chan ClickEvent

	viewLock sync.RWMutex
	view     View

	// Everything below is owned by the Run goroutine.
	state         State
	backoff       *Backoff
	initDecision  Decision
	inflight      *pollAttempt
	pendingPoll   bool
	lastPollStart time.Time
	deadline      *time.Timer
}

type pollAttempt struct {
	ctx     context.Context
	cancel  context.CancelFunc
	discard *abool.AtomicBool
	done    chan pollResult
}

type pollResult struct {
	out PollOut
	err error
}

// NewActor returns an actor for the given machine instance. The
// initial loading view is published immediately, so the aggregator has
// something to show before the actor even starts.
func NewActor(name string, machine Machine, kernel *effect.Kernel, sched Scheduling) *Actor {
	a := &Actor{
		name:    name,
		machine: machine,
		kernel:  kernel,
		sched:   sched,
		clicks:  make(chan ClickEvent, 4),
		backoff: NewBackoff(sched.Backoff),
	}

	state, view, decision := machine.Init()
	a.state = state
	a.initDecision = decision
	a.publish(view)

	return a
}

// Name returns the stable instance identifier, e.g. "weather::3".
func (a *Actor) Name() string {
	return a.name
}

// LatestView returns the most recently published view. It never
// blocks the actor.
func (a *Actor) LatestView() View {
	a.viewLock.RLock()
	defer a.viewLock.RUnlock()
	return a.view
}

// DeliverClick hands a click event to the actor. Events are dropped
// if the actor is too far behind; the next one will do the same thing.
func (a *Actor) DeliverClick(ev ClickEvent) {
	select {
	case a.clicks <- ev:
	default:
	}
}

func (a *Actor) publish(v View) {
	a.viewLock.Lock()
	a.view = v
	a.viewLock.Unlock()
}

func (a *Actor) publishIf(v *View) {
	if v != nil {
		a.publish(*v)
	}
}

// Run is the actor main loop. It is intended to be started via
// mgr.Manager.Go, which restarts it with backoff should it ever fail.
func (a *Actor) Run(w *mgr.WorkerCtx) error {
	// Init already ran; arm the first deadline.
	first := a.sched.PollInterval
	if a.initDecision == PollNow {
		first = 0
	}
	a.deadline = time.NewTimer(first)
	defer a.deadline.Stop()

	tick := time.NewTicker(a.sched.MinInterval)
	defer tick.Stop()

	for {
		select {
		case <-w.Done():
			a.cancelInflight()
			return nil

		case <-tick.C:
			state, view, decision := a.machine.Tick(a.state)
			a.state = state
			a.publishIf(view)
			a.applyDecision(w, decision)

		case ev := <-a.clicks:
			// A click always supersedes an in-flight poll.
			a.cancelInflight()
			state, view, decision := a.machine.Click(a.state, ev)
			a.state = state
			a.publishIf(view)
			a.applyDecision(w, decision)

		case <-a.deadline.C:
			if a.inflight != nil {
				// Deadline fired mid-poll; remember it instead of
				// stacking a second poll.
				a.pendingPoll = true
				continue
			}
			a.startPoll(w)

		case res := <-a.inflightDone():
			a.handleOutcome(w, a.inflight, res)

		case <-a.inflightExpired():
			// The poll overran its deadline without returning; its
			// eventual result is stale from here on.
			attempt := a.inflight
			attempt.discard.Set()
			a.handleOutcome(w, attempt, pollResult{err: context.DeadlineExceeded})
		}
	}
}

// inflightDone returns the completion channel of the in-flight poll,
// or nil (never ready) when no poll is running.
func (a *Actor) inflightDone() <-chan pollResult {
	if a.inflight == nil {
		return nil
	}
	return a.inflight.done
}

func (a *Actor) inflightExpired() <-chan struct{} {
	if a.inflight == nil {
		return nil
	}
	return a.inflight.ctx.Done()
}

func (a *Actor) startPoll(w *mgr.WorkerCtx) {
	ctx, cancel := context.WithTimeout(w.Ctx(), a.sched.Timeout)
	attempt := &pollAttempt{
		ctx:     ctx,
		cancel:  cancel,
		discard: abool.New(),
		done:    make(chan pollResult, 1),
	}
	a.inflight = attempt
	a.lastPollStart = time.Now()

	metrics.GetOrCreateCounter(`empty_status_unit_polls_total`).Inc()

	// The poll goroutine gets a snapshot and must treat it read-only;
	// only Render, back on this goroutine, folds results into state.
	snapshot := a.state
	machine := a.machine
	kernel := a.kernel
	go func() {
		defer cancel()
		out, err := machine.Poll(ctx, kernel, snapshot)
		attempt.done <- pollResult{out: out, err: err}
	}()
}

func (a *Actor) cancelInflight() {
	if a.inflight == nil {
		return
	}
	// The underlying IO may run on, but its result can never reach
	// Render: the discard flag outlives the attempt.
	a.inflight.discard.Set()
	a.inflight.cancel()
	a.inflight = nil

	// The deadline was consumed starting this poll; rearm the regular
	// cadence so cancellation never stalls the unit.
	a.scheduleAfter(a.sched.PollInterval)
}

func (a *Actor) handleOutcome(w *mgr.WorkerCtx, attempt *pollAttempt, res pollResult) {
	if attempt == nil || attempt.discard.IsSet() && res.err == nil {
		return
	}
	a.inflight = nil
	attempt.cancel()

	if res.err == nil {
		a.backoff.Success()
		state, view, decision := a.machine.Render(a.state, res.out)
		a.state = state
		a.publish(view)
		a.scheduleAfter(a.sched.PollInterval)
		a.applyDecision(w, decision)
	} else {
		pollErr := ClassifyPollError(attempt.ctx, res.err)
		delay := a.backoff.Failure()
		metrics.GetOrCreateCounter(`empty_status_unit_poll_failures_total`).Inc()
		w.Warn(
			"poll failed",
			"kind", pollErr.Kind.String(),
			"failures", a.backoff.Failures(),
			"retryIn", delay,
			"err", res.err,
		)
		a.publish(ErrorView(a.machine, pollErr))
		a.scheduleAfter(delay)
	}

	if a.pendingPoll {
		a.pendingPoll = false
		a.scheduleImmediate()
	}
}

func (a *Actor) applyDecision(w *mgr.WorkerCtx, d Decision) {
	if d != PollNow {
		return
	}
	if a.inflight != nil {
		a.pendingPoll = true
		return
	}
	a.scheduleImmediate()
}

// scheduleImmediate arms the deadline as early as the global floor
// allows: immediately, or once MinInterval has passed since the last
// poll started.
func (a *Actor) scheduleImmediate() {
	wait := time.Until(a.lastPollStart.Add(a.sched.MinInterval))
	if wait < 0 {
		wait = 0
	}
	a.resetDeadline(wait)
}

func (a *Actor) scheduleAfter(d time.Duration) {
	if d < a.sched.MinInterval {
		d = a.sched.MinInterval
	}
	a.resetDeadline(d)
}

func (a *Actor) resetDeadline(d time.Duration) {
	if !a.deadline.Stop() {
		select {
		case <-a.deadline.C:
		default:
		}
	}
	a.deadline.Reset(d)
}

// ErrorView builds the uniform error view for a failed poll. Units
// supply only the error text for their domain failures; the framing is
// decided here for all of them.
func ErrorView(machine Machine, pollErr *PollError) View {
	name := strings.ToLower(machine.Name())
	red := render.ParseRGB(render.Red)

	var body render.Markup
	switch pollErr.Kind {
	case PollTimeout:
		body = render.Text(name + ": timeout")
	case PollCanceled:
		body = render.Text(name + ": canceled")
	case PollTransport:
		body = render.Textf("%s: %s", name, shortErrText(pollErr.Err.Error()))
	default:
		body = render.Text(name + ": ").Append(machine.RenderError(pollErr.Err))
	}

	return View{Body: body.FG(red), Health: HealthError}
}

// DefaultRenderError is the error text hook most kinds use: shorten
// rate-limit noise, truncate the rest.
func DefaultRenderError(err error) render.Markup {
	return render.Text(shortErrText(err.Error()))
}

func shortErrText(msg string) string {
	if strings.Contains(msg, "429") {
		return "HTTP 429"
	}
	if len(msg) > 80 {
		return msg[:80]
	}
	return msg
}
