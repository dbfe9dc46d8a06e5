package unit

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qdbp/empty-status/service/effect"
	"github.com/qdbp/empty-status/service/mgr"
	"github.com/qdbp/empty-status/service/render"
)

// testMachine blocks every poll until released, so tests control
// exactly when and how polls finish.
type testMachine struct {
	tickDecision Decision

	pollStarted chan struct{}
	pollRelease chan error

	polls   atomic.Int32
	renders atomic.Int32
}

func newTestMachine() *testMachine {
	return &testMachine{
		pollStarted: make(chan struct{}, 16),
		pollRelease: make(chan error),
	}
}

func (m *testMachine) Name() string { return "test" }

func (m *testMachine) Init() (State, View, Decision) {
	return 0, LoadingView("test"), PollNow
}

func (m *testMachine) Tick(s State) (State, *View, Decision) {
	return s, nil, m.tickDecision
}

func (m *testMachine) Click(s State, ev ClickEvent) (State, *View, Decision) {
	v := OkView(render.Text("clicked"))
	return s, &v, Idle
}

func (m *testMachine) Poll(ctx context.Context, kernel *effect.Kernel, s State) (PollOut, error) {
	m.polls.Add(1)
	m.pollStarted <- struct{}{}

	select {
	case err := <-m.pollRelease:
		if err != nil {
			return nil, err
		}
		return "polled", nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *testMachine) Render(s State, out PollOut) (State, View, Decision) {
	m.renders.Add(1)
	return s, OkView(render.Text(out.(string))), Idle
}

func (m *testMachine) RenderError(err error) render.Markup {
	return DefaultRenderError(err)
}

func testSched() Scheduling {
	return Scheduling{
		PollInterval: 50 * time.Millisecond,
		MinInterval:  5 * time.Millisecond,
		Timeout:      time.Second,
		Backoff: BackoffPolicy{
			Base:   5 * time.Millisecond,
			Growth: 2.0,
			Max:    50 * time.Millisecond,
			Jitter: 0,
		},
	}
}

func startActor(t *testing.T, machine Machine, sched Scheduling) (*Actor, *mgr.Manager) {
	t.Helper()

	m := mgr.New("ActorTest")
	a := NewActor("test::0", machine, nil, sched)
	m.Go("actor test::0", a.Run)

	t.Cleanup(func() {
		m.Cancel()
		assert.True(t, m.WaitForWorkers(time.Second), "actor must stop with the manager")
	})
	return a, m
}

func TestActorSingleInflightPoll(t *testing.T) {
	t.Parallel()

	machine := newTestMachine()
	machine.tickDecision = PollNow // hammer the actor with poll requests
	a, _ := startActor(t, machine, testSched())

	<-machine.pollStarted

	// Poll requests pile up while one poll is in flight; none of them
	// may start a second attempt.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), machine.polls.Load(), "only one poll may be in flight")

	// Releasing the poll renders it and lets the deferred request run.
	machine.pollRelease <- nil
	<-machine.pollStarted
	require.Eventually(t, func() bool {
		return machine.renders.Load() >= 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, "polled", a.LatestView().Body.Plain())
}

func TestActorClickCancelsPoll(t *testing.T) {
	t.Parallel()

	machine := newTestMachine()
	a, _ := startActor(t, machine, testSched())

	<-machine.pollStarted
	a.DeliverClick(ClickEvent{Name: "test::0", Button: 1})

	// The click view wins; the canceled poll's result never renders.
	require.Eventually(t, func() bool {
		return a.LatestView().Body.Plain() == "clicked"
	}, time.Second, time.Millisecond)
	assert.Equal(t, int32(0), machine.renders.Load(), "canceled poll result must be discarded")

	// Polling resumes on the regular cadence afterwards.
	select {
	case <-machine.pollStarted:
	case <-time.After(time.Second):
		t.Fatal("actor stopped polling after click cancellation")
	}
}

func TestActorTimeoutBackoff(t *testing.T) {
	t.Parallel()

	machine := newTestMachine()
	sched := testSched()
	sched.Timeout = 10 * time.Millisecond
	a, _ := startActor(t, machine, sched)

	// First attempt times out and is surfaced as an error view.
	<-machine.pollStarted
	require.Eventually(t, func() bool {
		return a.LatestView().Health == HealthError
	}, time.Second, time.Millisecond)
	assert.Contains(t, a.LatestView().Body.Plain(), "timeout")

	// Backoff reschedules instead of giving up.
	select {
	case <-machine.pollStarted:
	case <-time.After(time.Second):
		t.Fatal("actor did not retry after timeout")
	}
}

func TestActorPollFailureView(t *testing.T) {
	t.Parallel()

	machine := newTestMachine()
	a, _ := startActor(t, machine, testSched())

	<-machine.pollStarted
	machine.pollRelease <- assert.AnError

	require.Eventually(t, func() bool {
		return a.LatestView().Health == HealthError
	}, time.Second, time.Millisecond)
	view := a.LatestView().Body.Plain()
	assert.True(t, strings.HasPrefix(view, "test: "), "error views are prefixed with the unit name: %q", view)
}

func TestClassifyPollError(t *testing.T) {
	t.Parallel()

	expired, cancelExpired := context.WithTimeout(context.Background(), 0)
	defer cancelExpired()
	<-expired.Done()
	assert.Equal(t, PollTimeout, ClassifyPollError(expired, assert.AnError).Kind,
		"an expired deadline wins over whatever the poll returned")

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, PollCanceled, ClassifyPollError(canceled, assert.AnError).Kind)

	live := context.Background()
	transport := &effect.TransportError{Err: assert.AnError}
	assert.Equal(t, PollTransport, ClassifyPollError(live, transport).Kind)
	assert.Equal(t, PollUnit, ClassifyPollError(live, assert.AnError).Kind)
}

func TestErrorViewFraming(t *testing.T) {
	t.Parallel()

	machine := newTestMachine()

	v := ErrorView(machine, &PollError{Kind: PollTimeout, Err: context.DeadlineExceeded})
	assert.Equal(t, "test: timeout", v.Body.Plain())
	assert.Equal(t, HealthError, v.Health)

	v = ErrorView(machine, &PollError{Kind: PollUnit, Err: assert.AnError})
	assert.Equal(t, "test: "+assert.AnError.Error(), v.Body.Plain())

	long := strings.Repeat("x", 200)
	short := shortErrText(long)
	assert.Len(t, short, 80)
	assert.Equal(t, "HTTP 429", shortErrText(`status code 429 for "https://example.com"`))
}
