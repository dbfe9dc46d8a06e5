package mgr

import (
	"context"
	"errors"
	"sync"
	"time"
)

// WorkerMgr drives one worker function on a schedule: delayed once,
// repeated on an interval, or both. A configured delay fires first,
// then the repeat cadence resumes from there.
type WorkerMgr struct {
	mgr *Manager
	ctx *WorkerCtx

	name    string
	fn      func(w *WorkerCtx) error
	errorFn func(c *WorkerCtx, err error, panicInfo string)

	actionLock   sync.Mutex
	selectAction chan struct{}
	delay        *workerMgrDelay
	repeat       *workerMgrRepeat
}

// scheduleAction is what the schedule loop currently waits on.
type scheduleAction interface {
	Wait() <-chan time.Time
	Ack()
}

type workerMgrDelay struct {
	s     *WorkerMgr
	timer *time.Timer
}

func (s *WorkerMgr) newDelay(duration time.Duration) *workerMgrDelay {
	return &workerMgrDelay{
		s:     s,
		timer: time.NewTimer(duration),
	}
}

func (sd *workerMgrDelay) Wait() <-chan time.Time { return sd.timer.C }

func (sd *workerMgrDelay) Ack() {
	sd.s.actionLock.Lock()
	defer sd.s.actionLock.Unlock()

	// A delay only fires once; hand over to the repeat, if any.
	sd.s.delay = nil
	sd.s.repeat.Reset()
	sd.timer.Stop()
}

func (sd *workerMgrDelay) Stop() {
	if sd == nil {
		return
	}
	sd.timer.Stop()
}

type workerMgrRepeat struct {
	ticker   *time.Ticker
	interval time.Duration
}

func (s *WorkerMgr) newRepeat(interval time.Duration) *workerMgrRepeat {
	return &workerMgrRepeat{
		ticker:   time.NewTicker(interval),
		interval: interval,
	}
}

func (sr *workerMgrRepeat) Wait() <-chan time.Time { return sr.ticker.C }
func (sr *workerMgrRepeat) Ack()                   {}

func (sr *workerMgrRepeat) Reset() {
	if sr == nil {
		return
	}
	sr.ticker.Reset(sr.interval)
}

func (sr *workerMgrRepeat) Stop() {
	if sr == nil {
		return
	}
	sr.ticker.Stop()
}

// NewWorkerMgr creates a scheduler for the given worker function.
// Worker errors and panics are logged; supply an errorFn for custom
// handling. Once no schedule remains, the scheduler ends itself along
// with its workers.
func (m *Manager) NewWorkerMgr(name string, fn func(w *WorkerCtx) error, errorFn func(c *WorkerCtx, err error, panicInfo string)) *WorkerMgr {
	wCtx := &WorkerCtx{
		logger: m.logger.With("worker", name),
	}
	wCtx.ctx, wCtx.cancelCtx = context.WithCancel(m.Ctx())

	s := &WorkerMgr{
		mgr:          m,
		ctx:          wCtx,
		name:         name,
		fn:           fn,
		errorFn:      errorFn,
		selectAction: make(chan struct{}, 1),
	}

	go s.scheduleLoop()
	return s
}

func (s *WorkerMgr) scheduleLoop() {
	s.mgr.workerStart()
	defer s.mgr.workerDone()

	// When the loop ends, end all descendants too.
	defer s.ctx.cancelCtx()

	var action scheduleAction
	defer func() {
		s.delay.Stop()
		s.repeat.Stop()
	}()

	// Wait until a schedule is configured.
	select {
	case <-s.selectAction:
	case <-s.ctx.Done():
		return
	}

manage:
	for {
		// Pick the current action; a pending delay outranks the repeat.
		func() {
			s.actionLock.Lock()
			defer s.actionLock.Unlock()

			switch {
			case s.delay != nil:
				action = s.delay
			case s.repeat != nil:
				action = s.repeat
			default:
				action = nil
			}
		}()
		if action == nil {
			return
		}

		select {
		case <-action.Wait():
			action.Ack()
		case <-s.selectAction:
			// Schedule changed, re-select the action.
			continue manage
		case <-s.ctx.Done():
			return
		}

		// Run one iteration of the worker.
		wCtx := &WorkerCtx{
			logger: s.mgr.logger.With("worker", s.name),
		}
		wCtx.ctx, wCtx.cancelCtx = context.WithCancel(s.mgr.Ctx())
		panicInfo, err := s.mgr.runWorker(wCtx, s.fn)

		switch {
		case err == nil:
			// Continue with the schedule.
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			// A canceled run also continues the schedule.

		default:
			if panicInfo != "" {
				s.ctx.Error(
					"worker failed",
					"err", err,
					"file", panicInfo,
				)
			} else {
				s.ctx.Error(
					"worker failed",
					"err", err,
				)
			}

			// The error function may stop the scheduler if it wants to;
			// by default the schedule just continues.
			if s.errorFn != nil {
				s.errorFn(s.ctx, err, panicInfo)
			}
		}
	}
}

// Stop immediately stops the scheduler and all related workers.
func (s *WorkerMgr) Stop() {
	s.ctx.cancelCtx()
}

// Delay schedules the worker to run once after the given duration.
// If a repeat is set, its cadence resumes afterwards.
func (s *WorkerMgr) Delay(duration time.Duration) *WorkerMgr {
	s.actionLock.Lock()
	defer s.actionLock.Unlock()

	s.delay.Stop()
	s.delay = s.newDelay(duration)

	s.check()
	return s
}

// Repeat runs the worker repeatedly on the given interval.
func (s *WorkerMgr) Repeat(interval time.Duration) *WorkerMgr {
	s.actionLock.Lock()
	defer s.actionLock.Unlock()

	s.repeat.Stop()
	s.repeat = s.newRepeat(interval)

	s.check()
	return s
}

func (s *WorkerMgr) check() {
	select {
	case s.selectAction <- struct{}{}:
	default:
	}
}
