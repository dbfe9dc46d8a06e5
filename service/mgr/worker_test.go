package mgr

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestWorkerFinishes(t *testing.T) {
	t.Parallel()

	m := New("WorkerTest")
	done := atomic.Bool{}
	m.Go("test", func(w *WorkerCtx) error {
		done.Store(true)
		return nil
	})

	if !m.WaitForWorkers(time.Second) {
		t.Fatal("workers did not finish")
	}
	if !done.Load() {
		t.Error("worker did not run")
	}
}

func TestWorkerPanicIsRecovered(t *testing.T) {
	t.Parallel()

	m := New("PanicTest")
	err := m.Do("panics", func(w *WorkerCtx) error {
		panic("boom")
	})
	if err == nil {
		t.Fatal("expected error from panicking worker")
	}
}

func TestWorkerRestartsOnFailure(t *testing.T) {
	t.Parallel()

	m := New("RestartTest")
	defer m.Cancel()

	runs := atomic.Int32{}
	m.Go("flaky", func(w *WorkerCtx) error {
		if runs.Add(1) < 2 {
			return errors.New("transient")
		}
		return nil
	})

	// First run fails, restart happens after ~2s backoff.
	deadline := time.Now().Add(5 * time.Second)
	for runs.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if runs.Load() < 2 {
		t.Errorf("worker was not restarted, runs=%d", runs.Load())
	}
}

func TestWorkerStopsWithManager(t *testing.T) {
	t.Parallel()

	m := New("StopTest")
	m.Go("waits", func(w *WorkerCtx) error {
		<-w.Done()
		return w.ctx.Err()
	})

	time.Sleep(10 * time.Millisecond)
	m.Cancel()
	if !m.WaitForWorkers(time.Second) {
		t.Error("worker did not stop with manager")
	}
}
