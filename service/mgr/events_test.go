package mgr

import (
	"testing"
)

func TestEventSubscription(t *testing.T) {
	t.Parallel()

	em := NewEventMgr[string]("test", nil)
	sub := em.Subscribe("listener", 2)

	em.Submit("one")
	em.Submit("two")

	if got := <-sub.Events(); got != "one" {
		t.Errorf("first event is %q, expected %q", got, "one")
	}
	if got := <-sub.Events(); got != "two" {
		t.Errorf("second event is %q, expected %q", got, "two")
	}

	// After Cancel, nothing is delivered anymore.
	sub.Cancel()
	em.Submit("three")
	select {
	case got := <-sub.Events():
		t.Errorf("received %q on a canceled subscription", got)
	default:
	}
	if !sub.Done() {
		t.Error("canceled subscription does not report Done")
	}
}

func TestEventSubscriptionOverflowDrops(t *testing.T) {
	t.Parallel()

	em := NewEventMgr[int]("test", nil)
	sub := em.Subscribe("slow listener", 1)

	// The second event overflows the buffer and is dropped, not queued.
	em.Submit(1)
	em.Submit(2)

	if got := <-sub.Events(); got != 1 {
		t.Errorf("received %d, expected 1", got)
	}
	select {
	case got := <-sub.Events():
		t.Errorf("received %d past the buffer size", got)
	default:
	}
}

func TestEventCallbackCancel(t *testing.T) {
	t.Parallel()

	// With a nil manager, callbacks run inline on the submitter.
	em := NewEventMgr[int]("test", nil)

	calls := 0
	em.AddCallback("counter", func(w *WorkerCtx, v int) (bool, error) {
		calls++
		return v >= 2, nil
	})

	em.Submit(1)
	em.Submit(2) // callback cancels itself here
	em.Submit(3)

	if calls != 2 {
		t.Errorf("callback ran %d times, expected 2", calls)
	}
}
