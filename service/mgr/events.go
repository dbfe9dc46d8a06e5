package mgr

import (
	"slices"
	"sync"
	"sync/atomic"
)

// EventMgr distributes events of one type to subscribers and callbacks.
// It is easiest used as a public field on a module, so consumers can
// Subscribe or AddCallback directly; the click router hands bar clicks
// to unit actors this way.
type EventMgr[T any] struct {
	name string
	mgr  *Manager
	lock sync.Mutex

	subs      []*EventSubscription[T]
	callbacks []*eventCallback[T]
}

// EventSubscription receives events on a buffered channel.
type EventSubscription[T any] struct {
	name     string
	events   chan T
	canceled atomic.Bool
}

type eventCallback[T any] struct {
	name     string
	callback EventCallbackFunc[T]
	canceled atomic.Bool
}

// EventCallbackFunc handles one event. Returning cancel removes the
// callback from the event manager.
type EventCallbackFunc[T any] func(*WorkerCtx, T) (cancel bool, err error)

// NewEventMgr returns an event manager for events of type T.
// The manager may be nil; callbacks then run inline on the submitting
// goroutine instead of in a worker.
func NewEventMgr[T any](eventName string, mgr *Manager) *EventMgr[T] {
	return &EventMgr[T]{
		name: eventName,
		mgr:  mgr,
	}
}

// Subscribe registers a channel subscriber. Events that do not fit the
// channel buffer are dropped, not queued; size the buffer for the
// consumer's worst lag.
func (em *EventMgr[T]) Subscribe(subscriberName string, chanSize int) *EventSubscription[T] {
	em.lock.Lock()
	defer em.lock.Unlock()

	es := &EventSubscription[T]{
		name:   subscriberName,
		events: make(chan T, chanSize),
	}

	em.subs = append(em.subs, es)
	return es
}

// AddCallback registers a callback. Event values are shared among all
// subscribers and callbacks, so treat them as read-only.
func (em *EventMgr[T]) AddCallback(callbackName string, callback EventCallbackFunc[T]) {
	em.lock.Lock()
	defer em.lock.Unlock()

	em.callbacks = append(em.callbacks, &eventCallback[T]{
		name:     callbackName,
		callback: callback,
	})
}

// Submit delivers an event to all live subscribers and callbacks.
func (em *EventMgr[T]) Submit(event T) {
	em.lock.Lock()
	defer em.lock.Unlock()

	var anyCanceled bool

	for _, sub := range em.subs {
		if sub.canceled.Load() {
			anyCanceled = true
			continue
		}

		select {
		case sub.events <- event:
		default:
			if em.mgr != nil {
				em.mgr.Warn(
					"event subscription channel overflow",
					"event", em.name,
					"subscriber", sub.name,
				)
			}
		}
	}

	for _, ec := range em.callbacks {
		if ec.canceled.Load() {
			anyCanceled = true
			continue
		}
		if em.runCallback(ec, event) {
			anyCanceled = true
		}
	}

	if anyCanceled {
		em.clean()
	}
}

// runCallback executes one callback, in a worker when a manager is
// available. It reports whether the callback canceled itself on the
// inline path; worker-run cancellations are swept on a later Submit.
func (em *EventMgr[T]) runCallback(ec *eventCallback[T], event T) (canceledNow bool) {
	if em.mgr == nil {
		cancel, _ := ec.callback(nil, event)
		if cancel {
			ec.canceled.Store(true)
		}
		return cancel
	}

	name := "event " + em.name + " callback " + ec.name
	em.mgr.Go(name, func(w *WorkerCtx) error {
		cancel, err := ec.callback(w, event)
		if err != nil {
			w.Warn(
				"event callback failed",
				"event", em.name,
				"callback", ec.name,
				"err", err,
			)
		}
		if cancel {
			ec.canceled.Store(true)
		}
		return nil
	})
	return false
}

// clean removes all canceled subscriptions and callbacks.
func (em *EventMgr[T]) clean() {
	em.subs = slices.DeleteFunc(em.subs, func(es *EventSubscription[T]) bool {
		return es.canceled.Load()
	})
	em.callbacks = slices.DeleteFunc(em.callbacks, func(ec *eventCallback[T]) bool {
		return ec.canceled.Load()
	})
}

// Events returns the subscription's receive channel.
func (es *EventSubscription[T]) Events() <-chan T {
	return es.events
}

// Cancel stops delivery to this subscription. The events channel is
// not closed, but will not receive new events.
func (es *EventSubscription[T]) Cancel() {
	es.canceled.Store(true)
}

// Done reports whether the subscription has been canceled.
func (es *EventSubscription[T]) Done() bool {
	return es.canceled.Load()
}
