package utils

import (
	"context"
	"sync"
	"time"
)

// CallLimiter enforces a minimum pause between permitted calls.
// Callers either wait for their turn or bail out immediately, so a
// resource class (e.g. one API host) is never hit faster than the
// configured pace, regardless of how many goroutines ask at once.
type CallLimiter struct {
	pause time.Duration

	lock sync.Mutex
	next time.Time
}

// NewCallLimiter returns a new call limiter.
// Set minPause to zero to disable the minimum pause between calls.
func NewCallLimiter(minPause time.Duration) *CallLimiter {
	return &CallLimiter{
		pause: minPause,
	}
}

// Wait blocks until the caller's permit slot is reached, or until the
// context is canceled. Slots are handed out strictly pause apart, in
// request order. A canceled wait still consumes its slot.
func (l *CallLimiter) Wait(ctx context.Context) error {
	delay := l.claimSlot()
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Widen raises the minimum pause to at least minPause. It never
// shortens an existing pause, so callers with different policies for
// one resource converge on the strictest.
func (l *CallLimiter) Widen(minPause time.Duration) {
	l.lock.Lock()
	defer l.lock.Unlock()

	if minPause > l.pause {
		l.pause = minPause
	}
}

// TryAcquire claims a permit only if one is immediately available.
func (l *CallLimiter) TryAcquire() bool {
	l.lock.Lock()
	defer l.lock.Unlock()

	now := time.Now()
	if now.Before(l.next) {
		return false
	}
	l.next = now.Add(l.pause)
	return true
}

func (l *CallLimiter) claimSlot() time.Duration {
	l.lock.Lock()
	defer l.lock.Unlock()

	now := time.Now()
	slot := l.next
	if slot.Before(now) {
		slot = now
	}
	l.next = slot.Add(l.pause)
	return slot.Sub(now)
}
