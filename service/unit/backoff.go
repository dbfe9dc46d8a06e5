package unit

import (
	"math"
	"math/rand/v2"
	"time"
)

// BackoffPolicy controls how poll retry deadlines grow after
// consecutive failures.
type BackoffPolicy struct {
	Base   time.Duration
	Growth float64
	Max    time.Duration
	// Jitter is the maximum fraction of random extra delay added to
	// each backoff deadline, to avoid synchronized retry storms.
	Jitter float64
}

// DefaultBackoff is used when the config does not override it.
var DefaultBackoff = BackoffPolicy{
	Base:   5 * time.Second,
	Growth: 2.0,
	Max:    60 * time.Second,
	Jitter: 0.1,
}

// Backoff tracks one actor's consecutive poll failures. It is only
// touched on the actor goroutine, after a poll outcome is classified.
type Backoff struct {
	policy   BackoffPolicy
	failures int

	// randFloat is an injection point for deterministic tests.
	randFloat func() float64
}

// NewBackoff returns backoff state for the given policy.
func NewBackoff(policy BackoffPolicy) *Backoff {
	return &Backoff{
		policy:    policy,
		randFloat: rand.Float64,
	}
}

// Failure records a failed poll and returns the delay until the next
// attempt: min(base·growth^(n-1), max) plus bounded jitter, clamped to
// the cap.
func (b *Backoff) Failure() time.Duration {
	b.failures++

	delay := float64(b.policy.Base) * math.Pow(b.policy.Growth, float64(b.failures-1))
	delay *= 1 + b.policy.Jitter*b.randFloat()
	if delay > float64(b.policy.Max) {
		delay = float64(b.policy.Max)
	}
	return time.Duration(delay)
}

// Success resets the failure count.
func (b *Backoff) Success() {
	b.failures = 0
}

// Failures returns the current consecutive failure count.
func (b *Backoff) Failures() int {
	return b.failures
}
