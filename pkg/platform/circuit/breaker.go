// Package circuit implements a simple circuit breaker for outbound
// dependencies. When a provider fails repeatedly the circuit opens and
// callers route to their fallback instead of hammering a dead service;
// after a cooldown one probe is let through to test recovery.
package circuit

import (
	"sync"
	"time"
)

// State is the breaker's current position.
type State string

const (
	// StateClosed passes all calls through. Normal operation.
	StateClosed State = "closed"
	// StateOpen rejects calls until the cooldown expires.
	StateOpen State = "open"
	// StateHalfOpen lets probes through; a success closes the circuit,
	// a failure reopens it.
	StateHalfOpen State = "half_open"
)

// Breaker tracks consecutive failures for one named dependency.
// Safe for concurrent use.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	openUntil time.Time
}

type Option func(*Breaker)

// WithFailureThreshold sets how many consecutive failures open the circuit.
func WithFailureThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.threshold = n
		}
	}
}

// WithCooldown sets how long the circuit stays open before probing.
func WithCooldown(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.cooldown = d
		}
	}
}

// WithClock overrides the breaker's clock. Test hook.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:      name,
		threshold: 5,
		cooldown:  time.Minute,
		now:       time.Now,
		state:     StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the dependency name the breaker guards.
func (b *Breaker) Name() string { return b.name }

// Allow reports whether a call may go to the primary. An open circuit whose
// cooldown has expired moves to half-open and allows one probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed, StateHalfOpen:
		return true
	default:
		if b.now().After(b.openUntil) {
			b.state = StateHalfOpen
			return true
		}
		return false
	}
}

// RecordSuccess closes the circuit and clears the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
}

// RecordFailure counts a failure. Crossing the threshold, or failing a
// half-open probe, opens the circuit. Returns true when the circuit opened
// on this call.
func (b *Breaker) RecordFailure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.threshold {
		b.state = StateOpen
		b.openUntil = b.now().Add(b.cooldown)
		return true
	}
	return false
}

// State returns the breaker's current position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().After(b.openUntil) {
		return StateHalfOpen
	}
	return b.state
}

// IsOpen reports whether calls are currently rejected.
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == StateOpen && !b.now().After(b.openUntil)
}
