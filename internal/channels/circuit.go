package channels

import (
	"sync"
	"time"
)

// CircuitState is where a reconnecting transport sits in the
// closed → open → half-open → closed cycle.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// DefaultCircuitThreshold is how many consecutive connect failures open
// the breaker.
const DefaultCircuitThreshold = 5

// DefaultCircuitCooldown is how long an open breaker rejects attempts
// before letting one probe through.
const DefaultCircuitCooldown = 60 * time.Second

// CircuitBreaker throttles reconnect storms: after threshold consecutive
// failures it opens and rejects attempts for a cooldown, then admits a
// single half-open probe whose outcome decides the next state.
type CircuitBreaker struct {
	mu           sync.Mutex
	state        CircuitState
	failures     int
	openedAt     time.Time
	threshold    int
	cooldown     time.Duration
	onTransition func(from, to CircuitState)
}

// NewCircuitBreaker creates a closed breaker. onTransition (may be nil)
// fires outside the lock on every state change.
func NewCircuitBreaker(threshold int, cooldown time.Duration, onTransition func(from, to CircuitState)) *CircuitBreaker {
	if threshold <= 0 {
		threshold = DefaultCircuitThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCircuitCooldown
	}
	return &CircuitBreaker{
		state:        CircuitClosed,
		threshold:    threshold,
		cooldown:     cooldown,
		onTransition: onTransition,
	}
}

// Allow reports whether a connect attempt may proceed now. An open
// breaker past its cooldown moves to half-open and admits one probe.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	switch b.state {
	case CircuitOpen:
		if time.Since(b.openedAt) < b.cooldown {
			b.mu.Unlock()
			return false
		}
		notify := b.transitionLocked(CircuitHalfOpen)
		b.mu.Unlock()
		notify()
		return true
	default:
		b.mu.Unlock()
		return true
	}
}

// Success records a healthy connection: half-open closes, failures reset.
func (b *CircuitBreaker) Success() {
	b.mu.Lock()
	b.failures = 0
	notify := func() {}
	if b.state != CircuitClosed {
		notify = b.transitionLocked(CircuitClosed)
	}
	b.mu.Unlock()
	notify()
}

// Failure records a failed attempt: the half-open probe reopens
// immediately, and threshold consecutive failures open a closed breaker.
func (b *CircuitBreaker) Failure() {
	b.mu.Lock()
	b.failures++
	notify := func() {}
	switch b.state {
	case CircuitHalfOpen:
		b.openedAt = time.Now()
		notify = b.transitionLocked(CircuitOpen)
	case CircuitClosed:
		if b.failures >= b.threshold {
			b.openedAt = time.Now()
			notify = b.transitionLocked(CircuitOpen)
		}
	}
	b.mu.Unlock()
	notify()
}

// State returns the current state.
func (b *CircuitBreaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// transitionLocked changes state and returns the callback to run once the
// lock is released, so transitions are reported in the order they happen.
func (b *CircuitBreaker) transitionLocked(to CircuitState) func() {
	from := b.state
	b.state = to
	if b.onTransition == nil {
		return func() {}
	}
	return func() { b.onTransition(from, to) }
}
