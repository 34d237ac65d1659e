// Package resilience provides reliability patterns for external service calls.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker is open and rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

// Breaker implements a circuit breaker for one external dependency.
// It opens after maxFailures consecutive failures within a rolling window,
// stays open for a cooldown, then allows exactly one half-open probe call.
type Breaker struct {
	mu          sync.Mutex
	state       state
	failures    int
	firstFail   time.Time
	maxFailures int
	window      time.Duration
	cooldown    time.Duration
	openedAt    time.Time
	probing     bool
	now         func() time.Time // for testing
}

// NewBreaker creates a circuit breaker. Failures older than window do not
// count toward the threshold.
func NewBreaker(maxFailures int, window, cooldown time.Duration) *Breaker {
	return &Breaker{
		maxFailures: maxFailures,
		window:      window,
		cooldown:    cooldown,
		now:         time.Now,
	}
}

// Execute runs fn if the circuit allows it, recording the outcome.
// Returns ErrCircuitOpen without calling fn when the circuit is open, or
// when a half-open probe is already in flight.
func (b *Breaker) Execute(fn func() error) error {
	if !b.allowRequest() {
		return ErrCircuitOpen
	}

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.onFailure()
		return err
	}

	b.onSuccess()
	return nil
}

func (b *Breaker) allowRequest() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		return true
	case stateOpen:
		if b.now().Sub(b.openedAt) >= b.cooldown {
			b.state = stateHalfOpen
			b.probing = true
			return true
		}
		return false
	case stateHalfOpen:
		// Only one probe at a time.
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
	return false
}

// onFailure must be called with b.mu held.
func (b *Breaker) onFailure() {
	now := b.now()
	if b.failures == 0 || now.Sub(b.firstFail) > b.window {
		b.failures = 0
		b.firstFail = now
	}
	b.failures++
	b.probing = false

	if b.state == stateHalfOpen || b.failures >= b.maxFailures {
		b.state = stateOpen
		b.openedAt = now
		b.failures = 0
	}
}

// onSuccess must be called with b.mu held.
func (b *Breaker) onSuccess() {
	b.failures = 0
	b.probing = false
	b.state = stateClosed
}

// Registry holds one Breaker per external dependency name. It is the only
// mutable state shared across workflow instances; all access is serialized.
type Registry struct {
	mu          sync.Mutex
	breakers    map[string]*Breaker
	maxFailures int
	window      time.Duration
	cooldown    time.Duration
}

// NewRegistry creates a breaker registry with shared breaker settings.
func NewRegistry(maxFailures int, window, cooldown time.Duration) *Registry {
	return &Registry{
		breakers:    make(map[string]*Breaker),
		maxFailures: maxFailures,
		window:      window,
		cooldown:    cooldown,
	}
}

// Get returns the breaker for the named dependency, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[name]
	if !ok {
		b = NewBreaker(r.maxFailures, r.window, r.cooldown)
		r.breakers[name] = b
	}
	return b
}
