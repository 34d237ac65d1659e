package resilience

import (
	"context"
	"math/rand"
	"time"
)

// Policy is an exponential backoff retry policy with jitter:
// delay = min(MaxDelay, Base * 2^attempt) + random(0, Jitter).
type Policy struct {
	Base        time.Duration
	MaxDelay    time.Duration
	Jitter      time.Duration
	MaxAttempts int
	rand        func(time.Duration) time.Duration // for testing
}

// DefaultPolicy matches the configured defaults for transient failures.
func DefaultPolicy() Policy {
	return Policy{
		Base:        time.Second,
		MaxDelay:    30 * time.Second,
		Jitter:      time.Second,
		MaxAttempts: 3,
	}
}

// Delay returns the backoff before the given zero-based retry attempt.
func (p Policy) Delay(attempt int) time.Duration {
	d := p.Base << uint(attempt)
	if d > p.MaxDelay || d <= 0 {
		d = p.MaxDelay
	}
	return d + p.jitter()
}

func (p Policy) jitter() time.Duration {
	if p.Jitter <= 0 {
		return 0
	}
	if p.rand != nil {
		return p.rand(p.Jitter)
	}
	return time.Duration(rand.Int63n(int64(p.Jitter)))
}

// Sleep waits for the attempt's backoff delay or until ctx is cancelled.
// Returns ctx.Err() on cancellation.
func (p Policy) Sleep(ctx context.Context, attempt int) error {
	t := time.NewTimer(p.Delay(attempt))
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
