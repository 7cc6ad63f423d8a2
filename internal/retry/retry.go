// Package retry runs fallible operations under a bounded attempt budget.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Strategy selects how the pause between attempts grows.
type Strategy string

const (
	Constant    Strategy = "constant"
	Exponential Strategy = "exponential"
	Fibonacci   Strategy = "fibonacci"
)

// Policy configures a retry loop.
type Policy struct {
	// Attempts is the total number of tries, including the first one.
	Attempts int `yaml:"attempts"`

	// Delay is the pause before the second attempt.
	Delay time.Duration `yaml:"delay"`

	// MaxDelay caps the pause. Zero means uncapped.
	MaxDelay time.Duration `yaml:"max_delay"`

	Strategy Strategy `yaml:"strategy"`
}

// ExhaustedError is returned when every attempt failed.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Backoff returns the pause after the given failed attempt (1-based).
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	var d time.Duration
	switch p.Strategy {
	case Exponential:
		d = p.Delay
		for i := 1; i < attempt; i++ {
			d *= 2
			if p.MaxDelay > 0 && d >= p.MaxDelay {
				break
			}
		}
	case Fibonacci:
		prev, cur := time.Duration(0), p.Delay
		for i := 1; i < attempt; i++ {
			prev, cur = cur, prev+cur
			if p.MaxDelay > 0 && cur >= p.MaxDelay {
				break
			}
		}
		d = cur
	default:
		d = p.Delay
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Do calls fn until it succeeds, the attempt budget is spent or ctx is done.
// fn receives the 1-based attempt number. The attempt counter lives in this
// call only, so concurrent or repeated invocations never share state.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}

		timer := time.NewTimer(p.Backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return &ExhaustedError{Attempts: attempts, Err: lastErr}
}
