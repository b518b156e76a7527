// Package retry provides a small exponential-backoff policy shared by every
// remote call the pipeline makes.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy controls how many times an operation is attempted and how long to
// wait between attempts. The wait before attempt n+1 is BaseDelay * 2^n,
// capped at MaxDelay when MaxDelay is positive.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// Retryable reports whether err is worth another attempt. A nil
	// Retryable treats every error as transient.
	Retryable func(err error) bool

	// OnRetry, when set, is called before each pause with the zero-based
	// attempt that failed.
	OnRetry func(attempt int, err error)
}

// DefaultPolicy matches the upstream RPC provider's tolerance: four attempts
// with 1s, 2s and 4s pauses in between.
var DefaultPolicy = Policy{
	MaxAttempts: 4,
	BaseDelay:   1 * time.Second,
}

// Backoff returns the pause that follows the given zero-based attempt.
func (p Policy) Backoff(attempt int) time.Duration {
	d := p.BaseDelay << attempt
	if d < 0 || (p.MaxDelay > 0 && d > p.MaxDelay) {
		return p.MaxDelay
	}
	return d
}

func (p Policy) attempts() int {
	if p.MaxAttempts <= 0 {
		return DefaultPolicy.MaxAttempts
	}
	return p.MaxAttempts
}

// Do runs fn until it succeeds, the attempts are exhausted, fn returns a
// non-retryable error, or ctx is done. The last error is wrapped in the
// returned error.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	_, err := DoValue(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	attempts := p.attempts()

	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if p.Retryable != nil && !p.Retryable(err) {
			return zero, err
		}
		if attempt == attempts-1 {
			break
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		if err := Sleep(ctx, p.Backoff(attempt)); err != nil {
			return zero, err
		}
	}

	return zero, fmt.Errorf("retry: all %d attempts failed: %w", attempts, lastErr)
}

// Sleep pauses for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
