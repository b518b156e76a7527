package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

var errTransient = errors.New("transient")

func TestDo_SuccessFirstAttempt(t *testing.T) {
	var calls atomic.Int32
	err := Do(context.Background(), Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}, func(ctx context.Context) error {
		calls.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected 1 call, got %d", calls.Load())
	}
}

func TestDoValue_RetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	v, err := DoValue(context.Background(), Policy{MaxAttempts: 4, BaseDelay: time.Millisecond}, func(ctx context.Context) (string, error) {
		if calls.Add(1) < 3 {
			return "", errTransient
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "ok" {
		t.Fatalf("expected ok, got %q", v)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 calls, got %d", calls.Load())
	}
}

func TestDo_AllAttemptsFail(t *testing.T) {
	var calls atomic.Int32
	err := Do(context.Background(), Policy{MaxAttempts: 4, BaseDelay: time.Millisecond}, func(ctx context.Context) error {
		calls.Add(1)
		return errTransient
	})
	if !errors.Is(err, errTransient) {
		t.Fatalf("expected wrapped transient error, got %v", err)
	}
	if calls.Load() != 4 {
		t.Fatalf("expected 4 calls, got %d", calls.Load())
	}
}

func TestDo_StopsOnPermanentError(t *testing.T) {
	permanent := errors.New("bad params")
	var calls atomic.Int32
	p := Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		Retryable:   func(err error) bool { return !errors.Is(err, permanent) },
	}
	err := Do(context.Background(), p, func(ctx context.Context) error {
		calls.Add(1)
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("should not retry permanent errors, got %d calls", calls.Load())
	}
}

func TestDo_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := Do(ctx, Policy{MaxAttempts: 10, BaseDelay: time.Second}, func(ctx context.Context) error {
		return errTransient
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("backoff sleep ignored context")
	}
}

func TestBackoff(t *testing.T) {
	p := Policy{BaseDelay: time.Second}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i, w := range want {
		if got := p.Backoff(i); got != w {
			t.Fatalf("attempt %d: expected %s, got %s", i, w, got)
		}
	}

	capped := Policy{BaseDelay: time.Second, MaxDelay: 3 * time.Second}
	if got := capped.Backoff(5); got != 3*time.Second {
		t.Fatalf("expected cap of 3s, got %s", got)
	}
}

func TestDo_OnRetryCalledBetweenAttempts(t *testing.T) {
	var seen []int
	p := Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		OnRetry:     func(attempt int, err error) { seen = append(seen, attempt) },
	}
	_ = Do(context.Background(), p, func(ctx context.Context) error { return errTransient })
	if len(seen) != 2 || seen[0] != 0 || seen[1] != 1 {
		t.Fatalf("expected retries after attempts 0 and 1, got %v", seen)
	}
}
