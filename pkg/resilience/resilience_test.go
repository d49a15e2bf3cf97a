package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

// testRegistry returns a registry with a controllable clock and no real sleeps.
func testRegistry(opts Options) (*Registry, *time.Time) {
	r := NewRegistry(opts, zap.NewNop())
	now := time.Unix(1700000000, 0)
	r.now = func() time.Time { return now }
	r.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return r, &now
}

func TestExecuteSucceedsFirstTry(t *testing.T) {
	r, _ := testRegistry(DefaultOptions())
	calls := 0
	err := r.Execute(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestExecuteRetriesRetriableErrors(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxAttempts = 3
	r, _ := testRegistry(opts)

	calls := 0
	err := r.Execute(context.Background(), "op", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestExecuteExhaustsRetries(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxAttempts = 3
	r, _ := testRegistry(opts)

	calls := 0
	boom := errors.New("transient")
	err := r.Execute(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want wrapped %v", err, boom)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestExecuteDoesNotRetryPermanentErrors(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxAttempts = 3
	r, _ := testRegistry(opts)

	calls := 0
	boom := Permanent(errors.New("bad input"))
	err := r.Execute(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want %v", err, boom)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (no retry for permanent errors)", calls)
	}
}

func TestExecuteTimesOutSlowAttempt(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxAttempts = 1
	opts.Timeout = 10 * time.Millisecond
	r, _ := testRegistry(opts)

	release := make(chan struct{})
	defer close(release)
	err := r.Execute(context.Background(), "op", func(ctx context.Context) error {
		<-release
		return nil
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("error = %v, want ErrTimeout", err)
	}
}

// failTimes runs Execute n times against an always-failing fn so the breaker
// accumulates failures.
func failTimes(t *testing.T, r *Registry, op string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := r.Execute(context.Background(), op, func(ctx context.Context) error {
			return errors.New("down")
		})
		if err == nil {
			t.Fatalf("expected failure on call %d", i)
		}
	}
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxAttempts = 1
	opts.BreakerThreshold = 5
	r, _ := testRegistry(opts)

	failTimes(t, r, "op", 5)

	// Breaker is now open: calls fail fast without invoking fn.
	calls := 0
	err := r.Execute(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("error = %v, want ErrCircuitOpen", err)
	}
	if calls != 0 {
		t.Fatalf("fn invoked %d times while open, want 0", calls)
	}
}

func TestBreakerIsPerOperation(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxAttempts = 1
	opts.BreakerThreshold = 5
	r, _ := testRegistry(opts)

	failTimes(t, r, "flaky", 5)

	// A different operation name is unaffected.
	err := r.Execute(context.Background(), "healthy", func(ctx context.Context) error { return nil })
	if err != nil {
		t.Fatalf("unexpected error on unrelated op: %v", err)
	}
}

func TestBreakerHalfOpenTrialSuccessCloses(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxAttempts = 1
	opts.BreakerThreshold = 5
	opts.BreakerCooldown = 30 * time.Second
	r, now := testRegistry(opts)

	failTimes(t, r, "op", 5)

	// Before the cooldown: still rejecting.
	if err := r.Execute(context.Background(), "op", func(ctx context.Context) error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("error = %v, want ErrCircuitOpen before cooldown", err)
	}

	// After the cooldown: one trial is admitted, success closes the breaker.
	*now = now.Add(31 * time.Second)
	if err := r.Execute(context.Background(), "op", func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("trial call failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := r.Execute(context.Background(), "op", func(ctx context.Context) error { return nil }); err != nil {
			t.Fatalf("call after close failed: %v", err)
		}
	}
}

func TestBreakerHalfOpenTrialFailureReopens(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxAttempts = 1
	opts.BreakerThreshold = 5
	opts.BreakerCooldown = 30 * time.Second
	r, now := testRegistry(opts)

	failTimes(t, r, "op", 5)

	*now = now.Add(31 * time.Second)
	failTimes(t, r, "op", 1) // trial fails, breaker reopens

	if err := r.Execute(context.Background(), "op", func(ctx context.Context) error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("error = %v, want ErrCircuitOpen after failed trial", err)
	}

	// Another full cooldown is required before the next trial.
	*now = now.Add(31 * time.Second)
	if err := r.Execute(context.Background(), "op", func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("trial after second cooldown failed: %v", err)
	}
}

func TestBreakerWindowExpiresOldFailures(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxAttempts = 1
	opts.BreakerThreshold = 5
	opts.BreakerWindow = 60 * time.Second
	r, now := testRegistry(opts)

	failTimes(t, r, "op", 4)
	*now = now.Add(61 * time.Second)
	// The 5th failure lands in an empty window; breaker stays closed.
	failTimes(t, r, "op", 1)

	if err := r.Execute(context.Background(), "op", func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxAttempts = 1
	opts.BreakerThreshold = 5
	r, _ := testRegistry(opts)

	failTimes(t, r, "op", 4)
	if err := r.Execute(context.Background(), "op", func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Four more failures do not trip the threshold after the reset.
	failTimes(t, r, "op", 4)
	if err := r.Execute(context.Background(), "op", func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	opts := DefaultOptions()
	opts.BaseDelay = 200 * time.Millisecond
	opts.MaxDelay = 5 * time.Second
	r, _ := testRegistry(opts)

	prev := time.Duration(0)
	for attempt := 0; attempt < 10; attempt++ {
		d := r.backoff(attempt)
		base := opts.BaseDelay << uint(attempt)
		if base > opts.MaxDelay {
			base = opts.MaxDelay
		}
		if d < base {
			t.Fatalf("attempt %d: delay %v below base %v", attempt, d, base)
		}
		if d > base+base/4 {
			t.Fatalf("attempt %d: delay %v exceeds base+25%% jitter", attempt, d)
		}
		if d+d/2 < prev {
			t.Fatalf("attempt %d: delay %v shrank sharply from %v", attempt, d, prev)
		}
		prev = d
	}
}

func TestExecuteRespectsContextCancellation(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxAttempts = 5
	r, _ := testRegistry(opts)
	r.sleep = sleepCtx // real sleep so cancellation interrupts it

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := r.Execute(ctx, "op", func(ctx context.Context) error {
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}
