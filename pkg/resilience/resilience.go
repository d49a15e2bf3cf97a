// Package resilience wraps fallible operations with retry, per-operation
// circuit breaking and timeouts. Composition order is breaker(retry(timeout)):
// the retries inside one Execute call count as a single outcome toward the
// breaker for that operation name.
package resilience

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Options tunes retry, breaker and timeout behavior.
type Options struct {
	MaxAttempts      int           // retry attempts per Execute call
	BaseDelay        time.Duration // backoff base; delay = base * 2^attempt, capped
	MaxDelay         time.Duration
	Timeout          time.Duration // per-attempt deadline
	BreakerThreshold int           // retriable failures within the window before opening
	BreakerWindow    time.Duration
	BreakerCooldown  time.Duration // open duration before a half-open trial
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		MaxAttempts:      3,
		BaseDelay:        200 * time.Millisecond,
		MaxDelay:         5 * time.Second,
		Timeout:          30 * time.Second,
		BreakerThreshold: 5,
		BreakerWindow:    60 * time.Second,
		BreakerCooldown:  30 * time.Second,
	}
}

// Registry holds per-operation circuit breakers. It is an explicit value wired
// into repositories and clients at startup; tests build a fresh one per case.
type Registry struct {
	opts   Options
	logger *zap.Logger

	mu       sync.Mutex
	breakers map[string]*breaker

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRegistry creates a breaker registry with the given options.
func NewRegistry(opts Options, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	return &Registry{
		opts:     opts,
		logger:   logger,
		breakers: make(map[string]*breaker),
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// Execute runs fn under the breaker for op, retrying retriable failures with
// exponential backoff and wrapping each attempt with the configured timeout.
func (r *Registry) Execute(ctx context.Context, op string, fn func(context.Context) error) error {
	if !r.admit(op) {
		r.logger.Warn("circuit rejecting call", zap.String("op", op))
		return fmt.Errorf("%s: %w", op, ErrCircuitOpen)
	}
	err := r.retry(ctx, op, fn)
	r.settle(op, err)
	return err
}

func (r *Registry) admit(op string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.breakers[op]
	if b == nil {
		b = &breaker{}
		r.breakers[op] = b
	}
	return b.allow(r.now(), r.opts.BreakerWindow, r.opts.BreakerCooldown)
}

func (r *Registry) settle(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.breakers[op]
	if b == nil {
		return
	}
	wasClosed := b.state != stateOpen
	b.record(r.now(), err, r.opts.BreakerThreshold, r.opts.BreakerWindow, r.opts.BreakerCooldown)
	if wasClosed && b.state == stateOpen {
		r.logger.Warn("circuit opened", zap.String("op", op), zap.Error(err))
	}
}

func (r *Registry) retry(ctx context.Context, op string, fn func(context.Context) error) error {
	var err error
	for attempt := 0; attempt < r.opts.MaxAttempts; attempt++ {
		err = r.attempt(ctx, fn)
		if err == nil {
			return nil
		}
		if !IsRetriable(err) {
			return err
		}
		if attempt == r.opts.MaxAttempts-1 {
			break
		}
		delay := r.backoff(attempt)
		r.logger.Debug("retrying operation",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))
		if serr := r.sleep(ctx, delay); serr != nil {
			return serr
		}
	}
	return fmt.Errorf("%s: retries exhausted: %w", op, err)
}

// attempt races fn against the per-attempt deadline. On expiry the underlying
// call keeps running; the outcome is unknown, not failed.
func (r *Registry) attempt(ctx context.Context, fn func(context.Context) error) error {
	if r.opts.Timeout <= 0 {
		return fn(ctx)
	}
	tctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- fn(tctx) }()
	select {
	case err := <-done:
		return err
	case <-tctx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("after %s: %w", r.opts.Timeout, ErrTimeout)
	}
}

// backoff returns base * 2^attempt capped at MaxDelay, plus up to 25% jitter so
// concurrent callers do not retry in lockstep.
func (r *Registry) backoff(attempt int) time.Duration {
	delay := r.opts.BaseDelay << uint(attempt)
	if r.opts.MaxDelay > 0 && delay > r.opts.MaxDelay {
		delay = r.opts.MaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
