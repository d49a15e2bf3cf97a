package resilience

import (
	"time"
)

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

// breaker tracks failures for one operation name within a sliding window.
// Callers hold the registry lock; breaker itself is not safe for concurrent use.
type breaker struct {
	state    breakerState
	failures []time.Time
	openedAt time.Time
	trialing bool // half-open trial call in flight
}

// allow reports whether a call may proceed, transitioning open -> half-open
// once the cooldown has elapsed. In half-open exactly one trial is admitted.
func (b *breaker) allow(now time.Time, window, cooldown time.Duration) bool {
	switch b.state {
	case stateClosed:
		return true
	case stateOpen:
		if now.Sub(b.openedAt) < cooldown {
			return false
		}
		b.state = stateHalfOpen
		b.trialing = true
		return true
	case stateHalfOpen:
		if b.trialing {
			return false
		}
		b.trialing = true
		return true
	}
	return true
}

// record applies the outcome of a completed call. Any success fully resets the
// breaker. Only retriable failures count toward the threshold; a permanent
// failure during a half-open trial releases the trial slot without re-opening.
func (b *breaker) record(now time.Time, err error, threshold int, window, cooldown time.Duration) {
	if err == nil {
		b.state = stateClosed
		b.failures = nil
		b.trialing = false
		return
	}
	if !IsRetriable(err) {
		if b.state == stateHalfOpen {
			b.trialing = false
		}
		return
	}
	if b.state == stateHalfOpen {
		b.state = stateOpen
		b.openedAt = now
		b.trialing = false
		b.failures = nil
		return
	}
	b.failures = append(b.failures, now)
	b.prune(now, window)
	if len(b.failures) >= threshold {
		b.state = stateOpen
		b.openedAt = now
		b.failures = nil
	}
}

func (b *breaker) prune(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	kept := b.failures[:0]
	for _, t := range b.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.failures = kept
}
