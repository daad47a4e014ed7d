// Package resilience provides the retry and circuit-breaker primitives the
// OAuth client core (spec §4.2) and stream drivers build on.
package resilience

import (
	"context"
	"math/rand"
	"time"
)

// RetryConfig configures exponential backoff with jitter.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64 // 0-1, fraction of delay randomized either direction
}

// DefaultRetryConfig matches spec §4.2: base 1s, factor 2, cap 30s, 6 attempts.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  6,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.2,
	}
}

// RetryAfter is returned by a retried function to request a specific delay
// (e.g. a provider's Retry-After header) instead of the computed backoff.
// The attempt is still counted.
type RetryAfter struct {
	Err   error
	Delay time.Duration
}

func (r *RetryAfter) Error() string { return r.Err.Error() }
func (r *RetryAfter) Unwrap() error { return r.Err }

// Retry executes fn with exponential backoff, honoring a *RetryAfter delay
// when fn returns one. It reports whether the final attempt succeeded and
// how many attempts were made (for sync-log attempt counts).
func Retry(ctx context.Context, cfg RetryConfig, fn func(attempt int) error) (attempts int, err error) {
	delay := cfg.InitialDelay
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		attempts = attempt
		callErr := fn(attempt)
		if callErr == nil {
			return attempts, nil
		}
		err = callErr

		if attempt == cfg.MaxAttempts {
			break
		}

		wait := addJitter(delay, cfg.Jitter)
		if ra, ok := callErr.(*RetryAfter); ok && ra.Delay > 0 {
			wait = ra.Delay
		}

		select {
		case <-ctx.Done():
			return attempts, ctx.Err()
		case <-time.After(wait):
		}
		delay = nextDelay(delay, cfg)
	}
	return attempts, err
}

func nextDelay(current time.Duration, cfg RetryConfig) time.Duration {
	next := time.Duration(float64(current) * cfg.Multiplier)
	if next > cfg.MaxDelay {
		return cfg.MaxDelay
	}
	return next
}

func addJitter(d time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return d
	}
	delta := float64(d) * jitter
	return d + time.Duration(rand.Float64()*delta*2-delta)
}
