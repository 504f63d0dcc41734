// Package retry is a small bounded-retry combinator with exponential
// backoff and predicate-based retryability.
package retry

import (
	"context"
	"math"
	"time"
)

// Config parameterizes a retry loop.
type Config struct {
	// MaxAttempts caps total attempts, first one included. Values below 1
	// behave as 1.
	MaxAttempts int
	// Backoff maps the just-failed attempt number (1-based) to a wait.
	// Nil means no wait.
	Backoff func(attempt int) time.Duration
	// Retryable decides whether an error deserves another attempt.
	// Nil means every error does.
	Retryable func(error) bool
	// OnAttempt observes each failed attempt before the backoff wait.
	OnAttempt func(attempt int, err error)
}

// ExpBackoff returns the standard schedule: 1s, 2s, 4s, ... capped at max.
func ExpBackoff(max time.Duration) func(int) time.Duration {
	return FactorBackoff(2, max)
}

// FactorBackoff returns the schedule 1s × factor^(n-1) capped at max.
// Factors at or below zero fall back to doubling.
func FactorBackoff(factor float64, max time.Duration) func(int) time.Duration {
	if factor <= 0 {
		factor = 2
	}
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		d := time.Duration(float64(time.Second) * math.Pow(factor, float64(attempt-1)))
		if d > max || d <= 0 {
			return max
		}
		return d
	}
}

// Do runs fn until it succeeds, exhausts the attempt budget, fails with a
// non-retryable error, or the context is canceled. The last error is
// returned unwrapped so callers can still classify it.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return err
		}
		if cfg.OnAttempt != nil {
			cfg.OnAttempt(attempt, err)
		}
		if attempt == attempts {
			break
		}
		var wait time.Duration
		if cfg.Backoff != nil {
			wait = cfg.Backoff(attempt)
		}
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		} else if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return err
}
