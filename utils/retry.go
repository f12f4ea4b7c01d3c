package utils

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// RetryConfig holds the parameters for the retry strategy.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter is the fraction (0..1) by which each delay is randomly spread.
	Jitter float64
	Logger *Logger
	// Retryable decides whether an error is worth another attempt. Nil
	// retries every error.
	Retryable func(error) bool
	// Hint returns a minimum wait suggested by the error itself, such as a
	// Retry-After header. Nil means no hint.
	Hint func(error) time.Duration
}

// Do executes fn with exponential back-off retry logic. It stops early when
// ctx is cancelled or fn returns an error that is not retryable.
func (r *RetryConfig) Do(ctx context.Context, operationName string, fn func(ctx context.Context) error) error {
	attempts := r.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if r.Retryable != nil && !r.Retryable(lastErr) {
			return lastErr
		}

		if attempt < attempts {
			delay := Backoff(r.BaseDelay, r.MaxDelay, attempt, r.Jitter)
			if r.Hint != nil {
				delay = max(delay, r.Hint(lastErr))
			}
			if r.Logger != nil {
				r.Logger.Warn("[retry] %s failed (attempt %d/%d): %v, retrying in %v",
					operationName, attempt, attempts, lastErr, delay)
			}
			if err := SleepContext(ctx, delay); err != nil {
				return fmt.Errorf("%s cancelled after %d attempts: %w", operationName, attempt, lastErr)
			}
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, attempts, lastErr)
}

// Backoff returns base * 2^(attempt-1), capped at max when max > 0, spread by
// ±jitter. attempt is 1-based.
func Backoff(base, max time.Duration, attempt int, jitter float64) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if max > 0 && delay >= max {
			delay = max
			break
		}
	}
	if max > 0 && delay > max {
		delay = max
	}

	if jitter > 0 {
		if jitter > 1 {
			jitter = 1
		}
		spread := 1 + (rand.Float64()*2-1)*jitter
		delay = time.Duration(float64(delay) * spread)
	}
	return delay
}

// SleepContext sleeps for d or until ctx is done, whichever comes first.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
