package resilience

import (
	"context"
	"time"
)

// RetryPolicy bounds a retry loop
type RetryPolicy struct {
	Backoff     BackoffStrategy
	Retryable   func(err error) bool // nil retries every error
	MaxAttempts int                  // total attempts, including the first
}

// Retry calls fn until it succeeds, returns a non-retryable error, or runs out
// of attempts. The last error is returned. Waiting between attempts honours ctx.
func Retry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context, attempt int) error) error {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := policy.Backoff
	if backoff == nil {
		backoff = StoreBackoff()
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(backoff.NextDelay(attempt - 1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return err
			case <-timer.C:
			}
		}

		err = fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if policy.Retryable != nil && !policy.Retryable(err) {
			return err
		}
	}
	return err
}
