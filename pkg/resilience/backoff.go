package resilience

import (
	"math"
	"math/rand/v2"
	"time"
)

// BackoffStrategy yields the wait before retry number attempt (0-indexed)
type BackoffStrategy interface {
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff grows BaseDelay by Multiplier per attempt, caps it at
// MaxDelay and spreads it by ±Jitter (a fraction of the delay).
type ExponentialBackoff struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	Jitter     float64
}

// BankBackoff spaces retries of a transient bank error: ~200ms, 400ms, 800ms... capped at 5s
func BankBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		BaseDelay:  200 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Multiplier: 2,
		Jitter:     0.2,
	}
}

// StoreBackoff spaces optimistic-concurrency and store-write retries.
// Contention on a single settlement row clears in milliseconds.
func StoreBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		BaseDelay:  10 * time.Millisecond,
		MaxDelay:   500 * time.Millisecond,
		Multiplier: 2,
		Jitter:     0.5,
	}
}

// NextDelay returns BaseDelay * Multiplier^attempt, capped, with jitter applied
func (eb *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := math.Min(float64(eb.BaseDelay)*math.Pow(eb.Multiplier, float64(attempt)), float64(eb.MaxDelay))
	if eb.Jitter > 0 {
		delay += (rand.Float64()*2 - 1) * delay * eb.Jitter
	}
	if delay < 0 {
		return eb.BaseDelay
	}
	return time.Duration(delay)
}

// FixedBackoff waits the same Delay before every retry
type FixedBackoff struct {
	Delay time.Duration
}

// NextDelay returns Delay
func (fb *FixedBackoff) NextDelay(int) time.Duration {
	return fb.Delay
}
