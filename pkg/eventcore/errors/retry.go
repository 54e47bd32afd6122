package errors

import (
	"math/rand/v2"
	"time"
)

// RetryConfig bounds the retry budget for a single event delivery.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the first).
	// Exhausting it dead-letters the event; retries are never silent.
	MaxAttempts int

	// BaseDelay is the backoff before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the exponential growth.
	MaxDelay time.Duration

	// Jitter is the additive random jitter factor (0.0-1.0). The delay for
	// attempt n is min(BaseDelay*2^n, MaxDelay) plus up to Jitter of that
	// value. Keeping Jitter at or below 1.0 preserves non-decreasing delays
	// below the cap.
	Jitter float64
}

// DefaultRetry is the standard retry configuration.
var DefaultRetry = RetryConfig{
	MaxAttempts: 5,
	BaseDelay:   500 * time.Millisecond,
	MaxDelay:    30 * time.Second,
	Jitter:      0.2,
}

// NoRetry disables retries: every retryable failure dead-letters immediately.
var NoRetry = RetryConfig{
	MaxAttempts: 1,
}

// Backoff returns the delay to sleep after the given failed attempt
// (attempt 1 is the first try). The caller owns the sleep so it can remain
// cancellable on shutdown.
func (c RetryConfig) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := c.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if c.MaxDelay > 0 && delay >= c.MaxDelay {
			delay = c.MaxDelay
			break
		}
	}
	if c.MaxDelay > 0 && delay > c.MaxDelay {
		delay = c.MaxDelay
	}

	if c.Jitter > 0 {
		delay += time.Duration(float64(delay) * c.Jitter * rand.Float64())
	}
	return delay
}

// Exhausted reports whether the attempt count has consumed the retry budget.
func (c RetryConfig) Exhausted(attempts int) bool {
	return attempts >= c.MaxAttempts
}
