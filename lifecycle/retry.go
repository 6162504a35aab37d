// Package lifecycle manages orders after submission: one monitoring
// goroutine per outstanding order, resubmission of unfilled remainders with
// capped exponential backoff, and cancellation on timeout.
package lifecycle

import (
	"math"
	"time"
)

// RetryPolicy decides whether and when an unfilled order is retried.
// A zero-valued policy never retries; use DefaultRetryPolicy for sane
// defaults.
type RetryPolicy struct {
	MaxRetries        int
	BaseDelay         time.Duration
	BackoffMultiplier float64
	MaxDelay          time.Duration
	CancelAfter       time.Duration
}

// DefaultRetryPolicy returns the stock policy: three retries starting at
// one second, doubling up to a minute, hard cancel after five minutes.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        3,
		BaseDelay:         time.Second,
		BackoffMultiplier: 2,
		MaxDelay:          time.Minute,
		CancelAfter:       5 * time.Minute,
	}
}

// ShouldRetry reports whether an order with the given retry count and
// elapsed time since submission may be retried.
func (p RetryPolicy) ShouldRetry(retryCount int, elapsed time.Duration) bool {
	return retryCount < p.MaxRetries && elapsed < p.CancelAfter
}

// Delay returns the backoff before retry number retryCount (0-indexed),
// capped at MaxDelay.
func (p RetryPolicy) Delay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	d := time.Duration(float64(p.BaseDelay) * math.Pow(p.BackoffMultiplier, float64(retryCount)))
	if d > p.MaxDelay || d < 0 {
		return p.MaxDelay
	}
	return d
}
