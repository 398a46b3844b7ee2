package infra

import (
	"time"
)

const (
	baseDelay = 1 * time.Second
	maxDelay  = 60 * time.Second
)

// CalculateBackoff returns the exponential backoff duration for a given retry
// count: baseDelay * 2^retryCount, capped at maxDelay.
func CalculateBackoff(retryCount int) time.Duration {
	if retryCount < 0 {
		return baseDelay
	}
	// 2^30 already exceeds maxDelay by orders of magnitude.
	if retryCount > 30 {
		return maxDelay
	}

	backoff := baseDelay * time.Duration(1<<retryCount)
	if backoff > maxDelay {
		return maxDelay
	}
	return backoff
}

// RetryPolicy is the configurable schedule for broker-call retries. The
// upstream docs describe both fixed ~2s and exponential schedules, so the
// choice is configuration, not a contract.
type RetryPolicy struct {
	Attempts    int
	Delay       time.Duration
	Exponential bool
}

// DefaultRetryPolicy matches the documented behavior: 3 attempts, fixed 2s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Delay: 2 * time.Second, Exponential: false}
}

// DelayFor returns the pause before the given attempt (0-based).
func (p RetryPolicy) DelayFor(attempt int) time.Duration {
	if p.Exponential {
		return CalculateBackoff(attempt)
	}
	return p.Delay
}
