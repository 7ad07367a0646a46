package orchestra

import (
	"time"

	"github.com/AreteDriver/AI-Orchestra/pkg/api"
)

// RetryBuilder provides a fluent way to construct RetryPolicy values for
// use with WithRetry.
type RetryBuilder struct {
	policy RetryPolicy
}

// Retry creates a RetryBuilder allowing up to maxRetries retries after the
// initial attempt. maxRetries <= 0 is treated as 0 (no retries).
func Retry(maxRetries int) RetryBuilder {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return RetryBuilder{
		policy: RetryPolicy{
			MaxRetries: maxRetries,
		},
	}
}

// WithExponentialBackoff configures exponential backoff:
//
//   - initial is the delay before the first retry.
//   - multiplier > 1 grows the delay each retry (default 2.0 if <= 1).
//   - max caps the delay; if <= 0, there is no cap.
//
// Example:
//
//	Retry(3).WithExponentialBackoff(100*time.Millisecond, 2.0, 2*time.Second)
func (r RetryBuilder) WithExponentialBackoff(initial time.Duration, multiplier float64, max time.Duration) RetryBuilder {
	p := r.policy
	p.InitialBackoff = api.Duration(initial)
	p.MaxBackoff = api.Duration(max)
	if multiplier <= 1 {
		multiplier = 2.0
	}
	p.BackoffMultiplier = multiplier
	return RetryBuilder{policy: p}
}

// WithConstantBackoff configures a constant delay between retries.
func (r RetryBuilder) WithConstantBackoff(delay time.Duration) RetryBuilder {
	p := r.policy
	p.InitialBackoff = api.Duration(delay)
	p.MaxBackoff = api.Duration(delay)
	p.BackoffMultiplier = 1.0
	return RetryBuilder{policy: p}
}

// Policy returns the underlying RetryPolicy.
func (r RetryBuilder) Policy() RetryPolicy {
	return r.policy
}
