package graph

import (
	"errors"
	"math/rand/v2"
	"time"
)

// ErrInvalidRetryPolicy is returned for a RetryPolicy that cannot be applied.
var ErrInvalidRetryPolicy = errors.New("invalid retry policy")

// NodePolicy configures how the engine executes one node.
type NodePolicy struct {
	// Timeout bounds a single attempt. Zero uses the engine default.
	Timeout time.Duration

	// Retry re-executes the node on failure. Suspensions and contract
	// violations are never retried.
	Retry *RetryPolicy
}

// RetryPolicy re-runs a failing node with exponential backoff and jitter.
//
// Because a retried node runs again from the top, only attach a retry
// policy to nodes whose side effects are safe to repeat, such as an LLM call.
type RetryPolicy struct {
	// MaxAttempts counts the first attempt. Must be at least 1.
	MaxAttempts int

	// BaseDelay is doubled per attempt.
	BaseDelay time.Duration

	// MaxDelay caps the backoff. Zero means no cap.
	MaxDelay time.Duration

	// Retryable decides which errors are retried. Nil retries all of them.
	Retryable func(error) bool
}

// Validate checks the policy is usable.
func (rp *RetryPolicy) Validate() error {
	if rp.MaxAttempts < 1 {
		return ErrInvalidRetryPolicy
	}
	if rp.MaxDelay > 0 && rp.BaseDelay > 0 && rp.MaxDelay < rp.BaseDelay {
		return ErrInvalidRetryPolicy
	}
	return nil
}

func (rp *RetryPolicy) shouldRetry(attempt int, err error) bool {
	if rp == nil || attempt+1 >= rp.MaxAttempts {
		return false
	}
	if rp.Retryable == nil {
		return true
	}
	return rp.Retryable(err)
}

// computeBackoff returns base*2^attempt capped at maxDelay plus up to base of
// jitter.
func computeBackoff(attempt int, base, maxDelay time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base * (1 << attempt)
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}
	jitter := time.Duration(rand.Int64N(int64(base))) // #nosec G404 -- retry jitter, not security
	return delay + jitter
}
