package graph

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy retries a worker's delegate call after transient failures.
//
// Only errors returned by the delegate (timeouts included) are retried. A
// response with a failed status is the delegate's answer and is never
// retried. Each attempt gets the full bounded wait.
type RetryPolicy struct {
	// MaxAttempts counts the first call. 1 means no retries.
	MaxAttempts int

	// BaseDelay and MaxDelay shape the exponential backoff between
	// attempts. MaxDelay 0 means no cap.
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// Retryable reports whether err is worth another attempt. Nil means
	// nothing is retried.
	Retryable func(error) bool
}

// Validate checks MaxAttempts >= 1 and MaxDelay >= BaseDelay when both are
// set.
func (rp *RetryPolicy) Validate() error {
	if rp.MaxAttempts < 1 {
		return ErrInvalidRetryPolicy
	}
	if rp.MaxDelay > 0 && rp.BaseDelay > 0 && rp.MaxDelay < rp.BaseDelay {
		return ErrInvalidRetryPolicy
	}
	return nil
}

func (rp *RetryPolicy) retryable(err error) bool {
	return rp.Retryable != nil && rp.Retryable(err)
}

// computeBackoff returns the wait before retry number attempt (zero-based):
// min(base * 2^attempt, maxDelay) plus up to base of jitter.
//
//	base=1s maxDelay=30s: 1-2s, 2-3s, 4-5s, 8-9s, ... 30-31s
func computeBackoff(attempt int, base, maxDelay time.Duration, rng *rand.Rand) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base << attempt
	if maxDelay > 0 && (delay > maxDelay || delay <= 0) {
		delay = maxDelay
	}

	var jitter time.Duration
	if rng != nil {
		jitter = time.Duration(rng.Int63n(int64(base)))
	} else {
		jitter = time.Duration(rand.Int63n(int64(base))) // #nosec G404 -- retry jitter
	}
	return delay + jitter
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
