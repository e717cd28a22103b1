package graph

import (
	"context"
	"errors"
	"time"
)

// getStepTimeout picks the bounded wait for a worker's delegate call:
// the step's own timeout, then the runner default, then 0 (no bound).
func getStepTimeout(stepTimeout, defaultTimeout time.Duration) time.Duration {
	if stepTimeout > 0 {
		return stepTimeout
	}
	if defaultTimeout > 0 {
		return defaultTimeout
	}
	return 0
}

type delegateResult struct {
	resp Response
	err  error
}

// invokeWithTimeout runs the delegate call on its own goroutine and blocks the
// calling step until it answers or the wait expires. This is the only point
// at which a run suspends.
//
// On expiry the delegate's context is cancelled and ErrDelegateTimeout is
// returned; a delegate that ignores cancellation finishes in the background
// and its result is dropped.
func invokeWithTimeout(ctx context.Context, d Delegate, req Request, timeout time.Duration) (Response, error) {
	callCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		callCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	done := make(chan delegateResult, 1)
	go func() {
		resp, err := d.Invoke(callCtx, req)
		done <- delegateResult{resp: resp, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return Response{}, ErrDelegateTimeout
		}
		return res.resp, res.err
	case <-callCtx.Done():
		if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return Response{}, ErrDelegateTimeout
		}
		return Response{}, callCtx.Err()
	}
}
