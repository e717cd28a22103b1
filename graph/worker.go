package graph

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// WorkerStep delegates the actual work to an external capability and,
// when configured with an output key, stores the delegate's final response in
// the run's StateStore.
type WorkerStep struct {
	stepBase
	delegate   Delegate
	outputKey  string
	structured bool
	timeout    time.Duration
	retry      *RetryPolicy
}

// NewWorker creates a worker step named name that calls d.
func NewWorker(name string, d Delegate, opts ...StepOption) *WorkerStep {
	o := collectOptions(opts)
	return &WorkerStep{
		stepBase:   stepBase{name: name, description: o.description, after: o.after},
		delegate:   d,
		outputKey:  o.outputKey,
		structured: o.structured || o.outputKey == JudgeFeedbackKey,
		timeout:    o.timeout,
		retry:      o.retry,
	}
}

func (w *WorkerStep) Kind() StepKind { return KindWorker }

// OutputKey returns the StateStore key the worker writes, or "".
func (w *WorkerStep) OutputKey() string { return w.outputKey }

func (w *WorkerStep) execute(ctx context.Context, inv *invocation) (Action, error) {
	req := Request{
		RunID:     inv.runID,
		Step:      w.name,
		Task:      inv.task,
		Iteration: inv.iteration,
		State:     inv.state.Snapshot(),
	}

	timeout := getStepTimeout(w.timeout, inv.delegateTimeout)
	resp, err := w.call(ctx, inv, req, timeout)
	if err != nil {
		code := "DELEGATE_FAILED"
		reason := "error"
		cause := err
		if errors.Is(err, ErrDelegateTimeout) {
			code = "DELEGATE_TIMEOUT"
			reason = "timeout"
			cause = fmt.Errorf("%w after %v", ErrDelegateTimeout, timeout)
		} else if !errors.Is(err, ErrDelegateFailed) {
			cause = fmt.Errorf("%w: %w", ErrDelegateFailed, err)
		}
		inv.metrics.recordDelegateFailure(w.name, reason)
		return Continue, w.fail(code, cause)
	}
	if resp.Status == StatusFailed {
		inv.metrics.recordDelegateFailure(w.name, "status")
		msg := resp.Error
		if msg == "" {
			msg = "delegate reported failure"
		}
		return Continue, w.fail("DELEGATE_FAILED", fmt.Errorf("%w: %s", ErrDelegateFailed, msg))
	}

	mark := inv.trace.Len()
	for _, f := range resp.Fragments {
		if f.Text == "" {
			continue
		}
		inv.record(Event{Author: w.name, Content: f.Text, Partial: f.Partial})
	}

	text, ok := inv.trace.lastContentSince(w.name, mark)
	if !ok {
		// Every fragment was partial or empty: fold the stream into one
		// complete event so extraction and the final output see it.
		joined := resp.Text()
		if joined == "" {
			inv.metrics.recordDelegateFailure(w.name, "empty")
			return Continue, w.fail("EMPTY_RESPONSE", ErrEmptyResponse)
		}
		inv.record(Event{Author: w.name, Content: joined})
		text = joined
	}
	inv.lastOutput = text

	if w.outputKey != "" {
		value := extractOutput(text, w.structured)
		inv.state.Set(w.outputKey, value)
		_, parsed := value.(string)
		inv.emit(w.name, "state_write", map[string]interface{}{
			"key":        w.outputKey,
			"structured": !parsed,
		})
	}
	return Continue, nil
}

// call invokes the delegate, retrying under the worker's policy.
func (w *WorkerStep) call(ctx context.Context, inv *invocation, req Request, timeout time.Duration) (Response, error) {
	attempts := 1
	if w.retry != nil {
		attempts = w.retry.MaxAttempts
	}
	for attempt := 1; ; attempt++ {
		resp, err := invokeWithTimeout(ctx, w.delegate, req, timeout)
		if err == nil || attempt >= attempts || ctx.Err() != nil || !w.retry.retryable(err) {
			return resp, err
		}

		delay := computeBackoff(attempt-1, w.retry.BaseDelay, w.retry.MaxDelay, nil)
		inv.emit(w.name, "delegate_retry", map[string]interface{}{
			"attempt":  attempt,
			"error":    err.Error(),
			"delay_ms": delay.Milliseconds(),
		})
		if err := sleepCtx(ctx, delay); err != nil {
			return Response{}, err
		}
	}
}

func (w *WorkerStep) fail(code string, cause error) *StepError {
	return &StepError{
		Step:  w.name,
		Kind:  KindWorker,
		Path:  []string{w.name},
		Code:  code,
		Cause: cause,
	}
}
