package graph

import (
	"errors"
	"strings"
)

// ErrDelegateFailed indicates that a worker's delegate reported a failure,
// either as a returned error or as a failed terminal status.
var ErrDelegateFailed = errors.New("delegate failed")

// ErrDelegateTimeout indicates that a worker's delegate did not answer within
// the bounded wait.
var ErrDelegateTimeout = errors.New("delegate timed out")

// ErrEmptyResponse indicates that a delegate completed without any content.
var ErrEmptyResponse = errors.New("delegate returned no content")

// ErrInvalidRetryPolicy indicates a RetryPolicy that fails Validate.
var ErrInvalidRetryPolicy = errors.New("invalid retry policy")

// ErrReplayMismatch indicates a replayed delegate call with no matching
// recording.
var ErrReplayMismatch = errors.New("replay mismatch")

// ErrInvalidWorkflow indicates that a workflow failed construction checks.
var ErrInvalidWorkflow = errors.New("invalid workflow")

// EngineError represents a runner-level failure that is not attributable to
// a single step, such as an invalid workflow.
type EngineError struct {
	Message string
	Code    string
	Cause   error
}

func (e *EngineError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

func (e *EngineError) Unwrap() error {
	return e.Cause
}

// StepError reports the step a run failed in, the composite path leading to
// it and the underlying cause.
//
// Composites do not wrap a child's StepError. They prepend their own name to
// Path and pass the same value up, so the error that reaches the caller still
// names the originating step.
type StepError struct {
	// Step is the name of the step that failed.
	Step string

	// Kind is the variant of the failing step.
	Kind StepKind

	// Path lists step names from the root down to Step.
	Path []string

	// Code classifies the failure: DELEGATE_FAILED, DELEGATE_TIMEOUT,
	// EMPTY_RESPONSE or AFTER_STEP_FAILED.
	Code string

	Cause error
}

func (e *StepError) Error() string {
	msg := "step " + e.Step + " failed"
	if e.Code != "" {
		msg += " (" + e.Code + ")"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *StepError) Unwrap() error {
	return e.Cause
}

// PathString joins Path with "/".
func (e *StepError) PathString() string {
	return strings.Join(e.Path, "/")
}

// withParent records that err surfaced through the composite named parent.
func withParent(err error, parent string) error {
	var se *StepError
	if errors.As(err, &se) {
		se.Path = append([]string{parent}, se.Path...)
		return se
	}
	return err
}
