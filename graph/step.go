package graph

import (
	"context"
	"fmt"
	"time"
)

// Action is the control signal a step hands back to its parent composite.
type Action int

const (
	// Continue is the no-op signal.
	Continue Action = iota

	// Escalate asks the innermost enclosing loop to stop after the current pass.
	Escalate
)

func (a Action) String() string {
	if a == Escalate {
		return "escalate"
	}
	return "continue"
}

// StepKind enumerates the closed set of step variants.
type StepKind int

const (
	KindWorker StepKind = iota + 1
	KindDecision
	KindSequential
	KindLoop
)

func (k StepKind) String() string {
	switch k {
	case KindWorker:
		return "worker"
	case KindDecision:
		return "decision"
	case KindSequential:
		return "sequential"
	case KindLoop:
		return "loop"
	default:
		return fmt.Sprintf("StepKind(%d)", int(k))
	}
}

// Step is a named unit of workflow logic.
//
// The set of implementations is closed: WorkerStep, DecisionStep,
// SequentialStep and LoopStep. Steps hold no per-run state, so one workflow
// value can serve any number of concurrent runs.
type Step interface {
	Name() string
	Kind() StepKind
	Description() string

	base() *stepBase
	execute(ctx context.Context, inv *invocation) (Action, error)
}

// AfterFunc is a post-execution hook. It runs exactly once after the step
// completes successfully, before control returns to the parent composite.
// A returned error fails the step.
type AfterFunc func(ctx context.Context, step string, state *StateStore) error

type stepBase struct {
	name        string
	description string
	after       AfterFunc
}

func (b *stepBase) Name() string        { return b.name }
func (b *stepBase) Description() string { return b.description }
func (b *stepBase) base() *stepBase     { return b }

// StepOption configures a step at construction. Options that only make sense
// for worker steps are ignored by the other kinds.
type StepOption func(*stepOptions)

type stepOptions struct {
	description string
	after       AfterFunc
	outputKey   string
	structured  bool
	timeout     time.Duration
	retry       *RetryPolicy
}

func collectOptions(opts []StepOption) stepOptions {
	var o stepOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithDescription attaches a human-readable description.
func WithDescription(desc string) StepOption {
	return func(o *stepOptions) { o.description = desc }
}

// WithAfter installs a post-execution hook.
func WithAfter(fn AfterFunc) StepOption {
	return func(o *stepOptions) { o.after = fn }
}

// WithOutputKey makes a worker store its final response under key.
func WithOutputKey(key string) StepOption {
	return func(o *stepOptions) { o.outputKey = key }
}

// WithStructuredOutput makes a worker attempt a JSON parse of responses that
// look like JSON before storing them. Workers writing JudgeFeedbackKey always
// do this.
func WithStructuredOutput() StepOption {
	return func(o *stepOptions) { o.structured = true }
}

// WithTimeout bounds the wait for a worker's delegate, overriding the runner
// default.
func WithTimeout(d time.Duration) StepOption {
	return func(o *stepOptions) { o.timeout = d }
}

// WithRetry makes a worker retry failed delegate calls under p.
func WithRetry(p RetryPolicy) StepOption {
	return func(o *stepOptions) { o.retry = &p }
}

// runStep executes s with its hook, observability and metrics around it.
func runStep(ctx context.Context, inv *invocation, s Step) (Action, error) {
	start := time.Now()
	inv.emit(s.Name(), "step_start", map[string]interface{}{
		"kind":      s.Kind().String(),
		"iteration": inv.iteration,
	})

	act, err := s.execute(ctx, inv)
	if err == nil {
		if after := s.base().after; after != nil {
			if hookErr := after(ctx, s.Name(), inv.state); hookErr != nil {
				err = &StepError{
					Step:  s.Name(),
					Kind:  s.Kind(),
					Path:  []string{s.Name()},
					Code:  "AFTER_STEP_FAILED",
					Cause: hookErr,
				}
			}
		}
	}

	elapsed := time.Since(start)
	status := "success"
	if err != nil {
		status = "error"
	}
	inv.metrics.recordStep(s, elapsed, status)

	if err != nil {
		inv.emit(s.Name(), "step_error", map[string]interface{}{
			"kind":        s.Kind().String(),
			"error":       err.Error(),
			"duration_ms": elapsed.Milliseconds(),
		})
		return Continue, err
	}

	inv.emit(s.Name(), "step_end", map[string]interface{}{
		"kind":        s.Kind().String(),
		"action":      act.String(),
		"duration_ms": elapsed.Milliseconds(),
	})
	return act, nil
}
