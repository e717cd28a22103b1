package graph

import (
	"context"
	"fmt"
)

// DefaultMaxIterations is the research loop's pass budget.
const DefaultMaxIterations = 3

// LoopState is the state of a loop composite.
type LoopState int

const (
	LoopRunning LoopState = iota
	LoopEscalated
	LoopIterationCapReached
	LoopFailed
)

func (s LoopState) String() string {
	switch s {
	case LoopRunning:
		return "running"
	case LoopEscalated:
		return "escalated"
	case LoopIterationCapReached:
		return "iteration_cap_reached"
	case LoopFailed:
		return "failed"
	default:
		return fmt.Sprintf("LoopState(%d)", int(s))
	}
}

// LoopReport records how one execution of a loop ended.
type LoopReport struct {
	Name       string    `json:"name"`
	Iterations int       `json:"iterations"`
	State      LoopState `json:"state"`
}

// LoopStep runs its children as repeated sequential passes.
//
// After a pass without failure the loop stops if any child escalated during
// that pass, or if the pass budget is spent. Hitting the budget is not an
// error: the state from the final pass is accepted and the run moves on.
// Escalation is consumed here and does not reach outer loops.
type LoopStep struct {
	stepBase
	steps         []Step
	maxIterations int
}

// NewLoop creates a loop composite allowing at most maxIterations passes.
func NewLoop(name string, maxIterations int, steps []Step, opts ...StepOption) *LoopStep {
	o := collectOptions(opts)
	return &LoopStep{
		stepBase:      stepBase{name: name, description: o.description, after: o.after},
		steps:         append([]Step(nil), steps...),
		maxIterations: maxIterations,
	}
}

func (l *LoopStep) Kind() StepKind { return KindLoop }

// MaxIterations returns the pass budget.
func (l *LoopStep) MaxIterations() int { return l.maxIterations }

// Steps returns the children in execution order.
func (l *LoopStep) Steps() []Step {
	return append([]Step(nil), l.steps...)
}

func (l *LoopStep) execute(ctx context.Context, inv *invocation) (Action, error) {
	outer := inv.iteration
	defer func() { inv.iteration = outer }()

	state := LoopRunning
	passes := 0
	for state == LoopRunning {
		passes++
		inv.iteration = passes
		inv.metrics.recordLoopPass(l.name)

		act, err := runSequence(ctx, inv, l.steps)
		switch {
		case err != nil:
			state = LoopFailed
			l.finish(inv, passes, state)
			return Continue, withParent(err, l.name)
		case act == Escalate:
			state = LoopEscalated
		case passes >= l.maxIterations:
			state = LoopIterationCapReached
		}

		inv.emit(l.name, "loop_pass", map[string]interface{}{
			"iteration": passes,
			"escalated": act == Escalate,
		})
	}

	l.finish(inv, passes, state)
	return Continue, nil
}

func (l *LoopStep) finish(inv *invocation, passes int, state LoopState) {
	inv.loops = append(inv.loops, LoopReport{Name: l.name, Iterations: passes, State: state})
	inv.metrics.recordLoopExit(l.name, state)
	inv.emit(l.name, "loop_exit", map[string]interface{}{
		"iterations": passes,
		"state":      state.String(),
	})
}
