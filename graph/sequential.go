package graph

import "context"

// SequentialStep runs its children once, in order, and stops at the first
// failure.
//
// It does not act on control signals. An escalate raised by a child is handed
// up unchanged so that a loop enclosing this sequence still sees it.
type SequentialStep struct {
	stepBase
	steps []Step
}

// NewSequential creates a sequential composite.
func NewSequential(name string, steps []Step, opts ...StepOption) *SequentialStep {
	o := collectOptions(opts)
	return &SequentialStep{
		stepBase: stepBase{name: name, description: o.description, after: o.after},
		steps:    append([]Step(nil), steps...),
	}
}

func (s *SequentialStep) Kind() StepKind { return KindSequential }

// Steps returns the children in execution order.
func (s *SequentialStep) Steps() []Step {
	return append([]Step(nil), s.steps...)
}

func (s *SequentialStep) execute(ctx context.Context, inv *invocation) (Action, error) {
	act, err := runSequence(ctx, inv, s.steps)
	if err != nil {
		return Continue, withParent(err, s.name)
	}
	return act, nil
}

// runSequence runs steps in order and reports whether any of them escalated.
// Later steps still run after an escalate.
func runSequence(ctx context.Context, inv *invocation, steps []Step) (Action, error) {
	result := Continue
	for _, child := range steps {
		act, err := runStep(ctx, inv, child)
		if err != nil {
			return Continue, err
		}
		if act == Escalate {
			result = Escalate
		}
	}
	return result, nil
}
