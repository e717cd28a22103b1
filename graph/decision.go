package graph

import "context"

// View is the read-only window a decision step gets on the running workflow.
type View struct {
	inv *invocation
}

// Get reads a StateStore value.
func (v View) Get(key string) (any, bool) {
	return v.inv.state.Get(key)
}

// LastContentFrom returns the latest complete output of author from the
// run trace.
func (v View) LastContentFrom(author string) (string, bool) {
	return v.inv.trace.LastContentFrom(author)
}

// Task returns the run's original task description.
func (v View) Task() string {
	return v.inv.task
}

// Iteration returns the current pass of the innermost enclosing loop.
func (v View) Iteration() int {
	return v.inv.iteration
}

// DecideFunc is a pure function over the run's state.
type DecideFunc func(v View) Action

// DecisionStep evaluates a DecideFunc and reports its verdict as a control
// action. It never writes to the StateStore and never fails.
type DecisionStep struct {
	stepBase
	decide DecideFunc
}

// NewDecision creates a decision step.
func NewDecision(name string, decide DecideFunc, opts ...StepOption) *DecisionStep {
	o := collectOptions(opts)
	return &DecisionStep{
		stepBase: stepBase{name: name, description: o.description, after: o.after},
		decide:   decide,
	}
}

func (d *DecisionStep) Kind() StepKind { return KindDecision }

func (d *DecisionStep) execute(ctx context.Context, inv *invocation) (Action, error) {
	act := d.decide(View{inv: inv})
	inv.record(Event{Author: d.name, Actions: Actions{Escalate: act == Escalate}})
	if act == Escalate {
		inv.metrics.recordEscalation(d.name)
		inv.emit(d.name, "escalate", map[string]interface{}{"iteration": inv.iteration})
	}
	return act, nil
}

// EscalateOnPass returns a DecideFunc that escalates once the value under key
// passes FeedbackPassed.
//
// If key is absent and fallbackAuthor is non-empty, the latest complete output
// of that author in the trace is checked instead. Missing feedback is treated
// as "not passing yet".
func EscalateOnPass(key, fallbackAuthor string) DecideFunc {
	return func(v View) Action {
		value, ok := v.Get(key)
		if !ok && fallbackAuthor != "" {
			if text, found := v.LastContentFrom(fallbackAuthor); found {
				value, ok = extractOutput(text, true), true
			}
		}
		if ok && FeedbackPassed(value) {
			return Escalate
		}
		return Continue
	}
}

// NewEscalationChecker builds the decision step that ends a research loop
// once the judge's verdict under JudgeFeedbackKey passes.
func NewEscalationChecker(name, judgeStep string, opts ...StepOption) *DecisionStep {
	return NewDecision(name, EscalateOnPass(JudgeFeedbackKey, judgeStep), opts...)
}
