package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/coursegraph/graph/emit"
	"github.com/dshills/coursegraph/graph/store"
	"github.com/google/uuid"
)

// RunStatus is the outcome of a run.
type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Result is everything a run produced.
type Result struct {
	RunID  string    `json:"run_id"`
	Task   string    `json:"task"`
	Status RunStatus `json:"status"`

	// Output is the final complete content of the last worker step that ran.
	Output string `json:"output"`

	// Events is the full run trace.
	Events []Event `json:"events"`

	// State is a snapshot of the StateStore when the run ended.
	State map[string]any `json:"state"`

	// Loops lists every loop termination in order.
	Loops []LoopReport `json:"loops"`

	// Err is the failure that ended the run, nil on success.
	Err *StepError `json:"-"`

	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// LoopReport returns the most recent report for the named loop.
func (r *Result) LoopReport(name string) (LoopReport, bool) {
	for i := len(r.Loops) - 1; i >= 0; i-- {
		if r.Loops[i].Name == name {
			return r.Loops[i], true
		}
	}
	return LoopReport{}, false
}

// Runner drives a root step to completion, one fresh StateStore per run.
// A Runner is safe for concurrent use.
type Runner struct {
	root Step
	opts Options
}

// NewRunner validates the workflow rooted at root and returns a runner for it.
func NewRunner(root Step, options ...Option) (*Runner, error) {
	cfg := &runnerConfig{}
	for _, opt := range options {
		if err := opt(cfg); err != nil {
			return nil, &EngineError{Message: err.Error(), Code: "INVALID_OPTION", Cause: err}
		}
	}
	if err := Validate(root); err != nil {
		return nil, err
	}
	if cfg.opts.Emitter == nil {
		cfg.opts.Emitter = emit.NewNullEmitter()
	}
	if cfg.opts.NewRunID == nil {
		cfg.opts.NewRunID = uuid.NewString
	}
	return &Runner{root: root, opts: cfg.opts}, nil
}

// Root returns the workflow root.
func (r *Runner) Root() Step {
	return r.root
}

// Run executes the workflow for task.
//
// The returned Result is always non-nil. On failure the error is the
// *StepError naming the step where the run broke, and Result.Err holds the
// same value.
func (r *Runner) Run(ctx context.Context, task string) (*Result, error) {
	inv := &invocation{
		runID:           r.opts.NewRunID(),
		task:            task,
		state:           NewStateStore(),
		trace:           &Trace{},
		emitter:         r.opts.Emitter,
		metrics:         r.opts.Metrics,
		delegateTimeout: r.opts.DelegateTimeout,
	}

	start := time.Now()
	r.opts.Metrics.runStarted()
	inv.emit("", "run_start", map[string]interface{}{"root": r.root.Name()})

	_, err := runStep(ctx, inv, r.root)

	res := &Result{
		RunID:     inv.runID,
		Task:      task,
		Status:    RunSucceeded,
		Output:    inv.lastOutput,
		Events:    inv.trace.Events(),
		State:     inv.state.Snapshot(),
		Loops:     append([]LoopReport(nil), inv.loops...),
		StartedAt: start,
		Duration:  time.Since(start),
	}

	if err != nil {
		res.Status = RunFailed
		var se *StepError
		if !errors.As(err, &se) {
			se = &StepError{Step: r.root.Name(), Kind: r.root.Kind(), Path: []string{r.root.Name()}, Cause: err}
		}
		res.Err = se
		err = se
		inv.emit(se.Step, "run_error", map[string]interface{}{
			"error":       se.Error(),
			"path":        se.PathString(),
			"duration_ms": res.Duration.Milliseconds(),
		})
	} else {
		inv.emit("", "run_end", map[string]interface{}{
			"events":      len(res.Events),
			"duration_ms": res.Duration.Milliseconds(),
		})
	}
	r.opts.Metrics.runFinished(res.Status)

	if r.opts.Store != nil {
		// The archive must not lose a run because the caller's context ended.
		if saveErr := r.opts.Store.SaveRun(context.WithoutCancel(ctx), res.Record()); saveErr != nil {
			inv.emit("", "archive_error", map[string]interface{}{"error": saveErr.Error()})
		}
	}
	return res, err
}

// Record converts the result into its archived form.
func (r *Result) Record() store.Run {
	run := store.Run{
		ID:         r.RunID,
		Task:       r.Task,
		Status:     string(r.Status),
		Output:     r.Output,
		State:      r.State,
		StartedAt:  r.StartedAt,
		FinishedAt: r.StartedAt.Add(r.Duration),
	}
	for _, e := range r.Events {
		run.Events = append(run.Events, store.Event{
			Seq:       e.Seq,
			Author:    e.Author,
			Content:   e.Content,
			Partial:   e.Partial,
			Iteration: e.Iteration,
			Escalate:  e.Actions.Escalate,
		})
	}
	for _, l := range r.Loops {
		run.Loops = append(run.Loops, store.Loop{Name: l.Name, Iterations: l.Iterations, State: l.State.String()})
	}
	if r.Err != nil {
		run.FailedStep = r.Err.Step
		run.FailedPath = r.Err.PathString()
		run.Error = r.Err.Error()
	}
	return run
}

// invocation holds everything that belongs to one run. Steps read and write
// it; they keep nothing of their own between runs.
type invocation struct {
	runID           string
	task            string
	state           *StateStore
	trace           *Trace
	iteration       int
	lastOutput      string
	loops           []LoopReport
	seq             int
	emitter         emit.Emitter
	metrics         *PrometheusMetrics
	delegateTimeout time.Duration
}

// record appends e to the trace, stamped with the current loop pass.
func (inv *invocation) record(e Event) Event {
	e.Iteration = inv.iteration
	return inv.trace.append(e)
}

func (inv *invocation) emit(step, msg string, meta map[string]interface{}) {
	inv.seq++
	inv.emitter.Emit(emit.Event{
		RunID: inv.runID,
		Seq:   inv.seq,
		Step:  step,
		Msg:   msg,
		Meta:  meta,
	})
}

// Validate checks a workflow tree: names must be non-empty and unique,
// composites must have children, loops need a pass budget of at least one,
// workers need a delegate and decisions a function.
func Validate(root Step) error {
	if root == nil {
		return invalid("workflow has no root step")
	}
	seen := make(map[string]bool)
	return validateStep(root, seen)
}

func validateStep(s Step, seen map[string]bool) error {
	name := s.Name()
	if name == "" {
		return invalid("%s step has no name", s.Kind())
	}
	if seen[name] {
		return invalid("duplicate step name %q", name)
	}
	seen[name] = true

	var children []Step
	switch v := s.(type) {
	case *WorkerStep:
		if v.delegate == nil {
			return invalid("worker %q has no delegate", name)
		}
		if v.retry != nil && v.retry.Validate() != nil {
			return invalid("worker %q has an invalid retry policy", name)
		}
	case *DecisionStep:
		if v.decide == nil {
			return invalid("decision %q has no decide function", name)
		}
	case *SequentialStep:
		children = v.steps
	case *LoopStep:
		if v.maxIterations < 1 {
			return invalid("loop %q needs max iterations >= 1, got %d", name, v.maxIterations)
		}
		children = v.steps
	default:
		return invalid("unknown step type %T", s)
	}

	if (s.Kind() == KindSequential || s.Kind() == KindLoop) && len(children) == 0 {
		return invalid("%s %q has no steps", s.Kind(), name)
	}
	for _, child := range children {
		if child == nil {
			return invalid("%s %q has a nil step", s.Kind(), name)
		}
		if err := validateStep(child, seen); err != nil {
			return err
		}
	}
	return nil
}

func invalid(format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	return &EngineError{Message: msg, Code: "INVALID_WORKFLOW", Cause: ErrInvalidWorkflow}
}
