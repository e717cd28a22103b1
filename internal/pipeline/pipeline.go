// Package pipeline assembles runnable workflows from configuration.
package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/dshills/coursegraph/graph"
	"github.com/dshills/coursegraph/graph/remote"
	"github.com/dshills/coursegraph/internal/config"
)

// CoursePipeline builds the course creation workflow around the three
// worker delegates:
//
//	course_creation_pipeline = Sequential[
//	    research_loop = Loop(max 3)[researcher, judge, escalation_checker],
//	    content_builder,
//	]
func CoursePipeline(researcher, judge, contentBuilder graph.Delegate) graph.Step {
	loop := graph.NewLoop("research_loop", graph.DefaultMaxIterations, []graph.Step{
		graph.NewWorker("researcher", researcher, graph.WithOutputKey(graph.ResearchFindingsKey)),
		graph.NewWorker("judge", judge, graph.WithOutputKey(graph.JudgeFeedbackKey), graph.WithStructuredOutput()),
		graph.NewEscalationChecker("escalation_checker", "judge"),
	})
	return graph.NewSequential("course_creation_pipeline", []graph.Step{
		loop,
		graph.NewWorker("content_builder", contentBuilder),
	})
}

// Build turns a workflow tree into a graph.Step. Worker steps look up their
// delegate by name in delegates.
func Build(spec config.StepSpec, delegates map[string]graph.Delegate) (graph.Step, error) {
	var opts []graph.StepOption
	if spec.Description != "" {
		opts = append(opts, graph.WithDescription(spec.Description))
	}

	switch spec.Kind {
	case config.KindWorker:
		d, ok := delegates[spec.Delegate]
		if !ok || d == nil {
			return nil, fmt.Errorf("worker %q: no delegate named %q", spec.Name, spec.Delegate)
		}
		if spec.OutputKey != "" {
			opts = append(opts, graph.WithOutputKey(spec.OutputKey))
		}
		if spec.Structured {
			opts = append(opts, graph.WithStructuredOutput())
		}
		if spec.Timeout > 0 {
			opts = append(opts, graph.WithTimeout(spec.Timeout))
		}
		if spec.MaxAttempts > 1 {
			opts = append(opts, graph.WithRetry(graph.RetryPolicy{
				MaxAttempts: spec.MaxAttempts,
				BaseDelay:   RetryBaseDelay,
				MaxDelay:    RetryMaxDelay,
				Retryable:   Transient,
			}))
		}
		return graph.NewWorker(spec.Name, d, opts...), nil

	case config.KindEscalationChecker:
		return graph.NewEscalationChecker(spec.Name, spec.Judge, opts...), nil

	case config.KindSequential, config.KindLoop:
		children := make([]graph.Step, 0, len(spec.Steps))
		for _, child := range spec.Steps {
			step, err := Build(child, delegates)
			if err != nil {
				return nil, err
			}
			children = append(children, step)
		}
		if spec.Kind == config.KindLoop {
			return graph.NewLoop(spec.Name, spec.MaxIterations, children, opts...), nil
		}
		return graph.NewSequential(spec.Name, children, opts...), nil
	}
	return nil, fmt.Errorf("step %q: unknown kind %q", spec.Name, spec.Kind)
}

// Backoff bounds for worker retries.
var (
	RetryBaseDelay = time.Second
	RetryMaxDelay  = 30 * time.Second
)

// Transient reports whether a delegate error is worth retrying: the worker
// was unreachable or did not answer in time. Protocol errors and failed
// tasks are not retried.
func Transient(err error) bool {
	return errors.Is(err, remote.ErrUnreachable) || errors.Is(err, graph.ErrDelegateTimeout)
}

// RemoteDelegates returns a remote client for every configured worker.
func RemoteDelegates(cfg *config.Config) map[string]graph.Delegate {
	delegates := make(map[string]graph.Delegate, len(cfg.Workers))
	for name, w := range cfg.Workers {
		delegates[name] = remote.NewClient(w.URL, remote.WithStreaming(w.Streaming))
	}
	return delegates
}

// NewRunner builds cfg's workflow over delegates and returns a runner for
// it. Worker timeouts and retry budgets from cfg apply to steps without
// their own, and cfg.Runner.DelegateTimeout is the default for the rest.
// opts are applied after the config-derived options.
func NewRunner(cfg *config.Config, delegates map[string]graph.Delegate, opts ...graph.Option) (*graph.Runner, error) {
	root, err := Build(withWorkerDefaults(cfg.Workflow, cfg.Workers), delegates)
	if err != nil {
		return nil, err
	}
	base := []graph.Option{graph.WithDelegateTimeout(cfg.Runner.DelegateTimeout)}
	return graph.NewRunner(root, append(base, opts...)...)
}

func withWorkerDefaults(spec config.StepSpec, workers map[string]config.WorkerConfig) config.StepSpec {
	if spec.Kind == config.KindWorker {
		w := workers[spec.Delegate]
		if spec.Timeout == 0 {
			spec.Timeout = w.Timeout
		}
		if spec.MaxAttempts == 0 {
			spec.MaxAttempts = w.MaxAttempts
		}
	}
	if len(spec.Steps) > 0 {
		steps := make([]config.StepSpec, len(spec.Steps))
		for i, child := range spec.Steps {
			steps[i] = withWorkerDefaults(child, workers)
		}
		spec.Steps = steps
	}
	return spec
}
