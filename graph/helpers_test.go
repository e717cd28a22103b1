package graph

import (
	"context"
	"testing"

	"github.com/dshills/coursegraph/graph/emit"
)

// coursePipeline wires the research loop and content builder the way the
// production pipeline does.
func coursePipeline(researcher, judge, builder Delegate) Step {
	return NewSequential("course_creation_pipeline", []Step{
		NewLoop("research_loop", DefaultMaxIterations, []Step{
			NewWorker("researcher", researcher, WithOutputKey(ResearchFindingsKey)),
			NewWorker("judge", judge, WithOutputKey(JudgeFeedbackKey)),
			NewEscalationChecker("escalation_checker", "judge"),
		}),
		NewWorker("content_builder", builder),
	})
}

func mustRunner(t *testing.T, root Step, opts ...Option) *Runner {
	t.Helper()
	r, err := NewRunner(root, opts...)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	return r
}

func newTestInvocation(task string) *invocation {
	return &invocation{
		runID:   "test-run",
		task:    task,
		state:   NewStateStore(),
		trace:   &Trace{},
		emitter: emit.NewNullEmitter(),
	}
}

func texts(items ...string) []Response {
	out := make([]Response, len(items))
	for i, s := range items {
		out[i] = TextResponse(s)
	}
	return out
}

// authors lists the author of every event in order.
func authors(events []Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Author
	}
	return out
}

var bg = context.Background()
