package graph

import (
	"testing"
	"time"

	"github.com/dshills/coursegraph/graph/emit"
)

func TestOptions(t *testing.T) {
	cfg := &runnerConfig{}
	emitter := emit.NewBufferedEmitter()

	opts := []Option{
		WithOptions(Options{DelegateTimeout: time.Minute}),
		WithEmitter(emitter),
		WithRunIDGenerator(func() string { return "fixed" }),
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			t.Fatalf("option: %v", err)
		}
	}

	if cfg.opts.DelegateTimeout != time.Minute {
		t.Errorf("DelegateTimeout = %v", cfg.opts.DelegateTimeout)
	}
	if cfg.opts.Emitter != emitter {
		t.Error("emitter not applied after WithOptions")
	}
	if cfg.opts.NewRunID() != "fixed" {
		t.Error("run ID generator not applied")
	}
}

func TestRunner_DelegateTimeoutDefault(t *testing.T) {
	slow := &MockDelegate{Responses: texts("late"), Delay: time.Second}
	fast := &MockDelegate{Responses: texts("ok"), Delay: 50 * time.Millisecond}

	r := mustRunner(t,
		NewSequential("root", []Step{
			// The step's own bound overrides the runner default.
			NewWorker("patient", fast, WithTimeout(time.Second)),
			NewWorker("impatient", slow),
		}),
		WithDelegateTimeout(20*time.Millisecond),
	)

	res, err := r.Run(bg, "t")
	if err == nil {
		t.Fatal("expected timeout")
	}
	if res.Err.Step != "impatient" || res.Err.Code != "DELEGATE_TIMEOUT" {
		t.Errorf("err = %v", res.Err)
	}
}
