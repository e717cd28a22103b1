package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/dshills/coursegraph/graph/emit"
	"github.com/dshills/coursegraph/graph/store"
	"github.com/prometheus/client_golang/prometheus"
)

func TestNewRunner_Validation(t *testing.T) {
	ok := &MockDelegate{Responses: texts("x")}

	tests := []struct {
		name string
		root Step
	}{
		{"nil root", nil},
		{"unnamed worker", NewWorker("", ok)},
		{"worker without delegate", NewWorker("w", nil)},
		{"decision without function", NewDecision("d", nil)},
		{"empty sequence", NewSequential("s", nil)},
		{"empty loop", NewLoop("l", 3, nil)},
		{"zero pass budget", NewLoop("l", 0, []Step{NewWorker("w", ok)})},
		{"nil child", NewSequential("s", []Step{nil})},
		{"duplicate names", NewSequential("s", []Step{
			NewWorker("w", ok),
			NewLoop("l", 1, []Step{NewWorker("w", ok)}),
		})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRunner(tt.root)
			if !errors.Is(err, ErrInvalidWorkflow) {
				t.Fatalf("expected ErrInvalidWorkflow, got %v", err)
			}
		})
	}
}

func TestNewRunner_InvalidOption(t *testing.T) {
	root := NewWorker("w", &MockDelegate{Responses: texts("x")})

	for name, opt := range map[string]Option{
		"negative timeout": WithDelegateTimeout(-1),
		"nil generator":    WithRunIDGenerator(nil),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewRunner(root, opt)
			var ee *EngineError
			if !errors.As(err, &ee) || ee.Code != "INVALID_OPTION" {
				t.Fatalf("expected INVALID_OPTION, got %v", err)
			}
		})
	}
}

func TestRunner_FreshStatePerRun(t *testing.T) {
	var seen []map[string]any
	var mu sync.Mutex
	d := DelegateFunc(func(_ context.Context, req Request) (Response, error) {
		mu.Lock()
		seen = append(seen, req.State)
		mu.Unlock()
		return TextResponse("findings " + req.Task), nil
	})
	r := mustRunner(t, NewWorker("researcher", d, WithOutputKey(ResearchFindingsKey)))

	for _, task := range []string{"a", "b"} {
		res, err := r.Run(bg, task)
		if err != nil {
			t.Fatal(err)
		}
		if res.State[ResearchFindingsKey] != "findings "+task {
			t.Errorf("state = %v", res.State)
		}
	}
	for i, s := range seen {
		if len(s) != 0 {
			t.Errorf("run %d started with leftover state %v", i, s)
		}
	}
}

func TestRunner_ConcurrentRuns(t *testing.T) {
	d := DelegateFunc(func(_ context.Context, req Request) (Response, error) {
		return TextResponse(req.Task), nil
	})
	r := mustRunner(t, NewSequential("root", []Step{
		NewWorker("researcher", d, WithOutputKey(ResearchFindingsKey)),
		NewWorker("content_builder", d),
	}))

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			task := fmt.Sprintf("task-%d", i)
			res, err := r.Run(bg, task)
			if err != nil {
				errs <- err
				return
			}
			if res.Output != task || res.State[ResearchFindingsKey] != task {
				errs <- fmt.Errorf("run %s crossed state: output=%q state=%v", task, res.Output, res.State)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestRunner_Result(t *testing.T) {
	ids := 0
	r := mustRunner(t,
		coursePipeline(
			&MockDelegate{Responses: texts("findings")},
			&MockDelegate{Responses: texts(`{"status":"pass"}`)},
			&MockDelegate{Responses: texts("course")},
		),
		WithRunIDGenerator(func() string { ids++; return fmt.Sprintf("run-%d", ids) }),
	)

	res, err := r.Run(bg, "Intro to Go")
	if err != nil {
		t.Fatal(err)
	}
	if res.RunID != "run-1" || res.Task != "Intro to Go" || res.Status != RunSucceeded {
		t.Errorf("result header = %+v", res)
	}
	if res.Output != "course" {
		t.Errorf("Output = %q", res.Output)
	}
	if res.Err != nil {
		t.Errorf("Err = %v", res.Err)
	}
	if res.StartedAt.IsZero() {
		t.Error("StartedAt not set")
	}
}

func TestRunner_FailureResult(t *testing.T) {
	r := mustRunner(t, coursePipeline(
		&MockDelegate{Errs: []error{errors.New("dial tcp: connection refused")}},
		&MockDelegate{Responses: texts(`{"status":"pass"}`)},
		&MockDelegate{Responses: texts("course")},
	))

	res, err := r.Run(bg, "t")
	if err == nil {
		t.Fatal("expected failure")
	}
	if res == nil || res.Status != RunFailed || res.Err == nil {
		t.Fatalf("result = %+v", res)
	}
	if res.Err.PathString() != "course_creation_pipeline/research_loop/researcher" {
		t.Errorf("path = %q", res.Err.PathString())
	}
	rec := res.Record()
	if rec.FailedStep != "researcher" || rec.Status != "failed" || rec.Error == "" {
		t.Errorf("record = %+v", rec)
	}
}

func TestRunner_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	d := DelegateFunc(func(ctx context.Context, req Request) (Response, error) {
		cancel()
		<-ctx.Done()
		return Response{}, ctx.Err()
	})
	r := mustRunner(t, NewWorker("researcher", d))

	_, err := r.Run(ctx, "t")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRunner_ArchivesRuns(t *testing.T) {
	archive := store.NewMemStore()
	r := mustRunner(t,
		coursePipeline(
			&MockDelegate{Responses: texts("findings")},
			&MockDelegate{Responses: texts(`{"status":"fail"}`, `{"status":"pass"}`)},
			&MockDelegate{Responses: texts("course")},
		),
		WithRunStore(archive),
	)

	res, err := r.Run(bg, "Intro to Go")
	if err != nil {
		t.Fatal(err)
	}

	run, err := archive.LoadRun(bg, res.RunID)
	if err != nil {
		t.Fatalf("LoadRun: %v", err)
	}
	if run.Status != "succeeded" || run.Output != "course" || len(run.Events) != len(res.Events) {
		t.Errorf("archived run = %+v", run)
	}
	if len(run.Loops) != 1 || run.Loops[0].State != "escalated" || run.Loops[0].Iterations != 2 {
		t.Errorf("archived loops = %+v", run.Loops)
	}
}

type failingStore struct{ store.Store }

func (failingStore) SaveRun(context.Context, store.Run) error { return errors.New("disk full") }

func TestRunner_ArchiveFailureDoesNotFailRun(t *testing.T) {
	emitter := emit.NewBufferedEmitter()
	r := mustRunner(t,
		NewWorker("w", &MockDelegate{Responses: texts("x")}),
		WithRunStore(failingStore{}),
		WithEmitter(emitter),
	)

	res, err := r.Run(bg, "t")
	if err != nil {
		t.Fatalf("archive failure leaked into run: %v", err)
	}
	got := emitter.GetHistoryWithFilter(res.RunID, emit.HistoryFilter{Msg: "archive_error"})
	if len(got) != 1 {
		t.Errorf("archive_error events = %d", len(got))
	}
}

func TestRunner_EmitsLifecycle(t *testing.T) {
	emitter := emit.NewBufferedEmitter()
	r := mustRunner(t,
		coursePipeline(
			&MockDelegate{Responses: texts("findings")},
			&MockDelegate{Responses: texts(`{"status":"pass"}`)},
			&MockDelegate{Responses: texts("course")},
		),
		WithEmitter(emitter),
	)

	res, err := r.Run(bg, "t")
	if err != nil {
		t.Fatal(err)
	}
	history := emitter.GetHistory(res.RunID)
	if history[0].Msg != "run_start" || history[len(history)-1].Msg != "run_end" {
		t.Errorf("first=%q last=%q", history[0].Msg, history[len(history)-1].Msg)
	}
	for i, e := range history {
		if e.Seq != i+1 {
			t.Fatalf("event %d has seq %d", i, e.Seq)
		}
	}

	counts := map[string]int{}
	for _, e := range history {
		counts[e.Msg]++
	}
	if counts["escalate"] != 1 || counts["loop_exit"] != 1 || counts["state_write"] != 2 {
		t.Errorf("event counts = %v", counts)
	}
	if counts["step_start"] != counts["step_end"] {
		t.Errorf("unbalanced step events: %v", counts)
	}
}

func TestRunner_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics(reg)
	r := mustRunner(t,
		coursePipeline(
			&MockDelegate{Responses: texts("findings")},
			&MockDelegate{Responses: texts(`{"status":"fail"}`, `{"status":"pass"}`)},
			&MockDelegate{Responses: texts("course")},
		),
		WithMetrics(metrics),
	)
	if _, err := r.Run(bg, "t"); err != nil {
		t.Fatal(err)
	}

	checks := []struct {
		name   string
		labels map[string]string
		want   float64
	}{
		{"coursegraph_runs_total", map[string]string{"status": "succeeded"}, 1},
		{"coursegraph_loop_passes_total", map[string]string{"loop": "research_loop"}, 2},
		{"coursegraph_loop_exits_total", map[string]string{"loop": "research_loop", "state": "escalated"}, 1},
		{"coursegraph_escalations_total", map[string]string{"step": "escalation_checker"}, 1},
		{"coursegraph_inflight_runs", nil, 0},
	}
	for _, c := range checks {
		t.Run(c.name, func(t *testing.T) {
			if got := gatherValue(t, reg, c.name, c.labels); got != c.want {
				t.Errorf("%s%v = %v, want %v", c.name, c.labels, got, c.want)
			}
		})
	}

	metrics.Disable()
	if _, err := r.Run(bg, "t"); err != nil {
		t.Fatal(err)
	}
	if got := gatherValue(t, reg, "coursegraph_runs_total", map[string]string{"status": "succeeded"}); got != 1 {
		t.Errorf("disabled metrics still recorded: %v", got)
	}
}

func TestPrometheusMetrics_NilSafe(t *testing.T) {
	var pm *PrometheusMetrics
	pm.runStarted()
	pm.runFinished(RunSucceeded)
	pm.recordLoopPass("l")
	pm.recordEscalation("s")
	pm.recordDelegateFailure("s", "error")
}

// gatherValue returns the counter or gauge value of the series matching
// labels, or -1 when absent.
func gatherValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	series:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue series
				}
			}
			if m.GetGauge() != nil {
				return m.GetGauge().GetValue()
			}
			return m.GetCounter().GetValue()
		}
	}
	return -1
}
