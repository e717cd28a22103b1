package graph

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestWorker_StoresOutput(t *testing.T) {
	d := &MockDelegate{Responses: texts("findings X")}
	w := NewWorker("researcher", d, WithOutputKey(ResearchFindingsKey))

	inv := newTestInvocation("Intro to Go")
	act, err := runStep(bg, inv, w)
	if err != nil {
		t.Fatalf("runStep: %v", err)
	}
	if act != Continue {
		t.Errorf("worker returned %v", act)
	}

	v, _ := inv.state.Get(ResearchFindingsKey)
	if v != "findings X" {
		t.Errorf("research_findings = %#v", v)
	}
	if inv.lastOutput != "findings X" {
		t.Errorf("lastOutput = %q", inv.lastOutput)
	}
	if inv.trace.Len() != 1 {
		t.Errorf("expected one event, got %d", inv.trace.Len())
	}
}

func TestWorker_WithoutOutputKey(t *testing.T) {
	d := &MockDelegate{Responses: texts("course text")}
	w := NewWorker("content_builder", d)

	inv := newTestInvocation("t")
	if _, err := runStep(bg, inv, w); err != nil {
		t.Fatalf("runStep: %v", err)
	}
	if inv.state.Len() != 0 {
		t.Errorf("worker without output key wrote state: %v", inv.state.Keys())
	}
	if got, _ := inv.trace.LastContentFrom("content_builder"); got != "course text" {
		t.Errorf("trace content = %q", got)
	}
}

func TestWorker_JudgeFeedbackIsStructured(t *testing.T) {
	d := &MockDelegate{Responses: texts(`{"status":"fail","feedback":"more depth"}`)}
	w := NewWorker("judge", d, WithOutputKey(JudgeFeedbackKey))

	inv := newTestInvocation("t")
	if _, err := runStep(bg, inv, w); err != nil {
		t.Fatalf("runStep: %v", err)
	}
	v, _ := inv.state.Get(JudgeFeedbackKey)
	want := map[string]any{"status": "fail", "feedback": "more depth"}
	if !reflect.DeepEqual(v, want) {
		t.Errorf("judge_feedback = %#v, want %#v", v, want)
	}
}

func TestWorker_MalformedJudgeOutputStoredRaw(t *testing.T) {
	raw := `{"status": "pass", "feedback": "cut off`
	d := &MockDelegate{Responses: texts(raw)}
	w := NewWorker("judge", d, WithOutputKey(JudgeFeedbackKey))

	inv := newTestInvocation("t")
	if _, err := runStep(bg, inv, w); err != nil {
		t.Fatalf("runStep: %v", err)
	}
	if v, _ := inv.state.Get(JudgeFeedbackKey); v != raw {
		t.Errorf("judge_feedback = %#v, want raw text", v)
	}
}

func TestWorker_PartialFragments(t *testing.T) {
	t.Run("final complete fragment wins", func(t *testing.T) {
		d := &MockDelegate{Responses: []Response{{
			Status: StatusCompleted,
			Fragments: []Fragment{
				{Text: "find", Partial: true},
				{Text: "ings", Partial: true},
				{Text: "findings Z"},
			},
		}}}
		w := NewWorker("researcher", d, WithOutputKey(ResearchFindingsKey))

		inv := newTestInvocation("t")
		if _, err := runStep(bg, inv, w); err != nil {
			t.Fatalf("runStep: %v", err)
		}
		if v, _ := inv.state.Get(ResearchFindingsKey); v != "findings Z" {
			t.Errorf("research_findings = %#v", v)
		}
		events := inv.trace.Events()
		if len(events) != 3 || !events[0].Partial || events[2].Partial {
			t.Errorf("unexpected trace: %+v", events)
		}
	})

	t.Run("only partial fragments are folded", func(t *testing.T) {
		d := &MockDelegate{Responses: []Response{{
			Status: StatusCompleted,
			Fragments: []Fragment{
				{Text: "findings ", Partial: true},
				{Text: "W", Partial: true},
			},
		}}}
		w := NewWorker("researcher", d, WithOutputKey(ResearchFindingsKey))

		inv := newTestInvocation("t")
		if _, err := runStep(bg, inv, w); err != nil {
			t.Fatalf("runStep: %v", err)
		}
		if v, _ := inv.state.Get(ResearchFindingsKey); v != "findings W" {
			t.Errorf("research_findings = %#v", v)
		}
	})

	t.Run("earlier output of same author is not reused", func(t *testing.T) {
		d := &MockDelegate{Responses: []Response{
			TextResponse("first"),
			{Status: StatusCompleted, Fragments: []Fragment{{Text: "second", Partial: true}}},
		}}
		w := NewWorker("researcher", d, WithOutputKey(ResearchFindingsKey))

		inv := newTestInvocation("t")
		for i := 0; i < 2; i++ {
			if _, err := runStep(bg, inv, w); err != nil {
				t.Fatalf("runStep %d: %v", i, err)
			}
		}
		if v, _ := inv.state.Get(ResearchFindingsKey); v != "second" {
			t.Errorf("research_findings = %#v, want second", v)
		}
	})
}

func TestWorker_Failures(t *testing.T) {
	tests := []struct {
		name     string
		delegate Delegate
		opts     []StepOption
		code     string
		sentinel error
	}{
		{
			name:     "delegate error",
			delegate: &MockDelegate{Errs: []error{errors.New("connection refused")}},
			code:     "DELEGATE_FAILED",
			sentinel: ErrDelegateFailed,
		},
		{
			name: "failed status",
			delegate: &MockDelegate{Responses: []Response{{
				Status: StatusFailed,
				Error:  "quota exceeded",
			}}},
			code:     "DELEGATE_FAILED",
			sentinel: ErrDelegateFailed,
		},
		{
			name:     "empty response",
			delegate: &MockDelegate{Responses: []Response{{Status: StatusCompleted}}},
			code:     "EMPTY_RESPONSE",
			sentinel: ErrEmptyResponse,
		},
		{
			name:     "timeout",
			delegate: &MockDelegate{Responses: texts("late"), Delay: time.Second},
			opts:     []StepOption{WithTimeout(20 * time.Millisecond)},
			code:     "DELEGATE_TIMEOUT",
			sentinel: ErrDelegateTimeout,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := append([]StepOption{WithOutputKey(ResearchFindingsKey)}, tt.opts...)
			w := NewWorker("researcher", tt.delegate, opts...)

			inv := newTestInvocation("t")
			_, err := runStep(bg, inv, w)

			var se *StepError
			if !errors.As(err, &se) {
				t.Fatalf("expected *StepError, got %v", err)
			}
			if se.Step != "researcher" || se.Kind != KindWorker || se.Code != tt.code {
				t.Errorf("got step=%q kind=%v code=%q", se.Step, se.Kind, se.Code)
			}
			if !errors.Is(err, tt.sentinel) {
				t.Errorf("error %v does not wrap %v", err, tt.sentinel)
			}
			if _, ok := inv.state.Get(ResearchFindingsKey); ok {
				t.Error("failed worker must not write state")
			}
		})
	}
}

func TestWorker_RequestContents(t *testing.T) {
	d := &MockDelegate{Responses: texts("ok")}
	w := NewWorker("judge", d)

	inv := newTestInvocation("Intro to Go generics")
	inv.iteration = 2
	inv.state.Set(ResearchFindingsKey, "findings X")

	if _, err := runStep(bg, inv, w); err != nil {
		t.Fatalf("runStep: %v", err)
	}
	req := d.Calls[0]
	if req.Step != "judge" || req.Task != "Intro to Go generics" || req.Iteration != 2 || req.RunID != "test-run" {
		t.Errorf("unexpected request: %+v", req)
	}
	if req.State[ResearchFindingsKey] != "findings X" {
		t.Errorf("request state = %v", req.State)
	}

	// The delegate gets a snapshot, not the live store.
	req.State["leak"] = true
	if _, ok := inv.state.Get("leak"); ok {
		t.Error("delegate request shares the live store")
	}
}

func TestWorker_AfterHook(t *testing.T) {
	t.Run("runs once after success", func(t *testing.T) {
		var calls []string
		hook := func(ctx context.Context, step string, state *StateStore) error {
			v, _ := state.Get(ResearchFindingsKey)
			calls = append(calls, step+":"+v.(string))
			return nil
		}
		d := &MockDelegate{Responses: texts("findings X")}
		w := NewWorker("researcher", d, WithOutputKey(ResearchFindingsKey), WithAfter(hook))

		if _, err := runStep(bg, newTestInvocation("t"), w); err != nil {
			t.Fatalf("runStep: %v", err)
		}
		if !reflect.DeepEqual(calls, []string{"researcher:findings X"}) {
			t.Errorf("hook calls = %v", calls)
		}
	})

	t.Run("hook error fails the step", func(t *testing.T) {
		hook := func(ctx context.Context, step string, state *StateStore) error {
			return errors.New("audit sink down")
		}
		d := &MockDelegate{Responses: texts("x")}
		w := NewWorker("researcher", d, WithAfter(hook))

		_, err := runStep(bg, newTestInvocation("t"), w)
		var se *StepError
		if !errors.As(err, &se) || se.Code != "AFTER_STEP_FAILED" {
			t.Fatalf("expected AFTER_STEP_FAILED, got %v", err)
		}
	})

	t.Run("skipped when the step fails", func(t *testing.T) {
		called := false
		hook := func(ctx context.Context, step string, state *StateStore) error {
			called = true
			return nil
		}
		d := &MockDelegate{Errs: []error{errors.New("boom")}}
		w := NewWorker("researcher", d, WithAfter(hook))

		if _, err := runStep(bg, newTestInvocation("t"), w); err == nil {
			t.Fatal("expected failure")
		}
		if called {
			t.Error("hook ran after a failed step")
		}
	})
}
