package graph

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestRecordAndReplay(t *testing.T) {
	researcher := NewRecorder(&MockDelegate{Responses: texts("findings X", "findings Y")})
	judge := NewRecorder(&MockDelegate{Responses: texts(`{"status":"fail","feedback":"more"}`, `{"status":"pass","feedback":"ok"}`)})
	builder := NewRecorder(&MockDelegate{Responses: texts("# Course")})

	original, err := mustRunner(t, coursePipeline(researcher, judge, builder)).Run(bg, "Intro to Go generics")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := len(researcher.Calls()); got != 2 {
		t.Fatalf("researcher recorded %d calls, want 2", got)
	}

	// Recordings survive a JSON round trip, as when stored to disk.
	var all []RecordedCall
	for _, rec := range []*Recorder{researcher, judge, builder} {
		all = append(all, rec.Calls()...)
	}
	data, err := json.Marshal(all)
	if err != nil {
		t.Fatal(err)
	}
	var loaded []RecordedCall
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatal(err)
	}

	replay := NewReplayer(loaded, true)
	replayed, err := mustRunner(t, coursePipeline(replay, replay, replay)).Run(bg, "Intro to Go generics")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if replay.Remaining() != 0 {
		t.Errorf("%d recordings unused", replay.Remaining())
	}
	if !reflect.DeepEqual(original.State, replayed.State) {
		t.Errorf("state differs:\n%v\n%v", original.State, replayed.State)
	}
	if !reflect.DeepEqual(original.Events, replayed.Events) {
		t.Errorf("trace differs")
	}
}

func TestReplayer_StrictDetectsChangedRequest(t *testing.T) {
	rec := NewRecorder(&MockDelegate{Responses: texts("findings")})
	root := NewWorker("researcher", rec, WithOutputKey(ResearchFindingsKey))
	if _, err := mustRunner(t, root).Run(bg, "topic A"); err != nil {
		t.Fatal(err)
	}

	strict := NewReplayer(rec.Calls(), true)
	_, err := mustRunner(t, root.withDelegate(strict)).Run(bg, "topic B")
	if !errors.Is(err, ErrReplayMismatch) {
		t.Fatalf("strict: err = %v, want ErrReplayMismatch", err)
	}

	lenient := NewReplayer(rec.Calls(), false)
	res, err := mustRunner(t, root.withDelegate(lenient)).Run(bg, "topic B")
	if err != nil {
		t.Fatalf("lenient: %v", err)
	}
	if res.State[ResearchFindingsKey] != "findings" {
		t.Errorf("state = %v", res.State)
	}
}

func TestReplayer_Errors(t *testing.T) {
	rec := NewRecorder(&MockDelegate{Errs: []error{errors.New("quota exceeded")}})
	root := NewWorker("judge", rec)
	if _, err := mustRunner(t, root).Run(bg, "t"); err == nil {
		t.Fatal("expected failure")
	}
	calls := rec.Calls()
	if len(calls) != 1 || calls[0].Error != "quota exceeded" {
		t.Fatalf("calls = %+v", calls)
	}

	_, err := mustRunner(t, root.withDelegate(NewReplayer(calls, true))).Run(bg, "t")
	if err == nil || !errors.Is(err, ErrDelegateFailed) {
		t.Fatalf("replayed error = %v", err)
	}

	_, err = mustRunner(t, NewWorker("builder", NewReplayer(calls, false))).Run(bg, "t")
	if !errors.Is(err, ErrReplayMismatch) {
		t.Fatalf("unknown step: err = %v", err)
	}
}

func (w *WorkerStep) withDelegate(d Delegate) *WorkerStep {
	c := *w
	c.delegate = d
	return &c
}
