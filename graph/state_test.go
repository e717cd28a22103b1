package graph

import (
	"reflect"
	"testing"
)

func TestStateStore_GetSet(t *testing.T) {
	s := NewStateStore()

	if _, ok := s.Get(JudgeFeedbackKey); ok {
		t.Fatal("fresh store should not contain judge_feedback")
	}

	s.Set(ResearchFindingsKey, "findings X")
	s.Set(ResearchFindingsKey, "findings Y")

	v, ok := s.Get(ResearchFindingsKey)
	if !ok || v != "findings Y" {
		t.Errorf("Get = %v, %v; want findings Y (last write wins)", v, ok)
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}

func TestStateStore_Keys(t *testing.T) {
	s := NewStateStore()
	s.Set("zeta", 1)
	s.Set("alpha", 2)
	s.Set("mid", 3)

	want := []string{"alpha", "mid", "zeta"}
	if got := s.Keys(); !reflect.DeepEqual(got, want) {
		t.Errorf("Keys = %v, want %v", got, want)
	}
}

func TestStateStore_Snapshot(t *testing.T) {
	t.Run("snapshot is independent of the store", func(t *testing.T) {
		s := NewStateStore()
		s.Set(JudgeFeedbackKey, map[string]any{"status": "fail", "feedback": "more depth"})

		snap := s.Snapshot()
		snap[JudgeFeedbackKey].(map[string]any)["status"] = "pass"
		snap["injected"] = true

		live, _ := s.Get(JudgeFeedbackKey)
		if live.(map[string]any)["status"] != "fail" {
			t.Error("mutating a snapshot changed the live store")
		}
		if _, ok := s.Get("injected"); ok {
			t.Error("snapshot key leaked into the store")
		}
	})

	t.Run("structs come back as JSON trees", func(t *testing.T) {
		s := NewStateStore()
		s.Set(JudgeFeedbackKey, JudgeFeedback{Status: "pass", Feedback: "ok"})

		snap := s.Snapshot()
		want := map[string]any{"status": "pass", "feedback": "ok"}
		if !reflect.DeepEqual(snap[JudgeFeedbackKey], want) {
			t.Errorf("snapshot = %#v, want %#v", snap[JudgeFeedbackKey], want)
		}
	})

	t.Run("unencodable values are copied shallowly", func(t *testing.T) {
		s := NewStateStore()
		ch := make(chan int)
		s.Set("chan", ch)

		if snap := s.Snapshot(); snap["chan"] != ch {
			t.Error("expected the original channel value in the snapshot")
		}
	})
}
