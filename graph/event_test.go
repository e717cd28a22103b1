package graph

import "testing"

func TestTrace_LastContentFrom(t *testing.T) {
	tr := &Trace{}
	tr.append(Event{Author: "researcher", Content: "findings X"})
	tr.append(Event{Author: "judge", Content: `{"status":"fail"}`})
	tr.append(Event{Author: "escalation_checker"})
	tr.append(Event{Author: "researcher", Content: "findings Y"})
	tr.append(Event{Author: "researcher", Content: "partial chunk", Partial: true})
	tr.append(Event{Author: "researcher"})

	tests := []struct {
		author string
		want   string
		found  bool
	}{
		{"researcher", "findings Y", true},
		{"judge", `{"status":"fail"}`, true},
		{"escalation_checker", "", false},
		{"content_builder", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.author, func(t *testing.T) {
			got, ok := tr.LastContentFrom(tt.author)
			if ok != tt.found || got != tt.want {
				t.Errorf("LastContentFrom(%q) = %q, %v; want %q, %v", tt.author, got, ok, tt.want, tt.found)
			}
		})
	}
}

func TestTrace_SequenceNumbers(t *testing.T) {
	tr := &Trace{}
	for i := 0; i < 3; i++ {
		tr.append(Event{Author: "a"})
	}

	events := tr.Events()
	for i, e := range events {
		if e.Seq != i+1 {
			t.Errorf("event %d has Seq %d", i, e.Seq)
		}
	}

	events[0].Author = "mutated"
	if tr.Events()[0].Author != "a" {
		t.Error("Events must return a copy")
	}
}
