package graph

// Actions carries the control signals attached to an Event.
type Actions struct {
	// Escalate asks the innermost enclosing loop to stop after the current pass.
	Escalate bool `json:"escalate,omitempty"`
}

// Event is an immutable record of something a step produced during a run.
//
// Events carry no wall-clock data so that replaying the same delegate
// responses yields an identical trace. Timing lives in the observability
// stream (package emit) instead.
type Event struct {
	// Seq is the 1-based position of the event in the run trace.
	Seq int `json:"seq"`

	// Author is the name of the step that produced the event.
	Author string `json:"author"`

	// Content is the optional text payload.
	Content string `json:"content,omitempty"`

	// Partial marks an incremental fragment. Extraction ignores partial events.
	Partial bool `json:"partial,omitempty"`

	// Iteration is the 1-based pass of the innermost enclosing loop, or 0
	// outside any loop.
	Iteration int `json:"iteration,omitempty"`

	Actions Actions `json:"actions"`
}

// HasContent reports whether the event carries non-empty text.
func (e Event) HasContent() bool {
	return e.Content != ""
}

// Trace is the ordered, append-only event sequence of one run.
type Trace struct {
	events []Event
}

func (t *Trace) append(e Event) Event {
	e.Seq = len(t.events) + 1
	t.events = append(t.events, e)
	return e
}

// Len reports the number of recorded events.
func (t *Trace) Len() int {
	return len(t.events)
}

// Events returns a copy of the recorded events.
func (t *Trace) Events() []Event {
	out := make([]Event, len(t.events))
	copy(out, t.events)
	return out
}

// LastContentFrom scans the trace in reverse and returns the content of the
// first complete (non-partial) event by author that carries non-empty text.
func (t *Trace) LastContentFrom(author string) (string, bool) {
	return t.lastContentSince(author, 0)
}

func (t *Trace) lastContentSince(author string, from int) (string, bool) {
	for i := len(t.events) - 1; i >= from; i-- {
		e := t.events[i]
		if e.Author != author || e.Partial || !e.HasContent() {
			continue
		}
		return e.Content, true
	}
	return "", false
}
