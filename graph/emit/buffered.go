package emit

import "sync"

// BufferedEmitter keeps every event in memory, grouped by run, and answers
// history queries. It is meant for tests, debugging and short-lived
// processes; nothing is ever evicted unless Clear is called.
//
//	emitter := emit.NewBufferedEmitter()
//	runner, _ := graph.NewRunner(root, graph.WithEmitter(emitter))
//	res, _ := runner.Run(ctx, "Intro to Go generics")
//	errs := emitter.GetHistoryWithFilter(res.RunID, emit.HistoryFilter{Msg: "step_error"})
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event
	order  []string
}

// HistoryFilter selects events. Empty fields match everything; set fields
// are combined with AND.
type HistoryFilter struct {
	Step   string
	Msg    string
	MinSeq *int
	MaxSeq *int
}

// NewBufferedEmitter creates an empty BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{events: make(map[string][]Event)}
}

// Emit stores the event.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.events[event.RunID]; !ok {
		b.order = append(b.order, event.RunID)
	}
	b.events[event.RunID] = append(b.events[event.RunID], event)
}

// Runs returns the run IDs seen so far, in first-seen order.
func (b *BufferedEmitter) Runs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.order))
	for _, id := range b.order {
		if _, ok := b.events[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// GetHistory returns a copy of all events for runID in emission order.
func (b *BufferedEmitter) GetHistory(runID string) []Event {
	return b.GetHistoryWithFilter(runID, HistoryFilter{})
}

// GetHistoryWithFilter returns the events for runID that match filter.
func (b *BufferedEmitter) GetHistoryWithFilter(runID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := []Event{}
	for _, event := range b.events[runID] {
		if filter.matches(event) {
			result = append(result, event)
		}
	}
	return result
}

func (f HistoryFilter) matches(event Event) bool {
	if f.Step != "" && event.Step != f.Step {
		return false
	}
	if f.Msg != "" && event.Msg != f.Msg {
		return false
	}
	if f.MinSeq != nil && event.Seq < *f.MinSeq {
		return false
	}
	if f.MaxSeq != nil && event.Seq > *f.MaxSeq {
		return false
	}
	return true
}

// Clear drops the events of runID, or of every run when runID is empty.
func (b *BufferedEmitter) Clear(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if runID == "" {
		b.events = make(map[string][]Event)
		b.order = nil
		return
	}
	delete(b.events, runID)
}
