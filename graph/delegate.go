package graph

import "context"

// ResponseStatus is the terminal status a delegate reports.
type ResponseStatus string

const (
	StatusCompleted ResponseStatus = "completed"
	StatusFailed    ResponseStatus = "failed"
)

// Request is what a worker step hands its delegate.
type Request struct {
	RunID string `json:"run_id"`

	// Step is the name of the calling worker step.
	Step string `json:"step"`

	// Task is the run's original task description.
	Task string `json:"task"`

	// Iteration is the pass number of the innermost enclosing loop, or 0.
	Iteration int `json:"iteration,omitempty"`

	// State is a read-only snapshot of the run's StateStore.
	State map[string]any `json:"state,omitempty"`
}

// Fragment is one piece of delegate output. All fragments except the final
// one are usually partial.
type Fragment struct {
	Text    string `json:"text"`
	Partial bool   `json:"partial,omitempty"`
}

// Response is the ordered output of a delegate call plus its terminal status.
type Response struct {
	Fragments []Fragment     `json:"fragments"`
	Status    ResponseStatus `json:"status"`
	Error     string         `json:"error,omitempty"`
}

// Text returns the last complete fragment with content, falling back to the
// concatenation of all fragments when every fragment is partial.
func (r Response) Text() string {
	for i := len(r.Fragments) - 1; i >= 0; i-- {
		if !r.Fragments[i].Partial && r.Fragments[i].Text != "" {
			return r.Fragments[i].Text
		}
	}
	var text string
	for _, f := range r.Fragments {
		text += f.Text
	}
	return text
}

// Delegate is the external capability a worker step calls: a remote worker
// reached through graph/remote, a local LLM agent, or a test double.
//
// A returned error means the call itself failed (unreachable peer, malformed
// reply). A failed Status means the peer ran and reported failure. Both fail
// the calling step.
type Delegate interface {
	Invoke(ctx context.Context, req Request) (Response, error)
}

// DelegateFunc adapts an ordinary function to the Delegate interface.
type DelegateFunc func(ctx context.Context, req Request) (Response, error)

func (f DelegateFunc) Invoke(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// TextResponse builds a completed response with a single complete fragment.
func TextResponse(text string) Response {
	return Response{
		Fragments: []Fragment{{Text: text}},
		Status:    StatusCompleted,
	}
}
