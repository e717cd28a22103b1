package graph

import (
	"context"
	"sync"
	"time"
)

// MockDelegate is a scripted Delegate for tests and examples.
//
// Call i returns Responses[i], or fails with Errs[i] when that entry is
// non-nil. Once the script runs out the last response is repeated. Every
// request is recorded in Calls.
//
//	researcher := &graph.MockDelegate{Responses: []graph.Response{
//	    graph.TextResponse("findings X"),
//	    graph.TextResponse("findings Y"),
//	}}
type MockDelegate struct {
	Responses []Response
	Errs      []error

	// Delay is waited before answering, honouring context cancellation.
	Delay time.Duration

	Calls []Request

	mu sync.Mutex
}

func (m *MockDelegate) Invoke(ctx context.Context, req Request) (Response, error) {
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return Response{}, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	idx := len(m.Calls)
	m.Calls = append(m.Calls, req)

	if idx < len(m.Errs) && m.Errs[idx] != nil {
		return Response{}, m.Errs[idx]
	}
	if len(m.Responses) == 0 {
		return TextResponse(""), nil
	}
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	return m.Responses[idx], nil
}

// CallCount returns the number of recorded calls.
func (m *MockDelegate) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// Reset clears recorded calls so the script starts over.
func (m *MockDelegate) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}
