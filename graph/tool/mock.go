package tool

import (
	"context"
	"sync"

	"github.com/dshills/coursegraph/graph/model"
)

// MockTool is a scripted Tool for tests. Call i returns Responses[i] and the
// last response repeats once the script runs out.
type MockTool struct {
	ToolName    string
	Description string
	Responses   []map[string]interface{}
	Err         error

	// Inputs holds the input of every call in order.
	Inputs []map[string]interface{}

	mu sync.Mutex
}

func (m *MockTool) Name() string { return m.ToolName }

func (m *MockTool) Spec() model.ToolSpec {
	desc := m.Description
	if desc == "" {
		desc = "scripted " + m.ToolName
	}
	return model.ToolSpec{
		Name:        m.ToolName,
		Description: desc,
		Schema:      map[string]interface{}{"type": "object"},
	}
}

func (m *MockTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.Inputs)
	m.Inputs = append(m.Inputs, input)

	switch {
	case m.Err != nil:
		return nil, m.Err
	case len(m.Responses) == 0:
		return map[string]interface{}{}, nil
	case n >= len(m.Responses):
		n = len(m.Responses) - 1
	}
	return m.Responses[n], nil
}

// Reset forgets recorded calls.
func (m *MockTool) Reset() {
	m.mu.Lock()
	m.Inputs = nil
	m.mu.Unlock()
}

// CallCount returns the number of calls so far.
func (m *MockTool) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Inputs)
}
