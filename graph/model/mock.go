package model

import (
	"context"
	"sync"
)

// MockChatModel is a scripted ChatModel for tests.
//
// Call i returns Responses[i]; past the end the last response repeats. A
// non-nil Err fails every call. The script position is the number of recorded
// calls, so Reset also rewinds it.
//
//	judge := &model.MockChatModel{Responses: []model.ChatOut{
//	    {Text: `{"status":"fail","feedback":"cite sources"}`},
//	    {Text: `{"status":"pass","feedback":""}`},
//	}}
type MockChatModel struct {
	Responses []ChatOut
	Err       error

	Calls []MockChatCall

	mu sync.Mutex
}

// MockChatCall holds the arguments of one Chat call.
type MockChatCall struct {
	Messages []Message
	Tools    []ToolSpec
}

func (m *MockChatModel) Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return ChatOut{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.Calls)
	m.Calls = append(m.Calls, MockChatCall{Messages: append([]Message(nil), messages...), Tools: tools})

	switch {
	case m.Err != nil:
		return ChatOut{}, m.Err
	case len(m.Responses) == 0:
		return ChatOut{}, nil
	case n >= len(m.Responses):
		n = len(m.Responses) - 1
	}
	return m.Responses[n], nil
}

// Reset forgets recorded calls.
func (m *MockChatModel) Reset() {
	m.mu.Lock()
	m.Calls = nil
	m.mu.Unlock()
}

// CallCount returns the number of Chat calls so far.
func (m *MockChatModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
