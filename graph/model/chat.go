// Package model provides the LLM chat abstraction used by coursegraph agents
// and its provider adapters (google, anthropic, openai).
package model

import "context"

// ChatModel is a chat-completion provider.
//
// Implementations convert the provider-neutral Message list into the
// provider's request format, honour context cancellation, and report token
// usage so callers can attribute cost.
//
//	m := google.NewChatModel(apiKey, "gemini-2.5-pro", model.WithJSONOutput())
//	out, err := m.Chat(ctx, []model.Message{
//	    {Role: model.RoleSystem, Content: "You are a strict reviewer."},
//	    {Role: model.RoleUser, Content: findings},
//	}, nil)
type ChatModel interface {
	// Chat sends messages and returns the reply. tools may be nil.
	Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error)
}

// Message is one turn of a conversation.
type Message struct {
	Role    string
	Content string
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ToolSpec describes a tool the model may call. Schema is a JSON Schema
// object describing the input.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]interface{}
}

// ChatOut is a model reply: text, tool calls or both.
type ChatOut struct {
	Text      string
	ToolCalls []ToolCall
	Usage     Usage
}

// ToolCall is a request from the model to invoke a tool.
type ToolCall struct {
	Name  string
	Input map[string]interface{}
}

// Usage is the token accounting for one call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Total returns input plus output tokens.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// Options are the provider-neutral generation settings.
type Options struct {
	// JSONOutput asks the provider for a JSON object reply where the API
	// supports it. Providers without a JSON mode rely on the prompt.
	JSONOutput bool

	// MaxTokens caps the reply length. Zero means the provider default.
	MaxTokens int

	// Temperature is passed through when non-nil.
	Temperature *float64
}

// Option configures a provider at construction.
type Option func(*Options)

// WithJSONOutput requests JSON object replies.
func WithJSONOutput() Option {
	return func(o *Options) { o.JSONOutput = true }
}

// WithMaxTokens caps reply length.
func WithMaxTokens(n int) Option {
	return func(o *Options) { o.MaxTokens = n }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Options) { o.Temperature = &t }
}

// Apply folds opts into an Options value.
func Apply(opts ...Option) Options {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// SplitSystem separates system messages, joined by blank lines, from the
// rest of the conversation. Providers with a dedicated system field use it.
func SplitSystem(messages []Message) (string, []Message) {
	var system string
	var rest []Message
	for _, msg := range messages {
		if msg.Role != RoleSystem {
			rest = append(rest, msg)
			continue
		}
		if system != "" {
			system += "\n\n"
		}
		system += msg.Content
	}
	return system, rest
}
