// Package agent implements graph.Delegate on top of an LLM chat model.
//
// An Agent turns a worker request into a conversation (system instruction,
// task, rendered state), runs the model with optional tools until it answers
// in text, and returns that answer as the step's response.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dshills/coursegraph/graph"
	"github.com/dshills/coursegraph/graph/model"
	"github.com/dshills/coursegraph/graph/tool"
)

// DefaultMaxToolRounds bounds tool-calling rounds per invocation.
const DefaultMaxToolRounds = 5

// ErrNoAnswer is returned when the model never produced text.
var ErrNoAnswer = errors.New("agent: model returned no text")

// Agent is an LLM-backed worker.
type Agent struct {
	name          string
	description   string
	model         model.ChatModel
	modelName     string
	instruction   string
	tools         []tool.Tool
	stateKeys     []string
	maxToolRounds int
	costs         *graph.CostTracker
}

// Option configures an Agent.
type Option func(*Agent)

// WithInstruction sets the system instruction.
func WithInstruction(s string) Option {
	return func(a *Agent) { a.instruction = s }
}

// WithDescription sets the one-line description advertised for the agent.
func WithDescription(s string) Option {
	return func(a *Agent) { a.description = s }
}

// WithTools offers tools to the model.
func WithTools(tools ...tool.Tool) Option {
	return func(a *Agent) { a.tools = append(a.tools, tools...) }
}

// WithStateKeys limits which state entries are shown to the model, in this
// order. By default every entry is shown, sorted by key.
func WithStateKeys(keys ...string) Option {
	return func(a *Agent) { a.stateKeys = keys }
}

// WithMaxToolRounds bounds tool-calling rounds.
func WithMaxToolRounds(n int) Option {
	return func(a *Agent) { a.maxToolRounds = n }
}

// WithCostTracker records every model call's usage under modelName.
func WithCostTracker(ct *graph.CostTracker, modelName string) Option {
	return func(a *Agent) {
		a.costs = ct
		a.modelName = modelName
	}
}

// New creates an agent named name backed by m.
func New(name string, m model.ChatModel, opts ...Option) *Agent {
	a := &Agent{name: name, model: m, maxToolRounds: DefaultMaxToolRounds}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Agent) Name() string        { return a.name }
func (a *Agent) Description() string { return a.description }

// Invoke runs one worker turn.
//
// Text the model produces alongside tool calls is returned as partial
// fragments; the final answer is the single complete fragment. Tool failures
// are reported back to the model rather than failing the turn. Model errors
// are returned as-is.
func (a *Agent) Invoke(ctx context.Context, req graph.Request) (graph.Response, error) {
	messages := a.buildMessages(req)
	specs := tool.Specs(a.tools)

	var fragments []graph.Fragment
	for round := 0; ; round++ {
		offered := specs
		if round >= a.maxToolRounds {
			offered = nil
		}

		out, err := a.model.Chat(ctx, messages, offered)
		if err != nil {
			return graph.Response{}, fmt.Errorf("agent %s: %w", a.name, err)
		}
		a.costs.RecordLLMCall(a.modelName, req.Step, out.Usage.InputTokens, out.Usage.OutputTokens)

		if len(out.ToolCalls) == 0 || offered == nil {
			if strings.TrimSpace(out.Text) == "" {
				return graph.Response{}, fmt.Errorf("agent %s: %w", a.name, ErrNoAnswer)
			}
			fragments = append(fragments, graph.Fragment{Text: out.Text})
			return graph.Response{Fragments: fragments, Status: graph.StatusCompleted}, nil
		}

		if out.Text != "" {
			fragments = append(fragments, graph.Fragment{Text: out.Text, Partial: true})
			messages = append(messages, model.Message{Role: model.RoleAssistant, Content: out.Text})
		}
		for _, call := range out.ToolCalls {
			messages = append(messages,
				model.Message{Role: model.RoleAssistant, Content: describeCall(call)},
				model.Message{Role: model.RoleUser, Content: a.runTool(ctx, call)},
			)
		}
	}
}

func (a *Agent) runTool(ctx context.Context, call model.ToolCall) string {
	t, ok := tool.Find(a.tools, call.Name)
	if !ok {
		return fmt.Sprintf("Tool %s error: unknown tool", call.Name)
	}
	result, err := t.Call(ctx, call.Input)
	if err != nil {
		return fmt.Sprintf("Tool %s error: %v", call.Name, err)
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf("Tool %s error: unencodable result: %v", call.Name, err)
	}
	return fmt.Sprintf("Tool %s result: %s", call.Name, data)
}

func describeCall(call model.ToolCall) string {
	input, _ := json.Marshal(call.Input)
	return fmt.Sprintf("Calling tool %s with %s", call.Name, input)
}

func (a *Agent) buildMessages(req graph.Request) []model.Message {
	var messages []model.Message
	if a.instruction != "" {
		messages = append(messages, model.Message{Role: model.RoleSystem, Content: a.instruction})
	}
	return append(messages, model.Message{Role: model.RoleUser, Content: a.renderRequest(req)})
}

// renderRequest formats the task and the visible state as markdown sections.
func (a *Agent) renderRequest(req graph.Request) string {
	var b strings.Builder
	b.WriteString("## Request\n")
	b.WriteString(req.Task)
	b.WriteString("\n")

	keys := a.stateKeys
	if keys == nil {
		for k := range req.State {
			keys = append(keys, k)
		}
		sort.Strings(keys)
	}
	for _, k := range keys {
		v, ok := req.State[k]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "\n## %s\n%s\n", k, renderValue(v))
	}
	if req.Iteration > 1 {
		fmt.Fprintf(&b, "\nThis is attempt %d.\n", req.Iteration)
	}
	return b.String()
}

func renderValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
