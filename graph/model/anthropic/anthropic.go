// Package anthropic adapts Anthropic's Claude models to model.ChatModel.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/dshills/coursegraph/graph/model"
)

const (
	// DefaultModel is used when NewChatModel gets an empty model name.
	DefaultModel = "claude-3-5-sonnet-20241022"

	defaultMaxTokens = 4096
)

// jsonInstruction is appended to the system prompt in JSON mode. Claude has
// no response-format switch.
const jsonInstruction = "Respond with a single JSON object and nothing else."

// ChatModel calls the Anthropic Messages API.
type ChatModel struct {
	modelName string
	opts      model.Options
	client    anthropicClient
}

type anthropicClient interface {
	createMessage(ctx context.Context, systemPrompt string, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error)
}

// NewChatModel creates a Claude chat model.
func NewChatModel(apiKey, modelName string, opts ...model.Option) *ChatModel {
	if modelName == "" {
		modelName = DefaultModel
	}
	o := model.Apply(opts...)
	return &ChatModel{
		modelName: modelName,
		opts:      o,
		client:    newDefaultClient(apiKey, modelName, o),
	}
}

// ModelName returns the Claude model identifier.
func (m *ChatModel) ModelName() string { return m.modelName }

func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}

	systemPrompt, conversation := model.SplitSystem(messages)
	if m.opts.JSONOutput {
		if systemPrompt != "" {
			systemPrompt += "\n\n"
		}
		systemPrompt += jsonInstruction
	}

	out, err := m.client.createMessage(ctx, systemPrompt, conversation, tools)
	if err != nil {
		return model.ChatOut{}, err
	}
	return out, nil
}

type defaultClient struct {
	apiKey    string
	modelName string
	opts      model.Options
	client    anthropic.Client
}

func newDefaultClient(apiKey, modelName string, opts model.Options) *defaultClient {
	return &defaultClient{
		apiKey:    apiKey,
		modelName: modelName,
		opts:      opts,
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
	}
}

func (c *defaultClient) createMessage(ctx context.Context, systemPrompt string, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	if c.apiKey == "" {
		return model.ChatOut{}, errors.New("anthropic API key is required")
	}

	msg, err := c.client.Messages.New(ctx, buildParams(c.modelName, c.opts, systemPrompt, messages, tools))
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return model.ChatOut{}, &APIError{StatusCode: apiErr.StatusCode, Message: apiErr.Error()}
		}
		return model.ChatOut{}, fmt.Errorf("anthropic API error: %w", err)
	}
	return convertResponse(msg), nil
}

func buildParams(modelName string, opts model.Options, systemPrompt string, messages []model.Message, tools []model.ToolSpec) anthropic.MessageNewParams {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(modelName),
		MaxTokens: int64(maxTokens),
		Messages:  convertMessages(messages),
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}
	if opts.Temperature != nil {
		params.Temperature = anthropic.Float(*opts.Temperature)
	}
	if len(tools) > 0 {
		params.Tools = convertTools(tools)
	}
	return params
}

func convertMessages(messages []model.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		if msg.Content == "" {
			continue
		}
		block := anthropic.NewTextBlock(msg.Content)
		if msg.Role == model.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(block))
		} else {
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return out
}

func convertTools(tools []model.ToolSpec) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, tool := range tools {
		var properties any
		if tool.Schema != nil {
			properties = tool.Schema["properties"]
		}
		out[i] = anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: anthropic.ToolInputSchemaParam{Properties: properties},
			},
		}
	}
	return out
}

func convertResponse(msg *anthropic.Message) model.ChatOut {
	out := model.ChatOut{}
	if msg == nil {
		return out
	}
	out.Usage = model.Usage{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}

	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			out.Text += block.Text
		case "tool_use":
			var input map[string]interface{}
			if len(block.Input) > 0 {
				_ = json.Unmarshal(block.Input, &input)
			}
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{Name: block.Name, Input: input})
		}
	}
	return out
}

// APIError is a non-2xx reply from the Anthropic API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("anthropic API error (%d): %s", e.StatusCode, e.Message)
}

// Temporary reports whether retrying may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}
