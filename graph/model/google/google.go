// Package google adapts Google's Gemini models to model.ChatModel.
package google

import (
	"context"
	"errors"
	"fmt"

	"github.com/dshills/coursegraph/graph/model"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// DefaultModel is used when NewChatModel gets an empty model name.
const DefaultModel = "gemini-2.5-flash"

// ChatModel calls the Gemini API.
//
// Conversation turns are sent as chat history with the final message as the
// new turn; system messages become the model's system instruction. With
// model.WithJSONOutput the response MIME type is set to application/json
// unless tools are offered, which Gemini does not combine with JSON mode.
type ChatModel struct {
	modelName string
	opts      model.Options
	client    googleClient
}

type googleClient interface {
	generateContent(ctx context.Context, system string, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error)
}

// NewChatModel creates a Gemini chat model.
func NewChatModel(apiKey, modelName string, opts ...model.Option) *ChatModel {
	if modelName == "" {
		modelName = DefaultModel
	}
	o := model.Apply(opts...)
	return &ChatModel{
		modelName: modelName,
		opts:      o,
		client:    &defaultClient{apiKey: apiKey, modelName: modelName, opts: o},
	}
}

// ModelName returns the Gemini model identifier.
func (m *ChatModel) ModelName() string { return m.modelName }

func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}

	system, conversation := model.SplitSystem(messages)
	out, err := m.client.generateContent(ctx, system, conversation, tools)
	if err != nil {
		return model.ChatOut{}, err
	}
	return out, nil
}

type defaultClient struct {
	apiKey    string
	modelName string
	opts      model.Options
}

func (c *defaultClient) generateContent(ctx context.Context, system string, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	if c.apiKey == "" {
		return model.ChatOut{}, errors.New("google API key is required")
	}

	history, turn := convertMessages(messages)
	if len(turn) == 0 {
		return model.ChatOut{}, errors.New("google: no message content to send")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(c.apiKey))
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("failed to create Google client: %w", err)
	}
	defer func() { _ = client.Close() }()

	gm := client.GenerativeModel(c.modelName)
	configure(gm, system, tools, c.opts)

	cs := gm.StartChat()
	cs.History = history
	resp, err := cs.SendMessage(ctx, turn...)
	if err != nil {
		var blocked *genai.BlockedError
		if errors.As(err, &blocked) {
			return model.ChatOut{}, safetyError(blocked)
		}
		return model.ChatOut{}, fmt.Errorf("google API error: %w", err)
	}
	return convertResponse(resp), nil
}

func configure(gm *genai.GenerativeModel, system string, tools []model.ToolSpec, opts model.Options) {
	if system != "" {
		gm.SystemInstruction = genai.NewUserContent(genai.Text(system))
	}
	if len(tools) > 0 {
		gm.Tools = convertTools(tools)
	} else if opts.JSONOutput {
		gm.ResponseMIMEType = "application/json"
	}
	if opts.MaxTokens > 0 {
		gm.SetMaxOutputTokens(int32(opts.MaxTokens))
	}
	if opts.Temperature != nil {
		gm.SetTemperature(float32(*opts.Temperature))
	}
}

// convertMessages splits the conversation into chat history and the parts of
// the final turn.
func convertMessages(messages []model.Message) ([]*genai.Content, []genai.Part) {
	var contents []*genai.Content
	for _, msg := range messages {
		if msg.Content == "" {
			continue
		}
		role := "user"
		if msg.Role == model.RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(msg.Content)}})
	}
	if len(contents) == 0 {
		return nil, nil
	}
	last := contents[len(contents)-1]
	return contents[:len(contents)-1], last.Parts
}

func convertTools(tools []model.ToolSpec) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, len(tools))
	for i, tool := range tools {
		declarations[i] = &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  convertSchema(tool.Schema),
		}
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

func convertSchema(schema map[string]interface{}) *genai.Schema {
	if schema == nil {
		return nil
	}

	result := &genai.Schema{Type: genai.TypeObject}
	if props, ok := schema["properties"].(map[string]interface{}); ok {
		result.Properties = make(map[string]*genai.Schema, len(props))
		for key, val := range props {
			propMap, ok := val.(map[string]interface{})
			if !ok {
				continue
			}
			prop := &genai.Schema{}
			if typeStr, ok := propMap["type"].(string); ok {
				prop.Type = convertType(typeStr)
			}
			if desc, ok := propMap["description"].(string); ok {
				prop.Description = desc
			}
			result.Properties[key] = prop
		}
	}

	switch required := schema["required"].(type) {
	case []string:
		result.Required = required
	case []interface{}:
		for _, v := range required {
			if s, ok := v.(string); ok {
				result.Required = append(result.Required, s)
			}
		}
	}
	return result
}

func convertType(typeStr string) genai.Type {
	switch typeStr {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}

func convertResponse(resp *genai.GenerateContentResponse) model.ChatOut {
	out := model.ChatOut{}
	if resp == nil {
		return out
	}
	if resp.UsageMetadata != nil {
		out.Usage = model.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out
	}

	for _, part := range resp.Candidates[0].Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			out.Text += string(p)
		case genai.FunctionCall:
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{Name: p.Name, Input: p.Args})
		}
	}
	return out
}

// SafetyFilterError reports a prompt or reply blocked by Gemini's safety
// filters.
type SafetyFilterError struct {
	reason   string
	category string
}

func (e *SafetyFilterError) Error() string {
	if e.category == "" {
		return "content blocked by safety filter: " + e.reason
	}
	return "content blocked by safety filter: " + e.category
}

// Category returns the harm category that triggered the block, if known.
func (e *SafetyFilterError) Category() string { return e.category }

// Reason returns the block reason reported by the API.
func (e *SafetyFilterError) Reason() string { return e.reason }

func safetyError(blocked *genai.BlockedError) *SafetyFilterError {
	se := &SafetyFilterError{reason: blocked.Error()}
	var ratings []*genai.SafetyRating
	if blocked.Candidate != nil {
		ratings = blocked.Candidate.SafetyRatings
	} else if blocked.PromptFeedback != nil {
		ratings = blocked.PromptFeedback.SafetyRatings
	}
	for _, r := range ratings {
		if r != nil && r.Blocked {
			se.category = r.Category.String()
			break
		}
	}
	return se
}
