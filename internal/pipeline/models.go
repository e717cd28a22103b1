package pipeline

import (
	"errors"
	"fmt"

	"github.com/dshills/coursegraph/graph"
	"github.com/dshills/coursegraph/graph/agent"
	"github.com/dshills/coursegraph/graph/model"
	"github.com/dshills/coursegraph/graph/model/anthropic"
	"github.com/dshills/coursegraph/graph/model/google"
	"github.com/dshills/coursegraph/graph/model/openai"
	"github.com/dshills/coursegraph/internal/config"
)

// ErrMissingAPIKey is returned when a provider has no API key configured.
var ErrMissingAPIKey = errors.New("missing API key")

// NewChatModel creates a chat model for provider. An empty provider means
// Google.
func NewChatModel(provider, apiKey, modelName string, opts ...model.Option) (model.ChatModel, error) {
	if provider == "" {
		provider = config.ProviderGoogle
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%s: %w", provider, ErrMissingAPIKey)
	}
	switch provider {
	case config.ProviderGoogle:
		return google.NewChatModel(apiKey, modelName, opts...), nil
	case config.ProviderOpenAI:
		return openai.NewChatModel(apiKey, modelName, opts...), nil
	case config.ProviderAnthropic:
		return anthropic.NewChatModel(apiKey, modelName, opts...), nil
	}
	return nil, fmt.Errorf("unknown provider %q", provider)
}

// NewRoleAgent builds the LLM worker for role from cfg.Workers[role]. The
// judge's model runs in JSON output mode. Token usage is recorded in costs
// when it is non-nil.
func NewRoleAgent(cfg *config.Config, role string, costs *graph.CostTracker) (*agent.Agent, error) {
	w := cfg.Workers[role]
	provider := w.Provider
	if provider == "" {
		provider = config.ProviderGoogle
	}
	modelName := w.Model
	if modelName == "" {
		modelName = agent.DefaultModelFor(role)
	}

	var opts []model.Option
	if role == agent.RoleJudge {
		opts = append(opts, model.WithJSONOutput())
	}
	m, err := NewChatModel(provider, cfg.Providers.Key(provider), modelName, opts...)
	if err != nil {
		return nil, fmt.Errorf("worker %s: %w", role, err)
	}

	a, ok := agent.NewRole(role, m, agent.WithCostTracker(costs, modelName))
	if !ok {
		return nil, fmt.Errorf("unknown worker role %q", role)
	}
	return a, nil
}
