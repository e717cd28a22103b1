package graph

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// ModelPricing is the USD price per million tokens for one model.
type ModelPricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// defaultModelPricing covers the models the worker roles are configured with
// out of the box. Unknown models are tracked at zero cost.
var defaultModelPricing = map[string]ModelPricing{
	"gemini-2.5-pro":             {InputPer1M: 1.25, OutputPer1M: 10.00},
	"gemini-2.5-flash":           {InputPer1M: 0.30, OutputPer1M: 2.50},
	"gemini-1.5-pro":             {InputPer1M: 1.25, OutputPer1M: 5.00},
	"gemini-1.5-flash":           {InputPer1M: 0.075, OutputPer1M: 0.30},
	"gpt-4o":                     {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gpt-4o-mini":                {InputPer1M: 0.15, OutputPer1M: 0.60},
	"claude-3-5-sonnet-20241022": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-haiku-20240307":    {InputPer1M: 0.25, OutputPer1M: 1.25},
}

// LLMCall is one recorded model invocation.
type LLMCall struct {
	Model        string    `json:"model"`
	Step         string    `json:"step"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CostUSD      float64   `json:"cost_usd"`
	Timestamp    time.Time `json:"timestamp"`
}

// CostTracker accumulates token usage and USD cost of LLM calls made by
// worker agents. It is safe for concurrent use; one tracker usually spans a
// worker process's lifetime.
//
//	costs := graph.NewCostTracker()
//	researcher := agent.New("researcher", m, agent.WithCostTracker(costs, "gemini-2.5-flash"))
//	...
//	log.Printf("spent $%.4f", costs.TotalCost())
type CostTracker struct {
	mu           sync.RWMutex
	pricing      map[string]ModelPricing
	calls        []LLMCall
	total        float64
	byModel      map[string]float64
	byStep       map[string]float64
	inputTokens  int64
	outputTokens int64
	enabled      bool
}

// NewCostTracker creates a tracker with the built-in price table.
func NewCostTracker() *CostTracker {
	pricing := make(map[string]ModelPricing, len(defaultModelPricing))
	for k, v := range defaultModelPricing {
		pricing[k] = v
	}
	return &CostTracker{
		pricing: pricing,
		byModel: make(map[string]float64),
		byStep:  make(map[string]float64),
		enabled: true,
	}
}

// RecordLLMCall adds one call and returns its cost.
func (ct *CostTracker) RecordLLMCall(model, step string, inputTokens, outputTokens int) float64 {
	if ct == nil {
		return 0
	}
	ct.mu.Lock()
	defer ct.mu.Unlock()
	if !ct.enabled {
		return 0
	}

	p := ct.pricing[model]
	cost := float64(inputTokens)/1_000_000*p.InputPer1M + float64(outputTokens)/1_000_000*p.OutputPer1M

	ct.calls = append(ct.calls, LLMCall{
		Model:        model,
		Step:         step,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CostUSD:      cost,
		Timestamp:    time.Now(),
	})
	ct.total += cost
	ct.byModel[model] += cost
	ct.byStep[step] += cost
	ct.inputTokens += int64(inputTokens)
	ct.outputTokens += int64(outputTokens)
	return cost
}

// TotalCost returns the accumulated USD cost.
func (ct *CostTracker) TotalCost() float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.total
}

// CostByModel returns a copy of the per-model totals.
func (ct *CostTracker) CostByModel() map[string]float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return copyCosts(ct.byModel)
}

// CostByStep returns a copy of the per-step totals.
func (ct *CostTracker) CostByStep() map[string]float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return copyCosts(ct.byStep)
}

// Calls returns a copy of the call history.
func (ct *CostTracker) Calls() []LLMCall {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return append([]LLMCall(nil), ct.calls...)
}

// TokenUsage returns total input and output tokens.
func (ct *CostTracker) TokenUsage() (input, output int64) {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.inputTokens, ct.outputTokens
}

// Models returns the models with recorded calls, sorted.
func (ct *CostTracker) Models() []string {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	models := make([]string, 0, len(ct.byModel))
	for m := range ct.byModel {
		models = append(models, m)
	}
	sort.Strings(models)
	return models
}

// SetPricing overrides or adds the price of a model.
func (ct *CostTracker) SetPricing(model string, inputPer1M, outputPer1M float64) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.pricing[model] = ModelPricing{InputPer1M: inputPer1M, OutputPer1M: outputPer1M}
}

// Disable stops recording. Enable resumes it.
func (ct *CostTracker) Disable() {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.enabled = false
}

func (ct *CostTracker) Enable() {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.enabled = true
}

// Reset clears all recorded usage. Pricing is kept.
func (ct *CostTracker) Reset() {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.calls = nil
	ct.total = 0
	ct.byModel = make(map[string]float64)
	ct.byStep = make(map[string]float64)
	ct.inputTokens = 0
	ct.outputTokens = 0
}

func (ct *CostTracker) String() string {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return fmt.Sprintf("CostTracker{calls: %d, total: $%.4f, input_tokens: %d, output_tokens: %d}",
		len(ct.calls), ct.total, ct.inputTokens, ct.outputTokens)
}

func copyCosts(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
