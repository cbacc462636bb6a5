package model

import (
	"context"
	"fmt"

	"github.com/agentsubstrate/orchestrator-go/graph"
)

// TaskType classifies a chat request so a Router can pick an appropriate
// provider without the caller needing to know the provider roster.
type TaskType string

const (
	TaskReasoning TaskType = "reasoning"
	TaskQuick     TaskType = "quick"
	TaskTools     TaskType = "tools"
	TaskCostFirst TaskType = "cost_first"
)

// ProviderInfo binds a ChatModel to the task types it's registered for
// and a relative cost tier used by CostFirst routing as a fallback when
// the Router has no CostTracker (or the tracker's pricing table has no
// entry for this provider's model).
type ProviderInfo struct {
	Name        string
	Model       ChatModel
	Tasks       []TaskType
	CostPerCall float64 // relative unit, lower is cheaper; used only for TaskCostFirst ties
}

// Router selects among registered providers by TaskType, falling back to
// a default when no provider is registered for the requested type. This
// generalizes the provider-selection and fallback patterns a
// single-provider ChatModel caller would otherwise hand-roll per call
// site.
type Router struct {
	providers []ProviderInfo
	fallback  ChatModel

	// Costs, when set, prices TaskCostFirst routing from its pricing
	// table instead of each ProviderInfo's static CostPerCall, and
	// records every completed Chat call for run-level cost attribution.
	Costs *graph.CostTracker
}

// NewRouter creates a Router with fallback as the model used when no
// registered provider matches a requested TaskType.
func NewRouter(fallback ChatModel) *Router {
	return &Router{fallback: fallback}
}

// Register adds a provider for the given task types.
func (r *Router) Register(info ProviderInfo) {
	r.providers = append(r.providers, info)
}

// Select returns the ChatModel registered for taskType. For TaskCostFirst,
// the cheapest registered provider across all task types is returned.
// Falls back to the Router's default when nothing matches.
func (r *Router) Select(taskType TaskType) ChatModel {
	if taskType == TaskCostFirst {
		return r.cheapest()
	}
	for _, p := range r.providers {
		for _, t := range p.Tasks {
			if t == taskType {
				return p.Model
			}
		}
	}
	return r.fallback
}

// cheapest ranks providers by the Router's CostTracker pricing table
// when available (using the average of a model's per-1M input/output
// price as its per-call estimate), falling back to each provider's
// static CostPerCall when no tracker is set or a provider's model has no
// pricing entry.
func (r *Router) cheapest() ChatModel {
	if len(r.providers) == 0 {
		return r.fallback
	}
	best := r.providers[0]
	bestCost := r.estimatedCost(best)
	for _, p := range r.providers[1:] {
		if c := r.estimatedCost(p); c < bestCost {
			best, bestCost = p, c
		}
	}
	return best.Model
}

func (r *Router) estimatedCost(p ProviderInfo) float64 {
	if r.Costs != nil {
		if pricing, ok := r.Costs.Pricing[p.Model.ModelName()]; ok {
			return (pricing.InputPer1M + pricing.OutputPer1M) / 2
		}
	}
	return p.CostPerCall
}

// Chat routes the request to the provider selected for taskType. If that
// call fails, the other registered providers are tried in registration
// order until one succeeds. Every successful call
// is recorded against Costs, when set, attributing tokens and cost to
// the model that actually answered. When every call fails, the returned
// error wraps the error of the last provider tried.
func (r *Router) Chat(ctx context.Context, taskType TaskType, messages []Message, tools []ToolSpec) (ChatOut, error) {
	primary := r.Select(taskType)
	if primary == nil {
		return ChatOut{}, fmt.Errorf("model: no provider registered for task %q and no fallback configured", taskType)
	}

	out, err := primary.Chat(ctx, messages, tools)
	if err == nil {
		r.recordCost(primary, out)
		return out, nil
	}

	lastErr := err
	for _, p := range r.providers {
		if p.Model == primary {
			continue
		}
		out2, err2 := p.Model.Chat(ctx, messages, tools)
		if err2 == nil {
			r.recordCost(p.Model, out2)
			return out2, nil
		}
		lastErr = err2
	}
	return ChatOut{}, fmt.Errorf("model: all providers failed, last error: %w", lastErr)
}

func (r *Router) recordCost(m ChatModel, out ChatOut) {
	if r.Costs == nil {
		return
	}
	_ = r.Costs.RecordLLMCall(m.ModelName(), out.Usage.InputTokens, out.Usage.OutputTokens, "")
}
