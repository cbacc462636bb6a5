package plan

import (
	"context"
	"testing"

	"github.com/agentsubstrate/orchestrator-go/graph"
	"github.com/agentsubstrate/orchestrator-go/graph/model"
	"github.com/stretchr/testify/require"
)

func TestLLMPlanner_Decompose_ParsesNumberedSteps(t *testing.T) {
	m := &model.MockChatModel{
		Name: "gpt-4o-mini",
		Responses: []model.ChatOut{
			{Text: "1. Search for the topic\n2. Summarize findings"},
		},
	}
	p := NewLLMPlanner(m)

	plan, err := p.Decompose(context.Background(), "research Go generics")
	require.NoError(t, err)
	require.Len(t, plan.Steps, 2)
	require.Equal(t, "Search for the topic", plan.Steps[0].Description)
	require.Equal(t, "Summarize findings", plan.Steps[1].Description)
}

func TestLLMPlanner_Reflect_ParsesVerdict(t *testing.T) {
	m := &model.MockChatModel{
		Responses: []model.ChatOut{
			{Text: `{"verdict": "accept", "feedback": "", "reason": ""}`},
		},
	}
	p := NewLLMPlanner(m)

	v, err := p.Reflect(context.Background(), &PlanStep{ID: "step-1", Description: "do thing", Result: "done"})
	require.NoError(t, err)
	require.Equal(t, VerdictAccept, v.Kind)
}

func TestLLMPlanner_Reflect_UnparseableDefaultsToRetry(t *testing.T) {
	m := &model.MockChatModel{
		Responses: []model.ChatOut{{Text: "not json at all"}},
	}
	p := NewLLMPlanner(m)

	v, err := p.Reflect(context.Background(), &PlanStep{ID: "step-1"})
	require.NoError(t, err)
	require.Equal(t, VerdictRetry, v.Kind)
}

func TestLLMPlanner_RecordsCostWhenTrackerAttached(t *testing.T) {
	m := &model.MockChatModel{
		Name: "claude-3-5-sonnet-20241022",
		Responses: []model.ChatOut{
			{
				Text:  "1. Step one",
				Usage: model.Usage{InputTokens: 200, OutputTokens: 50},
			},
		},
	}
	p := NewLLMPlanner(m)
	p.Costs = graph.NewCostTracker("run-1", "USD")

	_, err := p.Decompose(context.Background(), "goal")
	require.NoError(t, err)

	require.Greater(t, p.Costs.GetTotalCost(), 0.0)
	calls := p.Costs.GetCallHistory()
	require.Len(t, calls, 1)
	require.Equal(t, "decompose", calls[0].NodeID)
	require.Equal(t, "claude-3-5-sonnet-20241022", calls[0].Model)
}

func TestLLMPlanner_NoCostTracker_DoesNotPanic(t *testing.T) {
	m := &model.MockChatModel{Responses: []model.ChatOut{{Text: "1. Step one"}}}
	p := NewLLMPlanner(m)

	_, err := p.Decompose(context.Background(), "goal")
	require.NoError(t, err)
}

func TestLLMPlanner_Synthesize_ReturnsModelText(t *testing.T) {
	m := &model.MockChatModel{Responses: []model.ChatOut{{Text: "final answer"}}}
	p := NewLLMPlanner(m)

	out, err := p.Synthesize(context.Background(), "goal", []*PlanStep{
		{ID: "step-1", Description: "do thing", Result: "done"},
	})
	require.NoError(t, err)
	require.Equal(t, "final answer", out)
}
