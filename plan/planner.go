package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/agentsubstrate/orchestrator-go/graph"
	"github.com/agentsubstrate/orchestrator-go/graph/model"
)

// VerdictKind is the closed set of outcomes a Reflect call can return.
type VerdictKind string

const (
	VerdictAccept VerdictKind = "Accept"
	VerdictRetry  VerdictKind = "Retry"
	VerdictReplan VerdictKind = "Replan"
)

// Verdict is Reflect's return value; Feedback is set for Retry, Reason for
// Replan, and both are ignored for Accept.
type Verdict struct {
	Kind     VerdictKind
	Feedback string
	Reason   string
}

// Planner is the pluggable capability set the execute/reflect loop calls
// into at each phase boundary.
type Planner interface {
	Decompose(ctx context.Context, goal string) (*Plan, error)
	Reflect(ctx context.Context, step *PlanStep) (Verdict, error)
	Replan(ctx context.Context, p *Plan, failedStep *PlanStep, reason string) (*Plan, error)
	Synthesize(ctx context.Context, goal string, completed []*PlanStep) (string, error)
}

// StepRunner executes one PlanStep's work (tool calls, sub-graph
// invocation, or direct LLM call) and returns its raw result text.
type StepRunner interface {
	Execute(ctx context.Context, step *PlanStep) (string, error)
}

// LLMPlanner is the default Planner, backed by a single model.ChatModel.
// Decompose and Replan ask the model for a numbered step list; Reflect asks
// for a JSON verdict; Synthesize asks for a final answer from the
// accumulated step results.
type LLMPlanner struct {
	Model model.ChatModel

	// Costs, when set, attributes every Decompose/Reflect/Replan/Synthesize
	// call to the run's CostTracker by the model's reported token usage.
	Costs *graph.CostTracker
}

func NewLLMPlanner(m model.ChatModel) *LLMPlanner {
	return &LLMPlanner{Model: m}
}

func (l *LLMPlanner) recordCost(out model.ChatOut, nodeID string) {
	if l.Costs == nil {
		return
	}
	_ = l.Costs.RecordLLMCall(l.Model.ModelName(), out.Usage.InputTokens, out.Usage.OutputTokens, nodeID)
}

func (l *LLMPlanner) Decompose(ctx context.Context, goal string) (*Plan, error) {
	messages := []model.Message{
		{Role: model.RoleSystem, Content: decomposeSystemPrompt},
		{Role: model.RoleUser, Content: goal},
	}
	out, err := l.Model.Chat(ctx, messages, nil)
	if err != nil {
		return nil, fmt.Errorf("plan: decompose: %w", err)
	}
	l.recordCost(out, "decompose")
	steps := parseSteps(out.Text)
	return &Plan{Goal: goal, Iteration: 0, Steps: steps}, nil
}

func (l *LLMPlanner) Reflect(ctx context.Context, step *PlanStep) (Verdict, error) {
	prompt := fmt.Sprintf(`Intended action:
%s

Execution result:
%s

Determine whether this result indicates success or failure. Respond with
JSON in exactly this shape:
{"verdict": "accept" | "retry" | "replan", "feedback": "...", "reason": "..."}`,
		step.Description, step.Result)

	messages := []model.Message{
		{Role: model.RoleSystem, Content: reflectSystemPrompt},
		{Role: model.RoleUser, Content: prompt},
	}
	out, err := l.Model.Chat(ctx, messages, nil)
	if err != nil {
		return Verdict{}, fmt.Errorf("plan: reflect: %w", err)
	}
	l.recordCost(out, step.ID)

	var parsed struct {
		Verdict  string `json:"verdict"`
		Feedback string `json:"feedback"`
		Reason   string `json:"reason"`
	}
	if err := unmarshalJSONObject(out.Text, &parsed); err != nil {
		// Unparseable verdicts are treated as failures, never silently accepted.
		return Verdict{Kind: VerdictRetry, Feedback: "could not parse verdict: " + err.Error()}, nil
	}
	switch strings.ToLower(parsed.Verdict) {
	case "accept":
		return Verdict{Kind: VerdictAccept}, nil
	case "replan":
		return Verdict{Kind: VerdictReplan, Reason: parsed.Reason}, nil
	default:
		return Verdict{Kind: VerdictRetry, Feedback: parsed.Feedback}, nil
	}
}

func (l *LLMPlanner) Replan(ctx context.Context, p *Plan, failedStep *PlanStep, reason string) (*Plan, error) {
	prompt := fmt.Sprintf(`The plan for goal %q failed at step %q: %s

Reason: %s

Create a revised list of remaining steps needed to still achieve the goal.`,
		p.Goal, failedStep.ID, failedStep.Description, reason)

	messages := []model.Message{
		{Role: model.RoleSystem, Content: decomposeSystemPrompt},
		{Role: model.RoleUser, Content: prompt},
	}
	out, err := l.Model.Chat(ctx, messages, nil)
	if err != nil {
		return nil, fmt.Errorf("plan: replan: %w", err)
	}
	l.recordCost(out, failedStep.ID)
	steps := parseSteps(out.Text)
	next := &Plan{Goal: p.Goal, Iteration: p.Iteration + 1, Steps: steps}
	p.carryForward(next)
	return next, nil
}

func (l *LLMPlanner) Synthesize(ctx context.Context, goal string, completed []*PlanStep) (string, error) {
	var b strings.Builder
	for i, s := range completed {
		fmt.Fprintf(&b, "%d. %s -> %s\n", i+1, s.Description, s.Result)
	}
	prompt := fmt.Sprintf(`User request:
%s

Execution steps:
%s

Provide a clear, concise final answer that directly addresses the request.`,
		goal, b.String())

	messages := []model.Message{
		{Role: model.RoleSystem, Content: "You are a helpful assistant synthesizing results from a multi-step execution."},
		{Role: model.RoleUser, Content: prompt},
	}
	out, err := l.Model.Chat(ctx, messages, nil)
	if err != nil {
		return "", fmt.Errorf("plan: synthesize: %w", err)
	}
	l.recordCost(out, "synthesize")
	return out.Text, nil
}

const decomposeSystemPrompt = `You are an expert planner that breaks a goal down into concrete,
executable steps. Respond with a numbered list, one step per line:

1. First step
2. Second step

Be concise but specific; each step must be independently executable.`

const reflectSystemPrompt = `You are a verification specialist. Given an intended action and its
execution result, decide whether to accept it, retry it with feedback, or
trigger a full replan.`

// parseSteps turns a numbered-list response into PlanSteps, assigning
// step-N ids in list order. Dependencies are linear (step N depends on
// step N-1) unless the caller's Planner overrides Decompose entirely.
func parseSteps(text string) []*PlanStep {
	var steps []*PlanStep
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		line = strings.TrimPrefix(line, "- ")
		line = strings.TrimPrefix(line, "* ")
		if parts := strings.SplitN(line, ".", 2); len(parts) == 2 {
			if _, err := strconv.Atoi(strings.TrimSpace(parts[0])); err == nil {
				line = strings.TrimSpace(parts[1])
			}
		}
		if line == "" {
			continue
		}
		id := fmt.Sprintf("step-%d", len(steps)+1)
		var dependsOn []string
		if len(steps) > 0 {
			dependsOn = []string{steps[len(steps)-1].ID}
		}
		steps = append(steps, &PlanStep{
			ID:          id,
			Description: line,
			DependsOn:   dependsOn,
			MaxRetries:  3,
			Status:      StatusPending,
		})
	}
	return steps
}

// unmarshalJSONObject extracts the first {...} object in text and decodes
// it, tolerating surrounding prose the way an LLM response often has.
func unmarshalJSONObject(text string, v interface{}) error {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end < start {
		return fmt.Errorf("no JSON object found in response")
	}
	return json.Unmarshal([]byte(text[start:end+1]), v)
}
