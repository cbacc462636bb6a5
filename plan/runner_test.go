package plan

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/agentsubstrate/orchestrator-go/graph/emit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePlanner drives a scripted sequence of Reflect verdicts so tests can
// assert on exact retry/replan behavior without an LLM in the loop.
type fakePlanner struct {
	mu         sync.Mutex
	plan       *Plan
	verdicts   map[string][]Verdict // per step id, consumed in order
	replanPlan *Plan
	synthesize string
}

func (f *fakePlanner) Decompose(ctx context.Context, goal string) (*Plan, error) {
	return f.plan, nil
}

func (f *fakePlanner) Reflect(ctx context.Context, step *PlanStep) (Verdict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	vs := f.verdicts[step.ID]
	if len(vs) == 0 {
		return Verdict{Kind: VerdictAccept}, nil
	}
	v := vs[0]
	f.verdicts[step.ID] = vs[1:]
	return v, nil
}

func (f *fakePlanner) Replan(ctx context.Context, p *Plan, failedStep *PlanStep, reason string) (*Plan, error) {
	next := f.replanPlan
	p.carryForward(next)
	return next, nil
}

func (f *fakePlanner) Synthesize(ctx context.Context, goal string, completed []*PlanStep) (string, error) {
	return f.synthesize, nil
}

// fakeSteps returns a canned result for each step id, or an error if
// configured to fail that id.
type fakeSteps struct {
	mu      sync.Mutex
	calls   map[string]int
	results map[string]string
	fail    map[string]bool
}

func newFakeSteps() *fakeSteps {
	return &fakeSteps{calls: map[string]int{}, results: map[string]string{}, fail: map[string]bool{}}
}

func (f *fakeSteps) Execute(ctx context.Context, step *PlanStep) (string, error) {
	f.mu.Lock()
	f.calls[step.ID]++
	defer f.mu.Unlock()
	if f.fail[step.ID] {
		return "", fmt.Errorf("step %s failed", step.ID)
	}
	return f.results[step.ID], nil
}

func TestRunner_HappyPath_AllAccepted(t *testing.T) {
	p := &Plan{Goal: "g", Steps: []*PlanStep{step("step-1"), step("step-2", "step-1")}}
	planner := &fakePlanner{plan: p, verdicts: map[string][]Verdict{}, synthesize: "final answer"}
	steps := newFakeSteps()
	steps.results["step-1"] = "r1"
	steps.results["step-2"] = "r2"

	r := NewRunner(planner, steps, Config{MaxParallelSteps: 2})
	answer, err := r.Run(context.Background(), "run-1", "do the thing")

	require.NoError(t, err)
	assert.Equal(t, "final answer", answer)
	assert.Equal(t, StatusCompleted, p.Steps[0].Status)
	assert.Equal(t, StatusCompleted, p.Steps[1].Status)
}

func TestRunner_RetryThenAccept(t *testing.T) {
	p := &Plan{Goal: "g", Steps: []*PlanStep{step("step-1")}}
	p.Steps[0].MaxRetries = 3
	planner := &fakePlanner{
		plan: p,
		verdicts: map[string][]Verdict{
			"step-1": {{Kind: VerdictRetry, Feedback: "try again"}},
		},
		synthesize: "recovered",
	}
	steps := newFakeSteps()
	steps.results["step-1"] = "ok"

	r := NewRunner(planner, steps, Config{MaxParallelSteps: 1})
	answer, err := r.Run(context.Background(), "run-2", "goal")

	require.NoError(t, err)
	assert.Equal(t, "recovered", answer)
	assert.Equal(t, StatusCompleted, p.Steps[0].Status)
	assert.Equal(t, 1, p.Steps[0].Attempts)
	assert.Equal(t, 2, steps.calls["step-1"]) // initial attempt + one retry
}

func TestRunner_ReplanOnExecutionFailure(t *testing.T) {
	p := &Plan{Goal: "g", Steps: []*PlanStep{step("step-1")}}
	replanPlan := &Plan{Goal: "g", Iteration: 1, Steps: []*PlanStep{step("step-1")}}
	planner := &fakePlanner{plan: p, verdicts: map[string][]Verdict{}, replanPlan: replanPlan, synthesize: "done after replan"}

	// First call (original plan's step-1) fails; second call (the
	// replanned plan's step-1) succeeds, letting the loop terminate.
	callCount := 0
	wrapped := stepRunnerFunc(func(ctx context.Context, s *PlanStep) (string, error) {
		callCount++
		if callCount == 1 {
			return "", fmt.Errorf("boom")
		}
		return "recovered result", nil
	})

	r := NewRunner(planner, wrapped, Config{MaxParallelSteps: 1, MaxReplans: 2})
	answer, err := r.Run(context.Background(), "run-3", "goal")

	require.NoError(t, err)
	assert.Equal(t, "done after replan", answer)
	assert.Equal(t, 2, callCount)
}

type stepRunnerFunc func(ctx context.Context, step *PlanStep) (string, error)

func (f stepRunnerFunc) Execute(ctx context.Context, step *PlanStep) (string, error) {
	return f(ctx, step)
}

func TestRunner_EmitsObservabilityEvents(t *testing.T) {
	p := &Plan{Goal: "g", Steps: []*PlanStep{step("step-1")}}
	planner := &fakePlanner{plan: p, verdicts: map[string][]Verdict{}, synthesize: "ok"}
	steps := newFakeSteps()
	steps.results["step-1"] = "r1"

	rec := emit.NewBufferedEmitter()
	r := NewRunner(planner, steps, Config{MaxParallelSteps: 1, Emitter: rec})

	_, err := r.Run(context.Background(), "run-4", "goal")
	require.NoError(t, err)

	history := rec.GetHistory("run-4")
	var msgs []string
	for _, e := range history {
		msgs = append(msgs, e.Msg)
	}
	assert.Contains(t, msgs, "PlanCreated")
	assert.Contains(t, msgs, "StepStarted")
	assert.Contains(t, msgs, "StepCompleted")
	assert.Contains(t, msgs, "SynthesisStarted")
	assert.Contains(t, msgs, "PlanningComplete")
}
