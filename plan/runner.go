package plan

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agentsubstrate/orchestrator-go/graph"
	"github.com/agentsubstrate/orchestrator-go/graph/emit"
)

// Config bounds the execute/reflect/replan loop.
type Config struct {
	MaxParallelSteps int           // default 1
	MaxReplans       int           // default 3
	StepTimeout      time.Duration // 0 disables the per-step deadline
	Emitter          emit.Emitter  // nil disables the observability stream
}

func (c Config) withDefaults() Config {
	if c.MaxParallelSteps <= 0 {
		c.MaxParallelSteps = 1
	}
	if c.MaxReplans <= 0 {
		c.MaxReplans = 3
	}
	return c
}

// Runner drives the decompose -> execute -> reflect -> (retry | replan) ->
// synthesize loop described by the planning loop component.
type Runner struct {
	planner Planner
	steps   StepRunner
	cfg     Config
}

func NewRunner(planner Planner, steps StepRunner, cfg Config) *Runner {
	return &Runner{planner: planner, steps: steps, cfg: cfg.withDefaults()}
}

// Run executes the full loop for goal and returns the synthesized answer.
func (r *Runner) Run(ctx context.Context, runID, goal string) (string, error) {
	plan, err := r.planner.Decompose(ctx, goal)
	if err != nil {
		return "", graph.NewError(graph.CodeExecutionError, "decompose failed", err)
	}
	if err := plan.Validate(); err != nil {
		return "", err
	}
	r.emit(runID, "", "PlanCreated", map[string]interface{}{"steps": len(plan.Steps), "iteration": plan.Iteration})

	replans := 0
	for {
		if err := r.runReady(ctx, runID, plan); err != nil {
			return "", err
		}

		failed := firstFailed(plan)
		if failed == nil {
			break
		}

		if replans >= r.cfg.MaxReplans {
			r.emit(runID, failed.ID, "StepFailed", map[string]interface{}{"reason": "max_replans exhausted", "msg": failed.FailureMsg})
			break // synthesize with whatever completed, per the exhausted-retries fallback
		}

		r.emit(runID, failed.ID, "ReplanTriggered", map[string]interface{}{"reason": failed.FailureMsg})
		next, err := r.planner.Replan(ctx, plan, failed, failed.FailureMsg)
		if err != nil {
			return "", graph.NewError(graph.CodeExecutionError, "replan failed", err)
		}
		if err := next.Validate(); err != nil {
			return "", err
		}
		replans++
		plan = next
	}

	r.emit(runID, "", "SynthesisStarted", nil)
	answer, err := r.planner.Synthesize(ctx, goal, plan.completedResults())
	if err != nil {
		return "", graph.NewError(graph.CodeExecutionError, "synthesize failed", err)
	}
	r.emit(runID, "", "PlanningComplete", map[string]interface{}{"answer_len": len(answer)})
	return answer, nil
}

// runReady drains ready steps round by round, up to MaxParallelSteps
// concurrently per round, until no step is Pending/Running or one step
// escalates to a replan (signaled by a Failed status with no retries left).
func (r *Runner) runReady(ctx context.Context, runID string, p *Plan) error {
	for {
		if p.terminal() {
			return nil
		}
		ready := p.readySteps()
		if len(ready) == 0 {
			// Nothing ready: either blocked on a failed dependency (handled
			// by Run's firstFailed check) or genuinely done.
			return nil
		}
		if firstFailed(p) != nil {
			return nil // a step already escalated; let Run()'s replan loop handle it
		}

		batch := ready
		if len(batch) > r.cfg.MaxParallelSteps {
			batch = batch[:r.cfg.MaxParallelSteps]
		}

		var wg sync.WaitGroup
		for _, step := range batch {
			step.Status = StatusRunning
			wg.Add(1)
			go func(s *PlanStep) {
				defer wg.Done()
				r.runStep(ctx, runID, s)
			}(step)
		}
		wg.Wait()

		if ctx.Err() != nil {
			return graph.NewError(graph.CodeCancelled, "plan execution cancelled", ctx.Err())
		}
	}
}

// runStep executes one step, then reflects on the result, retrying inline
// (within its own budget) before escalating a terminal failure to the
// caller's replan handling.
func (r *Runner) runStep(ctx context.Context, runID string, step *PlanStep) {
	r.emit(runID, step.ID, "StepStarted", map[string]interface{}{"attempt": step.Attempts + 1})

	for {
		result, err := r.execute(ctx, step)
		if err != nil {
			step.Status = StatusFailed
			step.FailureMsg = err.Error()
			r.emit(runID, step.ID, "StepFailed", map[string]interface{}{"msg": step.FailureMsg})
			return
		}
		step.Result = result

		verdict, err := r.planner.Reflect(ctx, step)
		if err != nil {
			step.Status = StatusFailed
			step.FailureMsg = err.Error()
			r.emit(runID, step.ID, "StepFailed", map[string]interface{}{"msg": step.FailureMsg})
			return
		}

		switch verdict.Kind {
		case VerdictAccept:
			step.Status = StatusCompleted
			r.emit(runID, step.ID, "StepCompleted", map[string]interface{}{"attempts": step.Attempts + 1})
			return
		case VerdictReplan:
			step.Status = StatusFailed
			step.FailureMsg = verdict.Reason
			r.emit(runID, step.ID, "StepFailed", map[string]interface{}{"msg": verdict.Reason, "escalation": "replan"})
			return
		default: // VerdictRetry
			if step.Attempts >= step.MaxRetries {
				step.Status = StatusFailed
				step.FailureMsg = fmt.Sprintf("max_retries exceeded: %s", verdict.Feedback)
				r.emit(runID, step.ID, "StepFailed", map[string]interface{}{"msg": step.FailureMsg, "escalation": "replan"})
				return
			}
			step.Attempts++
			step.Feedback = verdict.Feedback
			r.emit(runID, step.ID, "StepRetry", map[string]interface{}{"attempt": step.Attempts, "feedback": verdict.Feedback})
		}
	}
}

func (r *Runner) execute(ctx context.Context, step *PlanStep) (string, error) {
	if r.cfg.StepTimeout <= 0 {
		return r.steps.Execute(ctx, step)
	}
	stepCtx, cancel := context.WithTimeout(ctx, r.cfg.StepTimeout)
	defer cancel()
	result, err := r.steps.Execute(stepCtx, step)
	if err != nil && stepCtx.Err() == context.DeadlineExceeded {
		return "", graph.NewError(graph.CodeTimeout, "step exceeded step_timeout_ms", err)
	}
	return result, err
}

func (r *Runner) emit(runID, nodeID, msg string, meta map[string]interface{}) {
	if r.cfg.Emitter == nil {
		return
	}
	r.cfg.Emitter.Emit(emit.Event{RunID: runID, NodeID: nodeID, Msg: msg, Meta: meta})
}

func firstFailed(p *Plan) *PlanStep {
	for _, s := range p.Steps {
		if s.Status == StatusFailed {
			return s
		}
	}
	return nil
}

