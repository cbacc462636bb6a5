// Package plan implements the decompose/execute/reflect/synthesize loop: a
// goal is broken into a DAG of PlanStep, steps run up to max_parallel_steps
// at a time, failures are reflected on and optionally retried or escalated
// into a replan, and the surviving results are synthesized into an answer.
package plan

import (
	"fmt"

	"github.com/agentsubstrate/orchestrator-go/graph"
)

// StepStatus is the closed set of states a PlanStep moves through.
type StepStatus string

const (
	StatusPending   StepStatus = "Pending"
	StatusRunning   StepStatus = "Running"
	StatusCompleted StepStatus = "Completed"
	StatusFailed    StepStatus = "Failed"
	StatusSkipped   StepStatus = "Skipped"
)

// PlanStep is one node of a Plan's dependency DAG.
type PlanStep struct {
	ID                  string
	Description         string
	ToolsNeeded         []string
	DependsOn           []string
	CompletionCriterion string
	MaxRetries          int

	Status     StepStatus
	Attempts   int
	Result     string
	FailureMsg string
	Feedback   string // injected by a Retry verdict before re-execution
}

// Plan is a DAG of PlanStep produced by a Planner's Decompose (or Replan)
// call. Iteration counts how many replans produced this Plan; a fresh
// Decompose always starts at 0.
type Plan struct {
	Goal      string
	Iteration int
	Steps     []*PlanStep
}

func (p *Plan) byID() map[string]*PlanStep {
	m := make(map[string]*PlanStep, len(p.Steps))
	for _, s := range p.Steps {
		m[s.ID] = s
	}
	return m
}

// Validate checks the invariants from the data model: unique step ids,
// every depends_on resolves to an existing step, and the dependency graph
// is acyclic (Kahn's algorithm).
func (p *Plan) Validate() error {
	seen := make(map[string]bool, len(p.Steps))
	for _, s := range p.Steps {
		if s.ID == "" {
			return graph.NewError(graph.CodeValidationFailed, "plan step id must not be empty", nil)
		}
		if seen[s.ID] {
			return graph.NewError(graph.CodeValidationFailed, fmt.Sprintf("duplicate step id %q", s.ID), nil)
		}
		seen[s.ID] = true
	}
	for _, s := range p.Steps {
		for _, d := range s.DependsOn {
			if !seen[d] {
				return graph.NewError(graph.CodeValidationFailed, fmt.Sprintf("step %q depends on unknown step %q", s.ID, d), nil)
			}
		}
	}

	indegree := make(map[string]int, len(p.Steps))
	adj := make(map[string][]string, len(p.Steps))
	for _, s := range p.Steps {
		indegree[s.ID] = 0
	}
	for _, s := range p.Steps {
		for _, d := range s.DependsOn {
			adj[d] = append(adj[d], s.ID)
			indegree[s.ID]++
		}
	}

	var queue []string
	for _, s := range p.Steps { // insertion order keeps this deterministic
		if indegree[s.ID] == 0 {
			queue = append(queue, s.ID)
		}
	}
	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range adj[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if visited != len(p.Steps) {
		return graph.NewError(graph.CodeValidationFailed, "plan dependency graph contains a cycle", nil)
	}
	return nil
}

// readySteps returns Pending steps whose dependencies are all Completed (or
// Skipped), in Plan.Steps insertion order — the tie-break the spec asks for.
func (p *Plan) readySteps() []*PlanStep {
	index := p.byID()
	var ready []*PlanStep
	for _, s := range p.Steps {
		if s.Status != StatusPending {
			continue
		}
		allDone := true
		for _, d := range s.DependsOn {
			dep := index[d]
			if dep.Status != StatusCompleted && dep.Status != StatusSkipped {
				allDone = false
				break
			}
		}
		if allDone {
			ready = append(ready, s)
		}
	}
	return ready
}

// terminal reports whether every step has reached Completed, Failed, or
// Skipped — the condition under which the execute/reflect loop stops.
func (p *Plan) terminal() bool {
	for _, s := range p.Steps {
		if s.Status == StatusPending || s.Status == StatusRunning {
			return false
		}
	}
	return true
}

// completedResults returns every Completed step, in plan order, for use
// by synthesize.
func (p *Plan) completedResults() []*PlanStep {
	var out []*PlanStep
	for _, s := range p.Steps {
		if s.Status == StatusCompleted {
			out = append(out, s)
		}
	}
	return out
}

// carryForward copies Completed steps' results from p onto any step of
// next sharing the same id, marking it Completed rather than re-running it.
// This is how a replanned Plan reuses prior work instead of discarding it.
func (p *Plan) carryForward(next *Plan) {
	prior := p.byID()
	for _, s := range next.Steps {
		if old, ok := prior[s.ID]; ok && old.Status == StatusCompleted {
			s.Status = StatusCompleted
			s.Result = old.Result
			s.Attempts = old.Attempts
		}
	}
}
