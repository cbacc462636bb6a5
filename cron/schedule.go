package cron

import (
	"context"

	"github.com/agentsubstrate/orchestrator-go/graph"
)

// MissedTickPolicy is the closed set of behaviors applied when a tick
// fires and no concurrency slot is free.
type MissedTickPolicy string

const (
	Skip        MissedTickPolicy = "Skip"
	Burst       MissedTickPolicy = "Burst"
	DelaySingle MissedTickPolicy = "DelaySingle"
)

// State is a schedule's lifecycle position:
// Created -> Running -> (Paused <-> Running) -> Stopped.
type State string

const (
	StateCreated State = "Created"
	StateRunning State = "Running"
	StatePaused  State = "Paused"
	StateStopped State = "Stopped"
)

// ScheduleDefinition declares one periodic agent invocation. Exactly one
// of CronExpr or IntervalMS must be set.
type ScheduleDefinition struct {
	ScheduleID       string
	AgentID          string
	CronExpr         string
	IntervalMS       int64
	MaxConcurrent    int
	InputTemplate    map[string]interface{}
	MissedTickPolicy MissedTickPolicy
}

func (d ScheduleDefinition) validate() error {
	if d.ScheduleID == "" {
		return graph.NewError(graph.CodeInvalidInput, "schedule_id is required", nil)
	}
	if d.AgentID == "" {
		return graph.NewError(graph.CodeInvalidInput, "agent_id is required", nil)
	}
	hasCron := d.CronExpr != ""
	hasInterval := d.IntervalMS > 0
	if hasCron == hasInterval {
		return graph.NewError(graph.CodeInvalidInput, "exactly one of cron_expr or interval_ms must be set", nil)
	}
	if d.MaxConcurrent < 1 {
		return graph.NewError(graph.CodeInvalidInput, "max_concurrent must be >= 1", nil)
	}
	switch d.MissedTickPolicy {
	case Skip, Burst, DelaySingle:
	default:
		return graph.NewError(graph.CodeInvalidInput, "missed_tick_policy must be Skip, Burst, or DelaySingle", nil)
	}
	return nil
}

// ScheduleInfo is the read-only snapshot returned by Manager.List.
type ScheduleInfo struct {
	ID                  string
	AgentID             string
	NextRunMS           int64
	LastRunMS           int64
	ConsecutiveFailures int
	IsPaused            bool
}

// AgentInvoker is the external collaborator a Manager calls on each
// dispatched tick.
type AgentInvoker interface {
	Invoke(ctx context.Context, agentID string, input map[string]interface{}) error
}

// AgentInvokerFunc adapts a plain function to AgentInvoker.
type AgentInvokerFunc func(ctx context.Context, agentID string, input map[string]interface{}) error

func (f AgentInvokerFunc) Invoke(ctx context.Context, agentID string, input map[string]interface{}) error {
	return f(ctx, agentID, input)
}
