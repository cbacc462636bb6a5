package graph

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
)

// StateUpdate is a (key, value) pair emitted by a node. It never mutates
// state directly; the engine merges it through the key's reducer after
// the node returns.
type StateUpdate struct {
	Key   string
	Value any
}

// ControlKind is the closed set of control-flow tags a Command carries.
type ControlKind string

const (
	ControlContinue ControlKind = "Continue"
	ControlGoto     ControlKind = "Goto"
	ControlReturn   ControlKind = "Return"
	ControlSend     ControlKind = "Send"
)

// SendTarget is one (target, state) pair of a Send fan-out. State is
// delivered as the callee's state override and bypasses reducers — the
// spec leaves this ambiguous and adopts the bypass interpretation (see
// DESIGN.md open-question notes).
type SendTarget struct {
	Target string
	State  State
}

// ControlFlow is the routing half of a Command.
type ControlFlow struct {
	Kind   ControlKind
	Goto   string       // valid when Kind == ControlGoto
	Sends  []SendTarget // valid when Kind == ControlSend
}

// Continue resolves the node's outgoing edge as declared by add_edge /
// add_conditional_edges.
func Continue() ControlFlow { return ControlFlow{Kind: ControlContinue} }

// GotoNode bypasses edges and routes directly to nodeID.
func GotoNode(nodeID string) ControlFlow { return ControlFlow{Kind: ControlGoto, Goto: nodeID} }

// ReturnNow ends the invocation from this node: the node contributes
// nothing to the next frontier.
func ReturnNow() ControlFlow { return ControlFlow{Kind: ControlReturn} }

// Send fans out to multiple targets, each with its own state override.
func Send(targets ...SendTarget) ControlFlow {
	return ControlFlow{Kind: ControlSend, Sends: targets}
}

// Command is the return type of a node: a batch of StateUpdates plus a
// ControlFlow tag.
type Command struct {
	Updates []StateUpdate
	Control ControlFlow
	Err     error
}

// Update builds a Command from a ControlFlow and its StateUpdates, for
// terse node bodies:
// graph.Update(graph.Continue(), graph.StateUpdate{Key: "x", Value: 1}).
func Update(control ControlFlow, updates ...StateUpdate) Command {
	return Command{Updates: updates, Control: control}
}

// Fail builds a Command that immediately fails the invocation with err,
// propagating unchanged through the graph layer per the spec's leaf
// error propagation policy.
func Fail(err error) Command {
	return Command{Control: ReturnNow(), Err: err}
}

// RuntimeContext is carried by reference across nodes within one
// invocation; it never crosses invocation boundaries.
type RuntimeContext struct {
	WorkflowID  string
	ExecutionID string

	remainingSteps atomic.Int64
	currentNode    atomic.Value // string

	cancelled atomic.Bool
}

// NewRuntimeContext builds a RuntimeContext with a fresh UUIDv7
// ExecutionID and the given recursion guard.
func NewRuntimeContext(workflowID string, maxSteps int) *RuntimeContext {
	id, err := uuid.NewV7()
	executionID := ""
	if err == nil {
		executionID = id.String()
	}
	rc := &RuntimeContext{WorkflowID: workflowID, ExecutionID: executionID}
	rc.remainingSteps.Store(int64(maxSteps))
	rc.currentNode.Store("")
	return rc
}

// RemainingSteps returns the current recursion budget.
func (rc *RuntimeContext) RemainingSteps() int64 { return rc.remainingSteps.Load() }

// decrementSteps consumes one frontier evaluation from the recursion
// budget, returning false once it would go negative.
func (rc *RuntimeContext) decrementSteps() bool {
	return rc.remainingSteps.Add(-1) >= 0
}

// CurrentNode returns the node id currently executing, or "" outside any
// node call.
func (rc *RuntimeContext) CurrentNode() string {
	v, _ := rc.currentNode.Load().(string)
	return v
}

func (rc *RuntimeContext) setCurrentNode(id string) { rc.currentNode.Store(id) }

// Cancel raises the cooperative cancellation signal. In-flight host calls
// may run to completion, but their effects are discarded from the state
// frontier by the engine.
func (rc *RuntimeContext) Cancel() { rc.cancelled.Store(true) }

// Cancelled reports whether Cancel has been called.
func (rc *RuntimeContext) Cancelled() bool { return rc.cancelled.Load() }

// NodeFunc is a callable (state, ctx) -> Command. Implementations include
// task closures, LLM agent invocations, router predicates, join
// combiners, sub-graph calls, and WASM operators (wasmhost.WasmNode
// satisfies this signature directly).
type NodeFunc func(ctx context.Context, state State, rc *RuntimeContext) Command
