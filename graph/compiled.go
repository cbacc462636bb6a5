package graph

import (
	"context"
	"time"

	"github.com/agentsubstrate/orchestrator-go/graph/emit"
)

// Compiled is the immutable, concurrency-safe runnable produced by
// Graph.Compile. It supports three execution modes: Invoke (run to
// completion), Stream (emit per-node events), and Step (single-step for
// interactive drivers).
type Compiled struct {
	nodes    map[string]*nodeEntry
	edges    map[string]EdgeTarget
	reducers reducerTable
	entry    string
	opts     Options
	executor *stepExecutor

	Emitter emit.Emitter
	Store   CheckpointStore // optional; nil disables checkpointing
}

// CheckpointStore is the capability Compiled needs to persist and resume
// checkpoints. graph/store.Store satisfies this for the memory/SQLite/
// MySQL backends.
type CheckpointStore interface {
	SaveCheckpoint(ctx context.Context, cp Checkpoint) error
	LoadCheckpoint(ctx context.Context, runID string) (Checkpoint, bool, error)
}

// StreamEventKind is the closed set of events Stream emits.
type StreamEventKind string

const (
	EventNodeStart StreamEventKind = "NodeStart"
	EventNodeEnd   StreamEventKind = "NodeEnd"
	EventError     StreamEventKind = "Error"
	EventEnd       StreamEventKind = "End"
)

// StreamEvent is one item of the lazy sequence Stream produces. Ordering
// guarantee: for any single node, NodeStart precedes its matching
// NodeEnd; across concurrent frontier nodes, interleavings are
// arbitrary.
type StreamEvent struct {
	Kind       StreamEventKind
	NodeID     string
	StateBefore State // set on NodeStart
	StateAfter State // set on NodeEnd / End
	Command    Command
	Err        error
}

// Invoke runs the graph to completion from initialState and returns the
// final state, or an error if any node fails, the recursion guard is
// exhausted, or the invocation is cancelled.
func (c *Compiled) Invoke(ctx context.Context, runID string, initialState State) (State, error) {
	return c.runWithSink(ctx, runID, initialState, nil)
}

// Stream runs the graph to completion, emitting a StreamEvent for every
// node start/end, error, and the terminal End, onto a bounded channel
// (capacity Options.StreamBufferSize). Producers block when the consumer
// lags, providing back-pressure; the channel is closed when the
// invocation ends (successfully or not).
func (c *Compiled) Stream(ctx context.Context, runID string, initialState State) <-chan StreamEvent {
	out := make(chan StreamEvent, c.opts.StreamBufferSize)
	go func() {
		defer close(out)
		_, _ = c.runWithSink(ctx, runID, initialState, out)
	}()
	return out
}

// runWithSink is the one real execution loop; Invoke and Stream both
// delegate to it, differing only in whether sink is non-nil.
func (c *Compiled) runWithSink(ctx context.Context, runID string, initialState State, sink chan<- StreamEvent) (State, error) {
	rc := NewRuntimeContext(runID, c.opts.MaxSteps)

	var deadlineCancel context.CancelFunc
	if c.opts.RunWallClockBudget > 0 {
		ctx, deadlineCancel = context.WithTimeout(ctx, c.opts.RunWallClockBudget)
		defer deadlineCancel()
	}

	state := initialState.Clone()
	frontier := []frontierWork{{NodeID: c.entry, State: state, OrderKey: ComputeOrderKey(START, 0)}}
	stepID := 0

	for len(frontier) > 0 {
		if ctx.Err() != nil {
			return state, NewError(CodeCancelled, "invocation cancelled", ctx.Err())
		}
		if rc.Cancelled() {
			return state, NewError(CodeCancelled, "invocation cancelled", nil)
		}
		if !rc.decrementSteps() {
			if sink != nil {
				sink <- StreamEvent{Kind: EventError, Err: ErrRecursionLimit}
			}
			return state, ErrRecursionLimit
		}

		results := c.executor.run(ctx, frontier, func(ctx context.Context, w frontierWork) frontierResult {
			rc.setCurrentNode(w.NodeID)
			nodeState := state
			// A Send target receives its per-target state as-is: the
			// override bypasses reducers rather than merging into state.
			if w.SendState != nil {
				nodeState = w.SendState
			}
			if sink != nil {
				sink <- StreamEvent{Kind: EventNodeStart, NodeID: w.NodeID, StateBefore: nodeState}
			}
			if c.Emitter != nil {
				c.Emitter.Emit(emit.Event{RunID: runID, Step: stepID, NodeID: w.NodeID, Msg: "node_start"})
			}

			entry := c.nodes[w.NodeID]
			start := time.Now()
			cmd, err := executeNodeWithTimeout(ctx, entry.fn, w.NodeID, nodeState, rc, entry.policy, c.opts.DefaultNodeTimeout)
			if err == nil && cmd.Err != nil {
				err = NewNodeError(CodeExecutionError, w.NodeID, "node returned error", cmd.Err)
			}
			if c.opts.Metrics != nil {
				status := "success"
				if err != nil {
					status = "error"
				}
				c.opts.Metrics.RecordStepLatency(runID, w.NodeID, time.Since(start), status)
			}
			return frontierResult{work: w, command: cmd, err: err}
		})

		// Failure semantics: a node's error propagates immediately and
		// aborts the invocation; no partial retry at this layer.
		for _, r := range results {
			if r.err != nil {
				if sink != nil {
					sink <- StreamEvent{Kind: EventError, NodeID: r.work.NodeID, Err: r.err}
				}
				if c.Emitter != nil {
					c.Emitter.Emit(emit.Event{RunID: runID, Step: stepID, NodeID: r.work.NodeID, Msg: "error", Meta: map[string]interface{}{"error": r.err.Error()}})
				}
				return state, r.err
			}
		}

		// Merge all updates through reducers. Per-update order within one
		// frontier is allowed to be arbitrary; sort by (OrderKey, NodeID)
		// for reproducibility, which stepExecutor.run already guarantees
		// on the results slice.
		var allUpdates []StateUpdate
		for _, r := range results {
			allUpdates = append(allUpdates, r.command.Updates...)
		}
		merged, err := applyUpdates(state, allUpdates, c.reducers)
		if err != nil {
			return state, NewError(CodeInternal, "reducer merge failed", err)
		}
		state = merged

		updatedKeys := map[string]bool{}
		for _, u := range allUpdates {
			updatedKeys[u.Key] = true
		}

		// Compute next frontier.
		seen := map[string]bool{}
		var next []frontierWork
		edgeIdx := 0
		for _, r := range results {
			if sink != nil {
				sink <- StreamEvent{Kind: EventNodeEnd, NodeID: r.work.NodeID, StateAfter: state, Command: r.command}
			}
			if c.Emitter != nil {
				c.Emitter.Emit(emit.Event{RunID: runID, Step: stepID, NodeID: r.work.NodeID, Msg: "node_end"})
			}
			switch r.command.Control.Kind {
			case ControlContinue:
				target := c.edges[r.work.NodeID]
				for _, t := range target.resolve(updatedKeys) {
					if t == END || seen[t] {
						continue
					}
					seen[t] = true
					next = append(next, frontierWork{
						NodeID:   t,
						State:    state,
						OrderKey: ComputeOrderKey(r.work.NodeID, edgeIdx),
					})
					edgeIdx++
				}
			case ControlGoto:
				t := r.command.Control.Goto
				if t != "" && t != END && !seen[t] {
					seen[t] = true
					next = append(next, frontierWork{
						NodeID:   t,
						State:    state,
						OrderKey: ComputeOrderKey(r.work.NodeID, edgeIdx),
					})
					edgeIdx++
				}
			case ControlReturn:
				// contributes nothing
			case ControlSend:
				for i, s := range r.command.Control.Sends {
					if s.Target == END || seen[s.Target] {
						continue
					}
					seen[s.Target] = true
					next = append(next, frontierWork{
						NodeID:    s.Target,
						State:     state,
						SendState: s.State,
						OrderKey:  ComputeOrderKey(r.work.NodeID, i),
					})
				}
			}
		}

		stepID++
		if c.Store != nil {
			key, _ := computeIdempotencyKey(runID, stepID, next, state)
			_ = c.Store.SaveCheckpoint(ctx, Checkpoint{
				RunID: runID, StepID: stepID, State: state,
				Frontier: refsFromWork(next), IdempotencyKey: key, Timestamp: time.Now(),
			})
		}

		frontier = next
	}

	if sink != nil {
		sink <- StreamEvent{Kind: EventEnd, StateAfter: state}
	}
	if c.Emitter != nil {
		c.Emitter.Emit(emit.Event{RunID: runID, Step: stepID, Msg: "end"})
	}
	return state, nil
}

// Step advances the invocation state carried in cursor by exactly one
// frontier evaluation, for interactive drivers (debuggers, step-through
// UIs). The caller owns the *StepCursor and re-supplies it each call.
type StepCursor struct {
	RunID    string
	State    State
	Frontier []frontierWork
	rc       *RuntimeContext
}

// NewStepCursor begins a steppable invocation at the compiled graph's
// entry point.
func (c *Compiled) NewStepCursor(runID string, initialState State) *StepCursor {
	return &StepCursor{
		RunID:    runID,
		State:    initialState.Clone(),
		Frontier: []frontierWork{{NodeID: c.entry, State: initialState, OrderKey: ComputeOrderKey(START, 0)}},
		rc:       NewRuntimeContext(runID, c.opts.MaxSteps),
	}
}

// Done reports whether the cursor's frontier is empty (invocation
// complete).
func (s *StepCursor) Done() bool { return len(s.Frontier) == 0 }

// Step runs one frontier evaluation and advances the cursor in place.
func (c *Compiled) Step(ctx context.Context, cur *StepCursor) error {
	if cur.Done() {
		return nil
	}
	if !cur.rc.decrementSteps() {
		return ErrRecursionLimit
	}

	results := c.executor.run(ctx, cur.Frontier, func(ctx context.Context, w frontierWork) frontierResult {
		cur.rc.setCurrentNode(w.NodeID)
		nodeState := cur.State
		if w.SendState != nil {
			nodeState = w.SendState
		}
		entry := c.nodes[w.NodeID]
		cmd, err := executeNodeWithTimeout(ctx, entry.fn, w.NodeID, nodeState, cur.rc, entry.policy, c.opts.DefaultNodeTimeout)
		return frontierResult{work: w, command: cmd, err: err}
	})

	for _, r := range results {
		if r.err != nil {
			return r.err
		}
	}

	var allUpdates []StateUpdate
	for _, r := range results {
		allUpdates = append(allUpdates, r.command.Updates...)
	}
	merged, err := applyUpdates(cur.State, allUpdates, c.reducers)
	if err != nil {
		return NewError(CodeInternal, "reducer merge failed", err)
	}
	cur.State = merged

	updatedKeys := map[string]bool{}
	for _, u := range allUpdates {
		updatedKeys[u.Key] = true
	}

	seen := map[string]bool{}
	var next []frontierWork
	edgeIdx := 0
	for _, r := range results {
		switch r.command.Control.Kind {
		case ControlContinue:
			target := c.edges[r.work.NodeID]
			for _, t := range target.resolve(updatedKeys) {
				if t == END || seen[t] {
					continue
				}
				seen[t] = true
				next = append(next, frontierWork{NodeID: t, State: cur.State, OrderKey: ComputeOrderKey(r.work.NodeID, edgeIdx)})
				edgeIdx++
			}
		case ControlGoto:
			t := r.command.Control.Goto
			if t != "" && t != END && !seen[t] {
				seen[t] = true
				next = append(next, frontierWork{NodeID: t, State: cur.State, OrderKey: ComputeOrderKey(r.work.NodeID, edgeIdx)})
				edgeIdx++
			}
		case ControlSend:
			for i, s := range r.command.Control.Sends {
				if s.Target == END || seen[s.Target] {
					continue
				}
				seen[s.Target] = true
				next = append(next, frontierWork{NodeID: s.Target, State: cur.State, SendState: s.State, OrderKey: ComputeOrderKey(r.work.NodeID, i)})
			}
		}
	}
	cur.Frontier = next
	return nil
}
