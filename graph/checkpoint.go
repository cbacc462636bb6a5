// Package graph provides the core StateGraph execution engine.
package graph

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"sort"
	"time"
)

// ErrReplayMismatch is returned when recorded I/O hash does not match
// current execution during replay: evidence of non-deterministic node
// behavior (random values, system time, external state).
var ErrReplayMismatch = errors.New("replay mismatch: recorded I/O hash mismatch")

// ErrNoProgress indicates the frontier is empty but the invocation has
// not reached END — a malformed graph or routing bug rather than normal
// termination.
var ErrNoProgress = errors.New("no progress: no runnable nodes in frontier")

// ErrIdempotencyViolation is returned when committing a checkpoint whose
// idempotency key already exists, preventing duplicate application of a
// non-idempotent side effect.
var ErrIdempotencyViolation = errors.New("idempotency violation: checkpoint already committed")

// ErrMaxAttemptsExceeded is returned when a node has failed more times
// than its RetryPolicy.MaxAttempts allows.
var ErrMaxAttemptsExceeded = errors.New("max retry attempts exceeded")

// Checkpoint is a durable snapshot of one invocation's execution state,
// sufficient to resume a paused or crashed run from the same frontier.
type Checkpoint struct {
	RunID    string        `json:"run_id"`
	StepID   int           `json:"step_id"`
	State    State         `json:"state"`
	Frontier []frontierRef `json:"frontier"`

	RecordedIOs    []RecordedIO `json:"recorded_ios"`
	IdempotencyKey string       `json:"idempotency_key"`
	Timestamp      time.Time    `json:"timestamp"`
	Label          string       `json:"label,omitempty"`
}

// frontierRef is the durable projection of a frontierWork item: just
// enough to recompute the pending call, without the closures a live
// NodeFunc carries.
type frontierRef struct {
	NodeID   string `json:"node_id"`
	OrderKey uint64 `json:"order_key"`
}

func refsFromWork(items []frontierWork) []frontierRef {
	refs := make([]frontierRef, len(items))
	for i, w := range items {
		refs[i] = frontierRef{NodeID: w.NodeID, OrderKey: w.OrderKey}
	}
	return refs
}

// computeIdempotencyKey hashes (runID, stepID, sorted frontier refs,
// state JSON) into a stable key, so re-committing the same checkpoint
// twice (e.g. after a crash-restart replays the same step) is detectable.
func computeIdempotencyKey(runID string, stepID int, items []frontierWork, state State) (string, error) {
	h := sha256.New()
	h.Write([]byte(runID))

	stepBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(stepBytes, uint64(stepID))
	h.Write(stepBytes)

	refs := refsFromWork(items)
	sort.Slice(refs, func(i, j int) bool { return refs[i].OrderKey < refs[j].OrderKey })
	for _, r := range refs {
		h.Write([]byte(r.NodeID))
		orderKeyBytes := make([]byte, 8)
		binary.BigEndian.PutUint64(orderKeyBytes, r.OrderKey)
		h.Write(orderKeyBytes)
	}

	stateJSON, err := state.ToJSON()
	if err != nil {
		return "", err
	}
	h.Write(stateJSON)

	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}
