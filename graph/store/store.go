// Package store provides persistence implementations for graph execution
// checkpoints.
package store

import (
	"context"
	"errors"

	"github.com/agentsubstrate/orchestrator-go/graph"
	"github.com/agentsubstrate/orchestrator-go/graph/emit"
)

// ErrNotFound is returned when a requested run ID or checkpoint does not exist.
var ErrNotFound = errors.New("not found")

// Store provides durable persistence for invocation checkpoints, plus a
// transactional outbox for exactly-once event delivery.
//
// Implementations: MemStore (testing, single-process), SQLiteStore,
// MySQLStore. All three satisfy graph.CheckpointStore, so a Compiled
// graph can checkpoint directly against any of them.
type Store interface {
	// SaveCheckpoint persists a checkpoint for cp.RunID at cp.StepID. If
	// cp.IdempotencyKey is already known to this store, returns
	// ErrIdempotencyViolation-wrapping error rather than committing twice.
	SaveCheckpoint(ctx context.Context, cp graph.Checkpoint) error

	// LoadCheckpoint retrieves the highest-StepID checkpoint recorded for
	// runID. The bool return is false (with a nil error) when no
	// checkpoint exists for runID.
	LoadCheckpoint(ctx context.Context, runID string) (graph.Checkpoint, bool, error)

	// LoadCheckpointAtStep retrieves the checkpoint for runID at exactly
	// stepID, for time-travel debugging and partial replay.
	LoadCheckpointAtStep(ctx context.Context, runID string, stepID int) (graph.Checkpoint, error)

	// LoadLabeled retrieves a checkpoint by its user-assigned label.
	LoadLabeled(ctx context.Context, label string) (graph.Checkpoint, error)

	// CheckIdempotency reports whether key has already been committed.
	CheckIdempotency(ctx context.Context, key string) (bool, error)

	// PendingEvents returns up to limit outbox events not yet marked
	// emitted, in insertion order. limit <= 0 means no cap.
	PendingEvents(ctx context.Context, limit int) ([]emit.Event, error)

	// MarkEventsEmitted marks the named events as emitted so that
	// PendingEvents no longer returns them: MemStore drops them, while the
	// SQL stores keep the rows with emitted_at set. Unknown IDs are ignored.
	MarkEventsEmitted(ctx context.Context, eventIDs []string) error

	// EnqueueEvent adds an event to the outbox. eventID is the caller's
	// idempotency key for MarkEventsEmitted and is stored under
	// event.Meta["event_id"].
	EnqueueEvent(ctx context.Context, eventID string, event emit.Event) error
}
