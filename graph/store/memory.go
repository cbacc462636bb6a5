package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/agentsubstrate/orchestrator-go/graph"
	"github.com/agentsubstrate/orchestrator-go/graph/emit"
)

// MemStore is an in-memory Store. Designed for testing, development, and
// single-process workflows where durability across restarts doesn't
// matter. Thread-safe; data is lost when the process exits.
type MemStore struct {
	mu             sync.RWMutex
	checkpoints    map[string]graph.Checkpoint // "runID:stepID" -> checkpoint
	latestStep     map[string]int              // runID -> highest stepID seen
	labelIndex     map[string]string           // label -> "runID:stepID"
	idempotencyMap map[string]bool
	pendingEvents  []emit.Event
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		checkpoints:    make(map[string]graph.Checkpoint),
		latestStep:     make(map[string]int),
		labelIndex:     make(map[string]string),
		idempotencyMap: make(map[string]bool),
	}
}

func compositeKey(runID string, stepID int) string {
	return fmt.Sprintf("%s:%d", runID, stepID)
}

func (m *MemStore) SaveCheckpoint(_ context.Context, cp graph.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cp.IdempotencyKey != "" {
		if m.idempotencyMap[cp.IdempotencyKey] {
			return fmt.Errorf("%w: idempotency key %q already committed", graph.ErrIdempotencyViolation, cp.IdempotencyKey)
		}
		m.idempotencyMap[cp.IdempotencyKey] = true
	}

	key := compositeKey(cp.RunID, cp.StepID)
	m.checkpoints[key] = cp
	if cp.StepID >= m.latestStep[cp.RunID] {
		m.latestStep[cp.RunID] = cp.StepID
	}
	if cp.Label != "" {
		m.labelIndex[cp.Label] = key
	}
	return nil
}

func (m *MemStore) LoadCheckpoint(_ context.Context, runID string) (graph.Checkpoint, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	step, ok := m.latestStep[runID]
	if !ok {
		return graph.Checkpoint{}, false, nil
	}
	cp, ok := m.checkpoints[compositeKey(runID, step)]
	return cp, ok, nil
}

func (m *MemStore) LoadCheckpointAtStep(_ context.Context, runID string, stepID int) (graph.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cp, ok := m.checkpoints[compositeKey(runID, stepID)]
	if !ok {
		return graph.Checkpoint{}, ErrNotFound
	}
	return cp, nil
}

func (m *MemStore) LoadLabeled(_ context.Context, label string) (graph.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key, ok := m.labelIndex[label]
	if !ok {
		return graph.Checkpoint{}, ErrNotFound
	}
	cp, ok := m.checkpoints[key]
	if !ok {
		return graph.Checkpoint{}, ErrNotFound
	}
	return cp, nil
}

func (m *MemStore) CheckIdempotency(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotencyMap[key], nil
}

func (m *MemStore) EnqueueEvent(_ context.Context, eventID string, event emit.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if event.Meta == nil {
		event.Meta = map[string]interface{}{}
	}
	event.Meta["event_id"] = eventID
	m.pendingEvents = append(m.pendingEvents, event)
	return nil
}

func (m *MemStore) PendingEvents(_ context.Context, limit int) ([]emit.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := len(m.pendingEvents)
	if limit > 0 && limit < count {
		count = limit
	}
	result := make([]emit.Event, count)
	copy(result, m.pendingEvents[:count])
	return result, nil
}

func (m *MemStore) MarkEventsEmitted(_ context.Context, eventIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(eventIDs) == 0 {
		return nil
	}
	toRemove := make(map[string]bool, len(eventIDs))
	for _, id := range eventIDs {
		toRemove[id] = true
	}

	filtered := m.pendingEvents[:0:0]
	for _, event := range m.pendingEvents {
		id, _ := event.Meta["event_id"].(string)
		if !toRemove[id] {
			filtered = append(filtered, event)
		}
	}
	m.pendingEvents = filtered
	return nil
}

// Runs lists every runID with at least one stored checkpoint, sorted for
// reproducible iteration in tests and admin tooling.
func (m *MemStore) Runs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	runs := make([]string, 0, len(m.latestStep))
	for r := range m.latestStep {
		runs = append(runs, r)
	}
	sort.Strings(runs)
	return runs
}
