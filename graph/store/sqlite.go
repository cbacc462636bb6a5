package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/agentsubstrate/orchestrator-go/graph"
	"github.com/agentsubstrate/orchestrator-go/graph/emit"
	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite-backed Store.
//
// Designed for development, single-process deployments, and local
// workflows that need durability without a server. Uses WAL mode so
// reads don't block on the single writer.
//
// Schema:
//   - checkpoints: one row per (run_id, step_id), full graph.Checkpoint state as JSON
//   - idempotency_keys: duplicate-commit prevention
//   - events_outbox: transactional event delivery
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewSQLiteStore opens (creating if necessary) a SQLite database at path.
// Use ":memory:" for an ephemeral database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS checkpoints (
			run_id TEXT NOT NULL,
			step_id INTEGER NOT NULL,
			state TEXT NOT NULL,
			frontier TEXT NOT NULL,
			recorded_ios TEXT NOT NULL,
			idempotency_key TEXT NOT NULL,
			timestamp TIMESTAMP NOT NULL,
			label TEXT DEFAULT '',
			PRIMARY KEY (run_id, step_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_run_id ON checkpoints(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_label ON checkpoints(label)`,
		`CREATE TABLE IF NOT EXISTS idempotency_keys (
			key_value TEXT NOT NULL PRIMARY KEY,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS events_outbox (
			id TEXT NOT NULL PRIMARY KEY,
			run_id TEXT NOT NULL,
			event_data TEXT NOT NULL,
			emitted_at TIMESTAMP NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_pending ON events_outbox(emitted_at, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) checkClosed() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, cp graph.Checkpoint) error {
	if err := s.checkClosed(); err != nil {
		return err
	}

	stateJSON, err := cp.State.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	frontierJSON, err := json.Marshal(cp.Frontier)
	if err != nil {
		return fmt.Errorf("failed to marshal frontier: %w", err)
	}
	recordedJSON, err := json.Marshal(cp.RecordedIOs)
	if err != nil {
		return fmt.Errorf("failed to marshal recorded IOs: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if cp.IdempotencyKey != "" {
		if _, err := tx.ExecContext(ctx, `INSERT INTO idempotency_keys (key_value) VALUES (?)`, cp.IdempotencyKey); err != nil {
			return fmt.Errorf("%w: %v", graph.ErrIdempotencyViolation, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO checkpoints (run_id, step_id, state, frontier, recorded_ios, idempotency_key, timestamp, label)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, step_id) DO UPDATE SET
			state = excluded.state, frontier = excluded.frontier,
			recorded_ios = excluded.recorded_ios, idempotency_key = excluded.idempotency_key,
			timestamp = excluded.timestamp, label = excluded.label
	`, cp.RunID, cp.StepID, string(stateJSON), string(frontierJSON), string(recordedJSON),
		cp.IdempotencyKey, cp.Timestamp.Format(time.RFC3339Nano), cp.Label)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) scanCheckpoint(row *sql.Row) (graph.Checkpoint, error) {
	var (
		cp              graph.Checkpoint
		stateJSON       string
		frontierJSON    string
		recordedIOsJSON string
		timestampStr    string
	)
	err := row.Scan(&cp.RunID, &cp.StepID, &stateJSON, &frontierJSON, &recordedIOsJSON,
		&cp.IdempotencyKey, &timestampStr, &cp.Label)
	if err == sql.ErrNoRows {
		return graph.Checkpoint{}, ErrNotFound
	}
	if err != nil {
		return graph.Checkpoint{}, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	cp.Timestamp, err = time.Parse(time.RFC3339Nano, timestampStr)
	if err != nil {
		return graph.Checkpoint{}, fmt.Errorf("failed to parse timestamp: %w", err)
	}
	state, err := graph.StateFromJSON([]byte(stateJSON))
	if err != nil {
		return graph.Checkpoint{}, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	cp.State = state
	if err := json.Unmarshal([]byte(frontierJSON), &cp.Frontier); err != nil {
		return graph.Checkpoint{}, fmt.Errorf("failed to unmarshal frontier: %w", err)
	}
	if err := json.Unmarshal([]byte(recordedIOsJSON), &cp.RecordedIOs); err != nil {
		return graph.Checkpoint{}, fmt.Errorf("failed to unmarshal recorded IOs: %w", err)
	}
	return cp, nil
}

func (s *SQLiteStore) LoadCheckpoint(ctx context.Context, runID string) (graph.Checkpoint, bool, error) {
	if err := s.checkClosed(); err != nil {
		return graph.Checkpoint{}, false, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, step_id, state, frontier, recorded_ios, idempotency_key, timestamp, label
		FROM checkpoints WHERE run_id = ? ORDER BY step_id DESC LIMIT 1
	`, runID)
	cp, err := s.scanCheckpoint(row)
	if err == ErrNotFound {
		return graph.Checkpoint{}, false, nil
	}
	if err != nil {
		return graph.Checkpoint{}, false, err
	}
	return cp, true, nil
}

func (s *SQLiteStore) LoadCheckpointAtStep(ctx context.Context, runID string, stepID int) (graph.Checkpoint, error) {
	if err := s.checkClosed(); err != nil {
		return graph.Checkpoint{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, step_id, state, frontier, recorded_ios, idempotency_key, timestamp, label
		FROM checkpoints WHERE run_id = ? AND step_id = ?
	`, runID, stepID)
	return s.scanCheckpoint(row)
}

func (s *SQLiteStore) LoadLabeled(ctx context.Context, label string) (graph.Checkpoint, error) {
	if err := s.checkClosed(); err != nil {
		return graph.Checkpoint{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, step_id, state, frontier, recorded_ios, idempotency_key, timestamp, label
		FROM checkpoints WHERE label = ? ORDER BY timestamp DESC LIMIT 1
	`, label)
	return s.scanCheckpoint(row)
}

func (s *SQLiteStore) CheckIdempotency(ctx context.Context, key string) (bool, error) {
	if err := s.checkClosed(); err != nil {
		return false, err
	}
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM idempotency_keys WHERE key_value = ?`, key).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check idempotency: %w", err)
	}
	return count > 0, nil
}

func (s *SQLiteStore) EnqueueEvent(ctx context.Context, eventID string, event emit.Event) error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO events_outbox (id, run_id, event_data) VALUES (?, ?, ?)`,
		eventID, event.RunID, string(data))
	if err != nil {
		return fmt.Errorf("failed to enqueue event: %w", err)
	}
	return nil
}

func (s *SQLiteStore) PendingEvents(ctx context.Context, limit int) ([]emit.Event, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_data FROM events_outbox WHERE emitted_at IS NULL ORDER BY created_at ASC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []emit.Event
	for rows.Next() {
		var eventJSON string
		if err := rows.Scan(&eventJSON); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		var event emit.Event
		if err := json.Unmarshal([]byte(eventJSON), &event); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (s *SQLiteStore) MarkEventsEmitted(ctx context.Context, eventIDs []string) error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	if len(eventIDs) == 0 {
		return nil
	}

	placeholders := ""
	args := make([]interface{}, len(eventIDs))
	for i, id := range eventIDs {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args[i] = id
	}
	// #nosec G201 -- placeholders are "?" marks, not user input
	query := fmt.Sprintf(`UPDATE events_outbox SET emitted_at = CURRENT_TIMESTAMP WHERE id IN (%s)`, placeholders)
	_, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to mark events as emitted: %w", err)
	}
	return nil
}

// Close closes the database connection. Safe to call more than once.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.path
}
