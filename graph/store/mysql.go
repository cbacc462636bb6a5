package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agentsubstrate/orchestrator-go/graph"
	"github.com/agentsubstrate/orchestrator-go/graph/emit"
	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB-backed Store.
//
// Designed for production deployments: multiple workers sharing one
// database, long-running invocations that survive process restarts, and
// audit trails. Uses connection pooling and transactions for reliability.
//
// Schema:
//   - checkpoints: one row per (run_id, step_id)
//   - idempotency_keys: duplicate-commit prevention
//   - events_outbox: transactional event delivery
type MySQLStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLStore opens a connection pool against dsn and ensures the
// schema exists. DSN format:
//
//	user:password@tcp(host:port)/dbname?parseTime=true
//
// Never hardcode credentials; read the DSN from configuration/environment.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	s := &MySQLStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (m *MySQLStore) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS checkpoints (
			run_id VARCHAR(255) NOT NULL,
			step_id INT NOT NULL,
			state JSON NOT NULL,
			frontier JSON NOT NULL,
			recorded_ios JSON NOT NULL,
			idempotency_key VARCHAR(128) NOT NULL,
			timestamp TIMESTAMP(6) NOT NULL,
			label VARCHAR(255) DEFAULT '',
			PRIMARY KEY (run_id, step_id),
			INDEX idx_checkpoints_run_id (run_id),
			INDEX idx_checkpoints_label (label)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS idempotency_keys (
			key_value VARCHAR(128) NOT NULL PRIMARY KEY,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS events_outbox (
			id VARCHAR(128) NOT NULL PRIMARY KEY,
			run_id VARCHAR(255) NOT NULL,
			event_data JSON NOT NULL,
			emitted_at TIMESTAMP(6) NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			INDEX idx_events_pending (emitted_at, created_at),
			INDEX idx_events_run_id (run_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	}
	for _, stmt := range stmts {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (m *MySQLStore) checkClosed() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

func (m *MySQLStore) SaveCheckpoint(ctx context.Context, cp graph.Checkpoint) error {
	if err := m.checkClosed(); err != nil {
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

	tx, err := m.db.BeginTx(ctx, nil)
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
		ON DUPLICATE KEY UPDATE
			state = VALUES(state), frontier = VALUES(frontier),
			recorded_ios = VALUES(recorded_ios), idempotency_key = VALUES(idempotency_key),
			timestamp = VALUES(timestamp), label = VALUES(label)
	`, cp.RunID, cp.StepID, string(stateJSON), string(frontierJSON), string(recordedJSON),
		cp.IdempotencyKey, cp.Timestamp.Format("2006-01-02 15:04:05.999999"), cp.Label)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	return tx.Commit()
}

func (m *MySQLStore) scanCheckpoint(row *sql.Row) (graph.Checkpoint, error) {
	var (
		cp              graph.Checkpoint
		stateJSON       string
		frontierJSON    string
		recordedIOsJSON string
		ts              time.Time
	)
	err := row.Scan(&cp.RunID, &cp.StepID, &stateJSON, &frontierJSON, &recordedIOsJSON,
		&cp.IdempotencyKey, &ts, &cp.Label)
	if err == sql.ErrNoRows {
		return graph.Checkpoint{}, ErrNotFound
	}
	if err != nil {
		return graph.Checkpoint{}, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	cp.Timestamp = ts

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

func (m *MySQLStore) LoadCheckpoint(ctx context.Context, runID string) (graph.Checkpoint, bool, error) {
	if err := m.checkClosed(); err != nil {
		return graph.Checkpoint{}, false, err
	}
	row := m.db.QueryRowContext(ctx, `
		SELECT run_id, step_id, state, frontier, recorded_ios, idempotency_key, timestamp, label
		FROM checkpoints WHERE run_id = ? ORDER BY step_id DESC LIMIT 1
	`, runID)
	cp, err := m.scanCheckpoint(row)
	if err == ErrNotFound {
		return graph.Checkpoint{}, false, nil
	}
	if err != nil {
		return graph.Checkpoint{}, false, err
	}
	return cp, true, nil
}

func (m *MySQLStore) LoadCheckpointAtStep(ctx context.Context, runID string, stepID int) (graph.Checkpoint, error) {
	if err := m.checkClosed(); err != nil {
		return graph.Checkpoint{}, err
	}
	row := m.db.QueryRowContext(ctx, `
		SELECT run_id, step_id, state, frontier, recorded_ios, idempotency_key, timestamp, label
		FROM checkpoints WHERE run_id = ? AND step_id = ?
	`, runID, stepID)
	return m.scanCheckpoint(row)
}

func (m *MySQLStore) LoadLabeled(ctx context.Context, label string) (graph.Checkpoint, error) {
	if err := m.checkClosed(); err != nil {
		return graph.Checkpoint{}, err
	}
	row := m.db.QueryRowContext(ctx, `
		SELECT run_id, step_id, state, frontier, recorded_ios, idempotency_key, timestamp, label
		FROM checkpoints WHERE label = ? ORDER BY timestamp DESC LIMIT 1
	`, label)
	return m.scanCheckpoint(row)
}

func (m *MySQLStore) CheckIdempotency(ctx context.Context, key string) (bool, error) {
	if err := m.checkClosed(); err != nil {
		return false, err
	}
	var count int
	err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM idempotency_keys WHERE key_value = ?`, key).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check idempotency: %w", err)
	}
	return count > 0, nil
}

func (m *MySQLStore) EnqueueEvent(ctx context.Context, eventID string, event emit.Event) error {
	if err := m.checkClosed(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	_, err = m.db.ExecContext(ctx, `INSERT INTO events_outbox (id, run_id, event_data) VALUES (?, ?, ?)`,
		eventID, event.RunID, string(data))
	if err != nil {
		return fmt.Errorf("failed to enqueue event: %w", err)
	}
	return nil
}

func (m *MySQLStore) PendingEvents(ctx context.Context, limit int) ([]emit.Event, error) {
	if err := m.checkClosed(); err != nil {
		return nil, err
	}
	query := `SELECT event_data FROM events_outbox WHERE emitted_at IS NULL ORDER BY created_at ASC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := m.db.QueryContext(ctx, query, args...)
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

func (m *MySQLStore) MarkEventsEmitted(ctx context.Context, eventIDs []string) error {
	if err := m.checkClosed(); err != nil {
		return err
	}
	if len(eventIDs) == 0 {
		return nil
	}

	placeholders := make([]string, len(eventIDs))
	args := make([]interface{}, len(eventIDs))
	for i, id := range eventIDs {
		placeholders[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf(`UPDATE events_outbox SET emitted_at = CURRENT_TIMESTAMP(6) WHERE id IN (%s)`,
		strings.Join(placeholders, ", "))
	_, err := m.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to mark events as emitted: %w", err)
	}
	return nil
}

// Close closes the connection pool. Safe to call more than once.
func (m *MySQLStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.db.Close()
}

// Ping verifies the database connection is alive.
func (m *MySQLStore) Ping(ctx context.Context) error {
	if err := m.checkClosed(); err != nil {
		return err
	}
	return m.db.PingContext(ctx)
}
