package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite-backed Store, for development and
// single-process deployments that want conversation history durable
// across restarts. Uses WAL mode so reads don't block on the writer.
//
// Schema:
//   - sessions: one row per conversation
//   - messages: one row per turn, FK to sessions
//   - api_calls: one row per inference invocation, FK to sessions
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore opens (creating if necessary) a SQLite database at
// path. Use ":memory:" for an ephemeral database.
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

	s := &SQLiteStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT NOT NULL PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT NOT NULL PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id)`,
		`CREATE TABLE IF NOT EXISTS api_calls (
			id TEXT NOT NULL PRIMARY KEY,
			session_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			task_type TEXT NOT NULL,
			prompt_tokens INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			cost_usd REAL,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			success INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_api_calls_session ON api_calls(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_api_calls_created_at ON api_calls(created_at)`,
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

func newUUIDv7Sqlite() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

const timeLayout = time.RFC3339Nano

func (s *SQLiteStore) CreateMessage(ctx context.Context, sessionID, role, content string) (Message, error) {
	if err := s.checkClosed(); err != nil {
		return Message{}, err
	}
	msg := Message{ID: newUUIDv7Sqlite(), SessionID: sessionID, Role: role, Content: content, CreatedAt: time.Now()}
	_, err := s.db.ExecContext(ctx, `INSERT INTO messages (id, session_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, msg.Role, msg.Content, msg.CreatedAt.Format(timeLayout))
	if err != nil {
		return Message{}, fmt.Errorf("failed to insert message: %w", err)
	}
	return msg, nil
}

func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (Message, error) {
	if err := s.checkClosed(); err != nil {
		return Message{}, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT id, session_id, role, content, created_at FROM messages WHERE id = ?`, id)
	return scanMessage(row)
}

func scanMessage(row *sql.Row) (Message, error) {
	var msg Message
	var createdAt string
	if err := row.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return Message{}, ErrNotFound
		}
		return Message{}, fmt.Errorf("failed to load message: %w", err)
	}
	parsed, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return Message{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	msg.CreatedAt = parsed
	return msg, nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string) ([]Message, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, session_id, role, content, created_at FROM messages WHERE session_id = ? ORDER BY created_at ASC, id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Message
	for rows.Next() {
		var msg Message
		var createdAt string
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if msg.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteMessage(ctx context.Context, id string) error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) CreateApiCall(ctx context.Context, call ApiCall) (ApiCall, error) {
	if err := s.checkClosed(); err != nil {
		return ApiCall{}, err
	}
	call.ID = newUUIDv7Sqlite()
	if call.CreatedAt.IsZero() {
		call.CreatedAt = time.Now()
	}
	successInt := 0
	if call.Success {
		successInt = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_calls (id, session_id, provider, model, task_type, prompt_tokens,
			completion_tokens, total_tokens, cost_usd, latency_ms, success, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, call.ID, call.SessionID, call.Provider, call.Model, call.TaskType, call.PromptTokens,
		call.CompletionTokens, call.TotalTokens, call.CostUSD, call.LatencyMS, successInt,
		call.CreatedAt.Format(timeLayout))
	if err != nil {
		return ApiCall{}, fmt.Errorf("failed to insert api_call: %w", err)
	}
	return call, nil
}

func (s *SQLiteStore) GetApiCall(ctx context.Context, id string) (ApiCall, error) {
	if err := s.checkClosed(); err != nil {
		return ApiCall{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, provider, model, task_type, prompt_tokens, completion_tokens,
			total_tokens, cost_usd, latency_ms, success, created_at
		FROM api_calls WHERE id = ?
	`, id)
	return scanApiCall(row)
}

func scanApiCall(row *sql.Row) (ApiCall, error) {
	var call ApiCall
	var successInt int
	var createdAt string
	err := row.Scan(&call.ID, &call.SessionID, &call.Provider, &call.Model, &call.TaskType,
		&call.PromptTokens, &call.CompletionTokens, &call.TotalTokens, &call.CostUSD,
		&call.LatencyMS, &successInt, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return ApiCall{}, ErrNotFound
		}
		return ApiCall{}, fmt.Errorf("failed to load api_call: %w", err)
	}
	call.Success = successInt != 0
	if call.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return ApiCall{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	return call, nil
}

func (s *SQLiteStore) ListApiCalls(ctx context.Context, sessionID string) ([]ApiCall, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, provider, model, task_type, prompt_tokens, completion_tokens,
			total_tokens, cost_usd, latency_ms, success, created_at
		FROM api_calls WHERE session_id = ? ORDER BY created_at ASC, id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query api_calls: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ApiCall
	for rows.Next() {
		var call ApiCall
		var successInt int
		var createdAt string
		if err := rows.Scan(&call.ID, &call.SessionID, &call.Provider, &call.Model, &call.TaskType,
			&call.PromptTokens, &call.CompletionTokens, &call.TotalTokens, &call.CostUSD,
			&call.LatencyMS, &successInt, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan api_call: %w", err)
		}
		call.Success = successInt != 0
		if call.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		out = append(out, call)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetStatistics(ctx context.Context, filter StatisticsFilter) (Statistics, error) {
	if err := s.checkClosed(); err != nil {
		return Statistics{}, err
	}
	where := "WHERE 1=1"
	args := []interface{}{}
	if filter.SessionID != "" {
		where += " AND session_id = ?"
		args = append(args, filter.SessionID)
	}
	if filter.Provider != "" {
		where += " AND provider = ?"
		args = append(args, filter.Provider)
	}
	if !filter.Since.IsZero() {
		where += " AND created_at >= ?"
		args = append(args, filter.Since.Format(timeLayout))
	}
	if !filter.Until.IsZero() {
		where += " AND created_at <= ?"
		args = append(args, filter.Until.Format(timeLayout))
	}

	query := fmt.Sprintf(`
		SELECT
			COUNT(*),
			COALESCE(SUM(success), 0),
			COALESCE(SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(prompt_tokens), 0),
			COALESCE(SUM(completion_tokens), 0),
			COALESCE(SUM(total_tokens), 0),
			SUM(cost_usd),
			AVG(latency_ms),
			COUNT(cost_usd)
		FROM api_calls %s
	`, where)

	var stats Statistics
	var totalCost sql.NullFloat64
	var avgLatency sql.NullFloat64
	var costCount int64
	row := s.db.QueryRowContext(ctx, query, args...)
	if err := row.Scan(&stats.TotalCalls, &stats.SuccessCount, &stats.FailedCount,
		&stats.PromptTokens, &stats.CompletionTokens, &stats.TotalTokens,
		&totalCost, &avgLatency, &costCount); err != nil {
		return Statistics{}, fmt.Errorf("failed to aggregate statistics: %w", err)
	}
	if totalCost.Valid && costCount > 0 {
		v := totalCost.Float64
		stats.TotalCostUSD = &v
	}
	if avgLatency.Valid {
		v := avgLatency.Float64
		stats.AvgLatencyMS = &v
	}
	stats.AvgTokensPerSecond = s.avgTokensPerSecond(ctx, where, args)
	return stats, nil
}

// avgTokensPerSecond requires per-row division (tokens/latency), which
// SQL aggregates can't express directly, so it's computed in a second
// pass over the matching rows.
func (s *SQLiteStore) avgTokensPerSecond(ctx context.Context, where string, args []interface{}) *float64 {
	query := fmt.Sprintf(`SELECT total_tokens, latency_ms FROM api_calls %s AND latency_ms > 0 AND total_tokens > 0`, where)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil
	}
	defer func() { _ = rows.Close() }()

	var sum float64
	var count int64
	for rows.Next() {
		var tokens, latencyMS int64
		if err := rows.Scan(&tokens, &latencyMS); err != nil {
			return nil
		}
		sum += float64(tokens) / (float64(latencyMS) / 1000.0)
		count++
	}
	if count == 0 {
		return nil
	}
	avg := sum / float64(count)
	return &avg
}

func (s *SQLiteStore) CreateSession(ctx context.Context, name string, metadata map[string]interface{}) (Session, error) {
	if err := s.checkClosed(); err != nil {
		return Session{}, err
	}
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return Session{}, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	now := time.Now()
	sess := Session{ID: newUUIDv7Sqlite(), Name: name, Metadata: metadata, CreatedAt: now, UpdatedAt: now}
	_, err = s.db.ExecContext(ctx, `INSERT INTO sessions (id, name, metadata, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.Name, string(metaJSON), sess.CreatedAt.Format(timeLayout), sess.UpdatedAt.Format(timeLayout))
	if err != nil {
		return Session{}, fmt.Errorf("failed to insert session: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (Session, error) {
	if err := s.checkClosed(); err != nil {
		return Session{}, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT id, name, metadata, created_at, updated_at FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

func scanSession(row *sql.Row) (Session, error) {
	var sess Session
	var metaJSON, createdAt, updatedAt string
	if err := row.Scan(&sess.ID, &sess.Name, &metaJSON, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return Session{}, ErrNotFound
		}
		return Session{}, fmt.Errorf("failed to load session: %w", err)
	}
	if err := json.Unmarshal([]byte(metaJSON), &sess.Metadata); err != nil {
		return Session{}, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	var err error
	if sess.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return Session{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if sess.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return Session{}, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context) ([]Session, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, metadata, created_at, updated_at FROM sessions ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Session
	for rows.Next() {
		var sess Session
		var metaJSON, createdAt, updatedAt string
		if err := rows.Scan(&sess.ID, &sess.Name, &metaJSON, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		if err := json.Unmarshal([]byte(metaJSON), &sess.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
		if sess.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		if sess.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
			return nil, fmt.Errorf("failed to parse updated_at: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
