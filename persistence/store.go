package persistence

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested id does not exist.
var ErrNotFound = errors.New("persistence: not found")

// MessageStore is CRUD-by-UUIDv7 plus a filtered listing over Messages.
type MessageStore interface {
	CreateMessage(ctx context.Context, sessionID, role, content string) (Message, error)
	GetMessage(ctx context.Context, id string) (Message, error)
	ListMessages(ctx context.Context, sessionID string) ([]Message, error)
	DeleteMessage(ctx context.Context, id string) error
}

// ApiCallStore is CRUD-by-UUIDv7 over ApiCalls plus the statistics
// aggregation spec §6 requires for cost/latency reporting.
type ApiCallStore interface {
	CreateApiCall(ctx context.Context, call ApiCall) (ApiCall, error)
	GetApiCall(ctx context.Context, id string) (ApiCall, error)
	ListApiCalls(ctx context.Context, sessionID string) ([]ApiCall, error)
	GetStatistics(ctx context.Context, filter StatisticsFilter) (Statistics, error)
}

// SessionStore is CRUD-by-UUIDv7 over Sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, name string, metadata map[string]interface{}) (Session, error)
	GetSession(ctx context.Context, id string) (Session, error)
	ListSessions(ctx context.Context) ([]Session, error)
	DeleteSession(ctx context.Context, id string) error
}

// Store is the full capability set a deployment wires into the
// orchestration core; any combination of the three concerns may be
// split across backends, but both implementations in this package
// satisfy all three from one handle.
type Store interface {
	MessageStore
	ApiCallStore
	SessionStore
}
