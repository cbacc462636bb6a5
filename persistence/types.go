// Package persistence defines the external collaborator capability set
// the orchestration core consumes for durable conversation history: a
// MessageStore, ApiCallStore, and SessionStore, each keyed by UUIDv7 so
// record ids sort chronologically. An in-memory implementation is
// provided for tests and a SQLite one for single-process deployments;
// a distributed deployment supplies its own.
package persistence

import "time"

// Message is one turn of a conversation, addressed to a Session.
type Message struct {
	ID        string
	SessionID string
	Role      string // "system" | "user" | "assistant" | "tool"
	Content   string
	CreatedAt time.Time
}

// ApiCall records one inference-provider invocation for cost/latency
// accounting and GetStatistics aggregation.
type ApiCall struct {
	ID               string
	SessionID        string
	Provider         string
	Model            string
	TaskType         string
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
	CostUSD          *float64
	LatencyMS        int64
	Success          bool
	CreatedAt        time.Time
}

// Session groups messages and API calls under one conversation.
type Session struct {
	ID        string
	Name      string
	Metadata  map[string]interface{}
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StatisticsFilter narrows GetStatistics to a session and/or time range;
// zero fields mean "no restriction".
type StatisticsFilter struct {
	SessionID string
	Provider  string
	Since     time.Time
	Until     time.Time
}

// Statistics is the aggregation spec §6 requires from
// ApiCallStore.GetStatistics. Cost and rate fields are optional because
// not every provider reports pricing or throughput.
type Statistics struct {
	TotalCalls            int64
	SuccessCount          int64
	FailedCount           int64
	PromptTokens          int64
	CompletionTokens      int64
	TotalTokens           int64
	TotalCostUSD          *float64
	AvgLatencyMS          *float64
	AvgTokensPerSecond    *float64
}
