package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory Store for tests and single-process
// development, mirroring graph/store.MemStore's shape for the same
// three concerns.
type MemStore struct {
	mu       sync.RWMutex
	messages map[string]Message
	calls    map[string]ApiCall
	sessions map[string]Session
}

func NewMemStore() *MemStore {
	return &MemStore{
		messages: make(map[string]Message),
		calls:    make(map[string]ApiCall),
		sessions: make(map[string]Session),
	}
}

func newUUIDv7() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func (m *MemStore) CreateMessage(_ context.Context, sessionID, role, content string) (Message, error) {
	msg := Message{ID: newUUIDv7(), SessionID: sessionID, Role: role, Content: content, CreatedAt: time.Now()}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.ID] = msg
	return msg, nil
}

func (m *MemStore) GetMessage(_ context.Context, id string) (Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.messages[id]
	if !ok {
		return Message{}, ErrNotFound
	}
	return msg, nil
}

func (m *MemStore) ListMessages(_ context.Context, sessionID string) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Message, 0)
	for _, msg := range m.messages {
		if msg.SessionID == sessionID {
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemStore) DeleteMessage(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.messages[id]; !ok {
		return ErrNotFound
	}
	delete(m.messages, id)
	return nil
}

func (m *MemStore) CreateApiCall(_ context.Context, call ApiCall) (ApiCall, error) {
	call.ID = newUUIDv7()
	if call.CreatedAt.IsZero() {
		call.CreatedAt = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[call.ID] = call
	return call, nil
}

func (m *MemStore) GetApiCall(_ context.Context, id string) (ApiCall, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	call, ok := m.calls[id]
	if !ok {
		return ApiCall{}, ErrNotFound
	}
	return call, nil
}

func (m *MemStore) ListApiCalls(_ context.Context, sessionID string) ([]ApiCall, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ApiCall, 0)
	for _, call := range m.calls {
		if call.SessionID == sessionID {
			out = append(out, call)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemStore) GetStatistics(_ context.Context, filter StatisticsFilter) (Statistics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stats Statistics
	var costSum float64
	var costCount int64
	var latencySum int64
	var rateSum float64
	var rateCount int64

	for _, call := range m.calls {
		if filter.SessionID != "" && call.SessionID != filter.SessionID {
			continue
		}
		if filter.Provider != "" && call.Provider != filter.Provider {
			continue
		}
		if !filter.Since.IsZero() && call.CreatedAt.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && call.CreatedAt.After(filter.Until) {
			continue
		}

		stats.TotalCalls++
		if call.Success {
			stats.SuccessCount++
		} else {
			stats.FailedCount++
		}
		stats.PromptTokens += call.PromptTokens
		stats.CompletionTokens += call.CompletionTokens
		stats.TotalTokens += call.TotalTokens
		latencySum += call.LatencyMS
		if call.CostUSD != nil {
			costSum += *call.CostUSD
			costCount++
		}
		if call.LatencyMS > 0 && call.TotalTokens > 0 {
			rateSum += float64(call.TotalTokens) / (float64(call.LatencyMS) / 1000.0)
			rateCount++
		}
	}

	if stats.TotalCalls > 0 {
		avg := float64(latencySum) / float64(stats.TotalCalls)
		stats.AvgLatencyMS = &avg
	}
	if costCount > 0 {
		stats.TotalCostUSD = &costSum
	}
	if rateCount > 0 {
		avg := rateSum / float64(rateCount)
		stats.AvgTokensPerSecond = &avg
	}
	return stats, nil
}

func (m *MemStore) CreateSession(_ context.Context, name string, metadata map[string]interface{}) (Session, error) {
	now := time.Now()
	s := Session{ID: newUUIDv7(), Name: name, Metadata: metadata, CreatedAt: now, UpdatedAt: now}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return s, nil
}

func (m *MemStore) GetSession(_ context.Context, id string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s, nil
}

func (m *MemStore) ListSessions(_ context.Context) ([]Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemStore) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	return nil
}
