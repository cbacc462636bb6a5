package persistence

import (
	"context"
	"testing"
)

func floatPtr(v float64) *float64 { return &v }

func TestMemStore_MessageCRUD(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	msg, err := s.CreateMessage(ctx, "sess-1", "user", "hello")
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	got, err := s.GetMessage(ctx, msg.ID)
	if err != nil || got.Content != "hello" {
		t.Fatalf("GetMessage: %v, %+v", err, got)
	}
	if err := s.DeleteMessage(ctx, msg.ID); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}
	if _, err := s.GetMessage(ctx, msg.ID); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemStore_ListMessages_FiltersBySession(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	s.CreateMessage(ctx, "a", "user", "one")
	s.CreateMessage(ctx, "b", "user", "two")
	s.CreateMessage(ctx, "a", "assistant", "three")

	msgs, err := s.ListMessages(ctx, "a")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages for session a, got %d", len(msgs))
	}
}

func TestMemStore_GetStatistics_Aggregates(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	s.CreateApiCall(ctx, ApiCall{SessionID: "s1", Provider: "openai", PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30, CostUSD: floatPtr(0.01), LatencyMS: 1000, Success: true})
	s.CreateApiCall(ctx, ApiCall{SessionID: "s1", Provider: "openai", PromptTokens: 5, CompletionTokens: 5, TotalTokens: 10, Success: false, LatencyMS: 500})
	s.CreateApiCall(ctx, ApiCall{SessionID: "s2", Provider: "anthropic", TotalTokens: 100, Success: true, LatencyMS: 2000})

	stats, err := s.GetStatistics(ctx, StatisticsFilter{SessionID: "s1"})
	if err != nil {
		t.Fatalf("GetStatistics: %v", err)
	}
	if stats.TotalCalls != 2 || stats.SuccessCount != 1 || stats.FailedCount != 1 {
		t.Fatalf("unexpected aggregate counts: %+v", stats)
	}
	if stats.TotalTokens != 40 {
		t.Fatalf("expected total_tokens 40, got %d", stats.TotalTokens)
	}
	if stats.TotalCostUSD == nil || *stats.TotalCostUSD != 0.01 {
		t.Fatalf("expected total_cost_usd 0.01, got %v", stats.TotalCostUSD)
	}
}

func TestMemStore_SessionCRUD(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	sess, err := s.CreateSession(ctx, "convo", map[string]interface{}{"tag": "test"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	got, err := s.GetSession(ctx, sess.ID)
	if err != nil || got.Name != "convo" {
		t.Fatalf("GetSession: %v, %+v", err, got)
	}
	all, err := s.ListSessions(ctx)
	if err != nil || len(all) != 1 {
		t.Fatalf("ListSessions: %v, %d", err, len(all))
	}
	if err := s.DeleteSession(ctx, sess.ID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := s.GetSession(ctx, sess.ID); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}
