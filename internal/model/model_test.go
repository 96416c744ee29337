// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/json"
	"testing"
	"time"
)

// =============================================================================
// MESSAGE TESTS
// =============================================================================

func TestNewAssistantMessage_StartsStreaming(t *testing.T) {
	m := NewAssistantMessage("m1", "s1", time.Now())

	if !m.Streaming || m.Complete {
		t.Errorf("new assistant message: streaming=%v complete=%v, want true/false", m.Streaming, m.Complete)
	}
	if m.Text != "" {
		t.Errorf("Text = %q, want empty", m.Text)
	}
	if m.Sender != SenderAssistant {
		t.Errorf("Sender = %q, want assistant", m.Sender)
	}
}

func TestNewUserMessage_IsComplete(t *testing.T) {
	m := NewUserMessage("m1", "s1", "hello", time.Now())

	if !m.IsUser() || !m.Complete || m.Streaming {
		t.Errorf("user message flags wrong: %+v", m)
	}
}

func TestMessage_Preview(t *testing.T) {
	m := Message{Text: "line one\nline two is longer"}

	if got := m.Preview(12); got != "line one ..." {
		t.Errorf("Preview(12) = %q", got)
	}
}

func TestSender_DisplayName(t *testing.T) {
	if SenderUser.DisplayName() != "You" || SenderAssistant.DisplayName() != "Assistant" {
		t.Error("unexpected display names")
	}
}

// =============================================================================
// TIMESTAMP TESTS
// =============================================================================

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		name string
		in   string
		ok   bool
		want time.Time
	}{
		{"python isoformat", "2025-03-01T10:20:30.123456", true, time.Date(2025, 3, 1, 10, 20, 30, 123456000, time.Local)},
		{"no fraction", "2025-03-01T10:20:30", true, time.Date(2025, 3, 1, 10, 20, 30, 0, time.Local)},
		{"rfc3339", "2025-03-01T10:20:30Z", true, time.Date(2025, 3, 1, 10, 20, 30, 0, time.UTC)},
		{"space separator", "2025-03-01 10:20:30.5", true, time.Date(2025, 3, 1, 10, 20, 30, 500000000, time.Local)},
		{"empty", "", false, time.Time{}},
		{"garbage", "yesterday", false, time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseTimestamp(tt.in)
			if ok != tt.ok {
				t.Fatalf("ParseTimestamp(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			}
			if ok && !got.Equal(tt.want) {
				t.Errorf("ParseTimestamp(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestFormatTimestamp_ParsesBack(t *testing.T) {
	at := time.Date(2025, 3, 1, 10, 20, 30, 123456000, time.Local)

	got, ok := ParseTimestamp(FormatTimestamp(at))
	if !ok || !got.Equal(at) {
		t.Errorf("round trip = %v (ok=%v), want %v", got, ok, at)
	}
}

// =============================================================================
// CONTEXT MODE TESTS
// =============================================================================

func TestParseContextMode(t *testing.T) {
	tests := []struct {
		in      string
		want    ContextMode
		wantErr bool
	}{
		{"hybrid", ContextHybrid, false},
		{"HYBRID", ContextHybrid, false},
		{"recent", ContextRecentOnly, false},
		{"recent_only", ContextRecentOnly, false},
		{"semantic", ContextSemanticOnly, false},
		{"none", ContextNone, false},
		{"unknown", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseContextMode(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseContextMode(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseContextMode(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestContextMode_Valid(t *testing.T) {
	for _, m := range ContextModes {
		if !m.Valid() {
			t.Errorf("%q should be valid", m)
		}
	}
	if ContextUnknown.Valid() {
		t.Error("unknown must not be a sendable mode")
	}
}

func TestContextInfo_Summary(t *testing.T) {
	tests := []struct {
		info ContextInfo
		want string
	}{
		{ContextInfo{Type: ContextHybrid, RecentCount: 3, SemanticCount: 2, HasRecent: true, HasSemantic: true}, "hybrid (3 recent, 2 memories)"},
		{ContextInfo{Type: ContextRecentOnly, RecentCount: 1, HasRecent: true}, "recent_only (1 recent)"},
		{ContextInfo{Type: ContextNone}, "none"},
	}
	for _, tt := range tests {
		if got := tt.info.Summary(); got != tt.want {
			t.Errorf("Summary() = %q, want %q", got, tt.want)
		}
	}
}

// =============================================================================
// MEMORY STATS TESTS
// =============================================================================

func TestMemoryStats_DecodesBackendDocument(t *testing.T) {
	body := `{
		"postgresql": {"total_messages": 42, "unique_sessions": 5, "last_message": "2025-03-01T10:20:30.123456"},
		"weaviate": {"total_vectors": 40, "collection_name": "ChatMemory"},
		"status": "operational"
	}`

	var s MemoryStats
	if err := json.Unmarshal([]byte(body), &s); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !s.Operational() {
		t.Error("expected operational status")
	}
	if s.Postgres.TotalMessages != 42 || s.Weaviate.CollectionName != "ChatMemory" {
		t.Errorf("unexpected stats: %+v", s)
	}
	if _, ok := s.LastMessageAt(); !ok {
		t.Error("LastMessageAt should parse")
	}
	if got := s.Summary(); got != "42 messages in 5 sessions, 40 vectors in ChatMemory" {
		t.Errorf("Summary() = %q", got)
	}
}

func TestMemoryStats_NullLastMessage(t *testing.T) {
	var s MemoryStats
	if err := json.Unmarshal([]byte(`{"postgresql":{"last_message":null},"status":"operational"}`), &s); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if _, ok := s.LastMessageAt(); ok {
		t.Error("null last_message should not parse")
	}
}

func TestMemoryStats_ErrorSummary(t *testing.T) {
	s := MemoryStats{Status: StatusError, Message: "connection refused"}
	if got := s.Summary(); got != "memory error: connection refused" {
		t.Errorf("Summary() = %q", got)
	}
}
