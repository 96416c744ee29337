// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/memchat/internal/model"
	"github.com/jeranaias/memchat/internal/stream"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClientWithConfig(&ClientConfig{BaseURL: server.URL, Timeout: 5 * time.Second})
}

// =============================================================================
// UNARY TESTS
// =============================================================================

func TestSendMessage_Success(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, PathMessage, r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req MessageRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, MessageRequest{Message: "hello", SessionID: "S", ContextMode: model.ContextHybrid}, req)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"response":"Hi!","session_id":"S","timestamp":"2025-03-01T10:00:00.000001",
			"context_used":{"type":"hybrid","recent_count":1,"semantic_count":2,"has_recent":true,"has_semantic":true},
			"memory_stats":{"postgresql":{"total_messages":4,"unique_sessions":1},"weaviate":{"total_vectors":2,"collection_name":"ChatMemory"},"status":"operational"}}`))
	})

	resp, err := client.SendMessage(context.Background(), MessageRequest{Message: "hello", SessionID: "S", ContextMode: model.ContextHybrid})
	require.NoError(t, err)
	assert.Equal(t, "Hi!", resp.Response)
	require.NotNil(t, resp.ContextUsed)
	assert.Equal(t, 2, resp.ContextUsed.SemanticCount)
	require.NotNil(t, resp.MemoryStats)
	assert.Equal(t, int64(4), resp.MemoryStats.Postgres.TotalMessages)
}

func TestSendMessage_HTTPErrorWithDetail(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"detail":"db down"}`))
	})

	_, err := client.SendMessage(context.Background(), MessageRequest{Message: "x"})
	require.Error(t, err)

	httpErr, ok := AsHTTP(err)
	require.True(t, ok)
	assert.Equal(t, 500, httpErr.Status)
	assert.Equal(t, "db down", httpErr.Detail)
	assert.Equal(t, `{"detail":"db down"}`, httpErr.Body)
	assert.Equal(t, "db down", err.Error())
	assert.ErrorIs(t, err, ErrHTTP)
	assert.False(t, IsCancelled(err))
}

func TestSendMessage_HTTPErrorWithoutDetail(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream gone"))
	})

	_, err := client.SendMessage(context.Background(), MessageRequest{Message: "x"})
	require.Error(t, err)
	assert.Equal(t, "HTTP 502: Bad Gateway", err.Error())
}

func TestSendMessage_ValidationDetailList(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"detail":[{"loc":["body","message"],"msg":"field required"}]}`))
	})

	_, err := client.SendMessage(context.Background(), MessageRequest{})
	httpErr, ok := AsHTTP(err)
	require.True(t, ok)
	assert.Contains(t, httpErr.Detail, "field required")
}

func TestSendMessage_InvalidJSON(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	})

	_, err := client.SendMessage(context.Background(), MessageRequest{Message: "x"})
	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, KindInvalidResponse, e.Kind)
}

func TestSendMessage_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := NewClientWithConfig(&ClientConfig{BaseURL: url})
	_, err := client.SendMessage(context.Background(), MessageRequest{Message: "x"})

	require.Error(t, err)
	assert.True(t, IsNetwork(err))
	assert.False(t, IsCancelled(err))
}

func TestSendMessage_Cancelled(t *testing.T) {
	release := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := client.SendMessage(ctx, MessageRequest{Message: "x"})
	require.Error(t, err)
	assert.True(t, IsCancelled(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsNetwork(err))
}

func TestMemoryStats_Envelope(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathMemoryStats, r.URL.Path)
		w.Write([]byte(`{"stats":{"postgresql":{"total_messages":7,"unique_sessions":2},"weaviate":{"total_vectors":3,"collection_name":"ChatMemory"},"status":"operational"},"status":"success"}`))
	})

	stats, err := client.MemoryStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), stats.Postgres.TotalMessages)
	assert.Equal(t, model.StatusOperational, stats.Status)
}

func TestMemoryStats_Bare(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"postgresql":{"total_messages":1,"unique_sessions":1},"weaviate":{"total_vectors":0,"collection_name":"ChatMemory"},"status":"operational"}`))
	})

	stats, err := client.MemoryStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Postgres.TotalMessages)
}

func TestSessionContext_QueryAndPath(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/sessions/abc 1/context", r.URL.Path)
		assert.Equal(t, "what did I say?", r.URL.Query().Get("query"))
		w.Write([]byte(`{"session_id":"abc 1","query":"what did I say?","context":"ctx","context_analysis":{"type":"recent_only","recent_count":2,"has_recent":true}}`))
	})

	sc, err := client.SessionContext(context.Background(), "abc 1", "what did I say?")
	require.NoError(t, err)
	assert.Equal(t, "ctx", sc.Context)
	assert.Equal(t, model.ContextRecentOnly, sc.Analysis.Type)
}

func TestClearSession(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/api/sessions/S", r.URL.Path)
		w.Write([]byte(`{"message":"cleared","status":"ok"}`))
	})

	resp, err := client.ClearSession(context.Background(), "S")
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
}

// =============================================================================
// STREAM TESTS
// =============================================================================

func TestStreamMessage_DecodesRecords(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathMessageStream, r.URL.Path)
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		flusher := w.(http.Flusher)
		for _, ev := range []stream.Event{stream.Metadata("S", ""), stream.Content("Hi ", "Hi"), stream.Complete("Hi!")} {
			assert.NoError(t, stream.WriteEvent(w, ev))
			flusher.Flush()
		}
	})

	s, err := client.StreamMessage(context.Background(), MessageRequest{Message: "hello"})
	require.NoError(t, err)
	defer s.Close()

	var types []stream.EventType
	for ev, err := range stream.NewDecoder(s).All() {
		require.NoError(t, err)
		types = append(types, ev.Type)
	}
	assert.Equal(t, []stream.EventType{stream.EventMetadata, stream.EventContent, stream.EventComplete}, types)
}

func TestStreamMessage_HTTPError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := client.StreamMessage(context.Background(), MessageRequest{Message: "x"})
	httpErr, ok := AsHTTP(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusServiceUnavailable, httpErr.Status)
}

func TestStream_CancelDuringRead(t *testing.T) {
	release := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		stream.WriteEvent(w, stream.Metadata("S", ""))
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	s, err := client.StreamMessage(ctx, MessageRequest{Message: "x"})
	require.NoError(t, err)
	defer s.Close()

	dec := stream.NewDecoder(s)
	ev, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, "S", ev.SessionID)

	cancel()
	_, err = dec.Next()
	require.Error(t, err)
	assert.False(t, errors.Is(err, io.EOF))
	assert.True(t, IsCancelled(err))
}

// =============================================================================
// PACING / HELPERS
// =============================================================================

func TestRateLimit_CancelledWait(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewClientWithConfig(&ClientConfig{BaseURL: server.URL, RateLimit: 0.001, Burst: 1})
	require.NoError(t, client.GetJSON(context.Background(), "/", nil, nil))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := client.GetJSON(ctx, "/", nil, nil)
	assert.True(t, IsCancelled(err), "got %v", err)
}

func TestEndpointLabel(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{PathMessage, PathMessage},
		{"/api/sessions/abc/context", "/api/sessions/{id}/context"},
		{"/api/sessions/abc", "/api/sessions/{id}"},
	}
	for _, tt := range tests {
		if got := endpointLabel(tt.path); got != tt.want {
			t.Errorf("endpointLabel(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestNewClientWithConfig_Defaults(t *testing.T) {
	c := NewClientWithConfig(&ClientConfig{BaseURL: "http://example.test/"})

	assert.Equal(t, "http://example.test", c.BaseURL())
	assert.Equal(t, 60*time.Second, c.config.Timeout)
	assert.Nil(t, c.limiter)
}
