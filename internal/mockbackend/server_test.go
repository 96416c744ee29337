// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package mockbackend

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/memchat/internal/backend"
	"github.com/jeranaias/memchat/internal/model"
	"github.com/jeranaias/memchat/internal/stream"
)

var testTime = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, opts Options) (*Server, *backend.Client) {
	t.Helper()
	if opts.Now == nil {
		opts.Now = func() time.Time { return testTime }
	}
	srv, err := NewServer(opts)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Shutdown(context.Background())
	})
	return srv, backend.NewClientWithConfig(&backend.ClientConfig{BaseURL: ts.URL, Timeout: 5 * time.Second})
}

func readStream(t *testing.T, body *backend.Stream) []stream.Event {
	t.Helper()
	defer body.Close()
	var events []stream.Event
	for ev, err := range stream.NewDecoder(body).All() {
		require.NoError(t, err)
		events = append(events, ev)
	}
	return events
}

// =============================================================================
// UNARY
// =============================================================================

func TestMessage_Unary(t *testing.T) {
	_, client := newTestServer(t, Options{})

	resp, err := client.SendMessage(context.Background(), backend.MessageRequest{
		Message: "hello", SessionID: "s1", ContextMode: model.ContextHybrid,
	})
	require.NoError(t, err)

	assert.Equal(t, "You said: hello", resp.Response)
	assert.Equal(t, "s1", resp.SessionID)
	assert.Equal(t, "2025-03-01T10:00:00.000000", resp.Timestamp)
	require.NotNil(t, resp.ContextUsed)
	assert.Equal(t, model.ContextHybrid, resp.ContextUsed.Type)
	assert.Zero(t, resp.ContextUsed.RecentCount)
	require.NotNil(t, resp.MemoryStats)
	assert.Equal(t, int64(2), resp.MemoryStats.Postgres.TotalMessages)
	assert.Equal(t, int64(1), resp.MemoryStats.Weaviate.TotalVectors)
}

func TestMessage_GeneratesSessionID(t *testing.T) {
	_, client := newTestServer(t, Options{})

	resp, err := client.SendMessage(context.Background(), backend.MessageRequest{Message: "hi"})
	require.NoError(t, err)
	assert.Len(t, resp.SessionID, 36)
}

func TestMessage_ModeNoneSkipsContext(t *testing.T) {
	var seen Prompt
	_, client := newTestServer(t, Options{Responder: ResponderFunc(func(_ context.Context, p Prompt) (string, error) {
		seen = p
		return "ok", nil
	})})

	resp, err := client.SendMessage(context.Background(), backend.MessageRequest{
		Message: "hi", SessionID: "s1", ContextMode: model.ContextNone,
	})
	require.NoError(t, err)

	assert.Equal(t, model.ContextNone, resp.ContextUsed.Type)
	assert.Empty(t, seen.Context)
	assert.Equal(t, "hi", seen.Enhanced)
}

func TestMessage_ResponderFailure(t *testing.T) {
	_, client := newTestServer(t, Options{Responder: ResponderFunc(func(context.Context, Prompt) (string, error) {
		return "", errors.New("model offline")
	})})

	resp, err := client.SendMessage(context.Background(), backend.MessageRequest{Message: "hi", SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, ResponderFailureText, resp.Response)
}

func TestMessage_Validation(t *testing.T) {
	_, client := newTestServer(t, Options{})

	_, err := client.SendMessage(context.Background(), backend.MessageRequest{Message: "  "})

	httpErr, ok := backend.AsHTTP(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnprocessableEntity, httpErr.Status)
	assert.Contains(t, httpErr.Error(), "field required")
}

// =============================================================================
// STREAMING
// =============================================================================

func TestMessageStream_RecordSequence(t *testing.T) {
	_, client := newTestServer(t, Options{Responder: ResponderFunc(func(context.Context, Prompt) (string, error) {
		return "one two three four five", nil
	})})

	body, err := client.StreamMessage(context.Background(), backend.MessageRequest{
		Message: "count", SessionID: "s1", ContextMode: model.ContextRecentOnly,
	})
	require.NoError(t, err)
	events := readStream(t, body)

	require.Len(t, events, 5)
	assert.Equal(t, stream.EventMetadata, events[0].Type)
	assert.Equal(t, "s1", events[0].SessionID)
	assert.Equal(t, stream.StatusProcessing, events[0].Status)

	assert.Equal(t, stream.EventContext, events[1].Type)
	assert.Equal(t, model.ContextRecentOnly, events[1].ContextInfo.Type)

	assert.Equal(t, "one two three ", events[2].Chunk)
	assert.Equal(t, "one two three", events[2].Accumulated)
	assert.Equal(t, "four five ", events[3].Chunk)
	assert.Equal(t, "one two three four five", events[3].Accumulated)

	done := events[4]
	assert.Equal(t, stream.EventComplete, done.Type)
	assert.Equal(t, "one two three four five", done.FinalText)
	assert.Equal(t, "s1", done.SessionID)
	require.NotNil(t, done.ContextInfo, "context_used is decoded")
	require.NotNil(t, done.MemoryStats)
	assert.Equal(t, int64(2), done.MemoryStats.Postgres.TotalMessages)
}

func TestMessageStream_ModeNoneHasNoContextRecord(t *testing.T) {
	_, client := newTestServer(t, Options{})

	body, err := client.StreamMessage(context.Background(), backend.MessageRequest{
		Message: "hi", SessionID: "s1", ContextMode: model.ContextNone,
	})
	require.NoError(t, err)

	for _, ev := range readStream(t, body) {
		assert.NotEqual(t, stream.EventContext, ev.Type)
	}
}

func TestMessageStream_ResponderFailure(t *testing.T) {
	_, client := newTestServer(t, Options{Responder: ResponderFunc(func(context.Context, Prompt) (string, error) {
		return "   ", nil
	})})

	body, err := client.StreamMessage(context.Background(), backend.MessageRequest{Message: "hi", SessionID: "s1"})
	require.NoError(t, err)
	events := readStream(t, body)

	last := events[len(events)-1]
	assert.Equal(t, stream.EventError, last.Type)
	assert.Equal(t, ResponderFailureText, last.Message)
}

func TestMessageStream_ClientGoneStopsWithoutSaving(t *testing.T) {
	srv, client := newTestServer(t, Options{
		ChunkWords: 1,
		ChunkDelay: 50 * time.Millisecond,
		Responder: ResponderFunc(func(context.Context, Prompt) (string, error) {
			return strings.Repeat("word ", 100), nil
		}),
	})

	ctx, cancel := context.WithCancel(context.Background())
	body, err := client.StreamMessage(ctx, backend.MessageRequest{Message: "hi", SessionID: "gone"})
	require.NoError(t, err)
	dec := stream.NewDecoder(body)
	_, err = dec.Next()
	require.NoError(t, err)
	cancel()
	body.Close()

	time.Sleep(200 * time.Millisecond)
	stats, err := srv.Store().Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Postgres.TotalMessages)
}

// =============================================================================
// MEMORY ENDPOINTS
// =============================================================================

func TestMemoryStats(t *testing.T) {
	_, client := newTestServer(t, Options{})
	ctx := context.Background()

	stats, err := client.MemoryStats(ctx)
	require.NoError(t, err)
	assert.True(t, stats.Operational())
	assert.Zero(t, stats.Postgres.TotalMessages)
	assert.Empty(t, stats.Postgres.LastMessage)
	assert.Equal(t, CollectionName, stats.Weaviate.CollectionName)

	for _, sid := range []string{"a", "a", "b"} {
		_, err := client.SendMessage(ctx, backend.MessageRequest{Message: "hi", SessionID: sid})
		require.NoError(t, err)
	}

	stats, err = client.MemoryStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(6), stats.Postgres.TotalMessages)
	assert.Equal(t, int64(2), stats.Postgres.UniqueSessions)
	assert.Equal(t, int64(3), stats.Weaviate.TotalVectors)
	assert.Equal(t, "2025-03-01T10:00:00.000000", stats.Postgres.LastMessage)
}

func TestSessionContext_RecentAndSemantic(t *testing.T) {
	_, client := newTestServer(t, Options{})
	ctx := context.Background()

	send := func(sid, msg string) {
		_, err := client.SendMessage(ctx, backend.MessageRequest{Message: msg, SessionID: sid, ContextMode: model.ContextNone})
		require.NoError(t, err)
	}
	send("old", "my favourite language is golang")
	send("old", "what about pizza toppings")
	send("cur", "hello there")

	sc, err := client.SessionContext(ctx, "cur", "tell me about golang")
	require.NoError(t, err)

	assert.Equal(t, "cur", sc.SessionID)
	assert.Equal(t, "tell me about golang", sc.Query)
	assert.Contains(t, sc.Context, "🙋 **User:** hello there")
	assert.Contains(t, sc.Context, "**Memory 1** (Session: old)")
	assert.NotContains(t, sc.Context, "pizza")

	assert.Equal(t, model.ContextHybrid, sc.Analysis.Type)
	assert.Equal(t, 1, sc.Analysis.RecentCount)
	assert.Equal(t, 1, sc.Analysis.SemanticCount)
}

func TestSessionContext_DefaultQuery(t *testing.T) {
	_, client := newTestServer(t, Options{})

	sc, err := client.SessionContext(context.Background(), "empty", "")
	require.NoError(t, err)

	assert.Equal(t, DefaultContextQuery, sc.Query)
	assert.Contains(t, sc.Context, "(No recent history available)")
	assert.Contains(t, sc.Context, "(No relevant memories found)")
	assert.Equal(t, model.ContextHybrid, sc.Analysis.Type)
	assert.Zero(t, sc.Analysis.RecentCount)
}

func TestClearSession(t *testing.T) {
	srv, client := newTestServer(t, Options{})
	ctx := context.Background()

	_, err := client.SendMessage(ctx, backend.MessageRequest{Message: "hi", SessionID: "x"})
	require.NoError(t, err)

	resp, err := client.ClearSession(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "info", resp.Status)
	assert.Equal(t, "Cleared 3 records for session x", resp.Message)

	stats, err := srv.Store().Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Postgres.TotalMessages)
}

func TestRoot(t *testing.T) {
	_, client := newTestServer(t, Options{})

	resp, err := client.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.StatusOperational, resp.Status)
	assert.Equal(t, Features, resp.Features)
}

func TestMetricsEndpoint(t *testing.T) {
	_, client := newTestServer(t, Options{ExposeMetrics: true})

	_, err := client.Health(context.Background())
	require.NoError(t, err)

	resp, err := http.Get(client.BaseURL() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "memchat_mockbackend_requests_total")
}

func TestMetricsEndpoint_DisabledByDefault(t *testing.T) {
	_, client := newTestServer(t, Options{})

	resp, err := http.Get(client.BaseURL() + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// terminalDropWriter accepts every record except terminal ones, as if the
// client left just before the stream finished.
type terminalDropWriter struct {
	*httptest.ResponseRecorder
}

func (w terminalDropWriter) Write(p []byte) (int, error) {
	if bytes.Contains(p, []byte(`"type":"complete"`)) || bytes.Contains(p, []byte(`"type":"error"`)) {
		return 0, errors.New("connection reset")
	}
	return w.ResponseRecorder.Write(p)
}

func TestStream_FailedTerminalWriteIsLogged(t *testing.T) {
	tests := []struct {
		name      string
		responder Responder
	}{
		{"complete", EchoResponder{}},
		{"error", ResponderFunc(func(context.Context, Prompt) (string, error) {
			return "", errors.New("model offline")
		})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logs bytes.Buffer
			log := zerolog.New(&logs).Level(zerolog.DebugLevel)
			srv, err := NewServer(Options{Responder: tt.responder, Logger: &log, Now: func() time.Time { return testTime }})
			require.NoError(t, err)
			t.Cleanup(func() { srv.Shutdown(context.Background()) })

			req := httptest.NewRequest(http.MethodPost, backend.PathMessageStream,
				strings.NewReader(`{"message":"hi","session_id":"s1","context_mode":"hybrid"}`))
			req.Header.Set("Content-Type", "application/json")
			w := terminalDropWriter{httptest.NewRecorder()}
			srv.Handler().ServeHTTP(w, req)

			assert.Contains(t, w.Body.String(), `"type":"metadata"`)
			assert.NotContains(t, w.Body.String(), `"type":"`+tt.name+`"`)
			assert.Contains(t, logs.String(), "STREAM_CLIENT_GONE")
			assert.Contains(t, logs.String(), "connection reset")
		})
	}
}
