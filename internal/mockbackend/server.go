// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package mockbackend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/jeranaias/memchat/internal/backend"
	"github.com/jeranaias/memchat/internal/metrics"
	"github.com/jeranaias/memchat/internal/model"
	"github.com/jeranaias/memchat/internal/stream"
)

// Defaults for Options.
const (
	DefaultAddr         = "127.0.0.1:8000"
	DefaultChunkWords   = 3
	DefaultChunkDelay   = 100 * time.Millisecond
	DefaultContextQuery = "general conversation"
)

// Texts sent to clients.
const (
	ResponderFailureText   = "Sorry, I had trouble processing your message. Can you try again?"
	ContextUnavailableText = "Memory context unavailable."
)

// Features advertised by GET /.
var Features = []string{"hybrid_memory", "streaming", "semantic_recall"}

// Options configures a Server.
type Options struct {
	// Store holds chat history (default: a fresh in-memory database).
	Store *Store

	// Responder writes replies (default: EchoResponder).
	Responder Responder

	// Logger receives request logs; nil disables logging.
	Logger *zerolog.Logger

	// ChunkWords is the number of words per streamed content record (default 3).
	ChunkWords int

	// ChunkDelay is the pause between content records. Zero streams at once.
	ChunkDelay time.Duration

	// CORS lists allowed browser origins (default: DefaultCORSConfig).
	CORS *CORSConfig

	// Now is the clock (default: time.Now).
	Now func() time.Time

	// ExposeMetrics serves the Prometheus registry at GET /metrics.
	ExposeMetrics bool
}

// Server is the development chat backend.
type Server struct {
	echo       *echo.Echo
	store      *Store
	ownsStore  bool
	responder  Responder
	log        zerolog.Logger
	chunkWords int
	chunkDelay time.Duration
	now        func() time.Time
}

// NewServer creates a Server with its routes registered.
func NewServer(opts Options) (*Server, error) {
	s := &Server{
		store:      opts.Store,
		responder:  opts.Responder,
		log:        zerolog.Nop(),
		chunkWords: opts.ChunkWords,
		chunkDelay: opts.ChunkDelay,
		now:        opts.Now,
	}
	if opts.Logger != nil {
		s.log = opts.Logger.With().Str("component", "mockbackend").Logger()
	}
	if s.store == nil {
		store, err := OpenStore(":memory:")
		if err != nil {
			return nil, err
		}
		s.store = store
		s.ownsStore = true
	}
	if s.responder == nil {
		s.responder = EchoResponder{}
	}
	if s.chunkWords <= 0 {
		s.chunkWords = DefaultChunkWords
	}
	if s.now == nil {
		s.now = time.Now
	}
	cors := opts.CORS
	if cors == nil {
		cors = DefaultCORSConfig()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = detailError(s.log)
	e.Use(middleware.RequestID())
	e.Use(LoggingMiddleware(s.log))
	e.Use(middleware.Recover())
	e.Use(CORSMiddleware(cors))
	s.echo = e

	s.RegisterRoutes(e)
	if opts.ExposeMetrics {
		e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
	}
	return s, nil
}

// RegisterRoutes registers the chat API with e.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.GET("/", s.handleRoot)

	api := e.Group("/api")
	api.POST("/message", s.handleMessage)
	api.POST("/message/stream", s.handleMessageStream)
	api.GET("/memory/stats", s.handleMemoryStats)
	api.GET("/sessions/:session_id/context", s.handleSessionContext)
	api.DELETE("/sessions/:session_id", s.handleClearSession)
}

// Handler returns the HTTP handler, for httptest or custom servers.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Store returns the server's store.
func (s *Server) Store() *Store {
	return s.store
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}
	s.log.Info().Str("addr", addr).Msg("SERVER_START")
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server and closes a store it opened.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("SERVER_SHUTDOWN")
	err := s.echo.Shutdown(ctx)
	if s.ownsStore {
		if cerr := s.store.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// ============================================================================
// HANDLERS
// ============================================================================

func (s *Server) handleRoot(c echo.Context) error {
	status := model.StatusOperational
	if err := s.store.Ping(c.Request().Context()); err != nil {
		status = "degraded"
	}
	return c.JSON(http.StatusOK, backend.StatusResponse{
		Message:  "memchat development backend",
		Status:   status,
		Features: Features,
	})
}

// exchangeInput is a validated message request.
type exchangeInput struct {
	sessionID string
	message   string
	mode      model.ContextMode
	at        time.Time
}

func (s *Server) bindMessage(c echo.Context) (exchangeInput, error) {
	var req backend.MessageRequest
	if err := c.Bind(&req); err != nil {
		return exchangeInput{}, validationError("body", "invalid JSON body", "value_error.jsondecode")
	}
	if strings.TrimSpace(req.Message) == "" {
		return exchangeInput{}, validationError("message", "field required", "value_error.missing")
	}
	in := exchangeInput{
		sessionID: req.SessionID,
		message:   req.Message,
		mode:      req.ContextMode,
		at:        s.now(),
	}
	if in.sessionID == "" {
		in.sessionID = uuid.NewString()
	}
	if in.mode == "" {
		in.mode = model.ContextHybrid
	}
	return in, nil
}

// validationError mirrors the list-shaped detail of a 422.
func validationError(field, msg, kind string) error {
	return echo.NewHTTPError(http.StatusUnprocessableEntity, []map[string]any{{
		"loc":  []string{"body", field},
		"msg":  msg,
		"type": kind,
	}})
}

// retrieve loads memory context. Only hybrid, recent_only and
// semantic_only retrieve; a retrieval failure degrades to a placeholder.
func (s *Server) retrieve(ctx context.Context, in exchangeInput) (string, model.ContextInfo, bool) {
	none := model.ContextInfo{Type: model.ContextNone}
	switch in.mode {
	case model.ContextHybrid, model.ContextRecentOnly, model.ContextSemanticOnly:
	default:
		return "", none, false
	}
	text, err := s.store.RetrieveContext(ctx, in.sessionID, in.message, in.mode)
	if err != nil {
		s.log.Warn().Err(err).Str("session", in.sessionID).Msg("CONTEXT_UNAVAILABLE")
		return ContextUnavailableText, none, false
	}
	info := AnalyzeContext(text)
	s.log.Debug().
		Str("session", in.sessionID).
		Str("type", string(info.Type)).
		Int("recent", info.RecentCount).
		Int("semantic", info.SemanticCount).
		Msg("CONTEXT_RETRIEVED")
	return text, info, true
}

// reply asks the responder for an answer.
func (s *Server) reply(ctx context.Context, in exchangeInput, memory string, info model.ContextInfo) (string, error) {
	text, err := s.responder.Respond(ctx, Prompt{
		SessionID: in.sessionID,
		Message:   in.message,
		Mode:      in.mode,
		Context:   memory,
		Info:      info,
		Enhanced:  BuildPrompt(in.message, memory, in.mode),
	})
	if err == nil && strings.TrimSpace(text) == "" {
		err = ErrEmptyResponse
	}
	return text, err
}

// save stores the exchange. Failures are logged, not reported.
func (s *Server) save(ctx context.Context, in exchangeInput, reply string) {
	if err := s.store.AddExchange(ctx, in.sessionID, in.message, reply, in.at); err != nil {
		s.log.Error().Err(err).Str("session", in.sessionID).Msg("SAVE_FAILED")
	}
}

// memoryStats reports store stats, or an error-status snapshot.
func (s *Server) memoryStats(ctx context.Context) model.MemoryStats {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return model.MemoryStats{Status: model.StatusError, Message: err.Error()}
	}
	return stats
}

func (s *Server) handleMessage(c echo.Context) error {
	in, err := s.bindMessage(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	memory, info, _ := s.retrieve(ctx, in)
	text, err := s.reply(ctx, in, memory, info)
	if err != nil {
		s.log.Error().Err(err).Str("session", in.sessionID).Msg("RESPONDER_FAILED")
		text = ResponderFailureText
	}
	s.save(ctx, in, text)
	stats := s.memoryStats(ctx)

	return c.JSON(http.StatusOK, backend.MessageResponse{
		Response:    text,
		SessionID:   in.sessionID,
		Timestamp:   model.FormatTimestamp(in.at),
		ContextUsed: &info,
		MemoryStats: &stats,
	})
}

func (s *Server) handleMessageStream(c echo.Context) error {
	in, err := s.bindMessage(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream; charset=utf-8")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)

	send := func(ev stream.Event) error {
		if err := stream.WriteEvent(res, ev); err != nil {
			return err
		}
		res.Flush()
		return nil
	}

	if err := send(stream.Metadata(in.sessionID, model.FormatTimestamp(in.at))); err != nil {
		return nil
	}

	memory, info, retrieved := s.retrieve(ctx, in)
	if retrieved {
		if err := send(stream.Context(info)); err != nil {
			return nil
		}
	}

	text, err := s.reply(ctx, in, memory, info)
	if err != nil {
		s.log.Error().Err(err).Str("session", in.sessionID).Msg("RESPONDER_FAILED")
		if err := send(stream.Error(ResponderFailureText)); err != nil {
			s.log.Debug().Err(err).Str("session", in.sessionID).Msg("STREAM_CLIENT_GONE")
		}
		return nil
	}

	words := strings.Fields(text)
	var accumulated strings.Builder
	for i := 0; i < len(words); i += s.chunkWords {
		chunk := strings.Join(words[i:min(i+s.chunkWords, len(words))], " ") + " "
		accumulated.WriteString(chunk)
		if err := send(stream.Content(chunk, strings.TrimSpace(accumulated.String()))); err != nil {
			return nil
		}
		if !sleepCtx(ctx, s.chunkDelay) {
			s.log.Debug().Str("session", in.sessionID).Msg("STREAM_CLIENT_GONE")
			return nil
		}
	}

	s.save(ctx, in, text)
	stats := s.memoryStats(ctx)

	done := stream.Complete(text)
	done.SessionID = in.sessionID
	done.Timestamp = model.FormatTimestamp(s.now())
	done.ContextInfo = &info
	done.MemoryStats = &stats
	if err := send(done); err != nil {
		s.log.Debug().Err(err).Str("session", in.sessionID).Msg("STREAM_CLIENT_GONE")
	}
	return nil
}

// sleepCtx pauses for d and reports whether ctx is still live.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// statsResponse is the GET /api/memory/stats envelope.
type statsResponse struct {
	Stats  model.MemoryStats `json:"stats"`
	Status string            `json:"status"`
}

func (s *Server) handleMemoryStats(c echo.Context) error {
	stats, err := s.store.Stats(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Error retrieving memory statistics").SetInternal(err)
	}
	return c.JSON(http.StatusOK, statsResponse{Stats: stats, Status: "success"})
}

func (s *Server) handleSessionContext(c echo.Context) error {
	sessionID := c.Param("session_id")
	query := c.QueryParam("query")
	if query == "" {
		query = DefaultContextQuery
	}

	text, err := s.store.RetrieveContext(c.Request().Context(), sessionID, query, model.ContextHybrid)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Error retrieving session context").SetInternal(err)
	}
	return c.JSON(http.StatusOK, backend.SessionContext{
		SessionID: sessionID,
		Query:     query,
		Context:   text,
		Analysis:  AnalyzeContext(text),
	})
}

func (s *Server) handleClearSession(c echo.Context) error {
	sessionID := c.Param("session_id")
	n, err := s.store.ClearSession(c.Request().Context(), sessionID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Error clearing session memory").SetInternal(err)
	}
	s.log.Info().Str("session", sessionID).Int64("rows", n).Msg("SESSION_CLEARED")
	return c.JSON(http.StatusOK, backend.StatusResponse{
		Message: fmt.Sprintf("Cleared %d records for session %s", n, sessionID),
		Status:  "info",
	})
}
