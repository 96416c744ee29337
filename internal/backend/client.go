// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/jeranaias/memchat/internal/metrics"
	"github.com/jeranaias/memchat/internal/model"
)

// MaxErrorBodySize bounds how much of a non-2xx body is read (64KB).
const MaxErrorBodySize = 64 * 1024

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig holds configuration options for the backend client.
type ClientConfig struct {
	// BaseURL is the backend root (default: http://localhost:8000)
	BaseURL string

	// Timeout bounds unary requests (default: 60s). Streams are bounded
	// only by their context.
	Timeout time.Duration

	// RateLimit caps requests per second; 0 disables pacing.
	RateLimit float64

	// Burst is the pacing bucket size (default: 1 when RateLimit is set).
	Burst int

	// UserAgent is sent on every request.
	UserAgent string

	// HTTPClient overrides the transport for unary requests. Its Transport
	// is reused for streams.
	HTTPClient *http.Client

	// Logger receives request logs; nil disables logging.
	Logger *zerolog.Logger
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:   "http://localhost:8000",
		Timeout:   60 * time.Second,
		UserAgent: "memchat/1.0",
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to the chat backend. Every call takes a context; cancelling
// it aborts the request and yields an error matching ErrCancelled. The
// client never retries.
//
// The Client is safe for concurrent use.
type Client struct {
	config       *ClientConfig
	httpClient   *http.Client
	streamClient *http.Client
	limiter      *rate.Limiter
	log          zerolog.Logger
}

// NewClient creates a client with default configuration.
func NewClient() *Client {
	return NewClientWithConfig(DefaultConfig())
}

// NewClientWithConfig creates a client, filling zero values from
// DefaultConfig.
func NewClientWithConfig(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config

	defaults := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout == 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaults.UserAgent
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	c := &Client{
		config:       &cfg,
		httpClient:   httpClient,
		streamClient: &http.Client{Transport: httpClient.Transport},
		log:          zerolog.Nop(),
	}
	if cfg.Logger != nil {
		c.log = cfg.Logger.With().Str("component", "backend").Logger()
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return c
}

// BaseURL returns the configured backend root.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// =============================================================================
// TYPED OPERATIONS
// =============================================================================

// SendMessage posts one message and waits for the full reply.
func (c *Client) SendMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	var resp MessageResponse
	if err := c.PostJSON(ctx, PathMessage, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StreamMessage posts one message and returns the reply stream. The caller
// must Close it.
func (c *Client) StreamMessage(ctx context.Context, req MessageRequest) (*Stream, error) {
	return c.OpenStream(ctx, PathMessageStream, req)
}

// MemoryStats fetches memory store statistics. Both the bare document and
// the {stats, status} envelope are accepted.
func (c *Client) MemoryStats(ctx context.Context) (*model.MemoryStats, error) {
	var raw json.RawMessage
	if err := c.GetJSON(ctx, PathMemoryStats, nil, &raw); err != nil {
		return nil, err
	}

	var env memoryStatsEnvelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Stats != nil {
		return env.Stats, nil
	}
	var stats model.MemoryStats
	if err := json.Unmarshal(raw, &stats); err != nil {
		return nil, &Error{Kind: KindInvalidResponse, Op: PathMemoryStats, Message: "failed to decode memory stats", Cause: err}
	}
	return &stats, nil
}

// SessionContext fetches the memory context the backend would build for a
// session and query.
func (c *Client) SessionContext(ctx context.Context, sessionID, query string) (*SessionContext, error) {
	var q url.Values
	if query != "" {
		q = url.Values{"query": {query}}
	}
	var resp SessionContext
	if err := c.GetJSON(ctx, sessionPath(sessionID)+"/context", q, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ClearSession asks the backend to forget a session's stored memory.
func (c *Client) ClearSession(ctx context.Context, sessionID string) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.Delete(ctx, sessionPath(sessionID), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health calls the backend root endpoint.
func (c *Client) Health(ctx context.Context) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.GetJSON(ctx, "/", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func sessionPath(sessionID string) string {
	return PathSessions + url.PathEscape(sessionID)
}

// =============================================================================
// GENERIC OPERATIONS
// =============================================================================

// PostJSON posts payload as JSON and decodes a 2xx reply into out.
func (c *Client) PostJSON(ctx context.Context, path string, payload, out any) error {
	return c.unary(ctx, http.MethodPost, path, nil, payload, out)
}

// GetJSON issues a GET and decodes a 2xx reply into out.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	return c.unary(ctx, http.MethodGet, path, query, nil, out)
}

// Delete issues a DELETE and decodes a 2xx reply into out (if non-nil).
func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.unary(ctx, http.MethodDelete, path, nil, nil, out)
}

// OpenStream posts payload and returns the response body once a 2xx status
// arrives. Reads from the Stream report cancellation as ErrCancelled and
// other failures as network errors.
func (c *Client) OpenStream(ctx context.Context, path string, payload any) (*Stream, error) {
	req, err := c.newRequest(ctx, http.MethodPost, path, nil, payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.do(ctx, c.streamClient, req, path)
	if err != nil {
		return nil, err
	}
	return &Stream{ctx: ctx, op: path, body: resp.Body}, nil
}

func (c *Client) unary(ctx context.Context, method, path string, query url.Values, payload, out any) error {
	req, err := c.newRequest(ctx, method, path, query, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(ctx, c.httpClient, req, path)
	if err != nil {
		return err
	}
	defer drainAndClose(resp.Body)

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return transportError(ctx, path, ctxErr)
		}
		return &Error{Kind: KindInvalidResponse, Op: path, Message: "failed to decode response", Cause: err}
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, payload any) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, &Error{Kind: KindInvalidResponse, Op: path, Message: "failed to marshal request", Cause: err}
		}
		body = bytes.NewReader(data)
	}

	u := c.config.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Op: path, Message: "failed to create request", Cause: err}
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	return req, nil
}

// do waits for the pacer, sends req and converts non-2xx replies to
// KindHTTP errors. On success the caller owns resp.Body.
func (c *Client) do(ctx context.Context, client *http.Client, req *http.Request, path string) (*http.Response, error) {
	endpoint := endpointLabel(path)

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			metrics.BackendRequestsTotal.WithLabelValues(endpoint, "cancelled").Inc()
			return nil, transportError(ctx, path, err)
		}
	}

	start := time.Now()
	resp, err := client.Do(req)
	elapsed := time.Since(start)
	metrics.BackendRequestDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())

	if err != nil {
		terr := transportError(ctx, path, err)
		result := "network"
		if IsCancelled(terr) {
			result = "cancelled"
		}
		metrics.BackendRequestsTotal.WithLabelValues(endpoint, result).Inc()
		c.log.Debug().
			Str("method", req.Method).
			Str("path", path).
			Dur("latency", elapsed).
			Err(err).
			Msg("REQUEST_FAILED")
		return nil, terr
	}

	metrics.BackendRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()
	c.log.Debug().
		Str("method", req.Method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("latency", elapsed).
		Msg("REQUEST_COMPLETE")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer drainAndClose(resp.Body)
		return nil, httpError(path, resp)
	}
	return resp, nil
}

func httpError(path string, resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, MaxErrorBodySize))
	e := &Error{
		Kind:   KindHTTP,
		Op:     path,
		Status: resp.StatusCode,
		Body:   string(data),
	}
	var body ErrorBody
	if err := json.Unmarshal(data, &body); err == nil {
		e.Detail = body.DetailText()
	}
	return e
}

// endpointLabel collapses session ids so metric cardinality stays fixed.
func endpointLabel(path string) string {
	if rest, ok := strings.CutPrefix(path, PathSessions); ok {
		if strings.HasSuffix(rest, "/context") {
			return PathSessions + "{id}/context"
		}
		return PathSessions + "{id}"
	}
	return path
}

// drainAndClose drains and closes a response body so the connection can be
// reused.
func drainAndClose(r io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(r, MaxErrorBodySize))
	r.Close()
}

// =============================================================================
// STREAM
// =============================================================================

// Stream is an open streaming reply. It is an io.ReadCloser whose read
// errors are classified like the Client's.
type Stream struct {
	ctx  context.Context
	op   string
	body io.ReadCloser
}

// Read implements io.Reader. End of stream is io.EOF.
func (s *Stream) Read(p []byte) (int, error) {
	n, err := s.body.Read(p)
	if err == nil || errors.Is(err, io.EOF) {
		return n, err
	}
	return n, transportError(s.ctx, s.op, err)
}

// Close releases the connection.
func (s *Stream) Close() error {
	return s.body.Close()
}
