// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/unicode/norm"

	"github.com/jeranaias/memchat/internal/backend"
	"github.com/jeranaias/memchat/internal/idgen"
	"github.com/jeranaias/memchat/internal/model"
	"github.com/jeranaias/memchat/internal/session"
)

// DefaultContextQuery is used by LoadSessionContext when no query is given.
const DefaultContextQuery = "general conversation"

// Backend is the part of the backend client the controller uses.
// *backend.Client implements it.
type Backend interface {
	SendMessage(ctx context.Context, req backend.MessageRequest) (*backend.MessageResponse, error)
	StreamMessage(ctx context.Context, req backend.MessageRequest) (*backend.Stream, error)
	MemoryStats(ctx context.Context) (*model.MemoryStats, error)
	SessionContext(ctx context.Context, sessionID, query string) (*backend.SessionContext, error)
	ClearSession(ctx context.Context, sessionID string) (*backend.StatusResponse, error)
}

// BackendError is returned by a send whose exchange ended with an error
// record from the backend.
type BackendError struct {
	Message string
}

func (e *BackendError) Error() string {
	return "backend error: " + e.Message
}

// ErrClosed is returned by operations on a closed Controller.
var ErrClosed = errors.New("chat controller closed")

// =============================================================================
// OPTIONS
// =============================================================================

// Options configures a Controller.
type Options struct {
	// ContextMode for the first session (default: hybrid).
	ContextMode model.ContextMode

	// IDs generates session, message and exchange ids (default: idgen.Default).
	IDs idgen.Generator

	// Logger receives exchange logs; nil disables logging.
	Logger *zerolog.Logger

	// Now is the clock (default: time.Now).
	Now func() time.Time
}

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller is the public face of a chat session. It owns the session
// snapshot, runs exchanges against the backend and publishes every new
// snapshot to subscribers.
//
// At most one exchange is active. Starting a send while another is in
// flight cancels the earlier one (supersede); the earlier send returns nil
// and its late records are ignored by the session's exchange guard.
//
// Sends block until their exchange ends. Run them on their own goroutine to
// supersede or reset from another. The Controller is safe for concurrent
// use.
type Controller struct {
	backend Backend
	ids     idgen.Generator
	log     zerolog.Logger
	now     func() time.Time

	// mu serializes transitions; snap is read without it.
	mu   sync.Mutex
	snap atomic.Pointer[session.Session]

	cancels *cancelManager
	subs    *subscribers
	closed  atomic.Bool
}

// New creates a controller with a fresh session.
func New(b Backend, opts Options) *Controller {
	c := &Controller{
		backend: b,
		ids:     opts.IDs,
		log:     zerolog.Nop(),
		now:     opts.Now,
		cancels: newCancelManager(),
		subs:    newSubscribers(),
	}
	if c.ids == nil {
		c.ids = idgen.Default
	}
	if c.now == nil {
		c.now = time.Now
	}
	if opts.Logger != nil {
		c.log = opts.Logger.With().Str("component", "chat").Logger()
	}
	mode := opts.ContextMode
	if mode == "" {
		mode = model.ContextHybrid
	}
	c.snap.Store(session.New(c.ids.NewSessionID(), mode, c.now()))
	return c
}

// Snapshot returns the current session snapshot. It never changes; later
// transitions publish new snapshots. Snapshots share storage with each
// other and must not be modified.
func (c *Controller) Snapshot() *session.Session {
	return c.snap.Load()
}

// Subscribe returns a channel that receives the latest snapshot after each
// change. Slow readers skip intermediate snapshots but always get the
// newest one. Call the returned function to unsubscribe.
func (c *Controller) Subscribe() (<-chan *session.Session, func()) {
	return c.subs.add()
}

// apply runs one transition and publishes the result if it changed.
func (c *Controller) apply(fn func(*session.Session) *session.Session) *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := c.snap.Load()
	next := fn(cur)
	if next != cur {
		c.snap.Store(next)
		c.subs.publish(next)
	}
	return next
}

// =============================================================================
// SESSION OPERATIONS
// =============================================================================

// StartNewSession cancels any active exchange and replaces the session with
// an empty one under a new id. The context mode is kept.
func (c *Controller) StartNewSession() *session.Session {
	var prev string
	next := c.apply(func(s *session.Session) *session.Session {
		prev = c.cancels.cancel()
		return s.Reset(c.ids.NewSessionID(), c.now())
	})
	c.log.Info().
		Str("session", next.ID).
		Str("cancelled_exchange", prev).
		Msg("SESSION_STARTED")
	return next
}

// ClearMessages empties the transcript and the error banner.
func (c *Controller) ClearMessages() *session.Session {
	return c.apply(func(s *session.Session) *session.Session {
		return s.ClearMessages()
	})
}

// SetContextMode sets the context mode for subsequent sends.
func (c *Controller) SetContextMode(mode model.ContextMode) error {
	if !mode.Valid() {
		return fmt.Errorf("invalid context mode %q", mode)
	}
	c.apply(func(s *session.Session) *session.Session {
		return s.WithContextMode(mode)
	})
	return nil
}

// RefreshMemoryStats reloads memory statistics. A failure sets the error
// banner and is returned; a cancelled request changes nothing.
func (c *Controller) RefreshMemoryStats(ctx context.Context) error {
	stats, err := c.backend.MemoryStats(ctx)
	if err != nil {
		if backend.IsCancelled(err) {
			return nil
		}
		c.log.Warn().Err(err).Msg("MEMORY_STATS_FAILED")
		c.apply(func(s *session.Session) *session.Session {
			return s.OnMemoryStatsFailure()
		})
		return err
	}
	c.apply(func(s *session.Session) *session.Session {
		return s.OnMemoryStats(*stats)
	})
	return nil
}

// LoadSessionContext asks the backend for the memory context of the
// current session. The analysis replaces the session's context info unless
// the session was replaced meanwhile; messages are never touched. Failures
// are returned without changing the session.
func (c *Controller) LoadSessionContext(ctx context.Context, query string) (*backend.SessionContext, error) {
	if strings.TrimSpace(query) == "" {
		query = DefaultContextQuery
	}
	snap := c.Snapshot()
	resp, err := c.backend.SessionContext(ctx, snap.ID, query)
	if err != nil {
		return nil, err
	}
	c.apply(func(s *session.Session) *session.Session {
		return s.OnSessionContext(snap.Epoch, resp.Analysis)
	})
	return resp, nil
}

// ClearSessionMemory asks the backend to forget the current session's
// stored memory. The local transcript is unaffected.
func (c *Controller) ClearSessionMemory(ctx context.Context) (*backend.StatusResponse, error) {
	return c.backend.ClearSession(ctx, c.Snapshot().ID)
}

// Close cancels any active exchange and closes subscriber channels. Later
// sends return ErrClosed.
func (c *Controller) Close() {
	if c.closed.Swap(true) {
		return
	}
	c.mu.Lock()
	c.cancels.cancel()
	c.subs.closeAll()
	c.mu.Unlock()
}

// normalizeText trims and NFC-normalizes user input. Empty results mean
// "nothing to send".
func normalizeText(text string) string {
	return norm.NFC.String(strings.TrimSpace(text))
}
