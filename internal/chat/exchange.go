// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/jeranaias/memchat/internal/backend"
	"github.com/jeranaias/memchat/internal/metrics"
	"github.com/jeranaias/memchat/internal/session"
	"github.com/jeranaias/memchat/internal/stream"
)

const (
	modeUnary     = "unary"
	modeStreaming = "streaming"
)

// exchange is one submitted message in flight.
type exchange struct {
	id      string
	mode    string
	ctx     context.Context
	cancel  context.CancelFunc
	req     backend.MessageRequest
	started time.Time
}

// begin submits text as a new exchange, superseding any active one. It
// returns nil when there is nothing to send.
func (c *Controller) begin(ctx context.Context, text, mode string) (*exchange, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	text = normalizeText(text)
	if text == "" {
		return nil, nil
	}

	ex := &exchange{
		id:      c.ids.NewMessageID(),
		mode:    mode,
		started: c.now(),
	}
	ex.ctx, ex.cancel = context.WithCancel(ctx)

	sub := session.Submission{
		Exchange:      ex.id,
		UserMessageID: c.ids.NewMessageID(),
		Text:          text,
		At:            ex.started,
	}
	if mode == modeStreaming {
		sub.AssistantMessageID = c.ids.NewMessageID()
	}

	var superseded string
	snap := c.apply(func(s *session.Session) *session.Session {
		superseded = c.cancels.replace(ex.id, ex.cancel)
		return s.Submit(sub)
	})
	ex.req = backend.MessageRequest{
		Message:     text,
		SessionID:   snap.ID,
		ContextMode: snap.ContextMode,
	}

	if superseded != "" {
		metrics.ExchangesSuperseded.Inc()
		c.log.Info().
			Str("exchange", superseded).
			Str("by", ex.id).
			Msg("EXCHANGE_SUPERSEDED")
	}
	c.log.Debug().
		Str("exchange", ex.id).
		Str("mode", mode).
		Str("session", snap.ID).
		Str("context_mode", string(snap.ContextMode)).
		Msg("EXCHANGE_STARTED")
	return ex, nil
}

// end releases the exchange's cancel function and records its outcome.
func (c *Controller) end(ex *exchange, outcome string) {
	c.cancels.release(ex.id)
	ex.cancel()

	elapsed := c.now().Sub(ex.started)
	metrics.ExchangesTotal.WithLabelValues(ex.mode, outcome).Inc()
	if outcome != metrics.OutcomeCancelled {
		metrics.ExchangeDuration.WithLabelValues(ex.mode).Observe(elapsed.Seconds())
	}
	c.log.Debug().
		Str("exchange", ex.id).
		Str("outcome", outcome).
		Dur("elapsed", elapsed).
		Msg("EXCHANGE_FINISHED")
}

// =============================================================================
// UNARY
// =============================================================================

// SendMessage sends text over the unary endpoint and waits for the reply.
// Whitespace-only text is ignored. A failure is written to the transcript
// and error banner and also returned. A superseded or cancelled send
// returns nil.
func (c *Controller) SendMessage(ctx context.Context, text string) error {
	ex, err := c.begin(ctx, text, modeUnary)
	if ex == nil || err != nil {
		return err
	}

	resp, err := c.backend.SendMessage(ex.ctx, ex.req)
	switch {
	case err != nil && backend.IsCancelled(err):
		c.apply(func(s *session.Session) *session.Session {
			return s.OnCancelledLocally(ex.id)
		})
		c.end(ex, metrics.OutcomeCancelled)
		return nil

	case err != nil:
		c.log.Warn().Err(err).Str("exchange", ex.id).Msg("UNARY_FAILED")
		c.apply(func(s *session.Session) *session.Session {
			return s.OnUnaryFailure(ex.id, c.ids.NewMessageID(), err.Error(), c.now())
		})
		c.end(ex, metrics.OutcomeError)
		return err
	}

	c.apply(func(s *session.Session) *session.Session {
		return s.OnUnaryResponse(ex.id, session.Reply{
			MessageID:   c.ids.NewMessageID(),
			Text:        resp.Response,
			SessionID:   resp.SessionID,
			Timestamp:   resp.Timestamp,
			ContextInfo: resp.ContextUsed,
			MemoryStats: resp.MemoryStats,
			At:          c.now(),
		})
	})
	c.end(ex, metrics.OutcomeComplete)
	return nil
}

// =============================================================================
// STREAMING
// =============================================================================

// SendMessageStreaming sends text over the streaming endpoint and applies
// each record to the session as it arrives. Whitespace-only text is
// ignored. A transport failure or error record is written to the transcript
// and error banner and also returned. A superseded or cancelled send
// returns nil.
func (c *Controller) SendMessageStreaming(ctx context.Context, text string) error {
	ex, err := c.begin(ctx, text, modeStreaming)
	if ex == nil || err != nil {
		return err
	}

	body, err := c.backend.StreamMessage(ex.ctx, ex.req)
	if err != nil {
		return c.failStream(ex, err)
	}
	defer body.Close()

	dec := stream.NewDecoder(body,
		stream.WithLogger(c.log.With().Str("exchange", ex.id).Logger()),
		stream.WithDropHandler(func(*stream.DecodeError) {
			metrics.StreamRecordsDropped.Inc()
		}),
	)

	firstContent := true
	for {
		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			c.log.Warn().Str("exchange", ex.id).Msg("STREAM_ENDED_EARLY")
			c.apply(func(s *session.Session) *session.Session {
				return s.OnStreamEnded(ex.id)
			})
			c.end(ex, metrics.OutcomeEndedEarly)
			return nil
		}
		if err != nil {
			return c.failStream(ex, err)
		}

		metrics.StreamRecordsTotal.WithLabelValues(string(ev.Type)).Inc()
		if ev.Type == stream.EventContent && firstContent {
			firstContent = false
			metrics.TimeToFirstContent.Observe(c.now().Sub(ex.started).Seconds())
		}

		c.apply(func(s *session.Session) *session.Session {
			return s.Apply(ex.id, ev)
		})

		switch ev.Type {
		case stream.EventComplete:
			c.end(ex, metrics.OutcomeComplete)
			return nil
		case stream.EventError:
			c.end(ex, metrics.OutcomeError)
			return &BackendError{Message: ev.Message}
		}
	}
}

// failStream ends a streaming exchange after a transport error.
func (c *Controller) failStream(ex *exchange, err error) error {
	if backend.IsCancelled(err) || errors.Is(ex.ctx.Err(), context.Canceled) {
		c.apply(func(s *session.Session) *session.Session {
			return s.OnCancelledLocally(ex.id)
		})
		c.end(ex, metrics.OutcomeCancelled)
		return nil
	}
	c.log.Warn().Err(err).Str("exchange", ex.id).Msg("STREAM_FAILED")
	c.apply(func(s *session.Session) *session.Session {
		return s.OnTransportFailure(ex.id, err)
	})
	c.end(ex, metrics.OutcomeTransport)
	return err
}
