// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"time"

	"github.com/jeranaias/memchat/internal/model"
	"github.com/jeranaias/memchat/internal/stream"
)

// User-facing texts written into the transcript or the error banner.
const (
	ErrorEventFallback     = "Error processing message"
	ErrorEventBanner       = "Unknown error"
	TransportFailureText   = "Sorry, I couldn't process your message. Please try again."
	TransportFailurePrefix = "Failed to send message: "
	StreamEndedMessage     = "stream ended before completion"
	MemoryStatsFailure     = "Failed to load memory stats"
)

// UnaryFailureText is the assistant message appended when a unary
// exchange fails.
func UnaryFailureText(reason string) string {
	return "❌ " + reason + ". Can you try again?"
}

// Submission describes a new exchange.
type Submission struct {
	Exchange           string
	UserMessageID      string
	AssistantMessageID string // empty for unary exchanges
	Text               string
	At                 time.Time
}

// Reply is a complete unary answer.
type Reply struct {
	MessageID   string
	Text        string
	SessionID   string
	Timestamp   string
	ContextInfo *model.ContextInfo
	MemoryStats *model.MemoryStats
	At          time.Time
}

// =============================================================================
// EXCHANGE LIFECYCLE
// =============================================================================

// Submit starts an exchange: the user message is appended, loading is set,
// the error banner cleared and, for streaming exchanges, an empty
// streaming assistant message appended. An assistant message still
// streaming for a previous exchange is closed as incomplete, so at most
// one message streams at a time.
func (s *Session) Submit(sub Submission) *Session {
	n := s.next()
	if prev := s.AssistantID; prev != "" {
		n.withMessage(prev, abandon)
	}

	msgs := []model.Message{model.NewUserMessage(sub.UserMessageID, s.ID, sub.Text, sub.At)}
	if sub.AssistantMessageID != "" {
		msgs = append(msgs, model.NewAssistantMessage(sub.AssistantMessageID, s.ID, sub.At))
	}
	n.appendMessages(msgs...)

	n.Loading = true
	n.Error = ""
	n.Received = false
	n.Exchange = sub.Exchange
	n.AssistantID = sub.AssistantMessageID
	return n
}

// Apply folds one stream record into the session.
func (s *Session) Apply(exchange string, ev stream.Event) *Session {
	switch ev.Type {
	case stream.EventMetadata:
		return s.OnMetadata(exchange, ev.SessionID)
	case stream.EventContext:
		if ev.ContextInfo == nil {
			return s
		}
		return s.OnContext(exchange, *ev.ContextInfo)
	case stream.EventContent:
		return s.OnContent(exchange, ev.Chunk, ev.Accumulated)
	case stream.EventComplete:
		return s.OnComplete(exchange, ev)
	case stream.EventError:
		return s.OnError(exchange, ev.Message)
	}
	return s
}

// OnMetadata adopts the backend's session id when it differs.
func (s *Session) OnMetadata(exchange, sessionID string) *Session {
	if !s.IsActive(exchange) || sessionID == "" || sessionID == s.ID {
		return s
	}
	n := s.next()
	n.ID = sessionID
	return n
}

// OnContext replaces the context info wholesale.
func (s *Session) OnContext(exchange string, info model.ContextInfo) *Session {
	if !s.IsActive(exchange) {
		return s
	}
	n := s.next()
	n.ContextInfo = &info
	return n
}

// OnContent updates the streaming message. A non-empty accumulated value
// replaces the text; otherwise chunk is appended.
func (s *Session) OnContent(exchange, chunk, accumulated string) *Session {
	if !s.IsActive(exchange) || (chunk == "" && accumulated == "") {
		return s
	}
	n := s.next()
	n.withMessage(s.AssistantID, func(m *model.Message) {
		if accumulated != "" {
			m.Text = accumulated
		} else {
			m.Text += chunk
		}
	})
	n.Received = true
	return n
}

// OnComplete finalizes the exchange from a complete record.
func (s *Session) OnComplete(exchange string, ev stream.Event) *Session {
	if !s.IsActive(exchange) {
		return s
	}
	n := s.next()
	n.withMessage(s.AssistantID, func(m *model.Message) {
		if ev.FinalText != "" {
			m.Text = ev.FinalText
		}
		m.Streaming = false
		m.Complete = true
		if t, ok := model.ParseTimestamp(ev.Timestamp); ok {
			m.Timestamp = t
		}
		if ev.SessionID != "" {
			m.SessionID = ev.SessionID
		}
	})
	if ev.SessionID != "" {
		n.ID = ev.SessionID
	}
	if ev.ContextInfo != nil {
		info := *ev.ContextInfo
		n.ContextInfo = &info
	}
	if ev.MemoryStats != nil {
		stats := *ev.MemoryStats
		n.MemoryStats = &stats
	}
	n.finish()
	return n
}

// OnError finalizes the exchange from an error record.
func (s *Session) OnError(exchange, message string) *Session {
	text, banner := message, message
	if text == "" {
		text = ErrorEventFallback
		banner = ErrorEventBanner
	}
	return s.fail(exchange, text, banner)
}

// OnTransportFailure finalizes the exchange after a network or HTTP
// failure of the stream.
func (s *Session) OnTransportFailure(exchange string, err error) *Session {
	return s.fail(exchange, TransportFailureText, TransportFailurePrefix+err.Error())
}

// OnStreamEnded handles a stream that ended without a terminal record. The
// text received so far becomes the reply; with no text it is a transport
// failure. If content arrived but its message was cleared from the
// transcript, the exchange just ends.
func (s *Session) OnStreamEnded(exchange string) *Session {
	if !s.IsActive(exchange) {
		return s
	}
	m, ok := s.Message(s.AssistantID)
	switch {
	case ok && !m.IsEmpty():
		return s.OnComplete(exchange, stream.Event{Type: stream.EventComplete})
	case !ok && s.Received:
		n := s.next()
		n.finish()
		return n
	}
	return s.fail(exchange, TransportFailureText, TransportFailurePrefix+StreamEndedMessage)
}

// OnCancelledLocally ends the exchange silently. The error banner is left
// alone and a streaming message is closed as incomplete.
func (s *Session) OnCancelledLocally(exchange string) *Session {
	if !s.IsActive(exchange) {
		return s
	}
	n := s.next()
	n.withMessage(s.AssistantID, abandon)
	n.finish()
	return n
}

// OnUnaryResponse appends the complete assistant reply of a unary
// exchange.
func (s *Session) OnUnaryResponse(exchange string, r Reply) *Session {
	if !s.IsActive(exchange) {
		return s
	}
	n := s.next()
	if r.SessionID != "" {
		n.ID = r.SessionID
	}
	at := r.At
	if t, ok := model.ParseTimestamp(r.Timestamp); ok {
		at = t
	}
	n.appendMessages(model.Message{
		ID:        r.MessageID,
		Text:      r.Text,
		Sender:    model.SenderAssistant,
		Timestamp: at,
		SessionID: n.ID,
		Complete:  true,
	})
	if r.ContextInfo != nil {
		info := *r.ContextInfo
		n.ContextInfo = &info
	}
	if r.MemoryStats != nil {
		stats := *r.MemoryStats
		n.MemoryStats = &stats
	}
	n.finish()
	return n
}

// OnUnaryFailure appends one error-bearing assistant message and sets the
// error banner to reason.
func (s *Session) OnUnaryFailure(exchange, messageID, reason string, at time.Time) *Session {
	if !s.IsActive(exchange) {
		return s
	}
	n := s.next()
	n.appendMessages(model.Message{
		ID:        messageID,
		Text:      UnaryFailureText(reason),
		Sender:    model.SenderAssistant,
		Timestamp: at,
		SessionID: s.ID,
		Complete:  true,
	})
	n.Error = reason
	n.finish()
	return n
}

func (s *Session) fail(exchange, text, banner string) *Session {
	if !s.IsActive(exchange) {
		return s
	}
	n := s.next()
	n.withMessage(s.AssistantID, func(m *model.Message) {
		m.Text = text
		m.Streaming = false
		m.Complete = true
	})
	n.Error = banner
	n.finish()
	return n
}

// finish returns the session to idle.
func (s *Session) finish() {
	s.Loading = false
	s.Exchange = ""
	s.AssistantID = ""
	s.Received = false
}

func abandon(m *model.Message) {
	if m.Streaming {
		m.Streaming = false
		m.Complete = false
	}
}

// =============================================================================
// SESSION-LEVEL TRANSITIONS
// =============================================================================

// Reset replaces the session with a fresh one under a new id, keeping the
// context mode. Any active exchange is forgotten; its records become
// stale.
func (s *Session) Reset(id string, now time.Time) *Session {
	return &Session{
		ID:          id,
		ContextMode: s.ContextMode,
		MemoryStats: s.MemoryStats,
		Epoch:       s.Epoch + 1,
		Version:     s.Version + 1,
		StartedAt:   now,
	}
}

// ClearMessages empties the transcript and the error banner. An active
// exchange keeps running; its later records find no message to update.
func (s *Session) ClearMessages() *Session {
	if len(s.Messages) == 0 && s.Error == "" {
		return s
	}
	n := s.next()
	n.Messages = nil
	n.Error = ""
	return n
}

// WithContextMode sets the mode used by the next exchange.
func (s *Session) WithContextMode(mode model.ContextMode) *Session {
	if mode == s.ContextMode {
		return s
	}
	n := s.next()
	n.ContextMode = mode
	return n
}

// OnMemoryStats stores freshly loaded stats.
func (s *Session) OnMemoryStats(stats model.MemoryStats) *Session {
	n := s.next()
	n.MemoryStats = &stats
	return n
}

// OnMemoryStatsFailure records a failed stats refresh in the banner.
func (s *Session) OnMemoryStatsFailure() *Session {
	n := s.next()
	n.Error = MemoryStatsFailure
	return n
}

// OnSessionContext replaces the context info with the analysis of an
// on-demand context request issued during epoch. Results from a replaced
// session are ignored.
func (s *Session) OnSessionContext(epoch uint64, info model.ContextInfo) *Session {
	if epoch != s.Epoch {
		return s
	}
	n := s.next()
	n.ContextInfo = &info
	return n
}
