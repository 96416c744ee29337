// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"slices"
	"time"

	"github.com/jeranaias/memchat/internal/model"
)

// =============================================================================
// SESSION SNAPSHOT
// =============================================================================

// Session is an immutable snapshot of one chat session. Transitions never
// modify the receiver: they return a new Session with Version incremented,
// or the receiver itself when the transition does not apply (a stale
// exchange, a no-op). Callers compare pointers to detect change.
//
// Consecutive snapshots share the Messages backing array and the
// ContextInfo and MemoryStats values until a transition replaces them, so
// a snapshot is read-only: writing through it changes older snapshots too.
type Session struct {
	ID          string
	ContextMode model.ContextMode
	Messages    []model.Message
	ContextInfo *model.ContextInfo
	MemoryStats *model.MemoryStats
	Loading     bool
	Error       string

	// Exchange is the token of the active exchange, "" when idle.
	// AssistantID is the id of that exchange's streaming assistant
	// message, "" for unary exchanges.
	Exchange    string
	AssistantID string

	// Received is true once the active exchange applied a content record,
	// even if the transcript was cleared before the text could land.
	Received bool

	// Epoch changes whenever the session is replaced by New. Side
	// requests record it and are discarded if it moved.
	Epoch     uint64
	Version   uint64
	StartedAt time.Time
}

// New creates the first snapshot of a session.
func New(id string, mode model.ContextMode, now time.Time) *Session {
	if !mode.Valid() {
		mode = model.ContextHybrid
	}
	return &Session{
		ID:          id,
		ContextMode: mode,
		Version:     1,
		StartedAt:   now,
	}
}

// Idle reports whether no exchange is active.
func (s *Session) Idle() bool {
	return s.Exchange == ""
}

// IsActive reports whether exchange is the session's active exchange.
func (s *Session) IsActive(exchange string) bool {
	return exchange != "" && s.Exchange == exchange
}

// Message returns the message with the given id.
func (s *Session) Message(id string) (model.Message, bool) {
	if i := s.indexOf(id); i >= 0 {
		return s.Messages[i], true
	}
	return model.Message{}, false
}

// LastAssistant returns the most recent assistant message.
func (s *Session) LastAssistant() (model.Message, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Sender == model.SenderAssistant {
			return s.Messages[i], true
		}
	}
	return model.Message{}, false
}

// Streaming returns the assistant message currently receiving text.
func (s *Session) Streaming() (model.Message, bool) {
	if s.AssistantID == "" {
		return model.Message{}, false
	}
	m, ok := s.Message(s.AssistantID)
	if !ok || !m.Streaming {
		return model.Message{}, false
	}
	return m, true
}

func (s *Session) indexOf(id string) int {
	if id == "" {
		return -1
	}
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].ID == id {
			return i
		}
	}
	return -1
}

// next returns a shallow copy with the version bumped. Messages is shared
// until a transition calls withMessage/appendMessages, which copy it.
func (s *Session) next() *Session {
	n := *s
	n.Version++
	return &n
}

// withMessage replaces the message with the given id using fn. A missing
// message (the transcript was cleared) leaves Messages untouched.
func (s *Session) withMessage(id string, fn func(*model.Message)) {
	i := s.indexOf(id)
	if i < 0 {
		return
	}
	msgs := slices.Clone(s.Messages)
	fn(&msgs[i])
	s.Messages = msgs
}

func (s *Session) appendMessages(msgs ...model.Message) {
	out := make([]model.Message, 0, len(s.Messages)+len(msgs))
	out = append(out, s.Messages...)
	s.Messages = append(out, msgs...)
}
