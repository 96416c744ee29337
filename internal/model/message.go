// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"time"

	"github.com/jeranaias/memchat/internal/util"
)

// =============================================================================
// SENDER TYPE
// =============================================================================

// Sender identifies who produced a message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// String returns the string representation of the sender.
func (s Sender) String() string {
	return string(s)
}

// DisplayName returns a human-readable name for the sender.
func (s Sender) DisplayName() string {
	switch s {
	case SenderUser:
		return "You"
	case SenderAssistant:
		return "Assistant"
	default:
		return string(s)
	}
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message is one entry of a session transcript. Messages are values: a
// transition that changes a message stores a modified copy in a new
// session snapshot, so a Message read from a snapshot never changes.
type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`

	// Streaming is true while response text is still arriving. Complete is
	// true once the exchange reached a terminal record, success or error.
	// A superseded assistant message ends with both false.
	Streaming bool `json:"streaming"`
	Complete  bool `json:"complete"`
}

// NewUserMessage creates a complete user message.
func NewUserMessage(id, sessionID, text string, at time.Time) Message {
	return Message{
		ID:        id,
		Text:      text,
		Sender:    SenderUser,
		Timestamp: at,
		SessionID: sessionID,
		Complete:  true,
	}
}

// NewAssistantMessage creates an empty assistant message awaiting content.
func NewAssistantMessage(id, sessionID string, at time.Time) Message {
	return Message{
		ID:        id,
		Sender:    SenderAssistant,
		Timestamp: at,
		SessionID: sessionID,
		Streaming: true,
	}
}

// IsUser reports whether the message was sent by the user.
func (m Message) IsUser() bool {
	return m.Sender == SenderUser
}

// IsEmpty reports whether the message has no visible text.
func (m Message) IsEmpty() bool {
	return strings.TrimSpace(m.Text) == ""
}

// Preview returns a single-line rendition of the text that fits in
// maxWidth terminal columns.
func (m Message) Preview(maxWidth int) string {
	return util.TruncateWidth(util.SingleLine(m.Text), maxWidth)
}

// =============================================================================
// TIMESTAMPS
// =============================================================================

// Layouts accepted by ParseTimestamp. The backend emits Python isoformat()
// strings, which carry no zone designator.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses a backend timestamp. Zone-less values are taken as
// local time, matching how the backend produced them.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for i, layout := range timestampLayouts {
		var (
			t   time.Time
			err error
		)
		if i == 0 {
			t, err = time.Parse(layout, s)
		} else {
			t, err = time.ParseInLocation(layout, s, time.Local)
		}
		if err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FormatTimestamp renders t the way the backend does (isoformat, no zone).
func FormatTimestamp(t time.Time) string {
	return t.Format("2006-01-02T15:04:05.000000")
}
