// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"encoding/json"
	"fmt"

	"github.com/jeranaias/memchat/internal/model"
)

// =============================================================================
// EVENT TYPES
// =============================================================================

// EventType tags a stream record.
type EventType string

const (
	EventMetadata EventType = "metadata"
	EventContext  EventType = "context"
	EventContent  EventType = "content"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// StatusProcessing is the status of a metadata record.
const StatusProcessing = "processing"

// Valid reports whether t is one of the known record types.
func (t EventType) Valid() bool {
	switch t {
	case EventMetadata, EventContext, EventContent, EventComplete, EventError:
		return true
	}
	return false
}

// Terminal reports whether a record of this type ends an exchange.
func (t EventType) Terminal() bool {
	return t == EventComplete || t == EventError
}

// Event is one decoded record of a chat stream. Which fields are meaningful
// depends on Type:
//
//	metadata: SessionID, Timestamp, Status
//	context:  ContextInfo
//	content:  Chunk, Accumulated
//	complete: FinalText, ContextInfo, MemoryStats, SessionID, Timestamp
//	error:    Message
//
// String fields use "" for absent. Timestamp keeps the backend's raw text;
// use model.ParseTimestamp to interpret it.
type Event struct {
	Type        EventType          `json:"type"`
	SessionID   string             `json:"session_id,omitempty"`
	Timestamp   string             `json:"timestamp,omitempty"`
	ContextInfo *model.ContextInfo `json:"context_info,omitempty"`
	Chunk       string             `json:"chunk,omitempty"`
	Accumulated string             `json:"accumulated,omitempty"`
	FinalText   string             `json:"final_response,omitempty"`
	MemoryStats *model.MemoryStats `json:"memory_stats,omitempty"`
	Message     string             `json:"message,omitempty"`
	Status      string             `json:"status,omitempty"`
}

// Constructors for each record type.

func Metadata(sessionID, timestamp string) Event {
	return Event{Type: EventMetadata, SessionID: sessionID, Timestamp: timestamp, Status: StatusProcessing}
}

func Context(info model.ContextInfo) Event {
	return Event{Type: EventContext, ContextInfo: &info}
}

func Content(chunk, accumulated string) Event {
	return Event{Type: EventContent, Chunk: chunk, Accumulated: accumulated}
}

func Complete(finalText string) Event {
	return Event{Type: EventComplete, FinalText: finalText}
}

func Error(message string) Event {
	return Event{Type: EventError, Message: message}
}

// MarshalJSON writes the context of a complete record as "context_used",
// the key the backend uses there.
func (e Event) MarshalJSON() ([]byte, error) {
	type plain Event
	if e.Type != EventComplete || e.ContextInfo == nil {
		return json.Marshal(plain(e))
	}
	w := struct {
		plain
		ContextUsed *model.ContextInfo `json:"context_used"`
	}{plain: plain(e), ContextUsed: e.ContextInfo}
	w.plain.ContextInfo = nil
	return json.Marshal(w)
}

// UnmarshalJSON accepts both context_info and context_used. The backend
// labels the context of a complete record "context_used"; context_info wins
// when both are present.
func (e *Event) UnmarshalJSON(data []byte) error {
	type plain Event
	var w struct {
		plain
		ContextUsed *model.ContextInfo `json:"context_used,omitempty"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*e = Event(w.plain)
	if e.ContextInfo == nil {
		e.ContextInfo = w.ContextUsed
	}
	return nil
}

// String returns a compact description for logs.
func (e Event) String() string {
	switch e.Type {
	case EventMetadata:
		return fmt.Sprintf("metadata(session=%s)", e.SessionID)
	case EventContext:
		if e.ContextInfo != nil {
			return fmt.Sprintf("context(%s)", e.ContextInfo.Type)
		}
		return "context()"
	case EventContent:
		return fmt.Sprintf("content(chunk=%d accumulated=%d)", len(e.Chunk), len(e.Accumulated))
	case EventComplete:
		return fmt.Sprintf("complete(final=%d)", len(e.FinalText))
	case EventError:
		return fmt.Sprintf("error(%q)", e.Message)
	}
	return fmt.Sprintf("%s()", e.Type)
}
