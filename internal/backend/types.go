// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"encoding/json"

	"github.com/jeranaias/memchat/internal/model"
)

// API paths.
const (
	PathMessage       = "/api/message"
	PathMessageStream = "/api/message/stream"
	PathMemoryStats   = "/api/memory/stats"
	PathSessions      = "/api/sessions/"
)

// MessageRequest is the body of both message endpoints.
type MessageRequest struct {
	Message     string            `json:"message"`
	SessionID   string            `json:"session_id"`
	ContextMode model.ContextMode `json:"context_mode"`
}

// MessageResponse is the unary reply.
type MessageResponse struct {
	Response    string             `json:"response"`
	SessionID   string             `json:"session_id"`
	Timestamp   string             `json:"timestamp"`
	ContextUsed *model.ContextInfo `json:"context_used,omitempty"`
	MemoryStats *model.MemoryStats `json:"memory_stats,omitempty"`
}

// SessionContext is the reply of the session context endpoint.
type SessionContext struct {
	SessionID string            `json:"session_id"`
	Query     string            `json:"query"`
	Context   string            `json:"context"`
	Analysis  model.ContextInfo `json:"context_analysis"`
}

// StatusResponse is the informational reply of DELETE /api/sessions/{id}
// and of the root health endpoint.
type StatusResponse struct {
	Message  string   `json:"message"`
	Status   string   `json:"status"`
	Features []string `json:"features,omitempty"`
}

// ErrorBody is the body of a non-2xx reply. Detail is usually a string but
// request validation failures carry a list, so it is kept raw.
type ErrorBody struct {
	Detail json.RawMessage `json:"detail,omitempty"`
}

// DetailText returns Detail as text: the string itself, or the raw JSON
// for any other shape.
func (b ErrorBody) DetailText() string {
	if len(b.Detail) == 0 || string(b.Detail) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(b.Detail, &s); err == nil {
		return s
	}
	return string(b.Detail)
}

// memoryStatsEnvelope is the {stats, status} wrapper the backend
// puts around MemoryStats.
type memoryStatsEnvelope struct {
	Stats  *model.MemoryStats `json:"stats"`
	Status string             `json:"status"`
}
