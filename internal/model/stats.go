// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"time"
)

// Memory store status values.
const (
	StatusOperational = "operational"
	StatusError       = "error"
)

// MemoryStats is a snapshot of the backend memory stores.
type MemoryStats struct {
	Postgres PostgresStats `json:"postgresql"`
	Weaviate VectorStats   `json:"weaviate"`
	Status   string        `json:"status"`

	// Message carries the failure reason when Status is "error".
	Message string `json:"message,omitempty"`
}

// PostgresStats summarizes the relational chat history store.
type PostgresStats struct {
	TotalMessages  int64  `json:"total_messages"`
	UniqueSessions int64  `json:"unique_sessions"`
	LastMessage    string `json:"last_message,omitempty"`
}

// VectorStats summarizes the vector store used for semantic recall.
type VectorStats struct {
	TotalVectors   int64  `json:"total_vectors"`
	CollectionName string `json:"collection_name"`
}

// Operational reports whether the backend declared its stores healthy.
func (s MemoryStats) Operational() bool {
	return s.Status == StatusOperational
}

// LastMessageAt parses Postgres.LastMessage.
func (s MemoryStats) LastMessageAt() (time.Time, bool) {
	return ParseTimestamp(s.Postgres.LastMessage)
}

// Summary renders the stats on one line.
func (s MemoryStats) Summary() string {
	if !s.Operational() {
		if s.Message != "" {
			return fmt.Sprintf("memory %s: %s", s.Status, s.Message)
		}
		return fmt.Sprintf("memory %s", s.Status)
	}
	return fmt.Sprintf("%d messages in %d sessions, %d vectors in %s",
		s.Postgres.TotalMessages, s.Postgres.UniqueSessions,
		s.Weaviate.TotalVectors, s.Weaviate.CollectionName)
}
