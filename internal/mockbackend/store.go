// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package mockbackend

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/memchat/internal/model"
)

// CollectionName labels the semantic memory table in stats.
const CollectionName = "ConversationMemory"

// HistoryEntry is one row of a session's recent history.
type HistoryEntry struct {
	Sender    model.Sender
	Text      string
	Timestamp string
}

// Memory is one stored exchange available for semantic recall.
type Memory struct {
	SessionID        string
	UserMessage      string
	AssistantMessage string
	Timestamp        string
	score            int
}

// Store persists chat history and recall memories in SQLite.
type Store struct {
	db *sql.DB
}

// OpenStore opens (and migrates) a SQLite database. An empty dsn or
// ":memory:" gives a private in-memory database.
func OpenStore(dsn string) (*Store, error) {
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Each in-memory connection is a separate database.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS chat_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			user_message TEXT,
			assistant_message TEXT,
			timestamp TEXT NOT NULL,
			message_type TEXT NOT NULL CHECK (message_type IN ('user', 'assistant'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_history_session ON chat_history(session_id, timestamp)`,
		`CREATE TABLE IF NOT EXISTS memories (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			content TEXT NOT NULL,
			user_message TEXT NOT NULL,
			assistant_message TEXT NOT NULL,
			timestamp TEXT NOT NULL
		)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// AddExchange stores one user message and its reply: two history rows and
// one recall memory.
func (s *Store) AddExchange(ctx context.Context, sessionID, userMessage, assistantMessage string, at time.Time) error {
	ts := model.FormatTimestamp(at)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chat_history (session_id, user_message, assistant_message, timestamp, message_type)
		 VALUES (?, ?, NULL, ?, 'user')`, sessionID, userMessage, ts); err != nil {
		return fmt.Errorf("insert user message: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chat_history (session_id, user_message, assistant_message, timestamp, message_type)
		 VALUES (?, NULL, ?, ?, 'assistant')`, sessionID, assistantMessage, ts); err != nil {
		return fmt.Errorf("insert assistant message: %w", err)
	}
	content := "User: " + userMessage + "\n\nAssistant: " + assistantMessage
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO memories (session_id, content, user_message, assistant_message, timestamp)
		 VALUES (?, ?, ?, ?, ?)`, sessionID, content, userMessage, assistantMessage, ts); err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return tx.Commit()
}

// RecentHistory returns up to limit exchanges (2*limit rows) of a session,
// oldest first.
func (s *Store) RecentHistory(ctx context.Context, sessionID string, limit int) ([]HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_message, assistant_message, timestamp, message_type
		 FROM chat_history
		 WHERE session_id = ?
		 ORDER BY timestamp DESC, id DESC
		 LIMIT ?`, sessionID, limit*2)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var user, assistant sql.NullString
		var ts, kind string
		if err := rows.Scan(&user, &assistant, &ts, &kind); err != nil {
			return nil, err
		}
		switch {
		case kind == "user" && user.String != "":
			entries = append(entries, HistoryEntry{Sender: model.SenderUser, Text: user.String, Timestamp: ts})
		case kind == "assistant" && assistant.String != "":
			entries = append(entries, HistoryEntry{Sender: model.SenderAssistant, Text: assistant.String, Timestamp: ts})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(entries)
	return entries, nil
}

// SemanticMemories returns up to limit memories from other sessions that
// share terms with query, best match first. Ties go to the newest.
func (s *Store) SemanticMemories(ctx context.Context, query string, limit int, excludeSession string) ([]Memory, error) {
	terms := queryTerms(query)
	if len(terms) == 0 || limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, content, user_message, assistant_message, timestamp
		 FROM memories
		 WHERE session_id != ?
		 ORDER BY timestamp DESC, id DESC`, excludeSession)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []Memory
	for rows.Next() {
		var m Memory
		var content string
		if err := rows.Scan(&m.SessionID, &content, &m.UserMessage, &m.AssistantMessage, &m.Timestamp); err != nil {
			return nil, err
		}
		if m.score = scoreMemory(content, terms); m.score > 0 {
			matches = append(matches, m)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Stable keeps newest-first order among equal scores.
	slices.SortStableFunc(matches, func(a, b Memory) int { return b.score - a.score })
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// Stats reports history and memory counts.
func (s *Store) Stats(ctx context.Context) (model.MemoryStats, error) {
	var stats model.MemoryStats
	var last sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT session_id), MAX(timestamp) FROM chat_history`).
		Scan(&stats.Postgres.TotalMessages, &stats.Postgres.UniqueSessions, &last)
	if err != nil {
		return model.MemoryStats{}, fmt.Errorf("history stats: %w", err)
	}
	stats.Postgres.LastMessage = last.String

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).
		Scan(&stats.Weaviate.TotalVectors); err != nil {
		return model.MemoryStats{}, fmt.Errorf("memory stats: %w", err)
	}
	stats.Weaviate.CollectionName = CollectionName
	stats.Status = model.StatusOperational
	return stats, nil
}

// ClearSession deletes every history row and memory of a session and
// returns how many rows were removed.
func (s *Store) ClearSession(ctx context.Context, sessionID string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var total int64
	for _, table := range []string{"chat_history", "memories"} {
		res, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE session_id = ?", sessionID)
		if err != nil {
			return 0, fmt.Errorf("clear %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return total, nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// =============================================================================
// KEYWORD RECALL
// =============================================================================

// stopWords are skipped when matching queries against memories.
var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "was": true, "you": true,
	"what": true, "that": true, "this": true, "with": true, "have": true, "about": true,
}

// queryTerms lowercases query and returns its distinct words of three or
// more letters, minus stop words.
func queryTerms(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(fields))
	var terms []string
	for _, f := range fields {
		if len([]rune(f)) < 3 || stopWords[f] || seen[f] {
			continue
		}
		seen[f] = true
		terms = append(terms, f)
	}
	return terms
}

// scoreMemory counts how many terms appear in content.
func scoreMemory(content string, terms []string) int {
	lower := strings.ToLower(content)
	score := 0
	for _, t := range terms {
		if strings.Contains(lower, t) {
			score++
		}
	}
	return score
}
