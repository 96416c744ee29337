// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package idgen produces session and message identifiers.
//
// Session ids are UUIDv7 strings (time-ordered with 74 random bits), which
// the backend stores verbatim as session_id. Message ids are ULIDs drawn
// from a monotonic entropy source, so ids generated within the same
// millisecond still sort in creation order.
package idgen

import (
	"crypto/rand"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Generator creates identifiers. The chat controller depends on this
// interface so tests can substitute deterministic ids.
type Generator interface {
	NewSessionID() string
	NewMessageID() string
}

// Default is the process-wide generator.
var Default Generator = NewGenerator()

// NewSessionID returns a new session id from the default generator.
func NewSessionID() string { return Default.NewSessionID() }

// NewMessageID returns a new message id from the default generator.
func NewMessageID() string { return Default.NewMessageID() }

// RandomGenerator is the production Generator.
type RandomGenerator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// NewGenerator creates a RandomGenerator seeded from crypto/rand.
func NewGenerator() *RandomGenerator {
	return &RandomGenerator{
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// NewSessionID returns a UUIDv7. It falls back to a v4 UUID if the clock
// or entropy source fails.
func (g *RandomGenerator) NewSessionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// NewMessageID returns a ULID string. MonotonicEntropy is not safe for
// concurrent use, hence the lock.
func (g *RandomGenerator) NewMessageID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, err := ulid.New(ulid.Timestamp(time.Now()), g.entropy)
	if err != nil {
		// Monotonic overflow within one millisecond; use fresh entropy.
		return ulid.Make().String()
	}
	return id.String()
}

// Sequence is a deterministic Generator for tests and replays. It yields
// "<prefix>-session-N" and "<prefix>-msg-N".
type Sequence struct {
	mu       sync.Mutex
	prefix   string
	sessions int
	messages int
}

// NewSequence creates a Sequence with the given prefix.
func NewSequence(prefix string) *Sequence {
	return &Sequence{prefix: prefix}
}

// NewSessionID implements Generator.
func (s *Sequence) NewSessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions++
	return s.prefix + "-session-" + strconv.Itoa(s.sessions)
}

// NewMessageID implements Generator.
func (s *Sequence) NewMessageID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages++
	return s.prefix + "-msg-" + strconv.Itoa(s.messages)
}
