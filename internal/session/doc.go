// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session is the chat session state machine.
//
// A Session is an immutable, versioned snapshot. Every transition returns a
// new snapshot (or the same pointer when nothing applies), so a reader
// holding a snapshot never observes a half-applied change.
//
// An exchange moves Idle -> Sent -> Streaming -> Complete or Errored.
// Exchange-scoped transitions carry the exchange token they belong to and
// are ignored unless it is the session's active exchange; records from a
// superseded or reset exchange therefore cannot touch the transcript.
//
// # Key Types
//
//   - Session: the snapshot
//   - Submission: parameters of a new exchange
//   - Reply: a complete unary answer
//
// # Usage
//
//	s = s.Submit(session.Submission{Exchange: ex, ...})
//	for ev, err := range dec.All() {
//	    s = s.Apply(ex, ev)
//	}
package session
