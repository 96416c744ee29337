// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream decodes the chat backend's streaming response.
//
// The stream is a sequence of newline-terminated lines. A record line is
// "data: " followed by a JSON object whose "type" field is one of
// metadata, context, content, complete or error. Other lines (including
// the blank separators the backend writes) are ignored. Malformed records
// are dropped with a warning and never end the stream.
//
// # Key Types
//
//   - Event: one decoded record
//   - Decoder: pull-based reader, Next() until io.EOF
//   - DecodeError: a dropped record, reported through WithDropHandler
//
// # Usage
//
//	dec := stream.NewDecoder(body, stream.WithLogger(log))
//	for ev, err := range dec.All() {
//	    if err != nil {
//	        return err
//	    }
//	    apply(ev)
//	}
package stream
