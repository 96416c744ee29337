// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the chat domain types shared by the transport,
// stream decoder and session state machine.
//
// # Key Types
//
//   - Message: one transcript entry (user or assistant), a plain value
//   - ContextMode: which memory sources the backend should use
//   - ContextInfo: which memory sources informed the latest reply
//   - MemoryStats: health and size of the backend memory stores
//
// JSON tags follow the backend wire names (session_id, recent_count, ...).
package model
