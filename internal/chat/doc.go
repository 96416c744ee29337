// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the session controller: the API a user interface
// drives to hold a conversation with the hybrid-memory chat backend.
//
// # Key Types
//
//   - Controller: owns the session, runs exchanges, publishes snapshots
//   - Backend: the transport it needs (implemented by *backend.Client)
//
// # Usage
//
//	ctrl := chat.New(client, chat.Options{ContextMode: model.ContextHybrid})
//	updates, stop := ctrl.Subscribe()
//	defer stop()
//	go ctrl.SendMessageStreaming(ctx, "hello")
//	for snap := range updates {
//	    render(snap)
//	}
//
// Sending while an exchange is in flight supersedes it: the earlier
// exchange is cancelled and its assistant message is left incomplete
// without an error.
package chat
