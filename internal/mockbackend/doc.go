// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package mockbackend is a development implementation of the hybrid-memory
// chat API, for running the client locally and in tests.
//
// It serves the same endpoints as the production backend:
//
//	GET    /                               service status
//	POST   /api/message                    unary reply
//	POST   /api/message/stream             streamed reply ("data: {json}" records)
//	GET    /api/memory/stats               memory statistics
//	GET    /api/sessions/{id}/context      memory context for a query
//	DELETE /api/sessions/{id}              forget a session
//
// History and recall memories live in SQLite (in memory unless a DSN is
// given). Semantic recall is approximated by keyword overlap, and replies
// come from a pluggable Responder.
package mockbackend
