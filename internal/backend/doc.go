// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package backend is the HTTP client for the hybrid-memory chat backend.
//
// It covers the unary and streaming message endpoints, memory statistics,
// session context inspection and session deletion. Failures are *Error
// values classified by Kind:
//
//   - KindNetwork: the request could not be completed
//   - KindHTTP: non-2xx reply; Detail holds the backend's "detail" field
//   - KindCancelled: the caller's context was cancelled
//
// Use IsCancelled, IsNetwork and AsHTTP to inspect them. The client does
// not retry; retry policy belongs to the caller.
//
// # Usage
//
//	client := backend.NewClientWithConfig(&backend.ClientConfig{BaseURL: url})
//	s, err := client.StreamMessage(ctx, backend.MessageRequest{...})
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//	dec := stream.NewDecoder(s)
package backend
