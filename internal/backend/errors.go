// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ErrorKind categorizes transport failures.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNetwork
	KindHTTP
	KindCancelled
	KindInvalidResponse
)

// String returns the kind name used in logs and metrics.
func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindHTTP:
		return "http"
	case KindCancelled:
		return "cancelled"
	case KindInvalidResponse:
		return "invalid_response"
	default:
		return "unknown"
	}
}

// Error is returned by every Client operation.
//
// For KindHTTP, Status and Body hold the response; Detail is the backend's
// "detail" field when the body carried one.
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	Status  int
	Body    string
	Detail  string
	Cause   error
}

// Error implements the error interface. HTTP errors render as the backend
// detail when present, else "HTTP <status>: <status text>".
func (e *Error) Error() string {
	switch e.Kind {
	case KindHTTP:
		if e.Detail != "" {
			return e.Detail
		}
		return fmt.Sprintf("HTTP %d: %s", e.Status, http.StatusText(e.Status))
	case KindCancelled:
		return "request cancelled"
	}
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String() + " error"
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches the kind sentinels below, so errors.Is(err, ErrCancelled)
// holds for any cancelled operation.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Status == 0 && e.Kind == t.Kind
}

// Sentinel errors for errors.Is checks.
var (
	ErrCancelled = &Error{Kind: KindCancelled}
	ErrNetwork   = &Error{Kind: KindNetwork}
	ErrHTTP      = &Error{Kind: KindHTTP}
)

// IsCancelled reports whether err is a local cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// IsNetwork reports whether err is a connection or transport failure.
func IsNetwork(err error) bool {
	return errors.Is(err, ErrNetwork)
}

// AsHTTP returns the HTTP error in err's chain, if any.
func AsHTTP(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindHTTP {
		return e, true
	}
	return nil, false
}

// transportError classifies a failure of an in-flight request. Caller
// cancellation becomes ErrCancelled; everything else, deadlines included,
// is a network error.
func transportError(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) || errors.Is(err, context.Canceled) {
		return &Error{Kind: KindCancelled, Op: op, Cause: context.Canceled}
	}
	return &Error{Kind: KindNetwork, Op: op, Message: "request to " + op + " failed", Cause: err}
}
