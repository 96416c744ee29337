// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package mockbackend

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jeranaias/memchat/internal/model"
)

// Prompt is what a Responder answers.
type Prompt struct {
	SessionID string
	Message   string
	Mode      model.ContextMode

	// Context is the formatted memory context ("" when none).
	Context string
	// Info is the analysis of Context.
	Info model.ContextInfo
	// Enhanced is Message wrapped with Context, as a language model would see it.
	Enhanced string
}

// Responder produces assistant replies. Model inference lives outside this
// backend; tests and local runs plug in simple responders.
type Responder interface {
	Respond(ctx context.Context, p Prompt) (string, error)
}

// ResponderFunc adapts a function to Responder.
type ResponderFunc func(ctx context.Context, p Prompt) (string, error)

// Respond calls f.
func (f ResponderFunc) Respond(ctx context.Context, p Prompt) (string, error) {
	return f(ctx, p)
}

// ErrEmptyResponse is reported when a responder returns only whitespace.
var ErrEmptyResponse = errors.New("empty response from responder")

// EchoResponder repeats the message back and says what memory it was given.
type EchoResponder struct{}

// Respond implements Responder.
func (EchoResponder) Respond(_ context.Context, p Prompt) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "You said: %s", p.Message)
	switch {
	case p.Info.RecentCount > 0 && p.Info.SemanticCount > 0:
		fmt.Fprintf(&b, " I recall %d recent messages and %d related conversations.", p.Info.RecentCount, p.Info.SemanticCount)
	case p.Info.RecentCount > 0:
		fmt.Fprintf(&b, " I recall %d recent messages from this conversation.", p.Info.RecentCount)
	case p.Info.SemanticCount > 0:
		fmt.Fprintf(&b, " This reminds me of %d earlier conversations.", p.Info.SemanticCount)
	}
	return b.String(), nil
}
