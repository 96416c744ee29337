// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"strings"
)

// ContextMode selects which memory sources the backend uses to ground a
// reply. The same vocabulary labels ContextInfo.Type.
type ContextMode string

const (
	ContextHybrid       ContextMode = "hybrid"
	ContextRecentOnly   ContextMode = "recent_only"
	ContextSemanticOnly ContextMode = "semantic_only"
	ContextNone         ContextMode = "none"

	// ContextUnknown only appears in ContextInfo.Type, when the backend
	// could not classify the context it built. It is not a valid mode.
	ContextUnknown ContextMode = "unknown"
)

// ContextModes lists the modes accepted by SetContextMode, in menu order.
var ContextModes = []ContextMode{ContextHybrid, ContextRecentOnly, ContextSemanticOnly, ContextNone}

// Valid reports whether m can be sent to the backend.
func (m ContextMode) Valid() bool {
	switch m {
	case ContextHybrid, ContextRecentOnly, ContextSemanticOnly, ContextNone:
		return true
	}
	return false
}

// Description returns a short explanation of the mode.
func (m ContextMode) Description() string {
	switch m {
	case ContextHybrid:
		return "recent history and semantic memories"
	case ContextRecentOnly:
		return "recent history only"
	case ContextSemanticOnly:
		return "semantic memories only"
	case ContextNone:
		return "no memory"
	case ContextUnknown:
		return "unclassified context"
	default:
		return string(m)
	}
}

// ParseContextMode parses a mode name. Matching ignores case and accepts
// the short forms "recent" and "semantic".
func ParseContextMode(s string) (ContextMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hybrid":
		return ContextHybrid, nil
	case "recent_only", "recent":
		return ContextRecentOnly, nil
	case "semantic_only", "semantic":
		return ContextSemanticOnly, nil
	case "none", "off":
		return ContextNone, nil
	}
	return "", fmt.Errorf("invalid context mode %q (valid: hybrid, recent_only, semantic_only, none)", s)
}

// ContextInfo describes which memory sources informed the latest reply.
// Sessions replace it wholesale; fields are never merged.
type ContextInfo struct {
	Type          ContextMode `json:"type"`
	RecentCount   int         `json:"recent_count"`
	SemanticCount int         `json:"semantic_count"`
	HasRecent     bool        `json:"has_recent"`
	HasSemantic   bool        `json:"has_semantic"`
}

// Summary renders the info on one line, e.g. "hybrid (3 recent, 2 memories)".
func (c ContextInfo) Summary() string {
	var parts []string
	if c.HasRecent {
		parts = append(parts, fmt.Sprintf("%d recent", c.RecentCount))
	}
	if c.HasSemantic {
		parts = append(parts, fmt.Sprintf("%d memories", c.SemanticCount))
	}
	if len(parts) == 0 {
		return string(c.Type)
	}
	return fmt.Sprintf("%s (%s)", c.Type, strings.Join(parts, ", "))
}
