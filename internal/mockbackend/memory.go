// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package mockbackend

import (
	"context"
	"fmt"
	"strings"

	"github.com/jeranaias/memchat/internal/model"
)

// Retrieval limits.
const (
	RecentExchanges  = 5
	SemanticMemories = 3
)

// Context section markers. AnalyzeContext relies on them.
const (
	RecentMarker   = "RECENT CONVERSATION HISTORY"
	MemoriesMarker = "RELEVANT MEMORIES"

	recentHeader   = "📚 **" + RecentMarker + "**"
	memoriesHeader = "🧠 **" + MemoriesMarker + " FROM PREVIOUS CONVERSATIONS**"
	userPrefix     = "🙋 **User:** "
	assistantPref  = "🤖 **Assistant:** "
	memoryPrefix   = "**Memory"
	rule           = "=================================================="
)

// RetrieveContext builds the memory context for a message in sessionID.
// The mode picks which sections are included; none yields "".
func (s *Store) RetrieveContext(ctx context.Context, sessionID, query string, mode model.ContextMode) (string, error) {
	var (
		recent   []HistoryEntry
		memories []Memory
		err      error
	)
	withRecent := mode == model.ContextHybrid || mode == model.ContextRecentOnly
	withSemantic := mode == model.ContextHybrid || mode == model.ContextSemanticOnly
	if !withRecent && !withSemantic {
		return "", nil
	}

	if withRecent {
		if recent, err = s.RecentHistory(ctx, sessionID, RecentExchanges); err != nil {
			return "", fmt.Errorf("recent history: %w", err)
		}
	}
	if withSemantic {
		if memories, err = s.SemanticMemories(ctx, query, SemanticMemories, sessionID); err != nil {
			return "", fmt.Errorf("semantic recall: %w", err)
		}
	}
	return FormatContext(recent, memories, withRecent, withSemantic), nil
}

// FormatContext renders the context sections. An included section with no
// entries still gets its header and a placeholder line.
func FormatContext(recent []HistoryEntry, memories []Memory, withRecent, withSemantic bool) string {
	var parts []string

	if withRecent {
		parts = append(parts, recentHeader)
		if len(recent) == 0 {
			parts = append(parts, "(No recent history available)", "")
		} else {
			parts = append(parts, rule)
			for _, e := range recent {
				if e.Sender == model.SenderUser {
					parts = append(parts, userPrefix+e.Text)
				} else {
					parts = append(parts, assistantPref+e.Text)
				}
				parts = append(parts, "")
			}
		}
	}

	if withSemantic {
		parts = append(parts, memoriesHeader)
		if len(memories) == 0 {
			parts = append(parts, "(No relevant memories found)", "")
		} else {
			parts = append(parts, rule)
			for i, m := range memories {
				parts = append(parts,
					fmt.Sprintf("%s %d** (Session: %s)", memoryPrefix, i+1, m.SessionID),
					userPrefix+m.UserMessage,
					assistantPref+m.AssistantMessage,
					"")
			}
		}
	}

	return strings.Join(parts, "\n")
}

// AnalyzeContext derives ContextInfo from a formatted context. Recent
// entries are counted by user lines before the memories section; memories
// by their headings.
func AnalyzeContext(text string) model.ContextInfo {
	info := model.ContextInfo{Type: model.ContextUnknown}
	if text == "" {
		info.Type = model.ContextNone
		return info
	}

	before, after, hasMemories := strings.Cut(text, MemoriesMarker)
	if strings.Contains(text, RecentMarker) {
		info.HasRecent = true
		info.RecentCount = strings.Count(before, userPrefix)
	}
	if hasMemories {
		info.HasSemantic = true
		info.SemanticCount = strings.Count(after, memoryPrefix)
	}

	switch {
	case info.HasRecent && info.HasSemantic:
		info.Type = model.ContextHybrid
	case info.HasRecent:
		info.Type = model.ContextRecentOnly
	case info.HasSemantic:
		info.Type = model.ContextSemanticOnly
	}
	return info
}

// BuildPrompt wraps message with its memory context for the responder.
func BuildPrompt(message, memory string, mode model.ContextMode) string {
	if memory == "" || mode == model.ContextNone {
		return message
	}
	return "MEMORY CONTEXT:\n" + memory +
		"\n\n---\n\nCURRENT USER MESSAGE:\n" + message +
		"\n\n---\n\nINSTRUCTIONS:\n" +
		"- Use the memory context above to give personal, consistent answers\n" +
		"- Refer to relevant history naturally\n" +
		"- If nothing in the context is relevant, answer the current message normally"
}
