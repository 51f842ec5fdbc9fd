// Package tools implements the MCP tool handlers for the aimai dialogue
// engine.
//
// Each tool handler follows the same pattern:
// - A struct with dependencies (conversation.Store, dialogue.Manager)
//   injected via constructor
// - Definition() returns the mcp.Tool schema
// - Handle() processes the request and returns a result
package tools

import (
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/aimai-dev/aimai/internal/conversation"
)

// intArg extracts an integer argument from a tool request, returning
// defaultVal if the key is missing or not a number (JSON numbers are float64).
func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(v)
}

// truncate shortens s to at most n runes, appending an ellipsis when cut.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}

func joinCategories(cats []conversation.Category) string {
	parts := make([]string, len(cats))
	for i, c := range cats {
		parts[i] = string(c)
	}
	return strings.Join(parts, ", ")
}
