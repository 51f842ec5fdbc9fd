package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/aimai-dev/aimai/internal/conversation"
)

// SearchTool handles the chat_search MCP tool.
type SearchTool struct {
	store conversation.Store
}

// NewSearchTool creates a SearchTool with the given store.
func NewSearchTool(store conversation.Store) *SearchTool {
	return &SearchTool{store: store}
}

// Definition returns the MCP tool definition for chat_search.
func (t *SearchTool) Definition() mcp.Tool {
	return mcp.NewTool("chat_search",
		mcp.WithDescription(
			"Full-text search across the turns of every stored conversation. "+
				"Use this to find what was said about a topic in past exchanges.",
		),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search query, matched case-insensitively against turn content"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Max results (default: 10)"),
		),
	)
}

// Handle processes the chat_search tool call.
func (t *SearchTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := req.GetString("query", "")
	if query == "" {
		return mcp.NewToolResultError("'query' is required"), nil
	}
	limit := intArg(req, "limit", 10)

	matches, err := t.store.Search(ctx, query, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}

	if len(matches) == 0 {
		return mcp.NewToolResultText("No turns found matching your query."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d matching turns:\n\n", len(matches))
	for i, m := range matches {
		fmt.Fprintf(&b, "[%d] (conversation %s, %s) %s\n",
			i+1, m.ConversationID, m.Turn.Role, truncate(m.Turn.Content, 300))
	}

	return mcp.NewToolResultText(b.String()), nil
}
