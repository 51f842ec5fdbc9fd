package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/aimai-dev/aimai/internal/conversation"
)

// HistoryTool handles the chat_history MCP tool.
type HistoryTool struct {
	store conversation.Store
}

// NewHistoryTool creates a HistoryTool with the given store.
func NewHistoryTool(store conversation.Store) *HistoryTool {
	return &HistoryTool{store: store}
}

// Definition returns the MCP tool definition for chat_history.
func (t *HistoryTool) Definition() mcp.Tool {
	return mcp.NewTool("chat_history",
		mcp.WithDescription(
			"Show the turns of a conversation, including the ambiguity assessment "+
				"recorded on each user turn.",
		),
		mcp.WithString("conversation_id",
			mcp.Description("Conversation to show (default: the active conversation)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Max turns to show, counted from the end (default: 20)"),
		),
	)
}

// Handle processes the chat_history tool call.
func (t *HistoryTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("conversation_id", "")
	limit := intArg(req, "limit", 20)

	var conv conversation.Conversation
	var err error
	if id == "" {
		conv, err = t.store.Current(ctx)
	} else {
		conv, err = t.store.Load(ctx, id)
	}
	if errors.Is(err, conversation.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("conversation %q not found", id)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load conversation: %v", err)), nil
	}

	total := len(conv.Turns)
	turns := conv.Turns
	if limit > 0 && total > limit {
		turns = turns[total-limit:]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Conversation %s (%d turns, state %s, round %d)\n",
		conv.ID, total, conv.Metadata.State, conv.Metadata.ClarificationRound)
	if total == 0 {
		b.WriteString("\nNo turns yet.")
		return mcp.NewToolResultText(b.String()), nil
	}
	if len(turns) < total {
		fmt.Fprintf(&b, "Showing the last %d of %d turns.\n", len(turns), total)
	}
	b.WriteString("\n")

	start := total - len(turns)
	for i, turn := range turns {
		fmt.Fprintf(&b, "[%d] %s: %s\n", start+i+1, turn.Role, turn.Content)
		if a := turn.Assessment; a != nil && a.Score > 0 {
			fmt.Fprintf(&b, "    ambiguity %.2f (%s)", a.Score, joinCategories(a.Categories))
			if len(a.MatchedCues) > 0 {
				fmt.Fprintf(&b, " | cues: %s", strings.Join(a.MatchedCues, ", "))
			}
			b.WriteString("\n")
		}
	}

	return mcp.NewToolResultText(b.String()), nil
}
