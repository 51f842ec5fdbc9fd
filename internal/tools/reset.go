package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/aimai-dev/aimai/internal/dialogue"
)

// ResetTool handles the chat_new MCP tool.
type ResetTool struct {
	manager *dialogue.Manager
}

// NewResetTool creates a ResetTool with the given manager.
func NewResetTool(manager *dialogue.Manager) *ResetTool {
	return &ResetTool{manager: manager}
}

// Definition returns the MCP tool definition for chat_new.
func (t *ResetTool) Definition() mcp.Tool {
	return mcp.NewTool("chat_new",
		mcp.WithDescription(
			"Start a fresh conversation and make it the active one. Prior conversations "+
				"are kept and stay reachable through chat_history and chat_search.",
		),
	)
}

// Handle processes the chat_new tool call.
func (t *ResetTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	conv, err := t.manager.StartNew(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to start a conversation: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Started a fresh conversation: %s", conv.ID)), nil
}
