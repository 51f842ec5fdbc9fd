package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/aimai-dev/aimai/internal/dialogue"
)

// SendTool handles the chat_send MCP tool.
type SendTool struct {
	manager *dialogue.Manager
}

// NewSendTool creates a SendTool with the given dialogue manager.
func NewSendTool(manager *dialogue.Manager) *SendTool {
	return &SendTool{manager: manager}
}

// Definition returns the MCP tool definition for chat_send.
func (t *SendTool) Definition() mcp.Tool {
	return mcp.NewTool("chat_send",
		mcp.WithDescription(
			"Send a user message to the aimai dialogue engine. Ambiguous messages get a "+
				"clarifying question back (at most two rounds per exchange); clear messages and "+
				"answers to a pending question get a real answer from the configured backend.",
		),
		mcp.WithString("message",
			mcp.Required(),
			mcp.Description("The user's message text"),
		),
		mcp.WithString("conversation_id",
			mcp.Description("Conversation to continue (default: the active conversation; an unknown id starts a fresh conversation under that id)"),
		),
	)
}

// Handle processes the chat_send tool call.
func (t *SendTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	message := req.GetString("message", "")
	if message == "" {
		return mcp.NewToolResultError("'message' is required"), nil
	}
	conversationID := req.GetString("conversation_id", "")

	reply, err := t.manager.HandleUserMessage(ctx, conversationID, message)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to handle message: %v", err)), nil
	}

	response := reply.Text
	response += fmt.Sprintf("\n\nConversation: %s\nState: %s", reply.ConversationID, reply.State)
	if reply.Round > 0 {
		response += fmt.Sprintf("\nClarification round: %d", reply.Round)
	}

	return mcp.NewToolResultText(response), nil
}
