// Package prompts implements the MCP prompt handlers for aimai.
//
// MCP prompts are user-triggered workflows (like slash commands) that
// instruct the AI to execute a specific sequence. Unlike tools (which
// the AI calls), prompts are initiated by the user.
package prompts

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// ChatPrompt handles the aimai-chat MCP prompt.
// It guides the host AI through the send/clarify loop: relay the user's
// message, surface any clarifying question, and repeat until resolved.
type ChatPrompt struct{}

// NewChatPrompt creates a ChatPrompt.
func NewChatPrompt() *ChatPrompt {
	return &ChatPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *ChatPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("aimai-chat",
		mcp.WithPromptDescription(
			"Chat through the ambiguity-aware dialogue engine. "+
				"Your message is assessed for vague wording; if it is unclear "+
				"you get one or two clarifying questions before the answer.",
		),
		mcp.WithArgument("message",
			mcp.ArgumentDescription("What you want to ask or say"),
		),
	)
}

// Handle processes the aimai-chat prompt request.
func (p *ChatPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	message := ""
	if args := req.Params.Arguments; args != nil {
		if m, ok := args["message"]; ok {
			message = m
		}
	}

	opening := "Ask me what I want to talk about, then send my answer with `chat_send`.\n\n"
	if message != "" {
		opening = fmt.Sprintf("Send my message with `chat_send`: %q\n\n", message)
	}

	return &mcp.GetPromptResult{
		Description: "Chat with clarification loop",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(
					opening +
						"Then:\n" +
						"1. Show me the reply. If the state is `clarifying`, the reply is a question about my wording. Present it to me as a question, not as an answer\n" +
						"2. Relay my answer with another `chat_send` call. Keep going until the state returns to `awaiting_input`\n" +
						"3. If I ask what was said earlier, use `chat_history`; to drop the thread and start over, use `chat_new`\n" +
						"4. Do not answer on my behalf. The clarifying questions are for me",
				),
			},
		},
	}, nil
}
