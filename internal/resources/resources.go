// Package resources implements the MCP resource handlers for aimai.
//
// Resources provide read-only data that the host can consume for context.
// They use URI-based addressing (aimai://...) following MCP conventions.
package resources

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/aimai-dev/aimai/internal/conversation"
)

// Handler manages aimai resource endpoints.
type Handler struct {
	store conversation.Store
}

// NewHandler creates a resource Handler with its dependencies.
func NewHandler(store conversation.Store) *Handler {
	return &Handler{store: store}
}

// CurrentResource returns the MCP resource definition for the active
// conversation.
func (h *Handler) CurrentResource() mcp.Resource {
	return mcp.NewResource(
		"aimai://conversation/current",
		"Current Conversation",
		mcp.WithResourceDescription("The active conversation: turns, assessments, and dialogue state"),
		mcp.WithMIMEType("application/json"),
	)
}

// HandleCurrent returns the active conversation as JSON.
func (h *Handler) HandleCurrent(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	conv, err := h.store.Current(ctx)
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}

	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling conversation: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// ListResource returns the MCP resource definition for the conversation
// index.
func (h *Handler) ListResource() mcp.Resource {
	return mcp.NewResource(
		"aimai://conversations",
		"Conversation Index",
		mcp.WithResourceDescription("Summaries of every stored conversation, newest first"),
		mcp.WithMIMEType("application/json"),
	)
}

// HandleList returns the summaries of all stored conversations as JSON.
func (h *Handler) HandleList(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	summaries, err := h.store.List(ctx)
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}
	if summaries == nil {
		summaries = []conversation.Summary{}
	}

	data, err := json.MarshalIndent(summaries, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling summaries: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// errorResource returns a resource with an error message.
func errorResource(uri, message string) []mcp.ResourceContents {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "text/plain",
			Text:     fmt.Sprintf("Error: %s", message),
		},
	}
}
