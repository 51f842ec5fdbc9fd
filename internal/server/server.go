// Package server wires all aimai components and creates the MCP server.
//
// This is the composition root: it creates concrete implementations and
// injects them into the tools, prompts, resources, and transports that
// depend on abstractions. No dialogue logic lives here, only wiring.
package server

import (
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/aimai-dev/aimai/internal/assess"
	"github.com/aimai-dev/aimai/internal/backend"
	"github.com/aimai-dev/aimai/internal/compose"
	"github.com/aimai-dev/aimai/internal/config"
	"github.com/aimai-dev/aimai/internal/conversation"
	"github.com/aimai-dev/aimai/internal/dialogue"
	"github.com/aimai-dev/aimai/internal/prompts"
	"github.com/aimai-dev/aimai/internal/resources"
	"github.com/aimai-dev/aimai/internal/tools"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Runtime bundles the long-lived subsystems shared by every transport.
// The MCP server and the HTTP server are both built on top of one Runtime.
type Runtime struct {
	Config  config.Config
	Store   conversation.Store
	Manager *dialogue.Manager
}

// NewRuntime initializes storage, the generative backend, and the dialogue
// manager from cfg.
//
// The returned cleanup function closes the conversation store and must be
// called on shutdown (typically via defer). It is always non-nil and safe
// to call even when initialization failed.
func NewRuntime(cfg config.Config, logger *zap.Logger) (*Runtime, func(), error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	store, err := newStore(cfg, logger)
	if err != nil {
		return nil, noop, err
	}
	cleanup := func() {
		if err := store.Close(); err != nil {
			logger.Warn("closing conversation store", zap.Error(err))
		}
	}

	manager := dialogue.New(
		store,
		assess.New(nil, cfg.Normalization),
		compose.New(nil),
		newGenerator(cfg, logger),
		dialogue.Options{
			Threshold:      cfg.Threshold,
			MaxRounds:      cfg.MaxRounds,
			RecentWindow:   cfg.RecentWindow,
			TopicHintLimit: cfg.TopicHints,
			BackendTimeout: cfg.Timeout(),
		},
		logger,
	)

	return &Runtime{Config: cfg, Store: store, Manager: manager}, cleanup, nil
}

// New creates and configures the MCP server with all tools, prompts, and
// resources registered. This is the single place where all dependencies
// are resolved for the stdio transport.
func New(cfg config.Config, logger *zap.Logger) (*server.MCPServer, func(), error) {
	rt, cleanup, err := NewRuntime(cfg, logger)
	if err != nil {
		return nil, cleanup, err
	}

	// --- Create the MCP server ---

	s := server.NewMCPServer(
		"aimai",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)

	// --- Register chat tools ---

	sendTool := tools.NewSendTool(rt.Manager)
	s.AddTool(sendTool.Definition(), sendTool.Handle)

	resetTool := tools.NewResetTool(rt.Manager)
	s.AddTool(resetTool.Definition(), resetTool.Handle)

	historyTool := tools.NewHistoryTool(rt.Store)
	s.AddTool(historyTool.Definition(), historyTool.Handle)

	searchTool := tools.NewSearchTool(rt.Store)
	s.AddTool(searchTool.Definition(), searchTool.Handle)

	// --- Register prompts ---

	chatPrompt := prompts.NewChatPrompt()
	s.AddPrompt(chatPrompt.Definition(), chatPrompt.Handle)

	// --- Register resources ---

	resourceHandler := resources.NewHandler(rt.Store)
	s.AddResource(resourceHandler.CurrentResource(), resourceHandler.HandleCurrent)
	s.AddResource(resourceHandler.ListResource(), resourceHandler.HandleList)

	return s, cleanup, nil
}

// newStore creates the conversation store named by cfg.Storage.
//
// Storage is an independent subsystem: if SQLite fails to open, the server
// still comes up on the file store. We log a warning and degrade rather
// than refuse to start over a locked or unreadable database file.
func newStore(cfg config.Config, logger *zap.Logger) (conversation.Store, error) {
	if cfg.Storage == config.StorageSQLite {
		store, err := conversation.NewSQLiteStore(cfg.DataDir, logger)
		if err == nil {
			return store, nil
		}
		logger.Warn("sqlite store unavailable, falling back to file store",
			zap.String("data_dir", cfg.DataDir),
			zap.Error(err))
	}
	return conversation.NewFileStore(cfg.DataDir)
}

// newGenerator creates the generative backend named by cfg.Backend.
// The Anthropic backend without an API key degrades to the canned backend
// so the dialogue loop stays usable offline.
func newGenerator(cfg config.Config, logger *zap.Logger) backend.Generator {
	if cfg.Backend == config.BackendAnthropic {
		if cfg.APIKey == "" {
			logger.Warn("ANTHROPIC_API_KEY is not set, using the canned backend")
			return backend.NewCanned()
		}
		return backend.NewAnthropic(backend.AnthropicConfig{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			Timeout: cfg.Timeout(),
		}, logger)
	}
	return backend.NewCanned()
}

// noop is a no-op cleanup function used as the default when initialization
// fails before the store exists.
func noop() {}

// serverInstructions returns the system instructions that tell the host AI
// how to drive the clarification loop.
func serverInstructions() string {
	return `You have access to aimai, a dialogue engine that detects ambiguous
requests and asks clarifying questions before answering.

## How it works

Every message sent with chat_send is scored for ambiguity: demonstratives
without a clear antecedent ("fix that"), vague goals ("make it nicer"),
unclear quantities ("clean up some of these"), and similar wording raise
the score. Above the threshold the engine replies with a clarifying
question instead of an answer. After at most two rounds of questions it
answers with its best interpretation, so the loop always terminates.

The response reports the conversation state:
- awaiting_input: the reply is an answer; the engine is ready for the
  next topic
- clarifying: the reply is a question about the user's wording; the
  engine is waiting for their answer

## Rules for driving the loop

1. Relay user messages verbatim with chat_send. Do not pre-reword them:
   the ambiguity assessment is the point.
2. When the state is clarifying, present the question TO THE USER and send
   their answer with another chat_send call. Never answer a clarifying
   question on the user's behalf.
3. Reuse the conversation id the response reports. Omitting it continues
   the active conversation, which is usually what you want.
4. Use chat_history when the user asks what was said earlier, and
   chat_search to find past turns across conversations.
5. Use chat_new when the user changes topic completely or asks to start
   over. Clarification context carries over within a conversation, so a
   stale conversation makes questions worse, not better.

## Resources

aimai://conversation/current holds the active conversation as JSON,
including per-turn ambiguity assessments. Read it when you need the raw
scores or the full metadata rather than the rendered history.

aimai://conversations lists summaries of every stored conversation
(id, state, turn count, active flag), newest first.`
}
