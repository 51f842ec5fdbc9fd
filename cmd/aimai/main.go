// aimai: ambiguity-aware dialogue engine.
//
// The engine holds short clarification dialogues: vague requests get a
// clarifying question, clear ones get a generated answer. It serves the
// same dialogue loop over two transports.
//
// Usage:
//
//	aimai serve     # Start the HTTP chat server
//	aimai mcp       # Start the MCP server (stdio transport)
//	aimai version   # Print the version
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aimai-dev/aimai/internal/config"
	"github.com/aimai-dev/aimai/internal/server"
	"github.com/aimai-dev/aimai/internal/web"
)

var (
	// Global flags
	configPath string
	verbose    bool

	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "aimai",
	Short: "aimai - ambiguity-aware dialogue engine",
	Long: `aimai is a conversational engine that resolves ambiguity before answering.

Incoming messages are scored against wording heuristics: demonstratives
without an antecedent ("fix that"), vague goals ("make it nicer"), unclear
quantities ("clean up some of these"). Ambiguous messages get a clarifying
question; clear ones get an answer enriched with the conversation's topic
hints. After at most two rounds of questions the engine always answers.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Production config logs to stderr, keeping stdout clean for
		// the MCP stdio transport.
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// serveCmd starts the HTTP chat server
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP chat server",
	Long: `Starts the HTTP chat server.

Endpoints:
  POST /api/message           Send a message, get the reply and state
  GET  /api/conversation      The current conversation record
  POST /api/conversation/new  Start a fresh conversation

The listen address comes from http_addr in the config file (default :8087)
or the AIMAI_HTTP_ADDR environment variable.`,
	RunE: runServe,
}

// mcpCmd starts the MCP server on stdio
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the MCP server (stdio transport)",
	Long: `Starts the MCP server on the stdio transport.

Add to your AI tool's MCP config:

  {
    "mcpServers": {
      "aimai": {
        "command": "aimai",
        "args": ["mcp"]
      }
    }
  }`,
	RunE: runMCP,
}

// versionCmd prints the build version
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the aimai version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("aimai v%s\n", server.Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: ~/.aimai/aimai.json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	rt, cleanup, err := server.NewRuntime(cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing runtime: %w", err)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return web.NewServer(rt.Manager, logger).Run(ctx, cfg.HTTPAddr)
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	s, cleanup, err := server.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	defer cleanup()

	return mcpserver.ServeStdio(s)
}
