// Package main is the CLI entry point for the shepherd conversation
// engine.
//
// Shepherd routes conversations between specialized AI agents backed by
// MCP tool servers, with history compaction, gated tool execution and
// durable approval suspensions.
//
// # Basic Usage
//
// Start the server:
//
//	shepherd serve --config shepherd.yaml
//
// List configured agents:
//
//	shepherd agents --config shepherd.yaml
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "shepherd",
		Short: "Shepherd - multi-agent conversation engine",
		Long: `Shepherd orchestrates conversations across specialized AI agents.

Each agent pairs a model provider with an MCP tool server. An LLM router
picks the agent per turn, destructive tool calls suspend for human
approval, and long histories are compacted into rolling summaries.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildAgentsCmd(),
	)

	return rootCmd
}
