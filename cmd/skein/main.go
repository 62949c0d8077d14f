// Package main provides the CLI entry point for the Skein agent backend.
//
// Skein is a local-first chat and agent-automation server: it runs scheduled
// research agents against local models, fetches their sources through MCP
// tool servers, writes markdown reports, and serves a chat API over the same
// model runtime.
//
// # Basic Usage
//
// Start the server:
//
//	skein serve --config skein.yaml
//
// Run one agent immediately:
//
//	skein run daily-news
//
// # Environment Variables
//
//   - SKEIN_CONFIG: Path to configuration file (default: skein.yaml)
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skein",
		Short: "Local-first chat and agent automation backend",
		Long: `Skein runs scheduled research agents against local models.

Agents fetch their sources through MCP tool servers, generate markdown
reports with a local LLM, and deliver notifications when reports are ready.
The same server exposes a chat API over the model runtime.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		buildServeCmd(),
		buildRunCmd(),
		buildAgentsCmd(),
		buildVersionCmd(),
	)
	return cmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("skein %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

// resolveConfigPath applies the SKEIN_CONFIG fallback.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("SKEIN_CONFIG"); env != "" {
		return env
	}
	return "skein.yaml"
}
