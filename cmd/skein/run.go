package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/skein-ai/skein/internal/config"
	"github.com/skein-ai/skein/internal/observability"
	"github.com/skein-ai/skein/internal/runs"
)

func buildRunCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run <agent-id>",
		Short: "Run one agent immediately and wait for it to finish",
		Example: `  # Run the daily-news agent now
  skein run daily-news`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd, resolveConfigPath(configPath), args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func runOnce(cmd *cobra.Command, configPath, agentID string) error {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return err
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	slog.SetDefault(logger)

	application, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}
	defer application.mcp.DisconnectAll()

	meta, err := application.runner.Run(cmd.Context(), agentID, runs.TriggerManual)
	if err != nil {
		if meta != nil {
			fmt.Printf("Run %s failed: %s\n", meta.RunID, meta.Error)
		}
		return err
	}

	fmt.Printf("Run %s completed in %dms\n", meta.RunID, meta.DurationMs)
	if meta.Output != nil {
		fmt.Printf("Report: %s (%d chars)\n", meta.Output.Path, meta.Output.Chars)
	}
	return nil
}
