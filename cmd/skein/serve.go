package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/skein-ai/skein/internal/agents"
	"github.com/skein-ai/skein/internal/config"
	"github.com/skein-ai/skein/internal/conversations"
	"github.com/skein-ai/skein/internal/cron"
	"github.com/skein-ai/skein/internal/debounce"
	"github.com/skein-ai/skein/internal/llm"
	"github.com/skein-ai/skein/internal/mcp"
	"github.com/skein-ai/skein/internal/observability"
	"github.com/skein-ai/skein/internal/runner"
	"github.com/skein-ai/skein/internal/runs"
	"github.com/skein-ai/skein/internal/secrets"
	"github.com/skein-ai/skein/internal/server"
)

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Skein server",
		Long: `Start the Skein server.

The server will:
1. Load configuration from the specified file (or skein.yaml)
2. Load agent definitions and rebuild the run schedule
3. Connect the LLM runtime client
4. Start the HTTP API with metrics and health endpoints

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  skein serve

  # Start with custom config
  skein serve --config /etc/skein/production.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath), debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

// app bundles the long-lived services for the serve command.
type app struct {
	cfg           *config.Config
	logger        *slog.Logger
	metrics       *observability.Metrics
	secrets       *secrets.Store
	mcp           *mcp.Manager
	llm           *llm.Client
	agents        *agents.Store
	runs          *runs.Store
	conversations *conversations.Store
	notifier      *runner.Notifier
	runner        *runner.Runner
	scheduler     *cron.Scheduler
}

func buildApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	metrics := observability.NewMetrics()

	secretStore, err := secrets.NewStore(cfg.MCP.SecretsPath)
	if err != nil {
		return nil, fmt.Errorf("secrets store: %w", err)
	}

	mcpManager := mcp.NewManager(secretStore, logger)
	if err := mcpManager.LoadConfig(cfg.MCP.ConfigPath); err != nil {
		return nil, fmt.Errorf("mcp config: %w", err)
	}

	llmClient := llm.NewClient(cfg.LLM, logger)

	agentStore, err := agents.NewStore(cfg.Agents.ConfigPath, logger)
	if err != nil {
		return nil, fmt.Errorf("agent store: %w", err)
	}

	runStore, err := runs.NewStore(cfg.Agents.DataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("run store: %w", err)
	}

	convStore, err := conversations.NewStore(cfg.Conversations.DataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("conversation store: %w", err)
	}

	notifier := runner.NewNotifier(cfg.Notify, cfg.Server.BaseURL, secretStore, logger)
	fetcher := runner.NewFetcher(mcpManager, logger)
	agentRunner := runner.New(agentStore, runStore, llmClient, fetcher, notifier, metrics, logger)

	scheduler := cron.NewScheduler(func(ctx context.Context, agentID string) error {
		if _, err := agentRunner.Run(ctx, agentID, runs.TriggerScheduled); err != nil {
			logger.Error("scheduled run failed", "agent_id", agentID, "error", err)
			return err
		}
		return nil
	}, logger)
	scheduler.ScheduleAll(agentStore)

	return &app{
		cfg:           cfg,
		logger:        logger,
		metrics:       metrics,
		secrets:       secretStore,
		mcp:           mcpManager,
		llm:           llmClient,
		agents:        agentStore,
		runs:          runStore,
		conversations: convStore,
		notifier:      notifier,
		runner:        agentRunner,
		scheduler:     scheduler,
	}, nil
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return err
	}
	if debug {
		cfg.Logging.Level = "debug"
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

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application.scheduler.Start(ctx)

	if cfg.Agents.WatchConfig {
		watcher, werr := watchAgentConfig(ctx, application)
		if werr != nil {
			logger.Warn("config watch disabled", "error", werr)
		} else {
			defer watcher.Close()
		}
	}

	srv := server.New(server.Deps{
		Config:        cfg,
		Agents:        application.agents,
		Runs:          application.runs,
		Runner:        application.runner,
		Scheduler:     application.scheduler,
		Conversations: application.conversations,
		LLM:           application.llm,
		MCP:           application.mcp,
		Secrets:       application.secrets,
		Notifier:      application.notifier,
		Metrics:       application.metrics,
		Logger:        logger,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	if err := application.scheduler.Stop(shutdownCtx); err != nil {
		logger.Warn("scheduler stop", "error", err)
	}
	application.mcp.DisconnectAll()
	return nil
}

// watchAgentConfig reloads the agent store and rebuilds the schedule whenever
// agents.yaml changes on disk. Editors often replace the file, so the watch
// is on the parent directory and filtered by name.
func watchAgentConfig(ctx context.Context, application *app) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	configPath, err := filepath.Abs(application.cfg.Agents.ConfigPath)
	if err != nil {
		watcher.Close()
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(configPath)); err != nil {
		watcher.Close()
		return nil, err
	}

	logger := application.logger.With("component", "configwatch")
	// Editors fire several events per save; reload once per burst.
	reload := debounce.New(250*time.Millisecond, func() {
		if err := application.agents.Reload(); err != nil {
			logger.Error("agent config reload failed", "error", err)
			return
		}
		application.scheduler.ScheduleAll(application.agents)
		logger.Info("agent config reloaded", "path", configPath)
	})

	go func() {
		defer reload.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != configPath {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				reload.Fire()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config watch error", "error", err)
			}
		}
	}()
	return watcher, nil
}
