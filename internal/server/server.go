// Package server exposes the HTTP API: agent management, runs, chat,
// conversations, models, tool connections, and notification settings.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skein-ai/skein/internal/agents"
	"github.com/skein-ai/skein/internal/config"
	"github.com/skein-ai/skein/internal/conversations"
	"github.com/skein-ai/skein/internal/cron"
	"github.com/skein-ai/skein/internal/llm"
	"github.com/skein-ai/skein/internal/mcp"
	"github.com/skein-ai/skein/internal/observability"
	"github.com/skein-ai/skein/internal/runner"
	"github.com/skein-ai/skein/internal/runs"
	"github.com/skein-ai/skein/internal/secrets"
)

// Server wires the HTTP API over the application services.
type Server struct {
	config        *config.Config
	agents        *agents.Store
	runs          *runs.Store
	runner        *runner.Runner
	scheduler     *cron.Scheduler
	conversations *conversations.Store
	llm           *llm.Client
	mcp           *mcp.Manager
	secrets       *secrets.Store
	notifier      *runner.Notifier
	metrics       *observability.Metrics
	logger        *slog.Logger

	httpServer *http.Server
	streams    *streamRegistry
}

// Deps carries the services the server needs.
type Deps struct {
	Config        *config.Config
	Agents        *agents.Store
	Runs          *runs.Store
	Runner        *runner.Runner
	Scheduler     *cron.Scheduler
	Conversations *conversations.Store
	LLM           *llm.Client
	MCP           *mcp.Manager
	Secrets       *secrets.Store
	Notifier      *runner.Notifier
	Metrics       *observability.Metrics
	Logger        *slog.Logger
}

// New creates the server. Missing optional deps (scheduler, metrics,
// notifier) are tolerated; their endpoints degrade gracefully.
func New(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:        deps.Config,
		agents:        deps.Agents,
		runs:          deps.Runs,
		runner:        deps.Runner,
		scheduler:     deps.Scheduler,
		conversations: deps.Conversations,
		llm:           deps.LLM,
		mcp:           deps.MCP,
		secrets:       deps.Secrets,
		notifier:      deps.Notifier,
		metrics:       deps.Metrics,
		logger:        logger.With("component", "server"),
		streams:       newStreamRegistry(),
	}
}

// Routes builds the request mux.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	}

	// Agents and runs.
	mux.HandleFunc("GET /api/agents", s.handleListAgents)
	mux.HandleFunc("POST /api/agents", s.handleCreateAgent)
	mux.HandleFunc("GET /api/agents/scheduler/status", s.handleSchedulerStatus)
	mux.HandleFunc("GET /api/agents/{id}", s.handleGetAgent)
	mux.HandleFunc("GET /api/agents/{id}/config", s.handleGetAgentConfig)
	mux.HandleFunc("PUT /api/agents/{id}", s.handleUpdateAgent)
	mux.HandleFunc("DELETE /api/agents/{id}", s.handleDeleteAgent)
	mux.HandleFunc("POST /api/agents/{id}/run", s.handleTriggerRun)
	mux.HandleFunc("GET /api/agents/{id}/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/agents/{id}/runs/{run_id}", s.handleGetRun)
	mux.HandleFunc("GET /api/agents/{id}/runs/{run_id}/report", s.handleGetReport)
	mux.HandleFunc("POST /api/agents/{id}/runs/{run_id}/context", s.handleAddToContext)

	// Chat.
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/chat/stream", s.handleChatStream)
	mux.HandleFunc("POST /api/chat/stop", s.handleChatStop)

	// Conversations.
	mux.HandleFunc("GET /api/conversations", s.handleListConversations)
	mux.HandleFunc("POST /api/conversations", s.handleCreateConversation)
	mux.HandleFunc("POST /api/conversations/import", s.handleImportConversation)
	mux.HandleFunc("GET /api/conversations/{id}", s.handleGetConversation)
	mux.HandleFunc("PUT /api/conversations/{id}", s.handleUpdateConversation)
	mux.HandleFunc("DELETE /api/conversations/{id}", s.handleDeleteConversation)
	mux.HandleFunc("POST /api/conversations/{id}/messages", s.handleAddMessage)
	mux.HandleFunc("GET /api/conversations/{id}/export", s.handleExportConversation)

	// Models.
	mux.HandleFunc("GET /api/models", s.handleListModels)
	mux.HandleFunc("GET /api/models/{id}", s.handleGetModel)

	// Tool servers.
	mux.HandleFunc("GET /api/mcp/servers", s.handleListServers)
	mux.HandleFunc("GET /api/mcp/servers/{id}", s.handleGetServer)
	mux.HandleFunc("POST /api/mcp/servers/{id}/connect", s.handleConnectServer)
	mux.HandleFunc("POST /api/mcp/servers/{id}/disconnect", s.handleDisconnectServer)
	mux.HandleFunc("GET /api/mcp/tools", s.handleListTools)
	mux.HandleFunc("POST /api/mcp/tools/call", s.handleCallTool)
	mux.HandleFunc("POST /api/mcp/secrets", s.handleSetSecret)
	mux.HandleFunc("DELETE /api/mcp/secrets/{key}", s.handleDeleteSecret)

	// Settings.
	mux.HandleFunc("GET /api/settings/notifications", s.handleGetNotifications)
	mux.HandleFunc("POST /api/settings/notifications", s.handleUpdateNotifications)
	mux.HandleFunc("DELETE /api/settings/notifications", s.handleDeleteNotifications)
	mux.HandleFunc("POST /api/settings/notifications/test", s.handleTestNotification)

	return s.withRequestLog(mux)
}

// Start begins serving until ListenAndServe returns. It blocks.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}

	s.logger.Info("starting http server", "addr", addr)
	if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.streams.stopAll()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// withRequestLog logs each request at debug level.
func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration_ms", time.Since(start).Milliseconds())
	})
}
