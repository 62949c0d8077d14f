package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// SecretResolver looks up a secret by key for server env expansion.
type SecretResolver interface {
	Get(key string) string
	Has(key string) bool
}

// Manager owns at most one live connection per configured server. Connect is
// idempotent: connecting an already-connected server succeeds immediately.
type Manager struct {
	logger  *slog.Logger
	secrets SecretResolver

	mu      sync.RWMutex
	servers map[string]*ServerConfig
	conns   map[string]*connection

	// connecting serializes Connect per server id so concurrent callers
	// cannot each spawn a subprocess; the loser would leak its process.
	connecting map[string]*sync.Mutex
}

type connection struct {
	client  *Client
	status  Status
	lastErr string
}

// managerConfig is the on-disk shape of mcp.yaml.
type managerConfig struct {
	Servers map[string]*ServerConfig `yaml:"servers"`
}

// NewManager creates a manager with no configured servers.
func NewManager(secrets SecretResolver, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger:     logger.With("component", "mcp"),
		secrets:    secrets,
		servers:    make(map[string]*ServerConfig),
		conns:      make(map[string]*connection),
		connecting: make(map[string]*sync.Mutex),
	}
}

// LoadConfig reads server definitions from a YAML file. A missing file is
// not an error; the manager simply has no servers.
func (m *Manager) LoadConfig(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		m.logger.Warn("mcp config not found", "path", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read mcp config: %w", err)
	}

	var cfg managerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse mcp config: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, server := range cfg.Servers {
		if server == nil {
			continue
		}
		server.ID = id
		if server.Name == "" {
			server.Name = id
		}
		if err := server.Validate(); err != nil {
			m.logger.Warn("skipping invalid server config", "server", id, "error", err)
			continue
		}
		m.servers[id] = server
	}
	m.logger.Info("loaded tool server configurations", "count", len(m.servers))
	return nil
}

// Servers returns the configured server list, sorted by id.
func (m *Manager) Servers() []*ServerConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*ServerConfig, 0, len(m.servers))
	for _, s := range m.servers {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ConnectionStatus returns the state of a server connection.
func (m *Manager) ConnectionStatus(serverID string) Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.conns[serverID]
	if !ok {
		return StatusDisconnected
	}
	return conn.status
}

// ConnectionError returns the last connection error for a server, if any.
func (m *Manager) ConnectionError(serverID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if conn, ok := m.conns[serverID]; ok {
		return conn.lastErr
	}
	return ""
}

// Connect establishes a connection to a server by id. Already connected is
// success.
func (m *Manager) Connect(ctx context.Context, serverID string) error {
	m.mu.Lock()
	cfg, ok := m.servers[serverID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("unknown server: %s", serverID)
	}
	if !cfg.Enabled {
		m.mu.Unlock()
		return fmt.Errorf("server %s is disabled", serverID)
	}
	lock, ok := m.connecting[serverID]
	if !ok {
		lock = &sync.Mutex{}
		m.connecting[serverID] = lock
	}
	m.mu.Unlock()

	// A concurrent caller for the same server waits here and then observes
	// the established connection.
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	if conn, exists := m.conns[serverID]; exists && conn.status == StatusConnected && conn.client.Connected() {
		m.mu.Unlock()
		return nil
	}
	conn := &connection{status: StatusConnecting}
	m.conns[serverID] = conn
	m.mu.Unlock()

	env := buildEnv(cfg, func(key string) (string, bool) {
		if m.secrets == nil || !m.secrets.Has(key) {
			return "", false
		}
		return m.secrets.Get(key), true
	})
	client := newClient(cfg, env, m.logger)

	if err := client.Connect(ctx); err != nil {
		m.mu.Lock()
		conn.status = StatusError
		conn.lastErr = err.Error()
		m.mu.Unlock()
		return fmt.Errorf("connect %s: %w", serverID, err)
	}

	m.mu.Lock()
	conn.client = client
	conn.status = StatusConnected
	conn.lastErr = ""
	m.mu.Unlock()
	return nil
}

// Disconnect closes a server connection. Disconnecting an unknown or already
// disconnected server is a no-op.
func (m *Manager) Disconnect(serverID string) error {
	m.mu.Lock()
	conn, ok := m.conns[serverID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.conns, serverID)
	m.mu.Unlock()

	if conn.client != nil {
		if err := conn.client.Close(); err != nil {
			return err
		}
	}
	m.logger.Info("disconnected from tool server", "server", serverID)
	return nil
}

// DisconnectAll closes every live connection, for shutdown.
func (m *Manager) DisconnectAll() {
	m.mu.Lock()
	conns := m.conns
	m.conns = make(map[string]*connection)
	m.mu.Unlock()

	for id, conn := range conns {
		if conn.client != nil {
			if err := conn.client.Close(); err != nil {
				m.logger.Error("failed to close tool server", "server", id, "error", err)
			}
		}
	}
}

// Tools returns the cached tool list for a connected server.
func (m *Manager) Tools(serverID string) []*Tool {
	m.mu.RLock()
	conn, ok := m.conns[serverID]
	m.mu.RUnlock()
	if !ok || conn.client == nil {
		return nil
	}
	return conn.client.Tools()
}

// CallTool invokes a tool on a connected server.
func (m *Manager) CallTool(ctx context.Context, serverID, toolName string, arguments map[string]any) (*ToolCallResult, error) {
	m.mu.RLock()
	conn, ok := m.conns[serverID]
	m.mu.RUnlock()
	if !ok || conn.status != StatusConnected || conn.client == nil {
		return nil, fmt.Errorf("server %s not connected", serverID)
	}
	return conn.client.CallTool(ctx, toolName, arguments)
}

// ServerStatus summarizes one server for API responses.
type ServerStatus struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Enabled     bool     `json:"enabled"`
	Status      Status   `json:"status"`
	Error       string   `json:"error,omitempty"`
	Tools       []string `json:"tools,omitempty"`
}

// Status returns the status of all configured servers, sorted by id.
func (m *Manager) Status() []ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.servers))
	for id := range m.servers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	statuses := make([]ServerStatus, 0, len(ids))
	for _, id := range ids {
		cfg := m.servers[id]
		st := ServerStatus{
			ID:          id,
			Name:        cfg.Name,
			Description: cfg.Description,
			Enabled:     cfg.Enabled,
			Status:      StatusDisconnected,
		}
		if conn, ok := m.conns[id]; ok {
			st.Status = conn.status
			st.Error = conn.lastErr
			if conn.client != nil {
				for _, tool := range conn.client.Tools() {
					st.Tools = append(st.Tools, tool.Name)
				}
			}
		}
		statuses = append(statuses, st)
	}
	return statuses
}
