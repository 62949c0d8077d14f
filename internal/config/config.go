// Package config loads and validates the skein application configuration.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the main configuration structure for skein.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	LLM           LLMConfig           `yaml:"llm"`
	Agents        AgentsConfig        `yaml:"agents"`
	Conversations ConversationsConfig `yaml:"conversations"`
	MCP           MCPConfig           `yaml:"mcp"`
	Notify        NotifyConfig        `yaml:"notify"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// BaseURL is the externally reachable address used when building
	// report links in notifications.
	BaseURL string `yaml:"base_url"`
}

// LLMConfig configures the local model runtime and the model catalog.
type LLMConfig struct {
	// BaseURL of the OpenAI-compatible runtime (llama-server, ollama).
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`

	// DefaultModel is the interactive chat default.
	DefaultModel string `yaml:"default_model"`

	// AgentModel is the default for unattended agent runs. Kept distinct
	// from DefaultModel so scheduled runs never hit a gated model.
	AgentModel string `yaml:"agent_model"`

	Models map[string]ModelConfig `yaml:"models"`

	Defaults GenerationDefaults `yaml:"defaults"`
}

// ModelConfig describes one entry in the model catalog.
type ModelConfig struct {
	Name             string   `yaml:"name"`
	Path             string   `yaml:"path"`
	Category         string   `yaml:"category"`
	SizeGB           float64  `yaml:"size_gb"`
	ContextLength    int      `yaml:"context_length"`
	Description      string   `yaml:"description"`
	Tags             []string `yaml:"tags"`
	RequiresApproval bool     `yaml:"requires_approval"`
	ApprovalURL      string   `yaml:"approval_url"`
}

// GenerationDefaults holds default sampling parameters.
type GenerationDefaults struct {
	SystemPrompt string  `yaml:"system_prompt"`
	Temperature  float32 `yaml:"temperature"`
	TopP         float32 `yaml:"top_p"`
	MaxTokens    int     `yaml:"max_tokens"`
}

// AgentsConfig configures agent storage and scheduling.
type AgentsConfig struct {
	// ConfigPath is the agents.yaml file holding agent definitions.
	ConfigPath string `yaml:"config_path"`
	// DataDir is the root of the per-agent run directory tree.
	DataDir string `yaml:"data_dir"`
	// WatchConfig enables fsnotify-based rescheduling when agents.yaml
	// changes on disk.
	WatchConfig bool `yaml:"watch_config"`
}

// ConversationsConfig configures chat conversation storage.
type ConversationsConfig struct {
	DataDir string `yaml:"data_dir"`
}

// MCPConfig configures tool server connections.
type MCPConfig struct {
	ConfigPath  string `yaml:"config_path"`
	SecretsPath string `yaml:"secrets_path"`
}

// NotifyConfig configures push notifications (Gotify-compatible).
type NotifyConfig struct {
	// URL and Token may be empty; the secrets store is consulted as a
	// fallback under the GOTIFY_URL / GOTIFY_TOKEN keys.
	URL     string        `yaml:"url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration with sensible local-first defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:    "127.0.0.1",
			Port:    8001,
			BaseURL: "http://127.0.0.1:8001",
		},
		LLM: LLMConfig{
			BaseURL:      "http://127.0.0.1:11434/v1",
			Timeout:      2 * time.Minute,
			DefaultModel: "llama3.1-8b",
			AgentModel:   "qwen2.5-7b",
			Defaults: GenerationDefaults{
				Temperature: 0.7,
				TopP:        0.9,
				MaxTokens:   2048,
			},
		},
		Agents: AgentsConfig{
			ConfigPath: "agents.yaml",
			DataDir:    "data/agents/runs",
		},
		Conversations: ConversationsConfig{
			DataDir: "data/conversations",
		},
		MCP: MCPConfig{
			ConfigPath:  "mcp.yaml",
			SecretsPath: "secrets.json",
		},
		Notify: NotifyConfig{
			Timeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks the configuration for required fields.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if strings.TrimSpace(c.LLM.BaseURL) == "" {
		return fmt.Errorf("llm base_url is required")
	}
	if strings.TrimSpace(c.Agents.ConfigPath) == "" {
		return fmt.Errorf("agents config_path is required")
	}
	if strings.TrimSpace(c.Agents.DataDir) == "" {
		return fmt.Errorf("agents data_dir is required")
	}
	for id, m := range c.LLM.Models {
		if strings.TrimSpace(m.Path) == "" {
			return fmt.Errorf("model %q missing path", id)
		}
	}
	return nil
}

// Model looks up a model catalog entry by id.
func (c *Config) Model(id string) (ModelConfig, bool) {
	m, ok := c.LLM.Models[id]
	return m, ok
}
