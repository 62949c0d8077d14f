// Package agents defines agent configurations and their YAML-backed store.
package agents

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// SourceType tags the variant of a source configuration.
type SourceType string

const (
	SourceFetch SourceType = "fetch" // URL fetch via tool server
	SourceBrave SourceType = "brave" // web search via Brave Search
	SourceFile  SourceType = "file"  // local file read
	SourceMCP   SourceType = "mcp"   // arbitrary tool call
)

// Source is a tagged variant over the four source kinds. Type selects which
// of the per-kind fields are meaningful; dispatch sites switch on Type and
// treat an unknown tag as an error.
type Source struct {
	Type  SourceType `yaml:"type" json:"type"`
	Label string     `yaml:"label,omitempty" json:"label,omitempty"`

	// fetch
	URL string `yaml:"url,omitempty" json:"url,omitempty"`

	// brave
	Query string `yaml:"query,omitempty" json:"query,omitempty"`
	Count int    `yaml:"count,omitempty" json:"count,omitempty"`

	// file
	Path string `yaml:"path,omitempty" json:"path,omitempty"`

	// mcp
	Tool   string         `yaml:"tool,omitempty" json:"tool,omitempty"`
	Action string         `yaml:"action,omitempty" json:"action,omitempty"`
	Args   map[string]any `yaml:"args,omitempty" json:"args,omitempty"`
}

// DisplayLabel returns the configured label or a positional fallback.
func (s Source) DisplayLabel(index int) string {
	if s.Label != "" {
		return s.Label
	}
	return fmt.Sprintf("Source %d", index+1)
}

// OutputConfig configures the generated report.
type OutputConfig struct {
	// Title template; {agent_name} and {date} are substituted at run time.
	Title string `yaml:"title" json:"title"`
	// Template optionally names a report template.
	Template string `yaml:"template,omitempty" json:"template,omitempty"`
}

// DefaultOutput returns the default output configuration.
func DefaultOutput() OutputConfig {
	return OutputConfig{Title: "{agent_name} - {date}"}
}

// NotifyConfig configures push notifications for an agent.
type NotifyConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Title    string `yaml:"title" json:"title"`
	Priority int    `yaml:"priority" json:"priority"`
}

// DefaultNotify returns the default notification configuration.
func DefaultNotify() NotifyConfig {
	return NotifyConfig{
		Enabled:  true,
		Title:    "Agent Report Ready",
		Priority: 5,
	}
}

// Agent is a full agent configuration. ID is immutable after creation.
type Agent struct {
	ID          string       `yaml:"-" json:"id"`
	Name        string       `yaml:"name" json:"name"`
	Description string       `yaml:"description,omitempty" json:"description"`
	Enabled     bool         `yaml:"enabled" json:"enabled"`
	Schedule    string       `yaml:"schedule,omitempty" json:"schedule,omitempty"` // cron; empty = manual only
	Sources     []Source     `yaml:"sources" json:"sources"`
	Prompt      string       `yaml:"prompt" json:"prompt"`
	Output      OutputConfig `yaml:"output" json:"output"`
	Notify      NotifyConfig `yaml:"notify" json:"notify"`
	CreatedAt   time.Time    `yaml:"created_at,omitempty" json:"created_at"`
	UpdatedAt   time.Time    `yaml:"updated_at,omitempty" json:"updated_at"`
}

// UnmarshalYAML applies defaults before decoding so that omitted fields keep
// them: agents and notifications are enabled unless explicitly disabled.
func (a *Agent) UnmarshalYAML(value *yaml.Node) error {
	type rawAgent Agent
	raw := rawAgent{
		Enabled: true,
		Output:  DefaultOutput(),
		Notify:  DefaultNotify(),
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*a = Agent(raw)
	return nil
}

// Info is the agent list/detail projection including runtime state.
type Info struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Enabled     bool       `json:"enabled"`
	Schedule    string     `json:"schedule,omitempty"`
	SourceCount int        `json:"source_count"`
	NextRun     *time.Time `json:"next_run,omitempty"`
	LastRun     *time.Time `json:"last_run,omitempty"`
	LastStatus  string     `json:"last_status,omitempty"`
	TotalRuns   int        `json:"total_runs"`
}

// CreateRequest is the payload for creating an agent.
type CreateRequest struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Schedule    string        `json:"schedule,omitempty"`
	Sources     []Source      `json:"sources"`
	Prompt      string        `json:"prompt"`
	Output      *OutputConfig `json:"output,omitempty"`
	Notify      *NotifyConfig `json:"notify,omitempty"`
}

// UpdateRequest is the payload for updating an agent; nil fields are left
// unchanged.
type UpdateRequest struct {
	Name        *string       `json:"name,omitempty"`
	Description *string       `json:"description,omitempty"`
	Enabled     *bool         `json:"enabled,omitempty"`
	Schedule    *string       `json:"schedule,omitempty"`
	Sources     []Source      `json:"sources,omitempty"`
	Prompt      *string       `json:"prompt,omitempty"`
	Output      *OutputConfig `json:"output,omitempty"`
	Notify      *NotifyConfig `json:"notify,omitempty"`
}
