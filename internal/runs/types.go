// Package runs defines agent run records and their file-backed store.
package runs

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/skein-ai/skein/internal/agents"
	"github.com/skein-ai/skein/internal/llm"
)

// Trigger identifies how a run was started.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
)

// Status is the run lifecycle state. Transitions are monotone:
// pending -> running -> {completed, failed}.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Source fetch outcomes.
const (
	SourceOK    = "ok"
	SourceError = "error"
)

// SourceResult is the outcome of fetching one configured source. Immutable
// once produced; one per configured source per run, order preserved.
type SourceResult struct {
	Label     string            `json:"label"`
	Type      agents.SourceType `json:"type"`
	Status    string            `json:"status"` // ok | error
	Content   string            `json:"content,omitempty"`
	Chars     int               `json:"chars"`
	Error     string            `json:"error,omitempty"`
	FetchedAt time.Time         `json:"fetched_at"`
}

// OutputInfo describes the persisted report artifact.
type OutputInfo struct {
	Path  string `json:"path"`
	URL   string `json:"url"`
	Chars int    `json:"chars"`
}

// Meta is the full record of one agent run.
type Meta struct {
	RunID            string         `json:"run_id"`
	AgentID          string         `json:"agent_id"`
	AgentName        string         `json:"agent_name"`
	Trigger          Trigger        `json:"trigger"`
	Status           Status         `json:"status"`
	StartedAt        time.Time      `json:"started_at"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	DurationMs       int64          `json:"duration_ms,omitempty"`
	Sources          []SourceResult `json:"sources"`
	LLM              *llm.Usage     `json:"llm,omitempty"`
	Output           *OutputInfo    `json:"output,omitempty"`
	NotificationSent bool           `json:"notification_sent"`
	Error            string         `json:"error,omitempty"`
}

// Summary is the list-view projection of Meta (no source content).
type Summary struct {
	RunID       string     `json:"run_id"`
	AgentID     string     `json:"agent_id"`
	Trigger     Trigger    `json:"trigger"`
	Status      Status     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMs  int64      `json:"duration_ms,omitempty"`
	SourceCount int        `json:"source_count"`
	OutputChars int        `json:"output_chars"`
	Error       string     `json:"error,omitempty"`
}

// Summarize projects a Meta into its Summary.
func (m *Meta) Summarize() Summary {
	sum := Summary{
		RunID:       m.RunID,
		AgentID:     m.AgentID,
		Trigger:     m.Trigger,
		Status:      m.Status,
		StartedAt:   m.StartedAt,
		CompletedAt: m.CompletedAt,
		DurationMs:  m.DurationMs,
		SourceCount: len(m.Sources),
		Error:       m.Error,
	}
	if m.Output != nil {
		sum.OutputChars = m.Output.Chars
	}
	return sum
}

// NewRunID generates a time-sortable run id: YYYYMMDD_HHMMSS plus an 8-char
// lowercase hex suffix. Lexicographic order matches chronological order at
// second granularity; the suffix disambiguates collisions within a second.
func NewRunID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return now.UTC().Format("20060102_150405") + "_" + suffix
}
