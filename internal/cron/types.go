// Package cron schedules recurring agent runs from cron expressions. The job
// table lives in memory only and is rebuilt from agent configuration at
// startup; nothing here is persisted.
package cron

import (
	"time"

	"github.com/robfig/cron/v3"
)

// jobPrefix namespaces scheduler job ids so agent jobs cannot collide with
// any future job kind.
const jobPrefix = "agent_"

// Job is one scheduled agent. NextRun is always computed from the current
// time, so missed fires coalesce into a single run.
type Job struct {
	ID      string
	AgentID string
	Expr    string

	schedule cron.Schedule

	NextRun   time.Time
	LastRun   time.Time
	LastError string

	// running counts in-flight executions for this job.
	running int
}

// JobStatus is the externally visible snapshot of a job.
type JobStatus struct {
	ID        string     `json:"id"`
	AgentID   string     `json:"agent_id"`
	Expr      string     `json:"expr"`
	NextRun   time.Time  `json:"next_run"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	LastError string     `json:"last_error,omitempty"`
	Running   int        `json:"running"`
}

// JobID returns the scheduler job id for an agent.
func JobID(agentID string) string {
	return jobPrefix + agentID
}
