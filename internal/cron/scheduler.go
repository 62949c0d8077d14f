package cron

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/skein-ai/skein/internal/agents"
)

const (
	defaultTickInterval = time.Second
	// misfireGrace bounds how stale a fire may be and still run. A fire
	// missed by more than this (laptop asleep, process down) is dropped and
	// the job waits for its next slot.
	misfireGrace = time.Hour
	// maxConcurrent bounds in-flight executions per job. A fire that would
	// exceed it is skipped.
	maxConcurrent = 3
)

// RunFunc executes one scheduled run for an agent. The returned error is
// recorded on the job as its last error.
type RunFunc func(ctx context.Context, agentID string) error

// Scheduler drives agent jobs off a tick loop. Jobs are kept in an in-memory
// table keyed by job id; the caller rebuilds the table from configuration at
// startup with ScheduleAll.
type Scheduler struct {
	run          RunFunc
	logger       *slog.Logger
	now          func() time.Time
	tickInterval time.Duration

	mu      sync.Mutex
	jobs    map[string]*Job
	started bool
	wg      sync.WaitGroup
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTickInterval overrides the scheduler tick interval.
func WithTickInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		if interval > 0 {
			s.tickInterval = interval
		}
	}
}

// NewScheduler creates an empty scheduler that calls run for each fire.
func NewScheduler(run RunFunc, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		run:          run,
		logger:       logger.With("component", "scheduler"),
		now:          time.Now,
		tickInterval: defaultTickInterval,
		jobs:         make(map[string]*Job),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins the tick loop until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runDue(ctx)
			}
		}
	}()
}

// Stop waits for the tick loop to exit after its context is cancelled.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce executes due jobs immediately (primarily for tests). It returns
// the number of runs dispatched.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	return s.runDue(ctx)
}

// Schedule registers or replaces the job for an agent. An invalid expression
// is logged and reported as false; nothing is registered.
func (s *Scheduler) Schedule(agentID, expr string) bool {
	schedule, err := parseSchedule(expr)
	if err != nil {
		s.logger.Warn("agent not scheduled", "agent_id", agentID, "error", err)
		return false
	}

	now := s.now()
	job := &Job{
		ID:       JobID(agentID),
		AgentID:  agentID,
		Expr:     expr,
		schedule: schedule,
		NextRun:  schedule.Next(now),
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()
	s.logger.Info("agent scheduled", "agent_id", agentID, "expr", expr, "next_run", job.NextRun)
	return true
}

// Unschedule removes an agent's job if present.
func (s *Scheduler) Unschedule(agentID string) bool {
	id := JobID(agentID)
	s.mu.Lock()
	_, ok := s.jobs[id]
	delete(s.jobs, id)
	s.mu.Unlock()
	if ok {
		s.logger.Info("agent unscheduled", "agent_id", agentID)
	}
	return ok
}

// Reschedule replaces an agent's schedule expression. The old job is always
// removed, so a failed reschedule leaves the agent unscheduled rather than
// firing on the stale expression.
func (s *Scheduler) Reschedule(agentID, expr string) bool {
	s.Unschedule(agentID)
	return s.Schedule(agentID, expr)
}

// IsScheduled reports whether an agent has a registered job.
func (s *Scheduler) IsScheduled(agentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[JobID(agentID)]
	return ok
}

// NextRun returns the next fire time for an agent's job.
func (s *Scheduler) NextRun(agentID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[JobID(agentID)]
	if !ok {
		return time.Time{}, false
	}
	return job.NextRun, true
}

// AllNextRuns returns the next fire time for every job, keyed by agent id.
func (s *Scheduler) AllNextRuns() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.jobs))
	for _, job := range s.jobs {
		out[job.AgentID] = job.NextRun
	}
	return out
}

// Status returns a snapshot of every job, sorted by job id.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.jobs))
	for _, job := range s.jobs {
		st := JobStatus{
			ID:        job.ID,
			AgentID:   job.AgentID,
			Expr:      job.Expr,
			NextRun:   job.NextRun,
			LastError: job.LastError,
			Running:   job.running,
		}
		if !job.LastRun.IsZero() {
			last := job.LastRun
			st.LastRun = &last
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ScheduleAll rebuilds the job table from the agent store: every enabled
// agent with a schedule gets a job, everything else is dropped. It returns
// the number of jobs registered.
func (s *Scheduler) ScheduleAll(store *agents.Store) int {
	s.mu.Lock()
	s.jobs = make(map[string]*Job)
	s.mu.Unlock()

	count := 0
	for _, agent := range store.List() {
		if !agent.Enabled || agent.Schedule == "" {
			continue
		}
		if s.Schedule(agent.ID, agent.Schedule) {
			count++
		}
	}
	s.logger.Info("schedule rebuilt", "jobs", count)
	return count
}

// runDue fires every job whose NextRun has passed. The next fire is always
// computed from the current time, so a backlog of missed fires collapses
// into one run; fires staler than the misfire grace are dropped entirely.
func (s *Scheduler) runDue(ctx context.Context) int {
	now := s.now()
	count := 0

	s.mu.Lock()
	due := make([]*Job, 0)
	for _, job := range s.jobs {
		if job.NextRun.IsZero() || now.Before(job.NextRun) {
			continue
		}
		due = append(due, job)
	}
	s.mu.Unlock()

	for _, job := range due {
		s.mu.Lock()
		// The job may have been replaced or removed since the snapshot.
		current, ok := s.jobs[job.ID]
		if !ok || current != job || now.Before(job.NextRun) {
			s.mu.Unlock()
			continue
		}

		missedBy := now.Sub(job.NextRun)
		job.NextRun = job.schedule.Next(now)

		if missedBy > misfireGrace {
			s.mu.Unlock()
			s.logger.Warn("misfire dropped",
				"agent_id", job.AgentID,
				"missed_by", missedBy.Round(time.Second),
				"next_run", job.NextRun)
			continue
		}
		if job.running >= maxConcurrent {
			s.mu.Unlock()
			s.logger.Warn("fire skipped, concurrency limit reached",
				"agent_id", job.AgentID, "running", maxConcurrent)
			continue
		}
		job.running++
		job.LastRun = now
		agentID := job.AgentID
		s.mu.Unlock()

		count++
		s.wg.Add(1)
		go func(job *Job, agentID string) {
			defer s.wg.Done()
			var err error
			defer func() {
				s.mu.Lock()
				job.running--
				if err != nil {
					job.LastError = err.Error()
				} else {
					job.LastError = ""
				}
				s.mu.Unlock()
			}()
			err = s.run(ctx, agentID)
		}(job, agentID)
	}
	return count
}
