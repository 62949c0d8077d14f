package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/skein-ai/skein/internal/agents"
	"github.com/skein-ai/skein/internal/llm"
	"github.com/skein-ai/skein/internal/observability"
	"github.com/skein-ai/skein/internal/runs"
)

// Generator is the LLM capability a run needs.
type Generator interface {
	AgentModel() string
	Generate(ctx context.Context, req llm.GenerateRequest) (string, llm.Usage, error)
}

// RunNotifier announces completed runs.
type RunNotifier interface {
	NotifyRun(ctx context.Context, agent *agents.Agent, meta *runs.Meta) (bool, error)
}

// Generation parameters for unattended report runs.
const (
	runTemperature = 0.7
	runMaxTokens   = 4096
)

// Runner executes full agent runs: fetch every source, generate a report,
// persist the artifacts, and notify. A run always ends in a terminal status
// with its metadata saved, including on panic.
type Runner struct {
	agents   *agents.Store
	runs     *runs.Store
	llm      Generator
	fetcher  *Fetcher
	notifier RunNotifier
	metrics  *observability.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// Option customizes a Runner.
type Option func(*Runner)

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// New creates a Runner. notifier and metrics may be nil.
func New(agentStore *agents.Store, runStore *runs.Store, gen Generator, fetcher *Fetcher, notifier RunNotifier, metrics *observability.Metrics, logger *slog.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		agents:   agentStore,
		runs:     runStore,
		llm:      gen,
		fetcher:  fetcher,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger.With("component", "runner"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes one agent run to completion and returns its final metadata.
// The returned error mirrors meta.Error for failed runs; the metadata is
// persisted either way.
func (r *Runner) Run(ctx context.Context, agentID string, trigger runs.Trigger) (*runs.Meta, error) {
	return r.run(ctx, agentID, trigger, "")
}

// RunPending executes a run whose pending record was already persisted under
// runID, so the run is visible in listings before execution starts.
func (r *Runner) RunPending(ctx context.Context, agentID string, trigger runs.Trigger, runID string) (*runs.Meta, error) {
	return r.run(ctx, agentID, trigger, runID)
}

func (r *Runner) run(ctx context.Context, agentID string, trigger runs.Trigger, runID string) (*runs.Meta, error) {
	agent := r.agents.Get(agentID)
	if agent == nil {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}

	start := r.now()
	if runID == "" {
		runID = runs.NewRunID(start)
	}
	meta := &runs.Meta{
		RunID:     runID,
		AgentID:   agent.ID,
		AgentName: agent.Name,
		Trigger:   trigger,
		Status:    runs.StatusRunning,
		StartedAt: start.UTC(),
	}
	if err := r.runs.CreateRun(meta); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	r.logger.Info("starting agent run", "agent", agent.Name, "run_id", meta.RunID, "trigger", trigger)

	runErr := r.execute(ctx, agent, meta)
	now := r.now()
	completed := now.UTC()
	meta.CompletedAt = &completed
	meta.DurationMs = now.Sub(start).Milliseconds()
	if runErr != nil {
		meta.Status = runs.StatusFailed
		meta.Error = runErr.Error()
		r.logger.Error("agent run failed", "agent", agent.Name, "run_id", meta.RunID, "error", runErr)
	} else {
		meta.Status = runs.StatusCompleted
		r.logger.Info("agent run completed",
			"agent", agent.Name,
			"run_id", meta.RunID,
			"duration_ms", meta.DurationMs,
			"output_chars", meta.Output.Chars)
	}

	if r.metrics != nil {
		r.metrics.RunCounter.WithLabelValues(string(trigger), string(meta.Status)).Inc()
		r.metrics.RunDuration.WithLabelValues(string(trigger)).Observe(now.Sub(start).Seconds())
	}

	if err := r.runs.SaveMeta(meta); err != nil {
		r.logger.Error("save run metadata", "run_id", meta.RunID, "error", err)
	}
	return meta, runErr
}

// execute performs the fallible middle of a run. A panic in any step is
// converted to a failed run rather than taking down the process.
func (r *Runner) execute(ctx context.Context, agent *agents.Agent, meta *runs.Meta) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("run panicked: %v", rec)
		}
	}()

	meta.Sources = r.fetchSources(ctx, agent, meta.RunID)

	totalChars := 0
	for _, src := range meta.Sources {
		if src.Status == runs.SourceOK {
			totalChars += src.Chars
		}
	}
	if totalChars == 0 {
		return ErrNoContent
	}

	report, usage, err := r.generateReport(ctx, agent, meta)
	if err != nil {
		return err
	}
	meta.LLM = &usage

	path, err := r.runs.SaveReport(agent.ID, meta.RunID, report)
	if err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	meta.Output = &runs.OutputInfo{
		Path:  path,
		URL:   fmt.Sprintf("/agents/%s/runs/%s", agent.ID, meta.RunID),
		Chars: len(report),
	}

	if agent.Notify.Enabled && r.notifier != nil {
		sent, nerr := r.notifier.NotifyRun(ctx, agent, meta)
		if nerr != nil {
			r.logger.Error("notification failed", "agent", agent.Name, "error", nerr)
		}
		meta.NotificationSent = sent
		if r.metrics != nil {
			result := "sent"
			if !sent {
				result = "failed"
			}
			r.metrics.NotificationCounter.WithLabelValues(result).Inc()
		}
	}
	return nil
}

// fetchSources fetches every configured source sequentially. Individual
// failures are recorded per source and do not stop the loop.
func (r *Runner) fetchSources(ctx context.Context, agent *agents.Agent, runID string) []runs.SourceResult {
	results := make([]runs.SourceResult, 0, len(agent.Sources))
	for i, src := range agent.Sources {
		label := src.DisplayLabel(i)
		result := runs.SourceResult{
			Label:     label,
			Type:      src.Type,
			FetchedAt: r.now().UTC(),
		}

		content, err := r.fetcher.Fetch(ctx, src)
		if err != nil {
			result.Status = runs.SourceError
			result.Error = err.Error()
			r.logger.Error("source fetch failed", "label", label, "error", err)
		} else {
			result.Status = runs.SourceOK
			result.Content = content
			result.Chars = len(content)
			if content != "" {
				if serr := r.runs.SaveSource(agent.ID, runID, i, content); serr != nil {
					r.logger.Error("save source content", "label", label, "error", serr)
				}
			}
			r.logger.Info("fetched source", "label", label, "chars", result.Chars)
		}

		if r.metrics != nil {
			r.metrics.SourceFetchCounter.WithLabelValues(string(src.Type), result.Status).Inc()
		}
		results = append(results, result)
	}
	return results
}

func (r *Runner) generateReport(ctx context.Context, agent *agents.Agent, meta *runs.Meta) (string, llm.Usage, error) {
	model := r.llm.AgentModel()
	body, usage, err := r.llm.Generate(ctx, llm.GenerateRequest{
		Messages:    buildMessages(agent, meta.Sources),
		Model:       model,
		Temperature: runTemperature,
		MaxTokens:   runMaxTokens,
	})
	if r.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		r.metrics.GenerationCounter.WithLabelValues(model, status).Inc()
	}
	if err != nil {
		return "", llm.Usage{}, err
	}
	return assembleReport(agent, meta.RunID, body, meta.Sources, r.now()), usage, nil
}
