package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects application metrics for agent runs, source fetches,
// generation calls, and notifications.
type Metrics struct {
	// RunCounter counts agent runs by trigger and terminal status.
	// Labels: trigger (scheduled|manual), status (completed|failed)
	RunCounter *prometheus.CounterVec

	// RunDuration measures agent run wall time in seconds.
	// Labels: trigger
	RunDuration *prometheus.HistogramVec

	// SourceFetchCounter counts source fetches by type and outcome.
	// Labels: type (fetch|brave|file|mcp), status (ok|error)
	SourceFetchCounter *prometheus.CounterVec

	// GenerationCounter counts LLM generation calls.
	// Labels: model, status (ok|error)
	GenerationCounter *prometheus.CounterVec

	// NotificationCounter counts notification deliveries.
	// Labels: result (sent|failed)
	NotificationCounter *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates the metric set on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		RunCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skein_agent_runs_total",
			Help: "Agent runs by trigger and terminal status",
		}, []string{"trigger", "status"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "skein_agent_run_duration_seconds",
			Help:    "Agent run duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"trigger"}),
		SourceFetchCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skein_source_fetches_total",
			Help: "Source fetch attempts by type and outcome",
		}, []string{"type", "status"}),
		GenerationCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skein_generations_total",
			Help: "LLM generation calls by model and status",
		}, []string{"model", "status"}),
		NotificationCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skein_notifications_total",
			Help: "Notification deliveries by result",
		}, []string{"result"}),
		registry: reg,
	}
	reg.MustRegister(
		m.RunCounter,
		m.RunDuration,
		m.SourceFetchCounter,
		m.GenerationCounter,
		m.NotificationCounter,
	)
	return m
}

// Registry returns the prometheus registry backing the metric set.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
