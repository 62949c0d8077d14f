package observability

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewLogger_LevelFiltering(t *testing.T) {
	tests := []struct {
		level     string
		wantDebug bool
		wantWarn  bool
	}{
		{"debug", true, true},
		{"info", false, true},
		{"warn", false, true},
		{"error", false, false},
		{"bogus", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(LogConfig{Level: tt.level, Output: &buf})

			logger.Debug("debug line")
			logger.Warn("warn line")

			out := buf.String()
			if got := strings.Contains(out, "debug line"); got != tt.wantDebug {
				t.Errorf("debug emitted = %v, want %v", got, tt.wantDebug)
			}
			if got := strings.Contains(out, "warn line"); got != tt.wantWarn {
				t.Errorf("warn emitted = %v, want %v", got, tt.wantWarn)
			}
		})
	}
}

func TestNewLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Format: "json", Output: &buf})

	logger.With("component", "runner").Info("started", "agent", "daily-news")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if record["msg"] != "started" {
		t.Errorf("msg = %v, want started", record["msg"])
	}
	if record["component"] != "runner" {
		t.Errorf("component = %v, want runner", record["component"])
	}
	if record["agent"] != "daily-news" {
		t.Errorf("agent = %v, want daily-news", record["agent"])
	}
}

func TestNewLogger_TextFormatDefault(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Output: &buf})

	logger.Info("hello")

	if out := buf.String(); !strings.Contains(out, "msg=hello") {
		t.Errorf("expected text format output, got %q", out)
	}
}

func TestNewMetrics_Registered(t *testing.T) {
	m := NewMetrics()

	m.RunCounter.WithLabelValues("manual", "completed").Inc()
	m.SourceFetchCounter.WithLabelValues("fetch", "ok").Add(2)
	m.NotificationCounter.WithLabelValues("sent").Inc()

	if got := testutil.ToFloat64(m.RunCounter.WithLabelValues("manual", "completed")); got != 1 {
		t.Errorf("run counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SourceFetchCounter.WithLabelValues("fetch", "ok")); got != 2 {
		t.Errorf("source fetch counter = %v, want 2", got)
	}

	names, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	want := map[string]bool{
		"skein_agent_runs_total":     false,
		"skein_source_fetches_total": false,
		"skein_notifications_total":  false,
	}
	for _, mf := range names {
		if _, ok := want[mf.GetName()]; ok {
			want[mf.GetName()] = true
		}
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("metric %s not gathered", name)
		}
	}
}

func TestNewMetrics_IndependentRegistries(t *testing.T) {
	// Two instances must not collide; each test server builds its own.
	a := NewMetrics()
	b := NewMetrics()

	a.RunCounter.WithLabelValues("scheduled", "failed").Inc()
	if got := testutil.ToFloat64(b.RunCounter.WithLabelValues("scheduled", "failed")); got != 0 {
		t.Errorf("registries share state: got %v", got)
	}
}
