package runner

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/skein-ai/skein/internal/agents"
	"github.com/skein-ai/skein/internal/llm"
	"github.com/skein-ai/skein/internal/mcp"
	"github.com/skein-ai/skein/internal/runs"
)

type fakeGenerator struct {
	model  string
	output string
	err    error
	gotReq llm.GenerateRequest
}

func (f *fakeGenerator) AgentModel() string { return f.model }

func (f *fakeGenerator) Generate(_ context.Context, req llm.GenerateRequest) (string, llm.Usage, error) {
	f.gotReq = req
	if f.err != nil {
		return "", llm.Usage{}, f.err
	}
	return f.output, llm.Usage{Model: req.Model, InputTokens: 10, OutputTokens: 20}, nil
}

type fakeConnector struct {
	content    map[string]string // serverID/toolName -> content
	connectErr map[string]error
	failURL    string // fetches of this url error out
	calls      []string
}

func (f *fakeConnector) ConnectionStatus(serverID string) mcp.Status {
	return mcp.StatusDisconnected
}

func (f *fakeConnector) Connect(_ context.Context, serverID string) error {
	if err := f.connectErr[serverID]; err != nil {
		return err
	}
	return nil
}

func (f *fakeConnector) CallTool(_ context.Context, serverID, toolName string, arguments map[string]any) (*mcp.ToolCallResult, error) {
	key := serverID + "/" + toolName
	f.calls = append(f.calls, key)
	if f.failURL != "" && arguments["url"] == f.failURL {
		return nil, errors.New("fetch failed: 502")
	}
	content, ok := f.content[key]
	if !ok {
		return nil, errors.New("tool not found")
	}
	return &mcp.ToolCallResult{
		Content: []mcp.ToolResultContent{{Type: "text", Text: content}},
	}, nil
}

type fakeNotifier struct {
	sent    bool
	called  bool
	failErr error
}

func (f *fakeNotifier) NotifyRun(context.Context, *agents.Agent, *runs.Meta) (bool, error) {
	f.called = true
	if f.failErr != nil {
		return false, f.failErr
	}
	f.sent = true
	return true, nil
}

func testStores(t *testing.T, agentYAML string) (*agents.Store, *runs.Store) {
	t.Helper()
	dir := t.TempDir()
	configPath := filepath.Join(dir, "agents.yaml")
	if err := os.WriteFile(configPath, []byte(agentYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	agentStore, err := agents.NewStore(configPath, nil)
	if err != nil {
		t.Fatalf("agents.NewStore() error = %v", err)
	}
	runStore, err := runs.NewStore(filepath.Join(dir, "runs"), nil)
	if err != nil {
		t.Fatalf("runs.NewStore() error = %v", err)
	}
	return agentStore, runStore
}

const testAgentYAML = `agents:
  news:
    name: News Digest
    enabled: true
    prompt: Summarize the following sources.
    sources:
      - type: fetch
        label: Front Page
        url: https://example.com/news
    notify:
      enabled: true
      title: Report Ready
      priority: 5
`

func newTestRunner(t *testing.T, agentYAML string, gen *fakeGenerator, conn *fakeConnector, notif RunNotifier) (*Runner, *runs.Store) {
	t.Helper()
	agentStore, runStore := testStores(t, agentYAML)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	fetcher := NewFetcher(conn, logger)
	clock := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	r := New(agentStore, runStore, gen, fetcher, notif, nil, logger,
		WithNow(func() time.Time { return clock }))
	return r, runStore
}

func TestRunner_Run_Success(t *testing.T) {
	gen := &fakeGenerator{model: "qwen2.5-7b", output: "## Summary\n\nAll quiet."}
	conn := &fakeConnector{content: map[string]string{
		"fetch/fetch": "big news today",
	}}
	notif := &fakeNotifier{}

	r, runStore := newTestRunner(t, testAgentYAML, gen, conn, notif)

	meta, err := r.Run(context.Background(), "news", runs.TriggerManual)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if meta.Status != runs.StatusCompleted {
		t.Errorf("status = %s, want completed", meta.Status)
	}
	if meta.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}
	if len(meta.Sources) != 1 || meta.Sources[0].Status != runs.SourceOK {
		t.Fatalf("sources = %+v, want one ok result", meta.Sources)
	}
	if meta.Sources[0].Chars != len("big news today") {
		t.Errorf("source chars = %d", meta.Sources[0].Chars)
	}
	if meta.LLM == nil || meta.LLM.Model != "qwen2.5-7b" {
		t.Errorf("llm usage = %+v", meta.LLM)
	}
	if meta.Output == nil || meta.Output.Chars == 0 {
		t.Fatalf("output = %+v", meta.Output)
	}
	if !meta.NotificationSent {
		t.Error("NotificationSent = false")
	}
	if !notif.called {
		t.Error("notifier not called")
	}

	// The generation used the agent model and the fixed report parameters.
	if gen.gotReq.Model != "qwen2.5-7b" {
		t.Errorf("generation model = %s", gen.gotReq.Model)
	}
	if gen.gotReq.Temperature != 0.7 || gen.gotReq.MaxTokens != 4096 {
		t.Errorf("generation params = temp %v, max %d", gen.gotReq.Temperature, gen.gotReq.MaxTokens)
	}

	// Metadata and report are persisted.
	saved, err := runStore.LoadMeta("news", meta.RunID)
	if err != nil || saved == nil {
		t.Fatalf("LoadMeta() = %v, %v", saved, err)
	}
	if saved.Status != runs.StatusCompleted {
		t.Errorf("persisted status = %s", saved.Status)
	}
	report, found, err := runStore.LoadReport("news", meta.RunID)
	if err != nil || !found {
		t.Fatalf("LoadReport() found=%v err=%v", found, err)
	}
	if !strings.Contains(report, "All quiet.") {
		t.Error("report missing generated body")
	}
	if !strings.HasPrefix(report, "---\n") {
		t.Error("report missing frontmatter")
	}
}

func TestRunner_Run_AgentNotFound(t *testing.T) {
	gen := &fakeGenerator{model: "m"}
	r, _ := newTestRunner(t, testAgentYAML, gen, &fakeConnector{}, nil)

	_, err := r.Run(context.Background(), "missing", runs.TriggerManual)
	if !errors.Is(err, ErrAgentNotFound) {
		t.Fatalf("Run() error = %v, want ErrAgentNotFound", err)
	}
}

func TestRunner_Run_NoContent(t *testing.T) {
	gen := &fakeGenerator{model: "m", output: "unused"}
	// Every fetch fails: the connector has no content registered.
	conn := &fakeConnector{content: map[string]string{}}
	r, runStore := newTestRunner(t, testAgentYAML, gen, conn, nil)

	meta, err := r.Run(context.Background(), "news", runs.TriggerManual)
	if !errors.Is(err, ErrNoContent) {
		t.Fatalf("Run() error = %v, want ErrNoContent", err)
	}
	if meta.Status != runs.StatusFailed {
		t.Errorf("status = %s, want failed", meta.Status)
	}
	if meta.Error == "" {
		t.Error("meta.Error empty for failed run")
	}
	if len(meta.Sources) != 1 || meta.Sources[0].Status != runs.SourceError {
		t.Errorf("sources = %+v", meta.Sources)
	}

	// The failed run is still persisted with terminal status.
	saved, err := runStore.LoadMeta("news", meta.RunID)
	if err != nil || saved == nil {
		t.Fatalf("LoadMeta() = %v, %v", saved, err)
	}
	if saved.Status != runs.StatusFailed {
		t.Errorf("persisted status = %s", saved.Status)
	}
}

func TestRunner_Run_GenerationError(t *testing.T) {
	gen := &fakeGenerator{model: "m", err: errors.New("runtime exploded")}
	conn := &fakeConnector{content: map[string]string{"fetch/fetch": "content"}}
	r, _ := newTestRunner(t, testAgentYAML, gen, conn, nil)

	meta, err := r.Run(context.Background(), "news", runs.TriggerManual)
	if err == nil {
		t.Fatal("Run() error = nil, want generation error")
	}
	if meta.Status != runs.StatusFailed {
		t.Errorf("status = %s, want failed", meta.Status)
	}
	if !strings.Contains(meta.Error, "runtime exploded") {
		t.Errorf("meta.Error = %q", meta.Error)
	}
}

func TestRunner_Run_NotificationFailureDoesNotFailRun(t *testing.T) {
	gen := &fakeGenerator{model: "m", output: "report body"}
	conn := &fakeConnector{content: map[string]string{"fetch/fetch": "content"}}
	notif := &fakeNotifier{failErr: errors.New("gotify down")}
	r, _ := newTestRunner(t, testAgentYAML, gen, conn, notif)

	meta, err := r.Run(context.Background(), "news", runs.TriggerManual)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if meta.Status != runs.StatusCompleted {
		t.Errorf("status = %s, want completed", meta.Status)
	}
	if meta.NotificationSent {
		t.Error("NotificationSent = true after failed delivery")
	}
}

func TestRunner_Run_PartialSourceFailure(t *testing.T) {
	const yaml = `agents:
  mixed:
    name: Mixed Sources
    enabled: true
    prompt: Summarize.
    sources:
      - type: fetch
        label: Works
        url: https://example.com/a
      - type: fetch
        label: Broken
        url: https://example.com/b
    notify:
      enabled: false
`
	gen := &fakeGenerator{model: "m", output: "summary"}
	conn := &fakeConnector{
		content: map[string]string{"fetch/fetch": "good content"},
		failURL: "https://example.com/b",
	}
	r, _ := newTestRunner(t, yaml, gen, conn, nil)

	meta, err := r.Run(context.Background(), "mixed", runs.TriggerScheduled)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if meta.Trigger != runs.TriggerScheduled {
		t.Errorf("trigger = %s", meta.Trigger)
	}
	if meta.Status != runs.StatusCompleted {
		t.Errorf("status = %s, want completed", meta.Status)
	}
	if len(meta.Sources) != 2 {
		t.Fatalf("sources = %d, want 2", len(meta.Sources))
	}
	if meta.Sources[0].Status != runs.SourceOK {
		t.Errorf("first source = %s, want ok", meta.Sources[0].Status)
	}
	if meta.Sources[1].Status != runs.SourceError {
		t.Errorf("second source = %s, want error", meta.Sources[1].Status)
	}
	if meta.Sources[1].Error == "" {
		t.Error("failed source missing error message")
	}
}

func TestRunner_RunPending_ReusesRunID(t *testing.T) {
	gen := &fakeGenerator{model: "m", output: "summary"}
	conn := &fakeConnector{content: map[string]string{"fetch/fetch": "content"}}
	r, runStore := newTestRunner(t, testAgentYAML, gen, conn, nil)

	pending := &runs.Meta{
		RunID:     "20250601_080000_aabbccdd",
		AgentID:   "news",
		Trigger:   runs.TriggerManual,
		Status:    runs.StatusPending,
		StartedAt: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC),
	}
	if err := runStore.CreateRun(pending); err != nil {
		t.Fatal(err)
	}

	meta, err := r.RunPending(context.Background(), "news", runs.TriggerManual, pending.RunID)
	if err != nil {
		t.Fatalf("RunPending() error = %v", err)
	}
	if meta.RunID != pending.RunID {
		t.Errorf("RunID = %s, want %s", meta.RunID, pending.RunID)
	}

	saved, err := runStore.LoadMeta("news", pending.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if saved == nil || saved.Status != runs.StatusCompleted {
		t.Errorf("saved = %+v, want completed under the pending id", saved)
	}
	if n := runStore.CountRuns("news"); n != 1 {
		t.Errorf("CountRuns() = %d, want 1 (no duplicate record)", n)
	}
}
