package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/skein-ai/skein/internal/agents"
	"github.com/skein-ai/skein/internal/config"
	"github.com/skein-ai/skein/internal/conversations"
	"github.com/skein-ai/skein/internal/cron"
	"github.com/skein-ai/skein/internal/llm"
	"github.com/skein-ai/skein/internal/mcp"
	"github.com/skein-ai/skein/internal/observability"
	"github.com/skein-ai/skein/internal/runner"
	"github.com/skein-ai/skein/internal/runs"
	"github.com/skein-ai/skein/internal/secrets"
)

// stubConnector answers every tool call with fixed text.
type stubConnector struct{}

func (stubConnector) ConnectionStatus(string) mcp.Status { return mcp.StatusConnected }

func (stubConnector) Connect(context.Context, string) error { return nil }

func (stubConnector) CallTool(context.Context, string, string, map[string]any) (*mcp.ToolCallResult, error) {
	return &mcp.ToolCallResult{
		Content: []mcp.ToolResultContent{{Type: "text", Text: "stub source content"}},
	}, nil
}

// newLLMStub serves the completion endpoints of an OpenAI-compatible runtime.
func newLLMStub(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	stub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{
			"id": "cmpl-1",
			"object": "chat.completion",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": %q}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 7, "total_tokens": 19}
		}`, reply)
	}))
	t.Cleanup(stub.Close)
	return stub
}

type testEnv struct {
	server  *httptest.Server
	runs    *runs.Store
	secrets *secrets.Store
}

func newTestEnv(t *testing.T, agentYAML string) *testEnv {
	t.Helper()
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	llmStub := newLLMStub(t, "stubbed reply")

	cfg := config.Default()
	cfg.LLM.BaseURL = llmStub.URL + "/v1"
	cfg.LLM.DefaultModel = "test-model"
	cfg.LLM.AgentModel = "test-model"
	cfg.Agents.ConfigPath = filepath.Join(dir, "agents.yaml")
	cfg.Agents.DataDir = filepath.Join(dir, "runs")
	cfg.Conversations.DataDir = filepath.Join(dir, "conversations")
	cfg.MCP.SecretsPath = filepath.Join(dir, "secrets.json")

	if agentYAML != "" {
		if err := os.WriteFile(cfg.Agents.ConfigPath, []byte(agentYAML), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	agentStore, err := agents.NewStore(cfg.Agents.ConfigPath, logger)
	if err != nil {
		t.Fatal(err)
	}
	runStore, err := runs.NewStore(cfg.Agents.DataDir, logger)
	if err != nil {
		t.Fatal(err)
	}
	convStore, err := conversations.NewStore(cfg.Conversations.DataDir, logger)
	if err != nil {
		t.Fatal(err)
	}
	secretStore, err := secrets.NewStore(cfg.MCP.SecretsPath)
	if err != nil {
		t.Fatal(err)
	}

	llmClient := llm.NewClient(cfg.LLM, logger)
	notifier := runner.NewNotifier(cfg.Notify, cfg.Server.BaseURL, secretStore, logger)
	fetcher := runner.NewFetcher(stubConnector{}, logger)
	metrics := observability.NewMetrics()
	agentRunner := runner.New(agentStore, runStore, llmClient, fetcher, notifier, metrics, logger)
	scheduler := cron.NewScheduler(func(context.Context, string) error { return nil }, logger)
	scheduler.ScheduleAll(agentStore)

	srv := New(Deps{
		Config:        cfg,
		Agents:        agentStore,
		Runs:          runStore,
		Runner:        agentRunner,
		Scheduler:     scheduler,
		Conversations: convStore,
		LLM:           llmClient,
		MCP:           mcp.NewManager(secretStore, logger),
		Secrets:       secretStore,
		Notifier:      notifier,
		Metrics:       metrics,
		Logger:        logger,
	})

	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return &testEnv{server: ts, runs: runStore, secrets: secretStore}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
	return v
}

const serverAgentYAML = `agents:
  digest:
    name: Daily Digest
    enabled: true
    schedule: "0 8 * * *"
    prompt: Summarize everything.
    sources:
      - type: fetch
        label: News
        url: https://example.com/news
    notify:
      enabled: false
`

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, "")
	resp, body := env.do(t, http.MethodGet, "/healthz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), `"ok"`) {
		t.Errorf("body = %s", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, "")
	resp, _ := env.do(t, http.MethodGet, "/metrics", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestAgentLifecycle(t *testing.T) {
	env := newTestEnv(t, "")

	resp, body := env.do(t, http.MethodPost, "/api/agents", map[string]any{
		"name":   "Morning Brief",
		"prompt": "Brief me.",
		"sources": []map[string]any{
			{"type": "fetch", "url": "https://example.com"},
		},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create status = %d: %s", resp.StatusCode, body)
	}
	created := decode[agents.Agent](t, body)
	if created.ID != "morning-brief" {
		t.Errorf("ID = %q", created.ID)
	}
	if !created.Enabled || !created.Notify.Enabled {
		t.Errorf("defaults not applied: %+v", created)
	}

	resp, body = env.do(t, http.MethodGet, "/api/agents", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	list := decode[[]agents.Info](t, body)
	if len(list) != 1 || list[0].ID != "morning-brief" {
		t.Errorf("list = %+v", list)
	}

	resp, body = env.do(t, http.MethodPut, "/api/agents/morning-brief", map[string]any{
		"enabled": false,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d: %s", resp.StatusCode, body)
	}
	updated := decode[agents.Agent](t, body)
	if updated.Enabled {
		t.Error("update did not disable the agent")
	}

	resp, _ = env.do(t, http.MethodDelete, "/api/agents/morning-brief", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	resp, _ = env.do(t, http.MethodGet, "/api/agents/morning-brief", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete status = %d", resp.StatusCode)
	}
}

func TestGetAgent_NotFound(t *testing.T) {
	env := newTestEnv(t, "")
	resp, _ := env.do(t, http.MethodGet, "/api/agents/ghost", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestTriggerRun(t *testing.T) {
	env := newTestEnv(t, serverAgentYAML)

	resp, body := env.do(t, http.MethodPost, "/api/agents/digest/run", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	trigger := decode[triggerRunResponse](t, body)
	if trigger.RunID == "" || trigger.Status != runs.StatusPending {
		t.Errorf("response = %+v", trigger)
	}

	// The pending record is visible before the background run finishes.
	meta, err := env.runs.LoadMeta("digest", trigger.RunID)
	if err != nil || meta == nil {
		t.Fatalf("pending run not persisted: %v", err)
	}

	// Wait for the background run so cleanup does not race it.
	deadline := time.Now().Add(5 * time.Second)
	for {
		meta, err = env.runs.LoadMeta("digest", trigger.RunID)
		if err != nil {
			t.Fatal(err)
		}
		if meta != nil && meta.Status.Terminal() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("run did not finish: %+v", meta)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if meta.Status != runs.StatusCompleted {
		t.Errorf("final status = %s (%s)", meta.Status, meta.Error)
	}
	if n := env.runs.CountRuns("digest"); n != 1 {
		t.Errorf("CountRuns() = %d, want 1", n)
	}

	resp, body = env.do(t, http.MethodGet, "/api/agents/digest/runs/"+trigger.RunID+"/report", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("report status = %d: %s", resp.StatusCode, body)
	}
	report := decode[map[string]string](t, body)
	if !strings.Contains(report["content"], "stubbed reply") {
		t.Errorf("report = %q", report["content"])
	}
}

func TestTriggerRun_UnknownAgent(t *testing.T) {
	env := newTestEnv(t, "")
	resp, _ := env.do(t, http.MethodPost, "/api/agents/ghost/run", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestListRuns_UnknownAgent(t *testing.T) {
	env := newTestEnv(t, "")
	resp, _ := env.do(t, http.MethodGet, "/api/agents/ghost/runs", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestSchedulerStatus(t *testing.T) {
	env := newTestEnv(t, serverAgentYAML)
	resp, body := env.do(t, http.MethodGet, "/api/agents/scheduler/status", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var status struct {
		Jobs []cron.JobStatus `json:"jobs"`
	}
	if err := json.Unmarshal(body, &status); err != nil {
		t.Fatal(err)
	}
	if len(status.Jobs) != 1 || status.Jobs[0].AgentID != "digest" {
		t.Errorf("jobs = %+v", status.Jobs)
	}
}

func TestChat(t *testing.T) {
	env := newTestEnv(t, "")

	resp, body := env.do(t, http.MethodPost, "/api/conversations", map[string]any{
		"name": "Test Chat",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create conversation status = %d: %s", resp.StatusCode, body)
	}
	conv := decode[conversations.Conversation](t, body)
	if conv.Model != "test-model" {
		t.Errorf("Model = %q, want default", conv.Model)
	}

	resp, body = env.do(t, http.MethodPost, "/api/chat", map[string]any{
		"conversation_id": conv.ID,
		"message":         "Hello?",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("chat status = %d: %s", resp.StatusCode, body)
	}
	reply := decode[chatResponse](t, body)
	if reply.Message.Role != "assistant" || reply.Message.Content != "stubbed reply" {
		t.Errorf("reply = %+v", reply.Message)
	}

	resp, body = env.do(t, http.MethodGet, "/api/conversations/"+conv.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatal("get conversation failed")
	}
	loaded := decode[conversations.Conversation](t, body)
	if len(loaded.Messages) != 2 {
		t.Fatalf("messages = %d, want user + assistant", len(loaded.Messages))
	}
	if loaded.Messages[0].Role != "user" || loaded.Messages[1].Role != "assistant" {
		t.Errorf("roles = %s, %s", loaded.Messages[0].Role, loaded.Messages[1].Role)
	}
}

func TestChat_ConversationNotFound(t *testing.T) {
	env := newTestEnv(t, "")
	resp, _ := env.do(t, http.MethodPost, "/api/chat", map[string]any{
		"conversation_id": "ghost",
		"message":         "hi",
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestChatStop_NoActiveStreams(t *testing.T) {
	env := newTestEnv(t, "")
	resp, body := env.do(t, http.MethodPost, "/api/chat/stop", map[string]any{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	out := decode[map[string]any](t, body)
	if out["stopped"] != float64(0) {
		t.Errorf("stopped = %v", out["stopped"])
	}
}

func TestConversationExport_Markdown(t *testing.T) {
	env := newTestEnv(t, "")
	resp, body := env.do(t, http.MethodPost, "/api/conversations", map[string]any{"name": "Export Me"})
	if resp.StatusCode != http.StatusOK {
		t.Fatal("create failed")
	}
	conv := decode[conversations.Conversation](t, body)

	resp, body = env.do(t, http.MethodGet, "/api/conversations/"+conv.ID+"/export?format=markdown", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "# Export Me") {
		t.Errorf("export = %s", body)
	}
}

func TestNotificationSettings(t *testing.T) {
	env := newTestEnv(t, "")

	resp, body := env.do(t, http.MethodGet, "/api/settings/notifications", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatal("get failed")
	}
	cfg := decode[map[string]any](t, body)
	if cfg["gotify_configured"] != false {
		t.Errorf("configured = %v, want false", cfg["gotify_configured"])
	}

	resp, _ = env.do(t, http.MethodPost, "/api/settings/notifications", map[string]any{
		"gotify_url":   "https://gotify.local/",
		"gotify_token": "tok123",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatal("save failed")
	}
	if got := env.secrets.Get("GOTIFY_URL"); got != "https://gotify.local" {
		t.Errorf("GOTIFY_URL = %q, want trailing slash trimmed", got)
	}

	resp, body = env.do(t, http.MethodGet, "/api/settings/notifications", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatal("get failed")
	}
	cfg = decode[map[string]any](t, body)
	if cfg["gotify_configured"] != true {
		t.Error("configured should be true")
	}
	if token, _ := cfg["gotify_token"].(string); token == "tok123" {
		t.Error("raw token leaked in response")
	}

	resp, _ = env.do(t, http.MethodDelete, "/api/settings/notifications", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatal("delete failed")
	}
	if env.secrets.Has("GOTIFY_TOKEN") {
		t.Error("token not removed")
	}
}

func TestNotificationSettings_RequiresBoth(t *testing.T) {
	env := newTestEnv(t, "")
	resp, _ := env.do(t, http.MethodPost, "/api/settings/notifications", map[string]any{
		"gotify_url": "https://gotify.local",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestListModels(t *testing.T) {
	env := newTestEnv(t, "")
	resp, body := env.do(t, http.MethodGet, "/api/models", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	models := decode[[]llm.ModelInfo](t, body)
	// Default config carries no catalog.
	if len(models) != 0 {
		t.Errorf("models = %+v", models)
	}
}
