package llm

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/skein-ai/skein/internal/config"
)

func TestIsGatedError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("connection refused"), false},
		{errors.New("Cannot access gated repo for url"), true},
		{errors.New("status code: 403"), true},
	}
	for _, tt := range tests {
		if got := isGatedError(tt.err); got != tt.want {
			t.Errorf("isGatedError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestApprovalError(t *testing.T) {
	inner := errors.New("403 forbidden")
	err := &ApprovalError{
		Model:       "llama3.1-8b",
		ApprovalURL: "https://huggingface.co/meta-llama/Llama-3.1-8B",
		Err:         inner,
	}
	msg := err.Error()
	if !strings.Contains(msg, "llama3.1-8b") || !strings.Contains(msg, "Request access at") {
		t.Errorf("Error() = %q", msg)
	}
	if !errors.Is(fmt.Errorf("generate: %w", err), inner) {
		t.Error("ApprovalError should unwrap to its cause")
	}

	var target *ApprovalError
	if !errors.As(fmt.Errorf("generate: %w", err), &target) {
		t.Error("errors.As failed")
	}
}

func testClient(cfg config.LLMConfig) *Client {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewClient(cfg, logger)
}

func TestClient_ApprovalURL(t *testing.T) {
	c := testClient(config.LLMConfig{
		BaseURL: "http://localhost:11434/v1",
		Models: map[string]config.ModelConfig{
			"explicit": {Path: "org/explicit", ApprovalURL: "https://example.com/request"},
			"derived":  {Path: "org/derived"},
		},
	})

	if got := c.approvalURL("explicit"); got != "https://example.com/request" {
		t.Errorf("approvalURL(explicit) = %q", got)
	}
	if got := c.approvalURL("derived"); got != "https://huggingface.co/org/derived" {
		t.Errorf("approvalURL(derived) = %q", got)
	}
	if got := c.approvalURL("unknown"); got != "https://huggingface.co/unknown" {
		t.Errorf("approvalURL(unknown) = %q", got)
	}
}

func TestClient_AgentModelFallback(t *testing.T) {
	c := testClient(config.LLMConfig{BaseURL: "x", DefaultModel: "chat-model"})
	if got := c.AgentModel(); got != "chat-model" {
		t.Errorf("AgentModel() = %q, want default model fallback", got)
	}

	c = testClient(config.LLMConfig{BaseURL: "x", DefaultModel: "chat-model", AgentModel: "agent-model"})
	if got := c.AgentModel(); got != "agent-model" {
		t.Errorf("AgentModel() = %q", got)
	}
}

func TestClient_HasModel(t *testing.T) {
	open := testClient(config.LLMConfig{BaseURL: "x"})
	if !open.HasModel("anything") {
		t.Error("empty catalog should accept any model id")
	}

	cataloged := testClient(config.LLMConfig{
		BaseURL: "x",
		Models:  map[string]config.ModelConfig{"m1": {Path: "p"}},
	})
	if !cataloged.HasModel("m1") {
		t.Error("HasModel(m1) = false")
	}
	if cataloged.HasModel("m2") {
		t.Error("HasModel(m2) = true")
	}
}

func TestEstimateUsage(t *testing.T) {
	usage := estimateUsage("m", []Message{
		{Role: "system", Content: strings.Repeat("a", 40)},
		{Role: "user", Content: strings.Repeat("b", 40)},
	}, strings.Repeat("c", 100))
	if usage.Model != "m" {
		t.Errorf("Model = %q", usage.Model)
	}
	if usage.InputTokens != 20 {
		t.Errorf("InputTokens = %d", usage.InputTokens)
	}
	if usage.OutputTokens != 25 {
		t.Errorf("OutputTokens = %d", usage.OutputTokens)
	}
}
