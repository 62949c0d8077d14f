// Package llm wraps the local OpenAI-compatible model runtime used for chat
// completions and agent report generation.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/skein-ai/skein/internal/config"
)

// Message is a single chat message.
type Message struct {
	Role    string `json:"role"` // system | user | assistant
	Content string `json:"content"`
}

// GenerateRequest holds parameters for one generation call.
type GenerateRequest struct {
	Messages    []Message
	Model       string
	Temperature float32
	TopP        float32
	MaxTokens   int
}

// Usage reports token consumption for a generation. Local runtimes do not
// always report usage; estimated values use the len/4 heuristic.
type Usage struct {
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// ModelInfo is a catalog entry served to clients.
type ModelInfo struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Path             string   `json:"path"`
	Category         string   `json:"category"`
	SizeGB           float64  `json:"size_gb"`
	ContextLength    int      `json:"context_length"`
	Description      string   `json:"description"`
	Tags             []string `json:"tags"`
	RequiresApproval bool     `json:"requires_approval"`
	ApprovalURL      string   `json:"approval_url,omitempty"`
}

// Client talks to the local model runtime.
type Client struct {
	api    *openai.Client
	cfg    config.LLMConfig
	logger *slog.Logger
}

// NewClient creates a runtime client from config.
func NewClient(cfg config.LLMConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout > 0 {
		clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		api:    openai.NewClientWithConfig(clientConfig),
		cfg:    cfg,
		logger: logger.With("component", "llm"),
	}
}

// DefaultModel returns the interactive chat default model id.
func (c *Client) DefaultModel() string {
	return c.cfg.DefaultModel
}

// AgentModel returns the default model for unattended agent runs.
func (c *Client) AgentModel() string {
	if c.cfg.AgentModel != "" {
		return c.cfg.AgentModel
	}
	return c.cfg.DefaultModel
}

// ModelInfo looks up a catalog entry.
func (c *Client) ModelInfo(id string) (ModelInfo, bool) {
	m, ok := c.cfg.Models[id]
	if !ok {
		return ModelInfo{}, false
	}
	return ModelInfo{
		ID:               id,
		Name:             m.Name,
		Path:             m.Path,
		Category:         m.Category,
		SizeGB:           m.SizeGB,
		ContextLength:    m.ContextLength,
		Description:      m.Description,
		Tags:             m.Tags,
		RequiresApproval: m.RequiresApproval,
		ApprovalURL:      m.ApprovalURL,
	}, true
}

// Models returns the full catalog.
func (c *Client) Models() []ModelInfo {
	out := make([]ModelInfo, 0, len(c.cfg.Models))
	for id := range c.cfg.Models {
		if info, ok := c.ModelInfo(id); ok {
			out = append(out, info)
		}
	}
	return out
}

// HasModel reports whether a model id is in the catalog. An empty catalog
// accepts any id, so a bare runtime still works.
func (c *Client) HasModel(id string) bool {
	if len(c.cfg.Models) == 0 {
		return true
	}
	_, ok := c.cfg.Models[id]
	return ok
}

// approvalURL resolves the best-effort approval URL for a gated model:
// explicit config value, else derived from the hub path, else the model id.
func (c *Client) approvalURL(modelID string) string {
	if m, ok := c.cfg.Models[modelID]; ok {
		if m.ApprovalURL != "" {
			return m.ApprovalURL
		}
		if m.Path != "" {
			return "https://huggingface.co/" + m.Path
		}
	}
	return "https://huggingface.co/" + modelID
}

// Generate performs a blocking, non-streaming completion.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (string, Usage, error) {
	model := req.Model
	if model == "" {
		model = c.cfg.DefaultModel
	}

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, c.buildRequest(req, model, false))
	if err != nil {
		if isGatedError(err) {
			return "", Usage{}, &ApprovalError{
				Model:       model,
				ApprovalURL: c.approvalURL(model),
				Err:         err,
			}
		}
		return "", Usage{}, fmt.Errorf("generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", Usage{}, fmt.Errorf("generate: empty response")
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	usage := Usage{
		Model:        model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	if usage.InputTokens == 0 && usage.OutputTokens == 0 {
		usage = estimateUsage(model, req.Messages, text)
	}

	c.logger.Debug("generation complete",
		"model", model,
		"duration_ms", time.Since(start).Milliseconds(),
		"output_chars", len(text))
	return text, usage, nil
}

// GenerateStream streams tokens on the returned channel. The channel is
// closed when generation finishes; cancellation is cooperative through ctx
// and observed between tokens.
func (c *Client) GenerateStream(ctx context.Context, req GenerateRequest) (<-chan StreamEvent, error) {
	model := req.Model
	if model == "" {
		model = c.cfg.DefaultModel
	}

	stream, err := c.api.CreateChatCompletionStream(ctx, c.buildRequest(req, model, true))
	if err != nil {
		if isGatedError(err) {
			return nil, &ApprovalError{
				Model:       model,
				ApprovalURL: c.approvalURL(model),
				Err:         err,
			}
		}
		return nil, fmt.Errorf("generate stream: %w", err)
	}

	events := make(chan StreamEvent)
	go func() {
		defer close(events)
		defer stream.Close()
		for {
			select {
			case <-ctx.Done():
				events <- StreamEvent{Err: ctx.Err(), Done: true}
				return
			default:
			}

			resp, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					events <- StreamEvent{Done: true}
				} else {
					events <- StreamEvent{Err: err, Done: true}
				}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			if token := resp.Choices[0].Delta.Content; token != "" {
				events <- StreamEvent{Token: token}
			}
		}
	}()
	return events, nil
}

// StreamEvent is one unit of streamed output.
type StreamEvent struct {
	Token string
	Err   error
	Done  bool
}

func (c *Client) buildRequest(req GenerateRequest, model string, stream bool) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
		Stream:   stream,
	}
	if req.Temperature > 0 {
		chatReq.Temperature = req.Temperature
	}
	if req.TopP > 0 {
		chatReq.TopP = req.TopP
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	return chatReq
}

func estimateUsage(model string, messages []Message, output string) Usage {
	inputChars := 0
	for _, m := range messages {
		inputChars += len(m.Content)
	}
	return Usage{
		Model:        model,
		InputTokens:  inputChars / 4,
		OutputTokens: len(output) / 4,
	}
}
