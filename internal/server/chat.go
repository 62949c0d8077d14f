package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/skein-ai/skein/internal/conversations"
	"github.com/skein-ai/skein/internal/llm"
)

// streamRegistry tracks in-flight streaming generations by conversation so
// they can be cancelled from the stop endpoint.
type streamRegistry struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func newStreamRegistry() *streamRegistry {
	return &streamRegistry{cancels: make(map[string]context.CancelFunc)}
}

func (r *streamRegistry) register(conversationID string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	// A new stream for the same conversation supersedes the old one.
	if prev, ok := r.cancels[conversationID]; ok {
		prev()
	}
	r.cancels[conversationID] = cancel
}

func (r *streamRegistry) unregister(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cancels, conversationID)
}

// stop cancels the stream for one conversation, or every stream when id is
// empty. Returns the number cancelled.
func (r *streamRegistry) stop(conversationID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conversationID != "" {
		if cancel, ok := r.cancels[conversationID]; ok {
			cancel()
			delete(r.cancels, conversationID)
			return 1
		}
		return 0
	}
	n := len(r.cancels)
	for id, cancel := range r.cancels {
		cancel()
		delete(r.cancels, id)
	}
	return n
}

func (r *streamRegistry) stopAll() {
	r.stop("")
}

type chatRequest struct {
	ConversationID string  `json:"conversation_id"`
	Message        string  `json:"message"`
	Model          string  `json:"model,omitempty"`
	Temperature    float32 `json:"temperature,omitempty"`
	TopP           float32 `json:"top_p,omitempty"`
	MaxTokens      int     `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Message        conversations.Message `json:"message"`
	ConversationID string                `json:"conversation_id"`
}

// buildChatMessages assembles the LLM message list: system prompt, history
// minus system messages, then the new user message.
func (s *Server) buildChatMessages(conv *conversations.Conversation, userMessage string) []llm.Message {
	messages := make([]llm.Message, 0, len(conv.Messages)+2)

	systemPrompt := conv.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = s.config.LLM.Defaults.SystemPrompt
	}
	if systemPrompt != "" {
		messages = append(messages, llm.Message{Role: "system", Content: systemPrompt})
	}
	for _, m := range conv.Messages {
		if m.Role == "system" {
			continue
		}
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	return append(messages, llm.Message{Role: "user", Content: userMessage})
}

// resolveChatModel picks the request model, falling back to the conversation
// default, and validates it against the catalog.
func (s *Server) resolveChatModel(w http.ResponseWriter, requested, fallback string) (string, bool) {
	model := requested
	if model == "" {
		model = fallback
	}
	if model == "" {
		model = s.llm.DefaultModel()
	}
	if !s.llm.HasModel(model) {
		s.jsonError(w, fmt.Sprintf("Unknown model: %s", model), http.StatusBadRequest)
		return "", false
	}
	return model, true
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	conv, err := s.conversations.Load(req.ConversationID)
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if conv == nil {
		s.jsonError(w, "Conversation not found", http.StatusNotFound)
		return
	}

	model, ok := s.resolveChatModel(w, req.Model, conv.Model)
	if !ok {
		return
	}

	messages := s.buildChatMessages(conv, req.Message)
	if _, err := s.conversations.AddMessage(req.ConversationID, conversations.Message{
		Role:    "user",
		Content: req.Message,
	}); err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	text, _, err := s.llm.Generate(r.Context(), llm.GenerateRequest{
		Messages:    messages,
		Model:       model,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	assistant := conversations.Message{
		Role:    "assistant",
		Content: text,
		Model:   model,
	}
	updated, err := s.conversations.AddMessage(req.ConversationID, assistant)
	if err != nil || updated == nil {
		s.jsonError(w, "failed to save assistant message", http.StatusInternalServerError)
		return
	}
	saved := updated.Messages[len(updated.Messages)-1]

	s.jsonResponse(w, chatResponse{Message: saved, ConversationID: req.ConversationID})
}

// Stream event payloads, one JSON object per SSE message.
type streamPayload struct {
	Type      string `json:"type"` // start | token | done | error
	MessageID string `json:"message_id,omitempty"`
	Content   string `json:"content,omitempty"`
	Error     string `json:"error,omitempty"`
}

// handleChatStream streams a completion over SSE. Query parameters carry the
// request so EventSource clients can connect directly.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	conversationID := q.Get("conversation_id")
	userMessage := q.Get("message")

	conv, err := s.conversations.Load(conversationID)
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if conv == nil {
		s.jsonError(w, "Conversation not found", http.StatusNotFound)
		return
	}

	model, ok := s.resolveChatModel(w, q.Get("model"), conv.Model)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.jsonError(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	messages := s.buildChatMessages(conv, userMessage)
	if _, err := s.conversations.AddMessage(conversationID, conversations.Message{
		Role:    "user",
		Content: userMessage,
	}); err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	s.streams.register(conversationID, cancel)
	defer s.streams.unregister(conversationID)

	events, err := s.llm.GenerateStream(ctx, llm.GenerateRequest{
		Messages:    messages,
		Model:       model,
		Temperature: parseFloatParam(r, "temperature", s.config.LLM.Defaults.Temperature),
		TopP:        parseFloatParam(r, "top_p", s.config.LLM.Defaults.TopP),
		MaxTokens:   parseIntParam(r, "max_tokens", s.config.LLM.Defaults.MaxTokens),
	})
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	messageID := conversations.NewID()
	s.sendEvent(w, flusher, streamPayload{Type: "start", MessageID: messageID})

	var full []byte
	for ev := range events {
		switch {
		case ev.Err != nil:
			// Cancellation is a clean stop, not an error to report.
			if ctx.Err() == nil {
				s.sendEvent(w, flusher, streamPayload{Type: "error", Error: ev.Err.Error()})
			}
		case ev.Token != "":
			full = append(full, ev.Token...)
			s.sendEvent(w, flusher, streamPayload{Type: "token", Content: ev.Token})
		}
	}

	// Persist whatever was generated, even on early stop.
	if _, err := s.conversations.AddMessage(conversationID, conversations.Message{
		ID:      messageID,
		Role:    "assistant",
		Content: string(full),
		Model:   model,
	}); err != nil {
		s.logger.Error("save streamed message", "conversation_id", conversationID, "error", err)
	}

	s.sendEvent(w, flusher, streamPayload{Type: "done", MessageID: messageID})
}

func (s *Server) sendEvent(w http.ResponseWriter, flusher http.Flusher, payload streamPayload) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

func (s *Server) handleChatStop(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConversationID string `json:"conversation_id,omitempty"`
	}
	// Body is optional; an empty body stops everything.
	_ = json.NewDecoder(r.Body).Decode(&req)

	stopped := s.streams.stop(req.ConversationID)
	s.jsonResponse(w, map[string]any{"status": "stopped", "stopped": stopped})
}
