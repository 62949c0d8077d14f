package server

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/skein-ai/skein/internal/conversations"
)

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.conversations.List()
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, summaries)
}

type createConversationRequest struct {
	Name         string `json:"name"`
	Model        string `json:"model,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		req.Name = "New Chat"
	}
	model := req.Model
	if model == "" {
		model = s.llm.DefaultModel()
	}
	if !s.llm.HasModel(model) {
		s.jsonError(w, fmt.Sprintf("Unknown model: %s", model), http.StatusBadRequest)
		return
	}

	conv, err := s.conversations.Create(req.Name, model, req.SystemPrompt)
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, conv)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.conversations.Load(r.PathValue("id"))
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if conv == nil {
		s.jsonError(w, "Conversation not found", http.StatusNotFound)
		return
	}
	s.jsonResponse(w, conv)
}

type updateConversationRequest struct {
	Name         *string `json:"name,omitempty"`
	Model        *string `json:"model,omitempty"`
	SystemPrompt *string `json:"system_prompt,omitempty"`
}

func (s *Server) handleUpdateConversation(w http.ResponseWriter, r *http.Request) {
	var req updateConversationRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.Model != nil && !s.llm.HasModel(*req.Model) {
		s.jsonError(w, fmt.Sprintf("Unknown model: %s", *req.Model), http.StatusBadRequest)
		return
	}

	conv, err := s.conversations.Update(r.PathValue("id"), req.Name, req.Model, req.SystemPrompt)
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if conv == nil {
		s.jsonError(w, "Conversation not found", http.StatusNotFound)
		return
	}
	s.jsonResponse(w, conv)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	deleted, err := s.conversations.Delete(id)
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !deleted {
		s.jsonError(w, "Conversation not found", http.StatusNotFound)
		return
	}
	s.jsonResponse(w, map[string]string{"status": "deleted", "conversation_id": id})
}

func (s *Server) handleAddMessage(w http.ResponseWriter, r *http.Request) {
	var msg conversations.Message
	if !s.decodeJSON(w, r, &msg) {
		return
	}
	switch msg.Role {
	case "system", "user", "assistant":
	default:
		s.jsonError(w, "invalid message role", http.StatusBadRequest)
		return
	}

	conv, err := s.conversations.AddMessage(r.PathValue("id"), msg)
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if conv == nil {
		s.jsonError(w, "Conversation not found", http.StatusNotFound)
		return
	}
	s.jsonResponse(w, conv)
}

func (s *Server) handleExportConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.conversations.Load(r.PathValue("id"))
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if conv == nil {
		s.jsonError(w, "Conversation not found", http.StatusNotFound)
		return
	}

	format := r.URL.Query().Get("format")
	switch format {
	case "", "json":
		data, err := conversations.ExportJSON(conv)
		if err != nil {
			s.jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", conv.ID+".json"))
		_, _ = w.Write(data)
	case "markdown", "md":
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", conv.ID+".md"))
		_, _ = io.WriteString(w, conversations.ExportMarkdown(conv, time.Now()))
	default:
		s.jsonError(w, fmt.Sprintf("unsupported export format: %s", format), http.StatusBadRequest)
	}
}

func (s *Server) handleImportConversation(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 10<<20))
	if err != nil {
		s.jsonError(w, "failed to read import payload", http.StatusBadRequest)
		return
	}

	conv, err := conversations.Import(data, s.llm.DefaultModel(), time.Now())
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.conversations.Save(conv); err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, conv)
}
