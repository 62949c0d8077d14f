package server

import (
	"net/http"

	"github.com/skein-ai/skein/internal/mcp"
)

func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, s.mcp.Status())
}

func (s *Server) handleGetServer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	for _, st := range s.mcp.Status() {
		if st.ID == id {
			s.jsonResponse(w, st)
			return
		}
	}
	s.jsonError(w, "Server not found", http.StatusNotFound)
}

type connectResponse struct {
	Success bool       `json:"success"`
	Status  mcp.Status `json:"status"`
	Error   string     `json:"error,omitempty"`
}

func (s *Server) handleConnectServer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.mcp.Connect(r.Context(), id); err != nil {
		s.jsonResponse(w, connectResponse{
			Success: false,
			Status:  s.mcp.ConnectionStatus(id),
			Error:   err.Error(),
		})
		return
	}
	s.jsonResponse(w, connectResponse{Success: true, Status: mcp.StatusConnected})
}

func (s *Server) handleDisconnectServer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.mcp.Disconnect(id); err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, map[string]any{"success": true, "status": mcp.StatusDisconnected})
}

type toolInfo struct {
	Server      string `json:"server"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// handleListTools lists the tools of every connected server.
func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	out := make([]toolInfo, 0)
	for _, st := range s.mcp.Status() {
		if st.Status != mcp.StatusConnected {
			continue
		}
		for _, tool := range s.mcp.Tools(st.ID) {
			out = append(out, toolInfo{
				Server:      st.ID,
				Name:        tool.Name,
				Description: tool.Description,
			})
		}
	}
	s.jsonResponse(w, out)
}

type toolCallRequest struct {
	Server    string         `json:"server"`
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

type toolCallResponse struct {
	Success bool   `json:"success"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleCallTool(w http.ResponseWriter, r *http.Request) {
	var req toolCallRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.Server == "" || req.Tool == "" {
		s.jsonError(w, "server and tool are required", http.StatusBadRequest)
		return
	}

	result, err := s.mcp.CallTool(r.Context(), req.Server, req.Tool, req.Arguments)
	if err != nil {
		s.jsonResponse(w, toolCallResponse{Success: false, Error: err.Error()})
		return
	}
	s.jsonResponse(w, toolCallResponse{Success: !result.IsError, Content: result.Text()})
}

type setSecretRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (s *Server) handleSetSecret(w http.ResponseWriter, r *http.Request) {
	var req setSecretRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.Key == "" {
		s.jsonError(w, "key is required", http.StatusBadRequest)
		return
	}
	if err := s.secrets.Set(req.Key, req.Value); err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, map[string]any{"success": true, "key": req.Key})
}

func (s *Server) handleDeleteSecret(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	deleted, err := s.secrets.Delete(key)
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !deleted {
		s.jsonError(w, "Secret not found", http.StatusNotFound)
		return
	}
	s.jsonResponse(w, map[string]any{"success": true, "key": key})
}
