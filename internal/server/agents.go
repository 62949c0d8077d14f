package server

import (
	"context"
	"net/http"
	"time"

	"github.com/skein-ai/skein/internal/agents"
	"github.com/skein-ai/skein/internal/conversations"
	"github.com/skein-ai/skein/internal/runs"
)

// agentInfo builds the runtime projection for one agent.
func (s *Server) agentInfo(agent *agents.Agent, nextRuns map[string]time.Time) agents.Info {
	info := agents.Info{
		ID:          agent.ID,
		Name:        agent.Name,
		Description: agent.Description,
		Enabled:     agent.Enabled,
		Schedule:    agent.Schedule,
		SourceCount: len(agent.Sources),
		TotalRuns:   s.runs.CountRuns(agent.ID),
	}
	if next, ok := nextRuns[agent.ID]; ok {
		info.NextRun = &next
	}
	if last, err := s.runs.LastRun(agent.ID); err == nil && last != nil {
		info.LastRun = &last.StartedAt
		info.LastStatus = string(last.Status)
	}
	return info
}

func (s *Server) schedulerNextRuns() map[string]time.Time {
	if s.scheduler == nil {
		return nil
	}
	return s.scheduler.AllNextRuns()
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	nextRuns := s.schedulerNextRuns()
	list := s.agents.List()
	out := make([]agents.Info, 0, len(list))
	for _, agent := range list {
		out = append(out, s.agentInfo(agent, nextRuns))
	}
	s.jsonResponse(w, out)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent := s.agents.Get(r.PathValue("id"))
	if agent == nil {
		s.jsonError(w, "Agent not found", http.StatusNotFound)
		return
	}
	s.jsonResponse(w, s.agentInfo(agent, s.schedulerNextRuns()))
}

func (s *Server) handleGetAgentConfig(w http.ResponseWriter, r *http.Request) {
	agent := s.agents.Get(r.PathValue("id"))
	if agent == nil {
		s.jsonError(w, "Agent not found", http.StatusNotFound)
		return
	}
	s.jsonResponse(w, agent)
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req agents.CreateRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		s.jsonError(w, "name is required", http.StatusBadRequest)
		return
	}

	agent, err := s.agents.Create(req)
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if s.scheduler != nil && agent.Enabled && agent.Schedule != "" {
		s.scheduler.Schedule(agent.ID, agent.Schedule)
	}
	s.jsonResponse(w, agent)
}

func (s *Server) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	var req agents.UpdateRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	agent, err := s.agents.Update(r.PathValue("id"), req)
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if agent == nil {
		s.jsonError(w, "Agent not found", http.StatusNotFound)
		return
	}

	// Schedule, enablement, or both may have changed.
	if s.scheduler != nil {
		if agent.Enabled && agent.Schedule != "" {
			s.scheduler.Reschedule(agent.ID, agent.Schedule)
		} else {
			s.scheduler.Unschedule(agent.ID)
		}
	}
	s.jsonResponse(w, agent)
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.scheduler != nil {
		s.scheduler.Unschedule(id)
	}

	deleted, err := s.agents.Delete(id)
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !deleted {
		s.jsonError(w, "Agent not found", http.StatusNotFound)
		return
	}
	// Run history is kept on purpose.
	s.jsonResponse(w, map[string]string{"status": "deleted", "agent_id": id})
}

type triggerRunResponse struct {
	RunID   string      `json:"run_id"`
	AgentID string      `json:"agent_id"`
	Status  runs.Status `json:"status"`
	Message string      `json:"message"`
}

// handleTriggerRun starts a manual run. The pending record is persisted
// before responding so the run is immediately visible in listings; the run
// itself proceeds in the background.
func (s *Server) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	agent := s.agents.Get(agentID)
	if agent == nil {
		s.jsonError(w, "Agent not found", http.StatusNotFound)
		return
	}

	meta := &runs.Meta{
		RunID:     runs.NewRunID(time.Now()),
		AgentID:   agentID,
		AgentName: agent.Name,
		Trigger:   runs.TriggerManual,
		Status:    runs.StatusPending,
		StartedAt: time.Now().UTC(),
	}
	if err := s.runs.CreateRun(meta); err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	go func() {
		if _, err := s.runner.RunPending(context.Background(), agentID, runs.TriggerManual, meta.RunID); err != nil {
			s.logger.Error("background agent run failed", "agent_id", agentID, "error", err)
		}
	}()

	s.jsonResponse(w, triggerRunResponse{
		RunID:   meta.RunID,
		AgentID: agentID,
		Status:  runs.StatusPending,
		Message: "Agent run started",
	})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	if s.agents.Get(agentID) == nil {
		s.jsonError(w, "Agent not found", http.StatusNotFound)
		return
	}
	limit := parseIntParam(r, "limit", 50)
	offset := parseIntParam(r, "offset", 0)

	summaries, err := s.runs.ListRuns(agentID, limit, offset)
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, summaries)
}

type runDetailResponse struct {
	Meta   *runs.Meta `json:"meta"`
	Report string     `json:"report,omitempty"`
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	runID := r.PathValue("run_id")

	meta, err := s.runs.LoadMeta(agentID, runID)
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if meta == nil {
		s.jsonError(w, "Run not found", http.StatusNotFound)
		return
	}

	report, _, err := s.runs.LoadReport(agentID, runID)
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, runDetailResponse{Meta: meta, Report: report})
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	report, found, err := s.runs.LoadReport(r.PathValue("id"), r.PathValue("run_id"))
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !found {
		s.jsonError(w, "Report not found", http.StatusNotFound)
		return
	}
	s.jsonResponse(w, map[string]string{"content": report})
}

type addToContextRequest struct {
	ConversationID string `json:"conversation_id"`
}

type addToContextResponse struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
}

// handleAddToContext injects a run's report into a conversation as a system
// message so chat can reference it.
func (s *Server) handleAddToContext(w http.ResponseWriter, r *http.Request) {
	var req addToContextRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	report, found, err := s.runs.LoadReport(r.PathValue("id"), r.PathValue("run_id"))
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !found {
		s.jsonError(w, "Report not found", http.StatusNotFound)
		return
	}

	conv, err := s.conversations.AddMessage(req.ConversationID, conversations.Message{
		Role:    "system",
		Content: "[Agent Report Context]\n\n" + report,
	})
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if conv == nil {
		s.jsonError(w, "Conversation not found", http.StatusNotFound)
		return
	}

	s.jsonResponse(w, addToContextResponse{
		Success:        true,
		Message:        "Report added to conversation context",
		ConversationID: req.ConversationID,
	})
}

func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		s.jsonResponse(w, map[string]any{"running": false, "jobs": []any{}})
		return
	}
	s.jsonResponse(w, map[string]any{
		"running": true,
		"jobs":    s.scheduler.Status(),
	})
}
