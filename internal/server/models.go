package server

import (
	"net/http"
	"sort"
)

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	models := s.llm.Models()
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	s.jsonResponse(w, models)
}

func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	info, ok := s.llm.ModelInfo(r.PathValue("id"))
	if !ok {
		s.jsonError(w, "Model not found", http.StatusNotFound)
		return
	}
	s.jsonResponse(w, info)
}
