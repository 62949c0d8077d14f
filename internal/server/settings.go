package server

import (
	"net/http"
	"strings"
)

const maskedToken = "••••••••"

type notificationConfig struct {
	GotifyURL        string `json:"gotify_url,omitempty"`
	GotifyToken      string `json:"gotify_token,omitempty"`
	GotifyConfigured bool   `json:"gotify_configured"`
}

// handleGetNotifications returns the notification settings with the token
// masked; the raw token never leaves the server.
func (s *Server) handleGetNotifications(w http.ResponseWriter, r *http.Request) {
	gotifyURL, token := s.notifier.Credentials()

	cfg := notificationConfig{
		GotifyURL:        gotifyURL,
		GotifyConfigured: gotifyURL != "" && token != "",
	}
	if token != "" {
		cfg.GotifyToken = maskedToken
	}
	s.jsonResponse(w, cfg)
}

type notificationUpdate struct {
	GotifyURL   string `json:"gotify_url"`
	GotifyToken string `json:"gotify_token"`
}

type notificationResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func (s *Server) handleUpdateNotifications(w http.ResponseWriter, r *http.Request) {
	var req notificationUpdate
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.GotifyURL == "" || req.GotifyToken == "" {
		s.jsonError(w, "URL and token are required", http.StatusBadRequest)
		return
	}

	gotifyURL := strings.TrimRight(req.GotifyURL, "/")
	if err := s.secrets.Set("GOTIFY_URL", gotifyURL); err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := s.secrets.Set("GOTIFY_TOKEN", req.GotifyToken); err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, notificationResponse{
		Success: true,
		Message: "Notification settings saved successfully",
	})
}

func (s *Server) handleDeleteNotifications(w http.ResponseWriter, r *http.Request) {
	if _, err := s.secrets.Delete("GOTIFY_URL"); err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if _, err := s.secrets.Delete("GOTIFY_TOKEN"); err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, notificationResponse{
		Success: true,
		Message: "Notification settings removed",
	})
}

type testNotificationRequest struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

func (s *Server) handleTestNotification(w http.ResponseWriter, r *http.Request) {
	req := testNotificationRequest{
		Title:   "Test Notification",
		Message: "Skein notifications are working",
	}
	// Body is optional; defaults cover the empty case.
	_ = s.tryDecode(r, &req)

	if !s.notifier.Configured() {
		s.jsonError(w, "Notifications not configured. Set Gotify URL and token first.", http.StatusBadRequest)
		return
	}

	sent, err := s.notifier.Send(r.Context(), req.Title, req.Message, 5)
	if err != nil || !sent {
		msg := "Failed to send notification"
		if err != nil {
			msg = msg + ": " + err.Error()
		}
		s.jsonError(w, msg, http.StatusBadRequest)
		return
	}
	s.jsonResponse(w, notificationResponse{Success: true, Message: "Test notification sent"})
}
