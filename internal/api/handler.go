// Package api provides HTTP handlers for the SV Explore API.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ashureev/sv-explore/internal/domain"
	"github.com/ashureev/sv-explore/internal/session"
	"github.com/go-chi/chi/v5"
)

// SessionService is the session lifecycle the handlers drive.
type SessionService interface {
	Open(ctx context.Context, token string) (session.Opened, error)
	Chat(ctx context.Context, sessionID, message string) (session.Reply, error)
	Conversation(ctx context.Context, sessionID string) (*domain.Conversation, error)
	Download(ctx context.Context, sessionID string) (session.Download, error)
	Logout(ctx context.Context, sessionID string) (bool, error)
	ActiveSessions(ctx context.Context) ([]domain.User, error)
	Remove(ctx context.Context, sessionID string) (bool, error)
	FlowEnabled() bool
}

var _ SessionService = (*session.Service)(nil)

// Handler provides common handler utilities.
type Handler struct {
	sessions SessionService
	isDev    bool
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(sessions SessionService, isDev bool) *Handler {
	return &Handler{sessions: sessions, isDev: isDev}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// RegisterRoutes registers the chat and admin routes.
func (h *Handler) RegisterRoutes(r chi.Router, chat *ChatHandler) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/config", h.GetConfig)
		r.Post("/session", h.OpenSession)
		r.Post("/chat", chat.Chat)
		r.Get("/conversation", h.GetConversation)
		r.Get("/conversation/download", h.DownloadConversation)
		r.Post("/logout", h.Logout)

		r.Route("/admin", func(r chi.Router) {
			r.Get("/sessions", h.ListSessions)
			r.Delete("/sessions/{sessionID}", h.RemoveSession)
		})
	})
}

// GetConfig returns the server configuration for the frontend.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"flow_enabled": h.sessions.FlowEnabled(),
	})
}
