package api

import (
	"log/slog"
	"net/http"

	"github.com/ashureev/sv-explore/internal/domain"
	"github.com/ashureev/sv-explore/internal/identity"
)

// OpenSession resolves the visitor's token and returns the session to chat in.
// The cookie is always rewritten since reactivation mints a new id.
func (h *Handler) OpenSession(w http.ResponseWriter, r *http.Request) {
	opened, err := h.sessions.Open(r.Context(), identity.TokenFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	identity.SetSessionCookie(w, opened.SessionID, h.isDev)
	JSON(w, http.StatusOK, map[string]interface{}{
		"user_id":      opened.UserID,
		"username":     opened.Username,
		"session_id":   opened.SessionID,
		"visits":       opened.VisitCount,
		"outcome":      opened.Outcome.String(),
		"is_new":       opened.IsNew(),
		"history":      opened.History,
		"flow_enabled": h.sessions.FlowEnabled(),
	})
}

// GetConversation returns the stored conversation of the current session.
func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.TokenFromContext(r.Context())
	conv, err := h.sessions.Conversation(r.Context(), sessionID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if conv == nil {
		Error(w, http.StatusNotFound, "conversation_not_found")
		return
	}

	history, err := conv.Transcript()
	if err != nil {
		slog.Warn("Stored transcript is unreadable", "session_id", sessionID, "error", err)
		history = domain.Transcript{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"session_id": conv.SessionID,
		"username":   conv.Username,
		"save_time":  conv.SaveTime,
		"visits":     conv.Visits,
		"history":    history,
	})
}

// DownloadConversation serves the transcript as a JSON attachment.
func (h *Handler) DownloadConversation(w http.ResponseWriter, r *http.Request) {
	dl, err := h.sessions.Download(r.Context(), identity.TokenFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+dl.Filename+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(dl.Content); err != nil {
		slog.Debug("failed to write download", "error", err)
	}
}

// Logout ends the current session and clears the cookie.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	ok, err := h.sessions.Logout(r.Context(), identity.TokenFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	identity.ClearSessionCookie(w, h.isDev)
	JSON(w, http.StatusOK, map[string]interface{}{"logged_out": ok})
}
