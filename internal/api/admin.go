package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// ListSessions returns logged-in visitors for the admin view.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	users, err := h.sessions.ActiveSessions(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"count": len(users),
		"users": users,
	})
}

// RemoveSession deletes the visitor holding the session id in the path.
func (h *Handler) RemoveSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		Error(w, http.StatusBadRequest, "session_id_required")
		return
	}

	ok, err := h.sessions.Remove(r.Context(), sessionID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if !ok {
		Error(w, http.StatusNotFound, "session_not_found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
