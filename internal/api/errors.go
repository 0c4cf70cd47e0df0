package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/sv-explore/internal/flow"
	"github.com/ashureev/sv-explore/internal/session"
	"github.com/ashureev/sv-explore/internal/store"
)

// writeServiceError maps session, flow and store errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var statusErr *flow.StatusError

	switch {
	case errors.Is(err, session.ErrNoSession):
		Error(w, http.StatusUnauthorized, "no_active_session")
	case errors.Is(err, session.ErrEmptyMessage):
		Error(w, http.StatusBadRequest, "message_required")
	case errors.Is(err, session.ErrFlowDisabled):
		Error(w, http.StatusServiceUnavailable, "flow_disabled")
	case errors.Is(err, flow.ErrTimeout):
		Error(w, http.StatusGatewayTimeout, "Request timed out. Please try again.")
	case errors.Is(err, flow.ErrInvalidResponse):
		Error(w, http.StatusBadGateway, "Invalid response from server")
	case errors.As(err, &statusErr):
		Error(w, http.StatusBadGateway, "flow_unavailable")
	case errors.Is(err, store.ErrPoolExhausted),
		errors.Is(err, store.ErrConflict),
		errors.Is(err, store.ErrUnavailable):
		w.Header().Set("Retry-After", "1")
		Error(w, http.StatusServiceUnavailable, "server_busy")
	default:
		slog.Error("Request failed", "error", err, "path", r.URL.Path)
		Error(w, http.StatusInternalServerError, "internal_error")
	}
}
