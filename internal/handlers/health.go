package handlers

import (
	"net/http"
)

// SessionCounter reports how many sessions are open.
type SessionCounter interface {
	Len() int
}

// HealthHandler responds with service health information.
type HealthHandler struct {
	Sessions SessionCounter
}

// Handle implements GET /healthz.
func (h HealthHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(r.Context(), w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	payload := map[string]any{
		"status": "ok",
	}
	if h.Sessions != nil {
		payload["sessions"] = h.Sessions.Len()
	}

	respondJSON(r.Context(), w, http.StatusOK, payload)
}
