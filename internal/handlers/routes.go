package handlers

import "net/http"

// RegisterRoutes wires HTTP handlers into the provided ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps Dependencies) {
	health := HealthHandler{Sessions: deps.Sessions}
	sessions := SessionHandler{Sessions: deps.Sessions, Limiter: deps.ActivityLimiter, NewID: deps.NewSessionID}

	mux.HandleFunc("/healthz", health.Handle)
	mux.HandleFunc("/api/v1/sessions", sessions.Create)
	mux.HandleFunc("/api/v1/sessions/{id}", sessions.Session)
	mux.HandleFunc("/api/v1/sessions/{id}/mood", sessions.Mood)
	mux.HandleFunc("/api/v1/sessions/{id}/typing-complete", sessions.TypingComplete)
	mux.HandleFunc("/api/v1/sessions/{id}/back", sessions.Back)
	mux.HandleFunc("/api/v1/sessions/{id}/activity", sessions.Activity)
}

// Dependencies aggregates collaborators required by HTTP handlers.
type Dependencies struct {
	Sessions        SessionRegistry
	ActivityLimiter RateLimiter
	NewSessionID    func() string
}
