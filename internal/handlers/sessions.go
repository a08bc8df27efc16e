package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/moodflow/backend/internal/expiry"
	"github.com/moodflow/backend/internal/logging"
	"github.com/moodflow/backend/internal/mood"
	"github.com/moodflow/backend/internal/session"
)

const (
	maxBodyBytes = 4 << 10

	// webPrefix namespaces sessions opened over HTTP.
	webPrefix = "web:"
)

// SessionHandler exposes the mood selection flow of a session over HTTP.
type SessionHandler struct {
	Sessions SessionRegistry
	Limiter  RateLimiter
	NewID    func() string
}

type openSessionRequest struct {
	ID string `json:"id"`
}

type selectMoodRequest struct {
	Mood string `json:"mood"`
}

type activityRequest struct {
	Kind string `json:"kind"`
}

type activityResponse struct {
	Refreshed bool         `json:"refreshed"`
	Session   session.View `json:"session"`
}

// Create handles POST /api/v1/sessions. A body with an id resumes that
// session, restoring its mood from the mirror if it is not open.
func (h SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if r.Method != http.MethodPost {
		respondError(ctx, w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req openSessionRequest
	if err := decodeOptional(r, &req); err != nil {
		logger.Warn("invalid session payload", "error", err)
		respondError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}

	id := strings.TrimSpace(req.ID)
	switch {
	case id == "":
		id = h.newID()
	case !validWebID(id):
		respondError(ctx, w, http.StatusBadRequest, "invalid session id")
		return
	}

	s, err := h.Sessions.Open(ctx, id)
	if err != nil {
		logger.Error("open session", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "failed to open session")
		return
	}

	logging.FromContext(logging.WithSessionID(ctx, s.ID)).Info("session opened")
	respondJSON(ctx, w, http.StatusCreated, s.View())
}

// Session handles GET and DELETE /api/v1/sessions/{id}.
func (h SessionHandler) Session(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s, ok := h.lookup(w, r)
		if !ok {
			return
		}
		respondJSON(r.Context(), w, http.StatusOK, s.View())
	case http.MethodDelete:
		h.logout(w, r)
	default:
		respondError(r.Context(), w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h SessionHandler) logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	if err := h.Sessions.Logout(id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			respondError(ctx, w, http.StatusNotFound, "session not found")
			return
		}
		logging.FromContext(ctx).Error("logout session", "session_id", id, "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "failed to close session")
		return
	}
	logging.FromContext(logging.WithSessionID(ctx, id)).Info("session logged out")
	respondJSON(ctx, w, http.StatusNoContent, nil)
}

// Mood handles POST (select) and DELETE (reset) on
// /api/v1/sessions/{id}/mood.
func (h SessionHandler) Mood(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	switch r.Method {
	case http.MethodPost:
		var req selectMoodRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
			logging.FromContext(ctx).Warn("invalid mood payload", "error", err)
			respondError(ctx, w, http.StatusBadRequest, "invalid request body")
			return
		}
		v, err := mood.Parse(req.Mood)
		if err != nil {
			respondError(ctx, w, http.StatusBadRequest, "mood must be one of bad, neutral, good or default")
			return
		}

		s, ok := h.lookup(w, r)
		if !ok {
			return
		}
		s.Flow.Select(v)
		respondJSON(ctx, w, http.StatusOK, s.View())
	case http.MethodDelete:
		s, ok := h.lookup(w, r)
		if !ok {
			return
		}
		s.Flow.Reset()
		respondJSON(ctx, w, http.StatusOK, s.View())
	default:
		respondError(ctx, w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// TypingComplete handles POST /api/v1/sessions/{id}/typing-complete.
func (h SessionHandler) TypingComplete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(r.Context(), w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	s.Flow.TypingComplete()
	respondJSON(r.Context(), w, http.StatusOK, s.View())
}

// Back handles POST /api/v1/sessions/{id}/back.
func (h SessionHandler) Back(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(r.Context(), w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	s.Flow.Back()
	respondJSON(r.Context(), w, http.StatusOK, s.View())
}

// Activity handles POST /api/v1/sessions/{id}/activity.
func (h SessionHandler) Activity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		respondError(ctx, w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if !allowActivity(h.Limiter, r) {
		respondError(ctx, w, http.StatusTooManyRequests, "too many activity signals")
		return
	}

	var req activityRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		logging.FromContext(ctx).Warn("invalid activity payload", "error", err)
		respondError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}
	kind, err := expiry.ParseActivity(req.Kind)
	if err != nil {
		respondError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}

	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	refreshed := s.Tracker.Activity(kind)
	respondJSON(ctx, w, http.StatusOK, activityResponse{Refreshed: refreshed, Session: s.View()})
}

func (h SessionHandler) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	ctx := r.Context()
	id := r.PathValue("id")
	s, err := h.Sessions.Get(id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			respondError(ctx, w, http.StatusNotFound, "session not found")
			return nil, false
		}
		logging.FromContext(ctx).Error("lookup session", "session_id", id, "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "failed to load session")
		return nil, false
	}
	return s, true
}

func (h SessionHandler) newID() string {
	if h.NewID != nil {
		return h.NewID()
	}
	return webPrefix + uuid.NewString()
}

// decodeOptional decodes a JSON body into dst, treating an empty body as
// an empty object.
func decodeOptional(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func validWebID(id string) bool {
	rest, ok := strings.CutPrefix(id, webPrefix)
	return ok && rest != "" && len(id) <= 128
}
