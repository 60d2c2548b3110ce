package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/tulivucare/tulivu-backend/internal/service"
)

// VideoAPI is the slice of the video service the handler needs.
type VideoAPI interface {
	JoinCheck(ctx context.Context, sessionID uuid.UUID) (*service.JoinDecision, error)
	Join(ctx context.Context, sessionID uuid.UUID, role string) (*service.JoinDecision, error)
	End(ctx context.Context, sessionID uuid.UUID) error
}

type VideoHandler struct {
	video   VideoAPI
	timeout time.Duration
}

func NewVideoHandler(video VideoAPI, timeout time.Duration) *VideoHandler {
	return &VideoHandler{video: video, timeout: timeout}
}

type JoinRequestDTO struct {
	Role string `json:"role"`
}

// GET /api/v1/sessions/{session_id}/join-check
func (h *VideoHandler) JoinCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}

	decision, err := h.video.JoinCheck(ctx, sessionID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, decision)
}

// POST /api/v1/sessions/{session_id}/join
func (h *VideoHandler) Join(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}

	var req JoinRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Role != "client" && req.Role != "psychologist" {
		respondError(w, http.StatusBadRequest, "invalid_role", "role must be client or psychologist")
		return
	}

	decision, err := h.video.Join(ctx, sessionID, req.Role)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if !decision.Allowed {
		respondJSON(w, http.StatusForbidden, decision)
		return
	}
	respondJSON(w, http.StatusOK, decision)
}

// POST /api/v1/sessions/{session_id}/end-call
func (h *VideoHandler) End(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}

	if err := h.video.End(ctx, sessionID); err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "ended"})
}
