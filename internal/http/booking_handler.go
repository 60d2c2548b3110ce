package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/tulivucare/tulivu-backend/internal/domain"
	"github.com/tulivucare/tulivu-backend/internal/forms"
)

// BookingAPI is the slice of the booking service the handler needs.
type BookingAPI interface {
	RequestSession(ctx context.Context, clientID, psychologistID uuid.UUID, scheduledAt time.Time) (*domain.Session, error)
	GetSession(ctx context.Context, id uuid.UUID) (*domain.Session, error)
	Transition(ctx context.Context, id uuid.UUID, next domain.SessionState) (*domain.Session, error)
	Approve(ctx context.Context, id uuid.UUID) (*domain.Session, error)
	Cancel(ctx context.Context, id uuid.UUID) (*domain.Session, error)
	MarkReady(ctx context.Context, id uuid.UUID) (*domain.Session, error)
	SubmitIntakeForm(ctx context.Context, form *forms.IntakeForm) error
}

type BookingHandler struct {
	booking BookingAPI
	timeout time.Duration
}

func NewBookingHandler(booking BookingAPI, timeout time.Duration) *BookingHandler {
	return &BookingHandler{booking: booking, timeout: timeout}
}

type CreateSessionRequestDTO struct {
	ClientID       string    `json:"client_id"`
	PsychologistID string    `json:"psychologist_id"`
	ScheduledAt    time.Time `json:"scheduled_at"`
}

type TransitionRequestDTO struct {
	State string `json:"state"`
}

type SessionResponseDTO struct {
	SessionID      string    `json:"session_id"`
	ClientID       string    `json:"client_id"`
	PsychologistID string    `json:"psychologist_id"`
	State          string    `json:"state"`
	ScheduledAt    time.Time `json:"scheduled_at"`
	FormsComplete  bool      `json:"forms_complete"`
}

func sessionResponse(s *domain.Session) SessionResponseDTO {
	return SessionResponseDTO{
		SessionID:      s.ID.String(),
		ClientID:       s.ClientID.String(),
		PsychologistID: s.PsychologistID.String(),
		State:          string(s.State),
		ScheduledAt:    s.ScheduledAt,
		FormsComplete:  s.IntakeFormsComplete,
	}
}

// POST /api/v1/sessions
func (h *BookingHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req CreateSessionRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	clientID, err := uuid.Parse(req.ClientID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_client_id", "client_id must be a UUID")
		return
	}
	psychologistID, err := uuid.Parse(req.PsychologistID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_psychologist_id", "psychologist_id must be a UUID")
		return
	}
	if req.ScheduledAt.Before(time.Now()) {
		respondError(w, http.StatusBadRequest, "invalid_schedule", "scheduled_at must be in the future")
		return
	}

	session, err := h.booking.RequestSession(ctx, clientID, psychologistID, req.ScheduledAt)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, sessionResponse(session))
}

// GET /api/v1/sessions/{session_id}
func (h *BookingHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, ok := sessionIDParam(w, r)
	if !ok {
		return
	}

	session, err := h.booking.GetSession(ctx, id)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, sessionResponse(session))
}

// POST /api/v1/sessions/{session_id}/approve
func (h *BookingHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.fixedTransition(w, r, h.booking.Approve)
}

// POST /api/v1/sessions/{session_id}/cancel
func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.fixedTransition(w, r, h.booking.Cancel)
}

// POST /api/v1/sessions/{session_id}/ready
func (h *BookingHandler) MarkReady(w http.ResponseWriter, r *http.Request) {
	h.fixedTransition(w, r, h.booking.MarkReady)
}

func (h *BookingHandler) fixedTransition(w http.ResponseWriter, r *http.Request,
	op func(context.Context, uuid.UUID) (*domain.Session, error)) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, ok := sessionIDParam(w, r)
	if !ok {
		return
	}

	session, err := op(ctx, id)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, sessionResponse(session))
}

// POST /api/v1/sessions/{session_id}/transition
func (h *BookingHandler) Transition(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, ok := sessionIDParam(w, r)
	if !ok {
		return
	}

	var req TransitionRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.State == "" {
		respondError(w, http.StatusBadRequest, "missing_state", "state is required")
		return
	}

	session, err := h.booking.Transition(ctx, id, domain.SessionState(req.State))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, sessionResponse(session))
}

type IntakeFormRequestDTO struct {
	Answers   map[string]any `json:"answers"`
	Submitted bool           `json:"submitted"`
}

// PUT /api/v1/sessions/{session_id}/intake-form
func (h *BookingHandler) SubmitIntakeForm(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, ok := sessionIDParam(w, r)
	if !ok {
		return
	}

	var req IntakeFormRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	session, err := h.booking.GetSession(ctx, id)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	form := &forms.IntakeForm{
		SessionID: id,
		ClientID:  session.ClientID,
		Answers:   req.Answers,
		Submitted: req.Submitted,
	}
	if err := h.booking.SubmitIntakeForm(ctx, form); err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"submitted": req.Submitted})
}

func sessionIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "session_id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "session_id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}
