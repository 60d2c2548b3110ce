package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/tulivucare/tulivu-backend/internal/lifecycle"
	"github.com/tulivucare/tulivu-backend/internal/mpesa"
	"github.com/tulivucare/tulivu-backend/internal/repository"
	"github.com/tulivucare/tulivu-backend/internal/service"
)

type ErrorResponse struct {
	Error   string   `json:"error"`
	Code    string   `json:"code,omitempty"`
	Details string   `json:"details,omitempty"`
	Missing []string `json:"missing,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// handleServiceError converts service and validation failures to HTTP status
// codes. Validation rejections carry enough detail to tell the caller what
// to do next, not just that something was refused.
func handleServiceError(w http.ResponseWriter, err error) {
	var vErr *lifecycle.Error
	if errors.As(err, &vErr) {
		handleValidationError(w, vErr)
		return
	}

	switch {
	case errors.Is(err, repository.ErrSessionNotFound),
		errors.Is(err, repository.ErrPaymentNotFound),
		errors.Is(err, repository.ErrVideoCallNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, service.ErrConflictRetryExhausted):
		respondError(w, http.StatusConflict, "concurrent_update", err.Error())
	case errors.Is(err, service.ErrSessionAlreadyPaid):
		respondError(w, http.StatusConflict, "already_paid", err.Error())
	case errors.Is(err, service.ErrSessionNotPayable):
		respondError(w, http.StatusConflict, "not_payable", err.Error())
	case errors.Is(err, repository.ErrDuplicateMpesaRef):
		respondError(w, http.StatusConflict, "duplicate_receipt", err.Error())
	case errors.Is(err, mpesa.ErrGatewayUnavailable):
		respondError(w, http.StatusServiceUnavailable, "gateway_unavailable", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func handleValidationError(w http.ResponseWriter, vErr *lifecycle.Error) {
	var status int
	var code string

	switch vErr.Kind {
	case lifecycle.KindUnknownState:
		status = http.StatusBadRequest
		code = "unknown_state"
	case lifecycle.KindForbiddenEdge:
		status = http.StatusConflict
		code = "forbidden_transition"
	case lifecycle.KindTerminalViolation:
		status = http.StatusConflict
		code = "terminal_state"
	case lifecycle.KindSyncViolation:
		status = http.StatusConflict
		code = "sync_violation"
	case lifecycle.KindAccessDenied:
		status = http.StatusForbidden
		code = "access_denied"
	default:
		status = http.StatusInternalServerError
		code = "internal_error"
	}

	resp := ErrorResponse{
		Error:   vErr.Error(),
		Code:    code,
		Missing: vErr.Fields,
	}
	if len(vErr.Fields) > 0 {
		resp.Details = "unmet preconditions: " + strings.Join(vErr.Fields, ", ")
	}
	respondJSON(w, status, resp)
}
