package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/tulivucare/tulivu-backend/internal/domain"
	"github.com/tulivucare/tulivu-backend/internal/service"
)

// PaymentAPI is the slice of the payment service the handler needs.
type PaymentAPI interface {
	InitiatePayment(ctx context.Context, sessionID uuid.UUID, amount float64, phone string) (*domain.Payment, error)
	ApplyGatewayResult(ctx context.Context, result *service.GatewayResult) error
	Refund(ctx context.Context, paymentID uuid.UUID) error
}

type PaymentHandler struct {
	payments PaymentAPI
	timeout  time.Duration
}

func NewPaymentHandler(payments PaymentAPI, timeout time.Duration) *PaymentHandler {
	return &PaymentHandler{payments: payments, timeout: timeout}
}

type InitiatePaymentRequestDTO struct {
	Amount float64 `json:"amount"`
	Phone  string  `json:"phone"`
}

type PaymentResponseDTO struct {
	PaymentID string  `json:"payment_id"`
	SessionID string  `json:"session_id"`
	State     string  `json:"state"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
}

// CallbackRequestDTO matches the gateway's result callback shape.
type CallbackRequestDTO struct {
	PaymentID   string  `json:"payment_id"`
	ResultCode  int     `json:"result_code"`
	ResultDesc  string  `json:"result_desc"`
	MpesaRef    string  `json:"mpesa_receipt_number"`
	Amount      float64 `json:"amount"`
	PhoneNumber string  `json:"phone_number"`
}

// POST /api/v1/sessions/{session_id}/payments
func (h *PaymentHandler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}

	var req InitiatePaymentRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Amount <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_amount", "amount must be positive")
		return
	}
	if req.Phone == "" {
		respondError(w, http.StatusBadRequest, "missing_phone", "phone is required")
		return
	}

	payment, err := h.payments.InitiatePayment(ctx, sessionID, req.Amount, req.Phone)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, PaymentResponseDTO{
		PaymentID: payment.ID.String(),
		SessionID: payment.SessionID.String(),
		State:     string(payment.State),
		Amount:    payment.Amount,
		Currency:  payment.Currency,
	})
}

// POST /api/v1/payments/callback
//
// The gateway retries callbacks, so a duplicate delivery must still return
// 200 or the retries never stop.
func (h *PaymentHandler) Callback(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req CallbackRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	paymentID, err := uuid.Parse(req.PaymentID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_payment_id", "payment_id must be a UUID")
		return
	}

	err = h.payments.ApplyGatewayResult(ctx, &service.GatewayResult{
		PaymentID:   paymentID,
		ResultCode:  req.ResultCode,
		ResultDesc:  req.ResultDesc,
		MpesaRef:    req.MpesaRef,
		AmountPaid:  req.Amount,
		PhoneNumber: req.PhoneNumber,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

// POST /api/v1/payments/{payment_id}/refund
func (h *PaymentHandler) Refund(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	paymentID, err := uuid.Parse(chi.URLParam(r, "payment_id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_payment_id", "payment_id must be a UUID")
		return
	}

	if err := h.payments.Refund(ctx, paymentID); err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "refunded"})
}
