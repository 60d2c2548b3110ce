package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/tulivucare/tulivu-backend/internal/domain"
	"github.com/tulivucare/tulivu-backend/internal/lifecycle"
	"github.com/tulivucare/tulivu-backend/internal/mpesa"
	"github.com/tulivucare/tulivu-backend/internal/repository"
)

// Pusher is the slice of the M-Pesa client the payment service needs.
type Pusher interface {
	Push(ctx context.Context, req *mpesa.STKPushRequest) (*mpesa.STKPushResponse, error)
}

type PaymentService struct {
	repo    repository.BookingRepository
	gateway Pusher
	booking *BookingService
	log     *slog.Logger
}

func NewPaymentService(repo repository.BookingRepository, gateway Pusher, booking *BookingService, log *slog.Logger) *PaymentService {
	return &PaymentService{
		repo:    repo,
		gateway: gateway,
		booking: booking,
		log:     log,
	}
}

// GatewayResult is a normalized M-Pesa callback: ResultCode 0 is success,
// anything else is a failure with a gateway-supplied description.
type GatewayResult struct {
	PaymentID   uuid.UUID `json:"payment_id"`
	ResultCode  int       `json:"result_code"`
	ResultDesc  string    `json:"result_desc"`
	MpesaRef    string    `json:"mpesa_receipt_number"`
	AmountPaid  float64   `json:"amount"`
	PhoneNumber string    `json:"phone_number"`
}

// InitiatePayment pushes an STK prompt for the session. A previous failed or
// refunded payment is never revived; a fresh payment record is created
// instead, which is why the session keeps a history of payment rows.
func (s *PaymentService) InitiatePayment(ctx context.Context, sessionID uuid.UUID, amount float64, phone string) (*domain.Payment, error) {
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.State != domain.SessionPaymentPending {
		return nil, ErrSessionNotPayable
	}

	payment, err := s.currentOrNewPayment(ctx, session, amount, phone)
	if err != nil {
		return nil, err
	}

	if err := lifecycle.ValidatePayment(payment.State, domain.PaymentInitiated); err != nil {
		return nil, err
	}

	resp, err := s.gateway.Push(ctx, &mpesa.STKPushRequest{
		PaymentID: payment.ID.String(),
		Phone:     phone,
		Amount:    amount,
		Reference: fmt.Sprintf("TULIVU-%s", shortID(sessionID)),
	})
	if err != nil {
		return nil, err
	}

	next := domain.PaymentInitiated
	if !resp.Accepted() {
		next = domain.PaymentFailed
		s.log.WarnContext(ctx, "stk push rejected by gateway",
			"payment_id", payment.ID, "response_code", resp.ResponseCode, "description", resp.Description)
	}

	if err := s.repo.UpdatePaymentState(ctx, payment.ID, next, ""); err != nil {
		return nil, err
	}
	payment.State = next
	return payment, nil
}

// ApplyGatewayResult reconciles a callback into the payment record and, on
// confirmation, advances the session. Safe to call more than once for the
// same callback: a repeated outcome is an idempotent self-transition.
func (s *PaymentService) ApplyGatewayResult(ctx context.Context, result *GatewayResult) error {
	payment, err := s.repo.GetPayment(ctx, result.PaymentID)
	if err != nil {
		return err
	}

	next := domain.PaymentFailed
	if result.ResultCode == 0 {
		next = domain.PaymentConfirmed
	}

	if payment.State == next {
		s.log.InfoContext(ctx, "duplicate gateway callback ignored",
			"payment_id", payment.ID, "state", next)
		return nil
	}

	if err := lifecycle.ValidatePayment(payment.State, next); err != nil {
		return err
	}

	if err := s.repo.UpdatePaymentState(ctx, payment.ID, next, result.MpesaRef); err != nil {
		if errors.Is(err, repository.ErrDuplicateMpesaRef) {
			s.log.InfoContext(ctx, "mpesa receipt already applied", "mpesa_ref", result.MpesaRef)
			return nil
		}
		return err
	}

	if next != domain.PaymentConfirmed {
		s.log.InfoContext(ctx, "payment failed",
			"payment_id", payment.ID, "result_code", result.ResultCode, "result_desc", result.ResultDesc)
		return nil
	}

	return s.advanceSession(ctx, payment.SessionID)
}

// Refund moves a confirmed payment to refunded. The booking side decides
// separately what happens to the session.
func (s *PaymentService) Refund(ctx context.Context, paymentID uuid.UUID) error {
	payment, err := s.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return err
	}
	if err := lifecycle.ValidatePayment(payment.State, domain.PaymentRefunded); err != nil {
		return err
	}
	return s.repo.UpdatePaymentState(ctx, paymentID, domain.PaymentRefunded, "")
}

// advanceSession moves payment_pending -> paid once the payment confirms.
// The transition re-validates with the sync context, so a stale or
// contradictory payment state can never mark the session paid.
func (s *PaymentService) advanceSession(ctx context.Context, sessionID uuid.UUID) error {
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	switch session.State {
	case domain.SessionPaymentPending, domain.SessionPaid:
		_, err := s.booking.Transition(ctx, sessionID, domain.SessionPaid)
		return err
	default:
		// The confirmation arrived for a session that moved on (e.g.
		// cancelled while the prompt was open). Keep the payment record,
		// leave the session alone; the refund flow handles the mismatch.
		s.log.WarnContext(ctx, "payment confirmed for session not awaiting payment",
			"session_id", sessionID, "session_state", session.State)
		return nil
	}
}

func (s *PaymentService) currentOrNewPayment(ctx context.Context, session *domain.Session, amount float64, phone string) (*domain.Payment, error) {
	payment, err := s.repo.GetLatestPaymentForSession(ctx, session.ID)
	if err != nil && !errors.Is(err, repository.ErrPaymentNotFound) {
		return nil, err
	}

	if payment != nil {
		switch payment.State {
		case domain.PaymentPending, domain.PaymentInitiated:
			return payment, nil
		case domain.PaymentConfirmed:
			return nil, ErrSessionAlreadyPaid
		}
		// failed or refunded: fall through to a fresh record
	}

	payment = &domain.Payment{
		ID:        uuid.New(),
		SessionID: session.ID,
		State:     domain.PaymentPending,
		Amount:    amount,
		Currency:  "KES",
		Phone:     phone,
	}
	if err := s.repo.CreatePayment(ctx, payment); err != nil {
		return nil, err
	}
	return payment, nil
}

func shortID(id uuid.UUID) string {
	return id.String()[:8]
}
