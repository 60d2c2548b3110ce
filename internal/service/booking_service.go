package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tulivucare/tulivu-backend/internal/cache"
	"github.com/tulivucare/tulivu-backend/internal/domain"
	"github.com/tulivucare/tulivu-backend/internal/forms"
	"github.com/tulivucare/tulivu-backend/internal/lifecycle"
	"github.com/tulivucare/tulivu-backend/internal/repository"
	"golang.org/x/sync/singleflight"
)

// casRetries bounds how often a transition is retried after losing the
// compare-and-swap write. Each retry re-reads and re-validates against the
// post-write state, per the validator's contract.
const casRetries = 2

type BookingService struct {
	repo  repository.BookingRepository
	cache cache.SessionCache
	forms forms.Store
	log   *slog.Logger
	sfg   singleflight.Group // Prevents cache stampede
}

func NewBookingService(repo repository.BookingRepository, sessionCache cache.SessionCache, formStore forms.Store, log *slog.Logger) *BookingService {
	return &BookingService{
		repo:  repo,
		cache: sessionCache,
		forms: formStore,
		log:   log,
	}
}

// RequestSession creates a new session in the requested state.
func (s *BookingService) RequestSession(ctx context.Context, clientID, psychologistID uuid.UUID, scheduledAt time.Time) (*domain.Session, error) {
	session := &domain.Session{
		ID:             uuid.New(),
		ClientID:       clientID,
		PsychologistID: psychologistID,
		State:          domain.SessionRequested,
		ScheduledAt:    scheduledAt,
		Version:        1,
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// GetSession reads through the cache; a miss falls back to the repository
// and repopulates the cache off the request path.
func (s *BookingService) GetSession(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	v, err, _ := s.sfg.Do(id.String(), func() (interface{}, error) {
		session, err := s.cache.Get(ctx, id.String())
		if err == nil {
			return session, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.log.WarnContext(ctx, "session cache get failed", "error", err)
		}

		session, err = s.repo.GetSession(ctx, id)
		if err != nil {
			return nil, err
		}

		go func() {
			if errSet := s.cache.Set(context.Background(), session); errSet != nil {
				s.log.Warn("session cache set failed", "error", errSet)
			}
		}()

		return session, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Session), nil
}

// Transition moves the session to next after validating the edge and, when
// next presupposes payment, the latest payment state. The write is a
// compare-and-swap on the session version; losing it triggers one re-read
// and re-validation before giving up.
func (s *BookingService) Transition(ctx context.Context, id uuid.UUID, next domain.SessionState) (*domain.Session, error) {
	for attempt := 0; attempt <= casRetries; attempt++ {
		session, err := s.repo.GetSession(ctx, id)
		if err != nil {
			return nil, err
		}

		sync, err := s.paymentContext(ctx, id, next)
		if err != nil {
			return nil, err
		}

		if err := lifecycle.ValidateSession(session.State, next, sync); err != nil {
			return nil, err
		}

		payload, err := json.Marshal(sessionEvent{
			SessionID:      session.ID.String(),
			ClientID:       session.ClientID.String(),
			PsychologistID: session.PsychologistID.String(),
			State:          string(next),
			ScheduledAt:    session.ScheduledAt,
			OccurredAt:     time.Now(),
		})
		if err != nil {
			return nil, fmt.Errorf("marshal session event: %w", err)
		}

		err = s.repo.UpdateSessionState(ctx, id, session.Version, next, payload)
		if errors.Is(err, repository.ErrVersionConflict) {
			s.log.InfoContext(ctx, "session transition lost compare-and-swap, retrying",
				"session_id", id, "next", next, "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, err
		}

		s.invalidateCache(id)
		session.State = next
		session.Version++
		return session, nil
	}
	return nil, ErrConflictRetryExhausted
}

// Approve accepts a client's session request.
func (s *BookingService) Approve(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	return s.Transition(ctx, id, domain.SessionApproved)
}

// Cancel closes the session. Cancellation of a paid session is handled by
// the refund flow before this is called.
func (s *BookingService) Cancel(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	return s.Transition(ctx, id, domain.SessionCancelled)
}

// MarkReady moves a paid session to ready and provisions its video call
// record so the join-check has something to gate.
func (s *BookingService) MarkReady(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	session, err := s.Transition(ctx, id, domain.SessionReady)
	if err != nil {
		return nil, err
	}

	call := &domain.VideoCall{
		ID:        uuid.New(),
		SessionID: id,
		State:     domain.VideoNotStarted,
	}
	if err := s.repo.CreateVideoCall(ctx, call); err != nil {
		return nil, fmt.Errorf("provision video call: %w", err)
	}
	return session, nil
}

// SubmitIntakeForm stores the form document and mirrors the completion flag
// onto the session record.
func (s *BookingService) SubmitIntakeForm(ctx context.Context, form *forms.IntakeForm) error {
	if _, err := s.repo.GetSession(ctx, form.SessionID); err != nil {
		return err
	}
	if err := s.forms.Upsert(ctx, form); err != nil {
		return err
	}
	if form.Submitted {
		if err := s.repo.SetIntakeFormsComplete(ctx, form.SessionID, true); err != nil {
			return err
		}
		s.invalidateCache(form.SessionID)
	}
	return nil
}

// paymentContext supplies the latest payment state when the target session
// state presupposes a confirmed payment. A session with no payment record
// yet gets no context and fails the edge check instead where applicable.
func (s *BookingService) paymentContext(ctx context.Context, id uuid.UUID, next domain.SessionState) (*lifecycle.SyncContext, error) {
	switch next {
	case domain.SessionPaid, domain.SessionReady, domain.SessionInProgress, domain.SessionCompleted:
	default:
		return nil, nil
	}

	payment, err := s.repo.GetLatestPaymentForSession(ctx, id)
	if errors.Is(err, repository.ErrPaymentNotFound) {
		// No payment record at all: advancing is a sync violation, expressed
		// by supplying a non-confirmed state.
		pending := domain.PaymentPending
		return &lifecycle.SyncContext{PaymentState: &pending}, nil
	}
	if err != nil {
		return nil, err
	}
	return &lifecycle.SyncContext{PaymentState: &payment.State}, nil
}

func (s *BookingService) invalidateCache(id uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, id.String()); err != nil {
		s.log.Warn("session cache invalidate failed", "error", err, "session_id", id)
	}
}

// sessionEvent is the outbox payload consumed by the notification workers.
type sessionEvent struct {
	SessionID      string    `json:"session_id"`
	ClientID       string    `json:"client_id"`
	PsychologistID string    `json:"psychologist_id"`
	State          string    `json:"state"`
	ScheduledAt    time.Time `json:"scheduled_at"`
	OccurredAt     time.Time `json:"occurred_at"`
}
