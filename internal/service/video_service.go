package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/tulivucare/tulivu-backend/internal/domain"
	"github.com/tulivucare/tulivu-backend/internal/forms"
	"github.com/tulivucare/tulivu-backend/internal/lifecycle"
	"github.com/tulivucare/tulivu-backend/internal/repository"
)

type VideoService struct {
	repo  repository.BookingRepository
	forms forms.Store
	log   *slog.Logger
}

func NewVideoService(repo repository.BookingRepository, formStore forms.Store, log *slog.Logger) *VideoService {
	return &VideoService{
		repo:  repo,
		forms: formStore,
		log:   log,
	}
}

// JoinDecision is the join-check verdict surfaced to the client UI. When
// access is denied, Missing names exactly the preconditions that failed so
// the UI can say "complete your intake form first" rather than a generic
// denial.
type JoinDecision struct {
	Allowed bool              `json:"allowed"`
	State   domain.VideoState `json:"state"`
	Missing []string          `json:"missing,omitempty"`
	Reason  string            `json:"reason,omitempty"`
}

// JoinCheck evaluates whether a participant may enter the call right now.
// Read-only: it never moves any state.
func (s *VideoService) JoinCheck(ctx context.Context, sessionID uuid.UUID) (*JoinDecision, error) {
	current, next, sync, err := s.gateInputs(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if vErr := lifecycle.ValidateVideo(current, next, sync); vErr != nil {
		return decisionFromError(current, vErr), nil
	}
	return &JoinDecision{Allowed: true, State: current}, nil
}

// Join re-runs the gate and, if it opens, persists the participant joining.
// The write is conditional on the state read here; a racing join loses and
// is retried once against the fresh state.
func (s *VideoService) Join(ctx context.Context, sessionID uuid.UUID, role string) (*JoinDecision, error) {
	for attempt := 0; attempt <= casRetries; attempt++ {
		current, next, sync, err := s.gateInputs(ctx, sessionID)
		if err != nil {
			return nil, err
		}

		if vErr := lifecycle.ValidateVideo(current, next, sync); vErr != nil {
			return decisionFromError(current, vErr), nil
		}

		call, err := s.repo.GetVideoCall(ctx, sessionID)
		if errors.Is(err, repository.ErrVideoCallNotFound) {
			call = &domain.VideoCall{ID: uuid.New(), SessionID: sessionID, State: domain.VideoNotStarted}
			if e2 := s.repo.CreateVideoCall(ctx, call); e2 != nil {
				return nil, e2
			}
		} else if err != nil {
			return nil, err
		}

		if current == next {
			// Another participant of the same role re-joining an active call.
			return &JoinDecision{Allowed: true, State: next}, nil
		}

		err = s.repo.UpdateVideoCallState(ctx, call.ID, current, next, role)
		if errors.Is(err, repository.ErrVersionConflict) {
			s.log.InfoContext(ctx, "video join lost conditional write, retrying",
				"session_id", sessionID, "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, err
		}
		return &JoinDecision{Allowed: true, State: next}, nil
	}
	return nil, ErrConflictRetryExhausted
}

// End closes the call. Allowed from waiting or active; a call that never
// started just stays not_started.
func (s *VideoService) End(ctx context.Context, sessionID uuid.UUID) error {
	call, err := s.repo.GetVideoCall(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := lifecycle.ValidateVideo(call.State, domain.VideoEnded, nil); err != nil {
		return err
	}
	return s.repo.UpdateVideoCallState(ctx, call.ID, call.State, domain.VideoEnded, "")
}

// gateInputs assembles the current video state, the transition a join would
// make, and the full synchronization context the gate requires.
func (s *VideoService) gateInputs(ctx context.Context, sessionID uuid.UUID) (domain.VideoState, domain.VideoState, *lifecycle.SyncContext, error) {
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return "", "", nil, err
	}

	sync := &lifecycle.SyncContext{SessionState: &session.State}

	payment, err := s.repo.GetLatestPaymentForSession(ctx, sessionID)
	if err != nil && !errors.Is(err, repository.ErrPaymentNotFound) {
		return "", "", nil, err
	}
	if payment != nil {
		sync.PaymentState = &payment.State
	}

	complete, err := s.forms.Complete(ctx, sessionID)
	if err != nil {
		return "", "", nil, err
	}
	sync.FormsComplete = &complete

	current := domain.VideoNotStarted
	call, err := s.repo.GetVideoCall(ctx, sessionID)
	if err != nil && !errors.Is(err, repository.ErrVideoCallNotFound) {
		return "", "", nil, err
	}
	if call != nil {
		current = call.State
	}

	return current, nextOnJoin(current), sync, nil
}

// nextOnJoin is the state a successful join would move the call to.
func nextOnJoin(current domain.VideoState) domain.VideoState {
	switch current {
	case domain.VideoNotStarted:
		return domain.VideoWaitingForParticipants
	case domain.VideoWaitingForParticipants:
		return domain.VideoActive
	default:
		return current
	}
}

func decisionFromError(current domain.VideoState, err error) *JoinDecision {
	decision := &JoinDecision{Allowed: false, State: current, Reason: err.Error()}
	var vErr *lifecycle.Error
	if errors.As(err, &vErr) {
		decision.Missing = vErr.Fields
	}
	return decision
}
