package forms

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrFormNotFound = errors.New("intake form not found")

// IntakeForm is the pre-session paperwork a client submits before video
// access is granted. Stored as a document because the question set varies by
// psychologist.
type IntakeForm struct {
	SessionID uuid.UUID      `json:"session_id"`
	ClientID  uuid.UUID      `json:"client_id"`
	Answers   map[string]any `json:"answers"`
	Submitted bool           `json:"submitted"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

type Store interface {
	Get(ctx context.Context, sessionID uuid.UUID) (*IntakeForm, error)
	Upsert(ctx context.Context, form *IntakeForm) error
	// Complete reports whether the required intake forms for the session
	// have been submitted. A missing form is simply incomplete, not an error.
	Complete(ctx context.Context, sessionID uuid.UUID) (bool, error)
}
