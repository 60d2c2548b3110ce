package domain

import (
	"time"

	"github.com/google/uuid"
)

type SessionState string

const (
	SessionRequested      SessionState = "requested"
	SessionApproved       SessionState = "approved"
	SessionPaymentPending SessionState = "payment_pending"
	SessionPaid           SessionState = "paid"
	SessionReady          SessionState = "ready"
	SessionInProgress     SessionState = "in_progress"
	SessionCompleted      SessionState = "completed"
	SessionCancelled      SessionState = "cancelled"
)

func (s SessionState) IsTerminal() bool {
	return s == SessionCompleted || s == SessionCancelled
}

// String representation (for logging)
func (s SessionState) String() string {
	return string(s)
}

// Session is the unit across which payment and video states must agree.
// Payment confirmation is always read from the latest payment record for the
// session; a session is never paid in isolation.
type Session struct {
	ID                  uuid.UUID    `json:"id"`
	ClientID            uuid.UUID    `json:"client_id"`
	PsychologistID      uuid.UUID    `json:"psychologist_id"`
	State               SessionState `json:"state"`
	IntakeFormsComplete bool         `json:"intake_forms_complete"`
	ScheduledAt         time.Time    `json:"scheduled_at"`

	// Version guards the read-validate-write cycle: state updates are
	// compare-and-swap on this field and lose on a stale read.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
