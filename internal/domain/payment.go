package domain

import (
	"time"

	"github.com/google/uuid"
)

type PaymentState string

const (
	PaymentPending   PaymentState = "pending"
	PaymentInitiated PaymentState = "initiated"
	PaymentConfirmed PaymentState = "confirmed"
	PaymentFailed    PaymentState = "failed"
	PaymentRefunded  PaymentState = "refunded"
)

// IsTerminal reports whether no further transition is permitted for this
// payment record. A failed payment is retried by creating a new payment
// record, never by moving the failed record out of its state.
func (s PaymentState) IsTerminal() bool {
	return s == PaymentFailed || s == PaymentRefunded
}

// String representation (for logging)
func (s PaymentState) String() string {
	return string(s)
}

type Payment struct {
	ID        uuid.UUID    `json:"id"`
	SessionID uuid.UUID    `json:"session_id"`
	State     PaymentState `json:"state"`
	Amount    float64      `json:"amount"`
	Currency  string       `json:"currency"`
	Phone     string       `json:"phone"`
	MpesaRef  string       `json:"mpesa_ref,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}
