package service

import "errors"

var (
	// ErrConflictRetryExhausted means every compare-and-swap attempt lost to
	// a concurrent writer. The caller should re-read and decide again.
	ErrConflictRetryExhausted = errors.New("session changed concurrently, retry")

	// ErrSessionAlreadyPaid means an initiation was attempted for a session
	// whose latest payment is already confirmed.
	ErrSessionAlreadyPaid = errors.New("session already has a confirmed payment")

	// ErrSessionNotPayable means the session is not in a state that accepts
	// payment initiation.
	ErrSessionNotPayable = errors.New("session is not awaiting payment")
)
