// Package lifecycle is the state transition validation engine for the
// booking pipeline. It owns the closed state catalogs for payments, therapy
// sessions and video calls, the per-entity allow-list transition tables, and
// the cross-entity synchronization rules that keep the three lifecycles
// consistent. It is stateless and judges only: persisting an accepted
// transition is the caller's job.
//
// The validator cannot see storage, so it cannot close the read-validate-
// write race on its own. Every call site must pair Validate with an
// optimistic-concurrency write (compare-and-swap on the record's version)
// and, on a conflict, re-read the current state and validate again before
// retrying. Skipping that contract reintroduces exactly the inconsistency
// this engine exists to prevent.
package lifecycle

import "github.com/tulivucare/tulivu-backend/internal/domain"

// Validate is the single entry point every mutation path calls before
// persisting a state change. The per-entity edge check runs first; the
// cross-entity check runs only when a context is supplied. The first failure
// is returned alone so callers always get one actionable reason.
func Validate(entity domain.EntityType, current, next string, sync *SyncContext) error {
	if err := ValidateEdge(entity, current, next); err != nil {
		return err
	}
	if sync == nil {
		return nil
	}
	if err := checkSync(entity, next, sync); err != nil {
		return err
	}
	return nil
}

// ValidatePayment validates a payment record transition.
func ValidatePayment(current, next domain.PaymentState) error {
	return Validate(domain.EntityPayment, string(current), string(next), nil)
}

// ValidateSession validates a session transition, optionally against the
// session's latest payment state.
func ValidateSession(current, next domain.SessionState, sync *SyncContext) error {
	return Validate(domain.EntitySession, string(current), string(next), sync)
}

// ValidateVideo validates a video call transition against the full gate
// context. Join checks must always supply payment, session and forms state.
func ValidateVideo(current, next domain.VideoState, sync *SyncContext) error {
	return Validate(domain.EntityVideo, string(current), string(next), sync)
}
