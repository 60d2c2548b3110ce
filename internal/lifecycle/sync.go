package lifecycle

import "github.com/tulivucare/tulivu-backend/internal/domain"

// SyncContext carries the current states of the other lifecycles alongside a
// proposed transition. Cross-entity checks are opt-in per call site: a nil
// context means only the per-entity edge is validated.
type SyncContext struct {
	PaymentState  *domain.PaymentState
	SessionState  *domain.SessionState
	FormsComplete *bool
}

// Named invariants carried on SYNC_VIOLATION errors so collaborators can log
// and message accurately.
const (
	InvariantPaymentBeforeSession  = "session cannot advance without confirmed payment"
	InvariantPaidRequiresNotFailed = "session cannot become paid while payment is failed"
	InvariantVideoGate             = "video access requires ready session, confirmed payment and completed intake forms"
)

// sessionAdvanceStates are the session states that presuppose a confirmed
// payment.
var sessionAdvanceStates = map[string]bool{
	string(domain.SessionReady):      true,
	string(domain.SessionPaid):       true,
	string(domain.SessionInProgress): true,
	string(domain.SessionCompleted):  true,
}

// checkSync verifies the proposed transition against the supplied context.
// Rules run in a fixed order and the first violation wins.
func checkSync(entity domain.EntityType, to string, sc *SyncContext) *Error {
	if entity == domain.EntitySession {
		if sessionAdvanceStates[to] && sc.PaymentState != nil && *sc.PaymentState != domain.PaymentConfirmed {
			return &Error{
				Kind:      KindSyncViolation,
				Entity:    entity,
				To:        to,
				Invariant: InvariantPaymentBeforeSession,
				Fields:    []string{"paymentState"},
			}
		}
		// Explicit contradiction case, checked independently of the advance
		// set above so revising that set can never silently drop it.
		if to == string(domain.SessionPaid) && sc.PaymentState != nil && *sc.PaymentState == domain.PaymentFailed {
			return &Error{
				Kind:      KindSyncViolation,
				Entity:    entity,
				To:        to,
				Invariant: InvariantPaidRequiresNotFailed,
				Fields:    []string{"paymentState"},
			}
		}
	}

	if entity == domain.EntityVideo && to != string(domain.VideoNotStarted) {
		// The gate fails closed: a precondition that was not supplied counts
		// as missing, and every failed precondition is named.
		var missing []string
		if sc.SessionState == nil || !videoQualifyingSessionState(*sc.SessionState) {
			missing = append(missing, "sessionState")
		}
		if sc.PaymentState == nil || *sc.PaymentState != domain.PaymentConfirmed {
			missing = append(missing, "paymentState")
		}
		if sc.FormsComplete == nil || !*sc.FormsComplete {
			missing = append(missing, "formsComplete")
		}
		if len(missing) > 0 {
			return &Error{
				Kind:      KindAccessDenied,
				Entity:    entity,
				To:        to,
				Invariant: InvariantVideoGate,
				Fields:    missing,
			}
		}
	}

	return nil
}

// videoQualifyingSessionState reports whether the session has reached ready
// without passing into a terminal state. A call may stay open while the
// session is in progress.
func videoQualifyingSessionState(s domain.SessionState) bool {
	return s == domain.SessionReady || s == domain.SessionInProgress
}
