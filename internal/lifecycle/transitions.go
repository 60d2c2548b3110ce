package lifecycle

import "github.com/tulivucare/tulivu-backend/internal/domain"

type edge struct {
	from, to string
}

// Allow-lists per entity. Every transition is forbidden unless an edge is
// listed here, so a status value added later can never accidentally open an
// unintended path. Self-transitions are not listed; ValidateEdge permits
// them for non-terminal states (idempotent re-confirmation).
var allowed = map[domain.EntityType]map[edge]bool{
	domain.EntityPayment: edges(
		edge{string(domain.PaymentPending), string(domain.PaymentInitiated)},
		edge{string(domain.PaymentPending), string(domain.PaymentFailed)},
		edge{string(domain.PaymentInitiated), string(domain.PaymentConfirmed)},
		edge{string(domain.PaymentInitiated), string(domain.PaymentFailed)},
		edge{string(domain.PaymentConfirmed), string(domain.PaymentRefunded)},
	),
	domain.EntitySession: edges(
		edge{string(domain.SessionRequested), string(domain.SessionApproved)},
		edge{string(domain.SessionRequested), string(domain.SessionCancelled)},
		edge{string(domain.SessionApproved), string(domain.SessionPaymentPending)},
		edge{string(domain.SessionApproved), string(domain.SessionCancelled)},
		edge{string(domain.SessionPaymentPending), string(domain.SessionPaid)},
		edge{string(domain.SessionPaymentPending), string(domain.SessionCancelled)},
		edge{string(domain.SessionPaid), string(domain.SessionReady)},
		edge{string(domain.SessionPaid), string(domain.SessionCancelled)},
		edge{string(domain.SessionReady), string(domain.SessionInProgress)},
		edge{string(domain.SessionReady), string(domain.SessionCancelled)},
		edge{string(domain.SessionInProgress), string(domain.SessionCompleted)},
	),
	domain.EntityVideo: edges(
		edge{string(domain.VideoNotStarted), string(domain.VideoWaitingForParticipants)},
		edge{string(domain.VideoWaitingForParticipants), string(domain.VideoActive)},
		edge{string(domain.VideoWaitingForParticipants), string(domain.VideoEnded)},
		edge{string(domain.VideoActive), string(domain.VideoEnded)},
	),
}

func edges(es ...edge) map[edge]bool {
	m := make(map[edge]bool, len(es))
	for _, e := range es {
		m[e] = true
	}
	return m
}

// ValidateEdge decides whether moving entity from one state to another is
// legal, independent of any other entity. Pure function of its inputs.
func ValidateEdge(entity domain.EntityType, from, to string) *Error {
	if !IsValidState(entity, from) || !IsValidState(entity, to) {
		return unknownState(entity, from, to)
	}
	if IsTerminal(entity, from) {
		// Terminal is absolute: even re-entering the same value is rejected.
		return terminalViolation(entity, from, to)
	}
	if from == to {
		return nil
	}
	if !allowed[entity][edge{from, to}] {
		return forbiddenEdge(entity, from, to)
	}
	return nil
}

// AllowedEdges returns the documented allow-list for entity as (from, to)
// pairs, excluding implicit self-transitions. Exposed so the full matrix can
// be enumerated in tests and diffed in review.
func AllowedEdges(entity domain.EntityType) [][2]string {
	out := make([][2]string, 0, len(allowed[entity]))
	for e := range allowed[entity] {
		out = append(out, [2]string{e.from, e.to})
	}
	return out
}
