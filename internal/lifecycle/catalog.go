package lifecycle

import "github.com/tulivucare/tulivu-backend/internal/domain"

// Closed catalogs per entity. A value not listed here is rejected outright:
// a typo or a status added by a caller without a catalog entry is an error,
// not a pass-through.
var catalogs = map[domain.EntityType][]string{
	domain.EntityPayment: {
		string(domain.PaymentPending),
		string(domain.PaymentInitiated),
		string(domain.PaymentConfirmed),
		string(domain.PaymentFailed),
		string(domain.PaymentRefunded),
	},
	domain.EntitySession: {
		string(domain.SessionRequested),
		string(domain.SessionApproved),
		string(domain.SessionPaymentPending),
		string(domain.SessionPaid),
		string(domain.SessionReady),
		string(domain.SessionInProgress),
		string(domain.SessionCompleted),
		string(domain.SessionCancelled),
	},
	domain.EntityVideo: {
		string(domain.VideoNotStarted),
		string(domain.VideoWaitingForParticipants),
		string(domain.VideoActive),
		string(domain.VideoEnded),
	},
}

var terminal = map[domain.EntityType]map[string]bool{
	domain.EntityPayment: {
		string(domain.PaymentFailed):   true,
		string(domain.PaymentRefunded): true,
	},
	domain.EntitySession: {
		string(domain.SessionCompleted): true,
		string(domain.SessionCancelled): true,
	},
	domain.EntityVideo: {
		string(domain.VideoEnded): true,
	},
}

// IsValidState reports whether value belongs to the entity's catalog.
func IsValidState(entity domain.EntityType, value string) bool {
	for _, s := range catalogs[entity] {
		if s == value {
			return true
		}
	}
	return false
}

// IsTerminal reports whether state permits no further transition for entity.
func IsTerminal(entity domain.EntityType, state string) bool {
	return terminal[entity][state]
}

// States returns the catalog for entity. The slice is shared; callers must
// not mutate it.
func States(entity domain.EntityType) []string {
	return catalogs[entity]
}
