package lifecycle

import (
	"fmt"
	"strings"

	"github.com/tulivucare/tulivu-backend/internal/domain"
)

// Kind classifies a rejected transition. None of these are transient: a
// rejected edge stays rejected unless the caller's view of the current state
// was stale.
type Kind string

const (
	KindUnknownState      Kind = "UNKNOWN_STATE"
	KindForbiddenEdge     Kind = "FORBIDDEN_EDGE"
	KindTerminalViolation Kind = "TERMINAL_VIOLATION"
	KindSyncViolation     Kind = "SYNC_VIOLATION"
	KindAccessDenied      Kind = "ACCESS_DENIED"
)

// Error is the single failure type returned by the validator. Fields names
// the context values that caused a sync or access failure so callers can
// surface "payment not yet confirmed" instead of a generic denial.
type Error struct {
	Kind      Kind
	Entity    domain.EntityType
	From      string
	To        string
	Invariant string
	Fields    []string
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s %q -> %q", e.Kind, e.Entity, e.From, e.To)
	if e.Invariant != "" {
		fmt.Fprintf(&b, " (%s)", e.Invariant)
	}
	if len(e.Fields) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(e.Fields, ", "))
	}
	return b.String()
}

func unknownState(entity domain.EntityType, from, to string) *Error {
	return &Error{Kind: KindUnknownState, Entity: entity, From: from, To: to}
}

func forbiddenEdge(entity domain.EntityType, from, to string) *Error {
	return &Error{Kind: KindForbiddenEdge, Entity: entity, From: from, To: to}
}

func terminalViolation(entity domain.EntityType, from, to string) *Error {
	return &Error{Kind: KindTerminalViolation, Entity: entity, From: from, To: to}
}
