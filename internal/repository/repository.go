package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/tulivucare/tulivu-backend/internal/domain"
)

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrPaymentNotFound   = errors.New("payment not found")
	ErrVideoCallNotFound = errors.New("video call not found")

	// ErrVersionConflict means the compare-and-swap write lost: the session
	// changed between the caller's read and this write. The caller must
	// re-read, re-validate and retry.
	ErrVersionConflict = errors.New("session version conflict")

	// ErrDuplicateMpesaRef means a gateway callback with this receipt was
	// already applied.
	ErrDuplicateMpesaRef = errors.New("payment with this mpesa ref already exists")
)

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
}

type OutboxEvent struct {
	ID          int64
	AggregateID string
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
}

type BookingRepository interface {
	CreateSession(ctx context.Context, session *domain.Session) error
	GetSession(ctx context.Context, id uuid.UUID) (*domain.Session, error)
	// UpdateSessionState performs a compare-and-swap on the session version
	// and appends the outbox event in the same transaction. Returns
	// ErrVersionConflict when the expected version no longer matches.
	UpdateSessionState(ctx context.Context, id uuid.UUID, expectedVersion int64, next domain.SessionState, eventPayload []byte) error
	SetIntakeFormsComplete(ctx context.Context, id uuid.UUID, complete bool) error

	CreatePayment(ctx context.Context, payment *domain.Payment) error
	GetPayment(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	GetLatestPaymentForSession(ctx context.Context, sessionID uuid.UUID) (*domain.Payment, error)
	UpdatePaymentState(ctx context.Context, id uuid.UUID, next domain.PaymentState, mpesaRef string) error

	GetVideoCall(ctx context.Context, sessionID uuid.UUID) (*domain.VideoCall, error)
	CreateVideoCall(ctx context.Context, call *domain.VideoCall) error
	UpdateVideoCallState(ctx context.Context, id uuid.UUID, current, next domain.VideoState, joinedBy string) error

	GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id int64) error
	AppendOutboxEvent(ctx context.Context, aggregateID uuid.UUID, eventType string, payload []byte) error
	// GetStuckSessions returns terminal sessions that have no outbox event,
	// so notification delivery can be recovered.
	GetStuckSessions(ctx context.Context) ([]*domain.Session, error)

	RunMigrations(*Credentials) error
	Close() error
}
