package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/tulivucare/tulivu-backend/internal/domain"
)

func setupTestDB(t *testing.T) (*Repository, func()) {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)

	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	creds := &Credentials{
		Host:              host,
		Port:              port.Int(),
		User:              "testuser",
		Password:          "testpass",
		DBName:            "testdb",
		MigrationsDirPath: "./migrations",
	}

	repo, err := NewRepository(creds)
	require.NoError(t, err)

	err = repo.RunMigrations(creds)
	require.NoError(t, err)

	cleanup := func() {
		repo.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}

	return repo, cleanup
}

func newTestSession() *domain.Session {
	return &domain.Session{
		ID:             uuid.New(),
		ClientID:       uuid.New(),
		PsychologistID: uuid.New(),
		State:          domain.SessionRequested,
		ScheduledAt:    time.Now().Add(48 * time.Hour).UTC().Truncate(time.Second),
	}
}

func TestGetSession_NotFound(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	_, err := repo.GetSession(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestCreateAndGetSession(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	session := newTestSession()
	require.NoError(t, repo.CreateSession(ctx, session))

	got, err := repo.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)
	assert.Equal(t, domain.SessionRequested, got.State)
	assert.Equal(t, int64(1), got.Version)
	assert.False(t, got.IntakeFormsComplete)
}

func TestUpdateSessionState_BumpsVersionAndWritesOutbox(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	session := newTestSession()
	require.NoError(t, repo.CreateSession(ctx, session))

	payload, _ := json.Marshal(map[string]string{"session_id": session.ID.String()})
	err := repo.UpdateSessionState(ctx, session.ID, 1, domain.SessionApproved, payload)
	require.NoError(t, err)

	got, err := repo.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionApproved, got.State)
	assert.Equal(t, int64(2), got.Version)

	events, err := repo.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, session.ID.String(), events[0].AggregateID)
	assert.Equal(t, "session.approved", events[0].EventType)
}

func TestUpdateSessionState_VersionConflict(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	session := newTestSession()
	require.NoError(t, repo.CreateSession(ctx, session))

	require.NoError(t, repo.UpdateSessionState(ctx, session.ID, 1, domain.SessionApproved, nil))

	// Second writer still holds version 1.
	err := repo.UpdateSessionState(ctx, session.ID, 1, domain.SessionCancelled, nil)
	assert.ErrorIs(t, err, ErrVersionConflict)

	got, err := repo.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionApproved, got.State)
}

func TestUpdateSessionState_MissingSession(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	err := repo.UpdateSessionState(context.Background(), uuid.New(), 1, domain.SessionApproved, nil)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestPayments_LatestForSession(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	session := newTestSession()
	require.NoError(t, repo.CreateSession(ctx, session))

	first := &domain.Payment{
		ID:        uuid.New(),
		SessionID: session.ID,
		State:     domain.PaymentFailed,
		Amount:    2500,
		Currency:  "KES",
		Phone:     "254700000001",
	}
	require.NoError(t, repo.CreatePayment(ctx, first))

	// Retry after failure is a fresh record, never a transition out of failed.
	time.Sleep(10 * time.Millisecond)
	second := &domain.Payment{
		ID:        uuid.New(),
		SessionID: session.ID,
		State:     domain.PaymentPending,
		Amount:    2500,
		Currency:  "KES",
		Phone:     "254700000001",
	}
	require.NoError(t, repo.CreatePayment(ctx, second))

	latest, err := repo.GetLatestPaymentForSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
	assert.Equal(t, domain.PaymentPending, latest.State)
}

func TestUpdatePaymentState_DuplicateMpesaRef(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	session := newTestSession()
	require.NoError(t, repo.CreateSession(ctx, session))

	first := &domain.Payment{ID: uuid.New(), SessionID: session.ID, State: domain.PaymentInitiated, Amount: 2500, Currency: "KES", Phone: "254700000001"}
	second := &domain.Payment{ID: uuid.New(), SessionID: session.ID, State: domain.PaymentInitiated, Amount: 2500, Currency: "KES", Phone: "254700000001"}
	require.NoError(t, repo.CreatePayment(ctx, first))
	require.NoError(t, repo.CreatePayment(ctx, second))

	require.NoError(t, repo.UpdatePaymentState(ctx, first.ID, domain.PaymentConfirmed, "QHX12345"))

	err := repo.UpdatePaymentState(ctx, second.ID, domain.PaymentConfirmed, "QHX12345")
	assert.ErrorIs(t, err, ErrDuplicateMpesaRef)
}

func TestVideoCall_ConditionalStateUpdate(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	session := newTestSession()
	require.NoError(t, repo.CreateSession(ctx, session))

	call := &domain.VideoCall{ID: uuid.New(), SessionID: session.ID, State: domain.VideoNotStarted}
	require.NoError(t, repo.CreateVideoCall(ctx, call))

	require.NoError(t, repo.UpdateVideoCallState(ctx, call.ID, domain.VideoNotStarted, domain.VideoWaitingForParticipants, "client"))

	// Racing writer that still believes the call is not_started loses.
	err := repo.UpdateVideoCallState(ctx, call.ID, domain.VideoNotStarted, domain.VideoWaitingForParticipants, "psychologist")
	assert.ErrorIs(t, err, ErrVersionConflict)

	got, err := repo.GetVideoCall(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.VideoWaitingForParticipants, got.State)
	assert.NotNil(t, got.ClientJoinedAt)
	assert.Nil(t, got.PsychologistJoinedAt)
}

func TestGetStuckSessions(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	notified := newTestSession()
	notified.State = domain.SessionCompleted
	require.NoError(t, repo.CreateSession(ctx, notified))
	payload, _ := json.Marshal(map[string]string{"session_id": notified.ID.String()})
	require.NoError(t, repo.AppendOutboxEvent(ctx, notified.ID, "session.completed", payload))

	stuck := newTestSession()
	stuck.State = domain.SessionCancelled
	require.NoError(t, repo.CreateSession(ctx, stuck))

	sessions, err := repo.GetStuckSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, stuck.ID, sessions[0].ID)
}

func TestOutbox_MarkProcessed(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	session := newTestSession()
	require.NoError(t, repo.CreateSession(ctx, session))

	payload, _ := json.Marshal(map[string]string{"session_id": session.ID.String()})
	require.NoError(t, repo.AppendOutboxEvent(ctx, session.ID, "session.approved", payload))

	events, err := repo.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)

	require.NoError(t, repo.MarkEventAsProcessed(ctx, events[0].ID))

	events, err = repo.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}
