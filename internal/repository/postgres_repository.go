package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/tulivucare/tulivu-backend/internal/domain"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(cred *Credentials) (*Repository, error) {
	psqlconn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cred.Host,
		cred.Port,
		cred.User,
		cred.Password,
		cred.DBName)

	db, err := sql.Open("postgres", psqlconn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if e2 := db.Ping(); e2 != nil {
		return nil, fmt.Errorf("failed to ping database: %w", e2)
	}

	db.SetMaxOpenConns(100)
	db.SetMaxIdleConns(10)
	return &Repository{db: db}, nil
}

func (r *Repository) RunMigrations(cred *Credentials) error {
	driver, err := postgres.WithInstance(r.db, &postgres.Config{
		MigrationsTable: "booking_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", cred.MigrationsDirPath),
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}

	return nil
}

func (r *Repository) CreateSession(ctx context.Context, session *domain.Session) error {
	query := `INSERT INTO sessions (id, client_id, psychologist_id, state, intake_forms_complete, scheduled_at, version, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, 1, NOW(), NOW())`

	_, err := r.db.ExecContext(ctx, query,
		session.ID,
		session.ClientID,
		session.PsychologistID,
		session.State,
		session.IntakeFormsComplete,
		session.ScheduledAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (r *Repository) GetSession(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	query := `SELECT id, client_id, psychologist_id, state, intake_forms_complete, scheduled_at, version, created_at, updated_at
	          FROM sessions WHERE id = $1`

	var session domain.Session
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&session.ID,
		&session.ClientID,
		&session.PsychologistID,
		&session.State,
		&session.IntakeFormsComplete,
		&session.ScheduledAt,
		&session.Version,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query session by id: %w", err)
	}
	return &session, nil
}

// UpdateSessionState writes the new state only when the stored version still
// matches the one the caller read, and appends the outbox event in the same
// transaction so a committed state change always has its notification row.
func (r *Repository) UpdateSessionState(ctx context.Context, id uuid.UUID, expectedVersion int64, next domain.SessionState, eventPayload []byte) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin session update: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE sessions SET state = $1, version = version + 1, updated_at = NOW()
		 WHERE id = $2 AND version = $3`,
		next, id, expectedVersion)
	if err != nil {
		return fmt.Errorf("update session state: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("session update rows affected: %w", err)
	}
	if affected == 0 {
		// Either the session is gone or someone else won the write.
		var exists bool
		if e2 := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM sessions WHERE id = $1)`, id).Scan(&exists); e2 != nil {
			return fmt.Errorf("check session existence: %w", e2)
		}
		if !exists {
			return ErrSessionNotFound
		}
		return ErrVersionConflict
	}

	if eventPayload != nil {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO booking_outbox (aggregate_id, event_type, payload, processed, created_at)
			 VALUES ($1, $2, $3, FALSE, NOW())`,
			id, "session."+string(next), eventPayload)
		if err != nil {
			return fmt.Errorf("insert outbox event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session update: %w", err)
	}
	return nil
}

func (r *Repository) SetIntakeFormsComplete(ctx context.Context, id uuid.UUID, complete bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET intake_forms_complete = $1, updated_at = NOW() WHERE id = $2`,
		complete, id)
	if err != nil {
		return fmt.Errorf("update intake forms flag: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("intake forms rows affected: %w", err)
	}
	if affected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (r *Repository) CreatePayment(ctx context.Context, payment *domain.Payment) error {
	query := `INSERT INTO payments (id, session_id, state, amount, currency, phone, mpesa_ref, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NOW(), NOW())`

	_, err := r.db.ExecContext(ctx, query,
		payment.ID,
		payment.SessionID,
		payment.State,
		payment.Amount,
		payment.Currency,
		payment.Phone,
		payment.MpesaRef)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateMpesaRef
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *Repository) GetPayment(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	query := `SELECT id, session_id, state, amount, currency, phone, COALESCE(mpesa_ref, ''), created_at, updated_at
	          FROM payments WHERE id = $1`
	return r.scanPayment(r.db.QueryRowContext(ctx, query, id))
}

func (r *Repository) GetLatestPaymentForSession(ctx context.Context, sessionID uuid.UUID) (*domain.Payment, error) {
	query := `SELECT id, session_id, state, amount, currency, phone, COALESCE(mpesa_ref, ''), created_at, updated_at
	          FROM payments WHERE session_id = $1 ORDER BY created_at DESC LIMIT 1`
	return r.scanPayment(r.db.QueryRowContext(ctx, query, sessionID))
}

func (r *Repository) scanPayment(row *sql.Row) (*domain.Payment, error) {
	var payment domain.Payment
	err := row.Scan(
		&payment.ID,
		&payment.SessionID,
		&payment.State,
		&payment.Amount,
		&payment.Currency,
		&payment.Phone,
		&payment.MpesaRef,
		&payment.CreatedAt,
		&payment.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	return &payment, nil
}

func (r *Repository) UpdatePaymentState(ctx context.Context, id uuid.UUID, next domain.PaymentState, mpesaRef string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE payments SET state = $1, mpesa_ref = COALESCE(NULLIF($2, ''), mpesa_ref), updated_at = NOW()
		 WHERE id = $3`,
		next, mpesaRef, id)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateMpesaRef
		}
		return fmt.Errorf("update payment state: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("payment update rows affected: %w", err)
	}
	if affected == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (r *Repository) CreateVideoCall(ctx context.Context, call *domain.VideoCall) error {
	query := `INSERT INTO video_calls (id, session_id, state, created_at, updated_at)
	          VALUES ($1, $2, $3, NOW(), NOW())
	          ON CONFLICT (session_id) DO NOTHING`

	_, err := r.db.ExecContext(ctx, query, call.ID, call.SessionID, call.State)
	if err != nil {
		return fmt.Errorf("insert video call: %w", err)
	}
	return nil
}

func (r *Repository) GetVideoCall(ctx context.Context, sessionID uuid.UUID) (*domain.VideoCall, error) {
	query := `SELECT id, session_id, state, started_at, ended_at, client_joined_at, psychologist_joined_at, created_at, updated_at
	          FROM video_calls WHERE session_id = $1`

	var call domain.VideoCall
	err := r.db.QueryRowContext(ctx, query, sessionID).Scan(
		&call.ID,
		&call.SessionID,
		&call.State,
		&call.StartedAt,
		&call.EndedAt,
		&call.ClientJoinedAt,
		&call.PsychologistJoinedAt,
		&call.CreatedAt,
		&call.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrVideoCallNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query video call: %w", err)
	}
	return &call, nil
}

// UpdateVideoCallState is conditional on the current state so two racing
// joins cannot both move the call. joinedBy stamps the participant join time
// ("client" or "psychologist"); empty leaves both untouched.
func (r *Repository) UpdateVideoCallState(ctx context.Context, id uuid.UUID, current, next domain.VideoState, joinedBy string) error {
	query := `UPDATE video_calls SET state = $1,
	            started_at = CASE WHEN $1 = 'active' AND started_at IS NULL THEN NOW() ELSE started_at END,
	            ended_at = CASE WHEN $1 = 'ended' THEN NOW() ELSE ended_at END,
	            client_joined_at = CASE WHEN $4 = 'client' AND client_joined_at IS NULL THEN NOW() ELSE client_joined_at END,
	            psychologist_joined_at = CASE WHEN $4 = 'psychologist' AND psychologist_joined_at IS NULL THEN NOW() ELSE psychologist_joined_at END,
	            updated_at = NOW()
	          WHERE id = $2 AND state = $3`

	res, err := r.db.ExecContext(ctx, query, next, id, current, joinedBy)
	if err != nil {
		return fmt.Errorf("update video call state: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("video call rows affected: %w", err)
	}
	if affected == 0 {
		return ErrVersionConflict
	}
	return nil
}

func (r *Repository) GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	query := `SELECT id, aggregate_id, event_type, payload, created_at
	          FROM booking_outbox WHERE processed = FALSE ORDER BY id LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query unprocessed events: %w", err)
	}
	defer rows.Close()

	var events []*OutboxEvent
	for rows.Next() {
		var event OutboxEvent
		if err := rows.Scan(&event.ID, &event.AggregateID, &event.EventType, &event.Payload, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		events = append(events, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return events, nil
}

func (r *Repository) MarkEventAsProcessed(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE booking_outbox SET processed = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark event processed: %w", err)
	}
	return nil
}

func (r *Repository) AppendOutboxEvent(ctx context.Context, aggregateID uuid.UUID, eventType string, payload []byte) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO booking_outbox (aggregate_id, event_type, payload, processed, created_at)
		 VALUES ($1, $2, $3, FALSE, NOW())`,
		aggregateID, eventType, payload)
	if err != nil {
		return fmt.Errorf("append outbox event: %w", err)
	}
	return nil
}

func (r *Repository) GetStuckSessions(ctx context.Context) ([]*domain.Session, error) {
	query := `SELECT s.id, s.client_id, s.psychologist_id, s.state, s.intake_forms_complete, s.scheduled_at, s.version, s.created_at, s.updated_at
	          FROM sessions s
	          WHERE s.state IN ('completed', 'cancelled')
	            AND NOT EXISTS (
	              SELECT 1 FROM booking_outbox o
	              WHERE o.aggregate_id = s.id AND o.event_type = 'session.' || s.state
	            )`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query stuck sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.Session
	for rows.Next() {
		var session domain.Session
		if err := rows.Scan(
			&session.ID,
			&session.ClientID,
			&session.PsychologistID,
			&session.State,
			&session.IntakeFormsComplete,
			&session.ScheduledAt,
			&session.Version,
			&session.CreatedAt,
			&session.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan stuck session: %w", err)
		}
		sessions = append(sessions, &session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return sessions, nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}
