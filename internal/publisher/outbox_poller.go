// Package publisher drains the booking outbox onto Kafka. Session
// transitions commit their outbox row in the same transaction as the state
// change, so the poller only ever republishes what the database already
// agreed happened.
package publisher

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/tulivucare/tulivu-backend/internal/domain"
	"github.com/tulivucare/tulivu-backend/internal/repository"
)

// OutboxStore is the slice of the repository the poller needs.
type OutboxStore interface {
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*repository.OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id int64) error
	AppendOutboxEvent(ctx context.Context, aggregateID uuid.UUID, eventType string, payload []byte) error
	GetStuckSessions(ctx context.Context) ([]*domain.Session, error)
}

type OutboxPoller struct {
	eventTick    time.Duration
	recoveryTick time.Duration
	repo         OutboxStore
	writer       *kafka.Writer
	log          *slog.Logger
}

func NewOutboxPoller(repo OutboxStore, log *slog.Logger, brokers ...string) *OutboxPoller {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  "booking-notifications",
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	return &OutboxPoller{
		eventTick:    time.Second,
		recoveryTick: time.Second * 5,
		repo:         repo,
		writer:       w,
		log:          log,
	}
}

func (p *OutboxPoller) Run(ctx context.Context) {
	eventTicker := time.NewTicker(p.eventTick)
	recoveryTicker := time.NewTicker(p.recoveryTick)
	defer eventTicker.Stop()
	defer recoveryTicker.Stop()
	for {
		select {
		case <-eventTicker.C:
			p.processUnpublishedEvents(ctx)
		case <-recoveryTicker.C:
			p.recoverStuckSessions(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *OutboxPoller) Close() {
	if err := p.writer.Close(); err != nil {
		p.log.Error("error closing kafka writer", "error", err)
	}
}

func (p *OutboxPoller) processUnpublishedEvents(ctx context.Context) {
	events, err := p.repo.GetUnprocessedEvents(ctx, 100)
	if err != nil {
		p.log.Error("failed to fetch outbox events", "error", err)
		return
	}

	for _, event := range events {
		if err := p.publishToKafka(ctx, event); err != nil {
			p.log.Error("failed to publish event", "event_id", event.ID, "error", err)
			continue
		}

		if err := p.repo.MarkEventAsProcessed(ctx, event.ID); err != nil {
			p.log.Error("failed to mark event as processed", "event_id", event.ID, "error", err)
		}
	}
}

func (p *OutboxPoller) recoverStuckSessions(ctx context.Context) {
	// a stuck session is terminal but has no outbox event for its final state.
	sessions, err := p.repo.GetStuckSessions(ctx)
	if err != nil {
		p.log.Error("failed to get stuck sessions", "error", err)
		return
	}
	for _, session := range sessions {
		p.log.Info("recovering stuck session", "session_id", session.ID)

		payload, err := json.Marshal(map[string]any{
			"session_id":      session.ID.String(),
			"client_id":       session.ClientID.String(),
			"psychologist_id": session.PsychologistID.String(),
			"state":           string(session.State),
			"scheduled_at":    session.ScheduledAt,
			"occurred_at":     session.UpdatedAt,
		})
		if err != nil {
			p.log.Error("failed to marshal recovery payload", "session_id", session.ID, "error", err)
			continue
		}

		eventType := "session." + string(session.State)
		if err := p.repo.AppendOutboxEvent(ctx, session.ID, eventType, payload); err != nil {
			p.log.Error("failed to append recovery event", "session_id", session.ID, "error", err)
			continue
		}

		p.log.Info("session recovered", "session_id", session.ID)
	}
}

func (p *OutboxPoller) publishToKafka(ctx context.Context, event *repository.OutboxEvent) error {
	msg := kafka.Message{
		Key:   []byte(event.AggregateID), // session_id for per-session ordering
		Value: event.Payload,             // already JSON from the database
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	}
	return p.writer.WriteMessages(ctx, msg)
}
