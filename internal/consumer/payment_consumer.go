// Package consumer ingests the payment gateway's event stream. Callbacks
// normally arrive over HTTP, but the gateway relay also mirrors every
// outcome onto Kafka; consuming both closes the gap when a callback is lost.
// Delivery is at least once, so applying a result must be idempotent: the
// payment service treats a repeated outcome as a self-transition.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/tulivucare/tulivu-backend/internal/lifecycle"
	"github.com/tulivucare/tulivu-backend/internal/repository"
	"github.com/tulivucare/tulivu-backend/internal/service"
)

// paymentEvent mirrors the Kafka payload shape published by the gateway
// relay.
type paymentEvent struct {
	PaymentID   string  `json:"payment_id"`
	ResultCode  int     `json:"result_code"`
	ResultDesc  string  `json:"result_desc"`
	MpesaRef    string  `json:"mpesa_receipt_number"`
	Amount      float64 `json:"amount"`
	PhoneNumber string  `json:"phone_number"`
}

// ResultApplier is the slice of the payment service the consumer needs.
type ResultApplier interface {
	ApplyGatewayResult(ctx context.Context, result *service.GatewayResult) error
}

type Consumer struct {
	payments ResultApplier
	reader   *kafka.Reader
	log      *slog.Logger
}

func NewConsumer(payments ResultApplier, log *slog.Logger, brokers ...string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    "payment-events",
		GroupID:  "tulivu-backend",
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{payments: payments, reader: reader, log: log}
}

func (c *Consumer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		c.processMessage(ctx)
	}
}

func (c *Consumer) Close() {
	if err := c.reader.Close(); err != nil {
		c.log.Error("error closing kafka reader", "error", err)
	}
}

func (c *Consumer) processMessage(ctx context.Context) {
	m, err := c.reader.ReadMessage(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		c.log.Error("error reading message", "error", err)
		return
	}

	if err := c.apply(ctx, m.Value); err != nil {
		c.log.Error("failed to apply payment event", "error", err)
	}
}

// apply parses and applies one event. Malformed events and validation
// rejections are logged and skipped, never retried: replaying them would
// fail identically.
func (c *Consumer) apply(ctx context.Context, value []byte) error {
	var event paymentEvent
	if err := json.Unmarshal(value, &event); err != nil {
		return err
	}

	paymentID, err := uuid.Parse(event.PaymentID)
	if err != nil {
		return err
	}

	err = c.payments.ApplyGatewayResult(ctx, &service.GatewayResult{
		PaymentID:   paymentID,
		ResultCode:  event.ResultCode,
		ResultDesc:  event.ResultDesc,
		MpesaRef:    event.MpesaRef,
		AmountPaid:  event.Amount,
		PhoneNumber: event.PhoneNumber,
	})
	if err != nil {
		var vErr *lifecycle.Error
		if errors.As(err, &vErr) {
			c.log.Warn("payment event rejected by validator",
				"payment_id", paymentID, "kind", vErr.Kind)
			return nil
		}
		if errors.Is(err, repository.ErrPaymentNotFound) {
			c.log.Warn("payment event for unknown payment", "payment_id", paymentID)
			return nil
		}
		return err
	}
	return nil
}
