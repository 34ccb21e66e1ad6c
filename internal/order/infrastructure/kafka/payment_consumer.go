package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/sweet-shop/internal/order/domain"
	"github.com/dmehra2102/sweet-shop/pkg/apperr"
	"github.com/dmehra2102/sweet-shop/pkg/idempotency"
	"github.com/dmehra2102/sweet-shop/pkg/tracing"
)

const (
	retryBackoff = 200 * time.Millisecond
	maxBackoff   = 30 * time.Second
)

type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type PaymentApplier interface {
	ApplyPaymentResult(ctx context.Context, res domain.PaymentResult) error
}

// PaymentConsumer applies payment provider results to orders.
type PaymentConsumer struct {
	log     *slog.Logger
	reader  MessageReader
	svc     PaymentApplier
	idem    idempotency.Checker
	tracer  trace.Tracer
	backoff time.Duration
}

func NewReader(brokers []string, topic, group string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  group,
		MinBytes: 1,
		MaxBytes: 1 << 20,
	})
}

func NewPaymentConsumer(log *slog.Logger, reader MessageReader, svc PaymentApplier, idem idempotency.Checker) *PaymentConsumer {
	return &PaymentConsumer{
		log:     log,
		reader:  reader,
		svc:     svc,
		idem:    idem,
		tracer:  otel.Tracer("payment-consumer"),
		backoff: retryBackoff,
	}
}

// Run consumes until ctx is cancelled. A message is committed once it has
// been applied or rejected as unprocessable. Store failures are retried until
// they clear, so a message is never committed unapplied; on shutdown it stays
// uncommitted and is redelivered to the next consumer.
func (c *PaymentConsumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	c.log.Info("payment consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Info("payment consumer stopping")
				return nil
			}
			return err
		}
		if !c.handle(ctx, msg) {
			c.log.Info("payment consumer stopping, message left uncommitted", "offset", msg.Offset)
			return nil
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.log.Error("commit failed", "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		}
	}
}

// handle reports whether msg is done with and may be committed.
func (c *PaymentConsumer) handle(ctx context.Context, msg kafka.Message) bool {
	key := idempotency.MessageKey(msg.Topic, msg.Partition, msg.Offset)
	seen, err := c.idem.Seen(ctx, key)
	if err != nil {
		// Applying a payment status twice is a no-op, so carry on without dedup.
		c.log.Warn("idempotency check failed", "key", key, "err", err)
	}
	if seen {
		c.log.Info("duplicate message skipped", "key", key)
		return true
	}

	msgCtx := tracing.MessageContext(ctx, msg)
	msgCtx, span := c.tracer.Start(msgCtx, "ConsumePaymentResult", trace.WithAttributes(
		attribute.String("messaging.kafka.topic", msg.Topic),
		attribute.Int64("messaging.kafka.offset", msg.Offset),
	))
	defer span.End()

	var res domain.PaymentResult
	if err := json.Unmarshal(msg.Value, &res); err != nil {
		c.log.Error("unmarshal failed", "key", key, "err", err)
		span.SetStatus(codes.Error, "bad payload")
		return true
	}

	for attempt := 1; ; attempt++ {
		err = c.svc.ApplyPaymentResult(msgCtx, res)
		if err == nil {
			c.log.Info("payment result consumed", "order_id", res.OrderID, "status", res.Status)
			return true
		}
		var ae *apperr.Error
		if errors.As(err, &ae) && ae.Kind != apperr.KindInternal && ae.Kind != apperr.KindUnavailable {
			span.SetStatus(codes.Error, ae.Message)
			c.log.Warn("payment result rejected", "order_id", res.OrderID, "status", res.Status, "reason", ae.Message)
			return true
		}

		span.RecordError(err)
		c.log.Error("payment result failed, retrying", "order_id", res.OrderID, "attempt", attempt, "err", err)
		select {
		case <-ctx.Done():
			span.SetStatus(codes.Error, "abandoned on shutdown")
			// Release the key so the redelivered message is not taken for a duplicate.
			forgetCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
			defer cancel()
			if fErr := c.idem.Forget(forgetCtx, key); fErr != nil {
				c.log.Warn("idempotency release failed", "key", key, "err", fErr)
			}
			return false
		case <-time.After(min(c.backoff*time.Duration(attempt), maxBackoff)):
		}
	}
}
