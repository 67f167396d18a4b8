package kafka

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/tableserve/fulfillment/internal/order/application"
	"github.com/tableserve/fulfillment/pkg/idempotency"
	"github.com/tableserve/fulfillment/pkg/tracing"
)

// paymentEvent is the payload shape published by the payment subsystem.
type paymentEvent struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason,omitempty"`
}

// Consumer applies payment outcomes to orders: a processed payment closes
// the order, a failed one cancels it and releases its stock.
type Consumer struct {
	log    *slog.Logger
	reader *kafka.Reader
	svc    *application.Service
	idem   *idempotency.Store
	tracer trace.Tracer
}

func NewConsumer(log *slog.Logger, brokers []string, topic, group string, svc *application.Service, idem *idempotency.Store) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: group,
	})
	return &Consumer{
		log:    log,
		reader: r,
		svc:    svc,
		idem:   idem,
		tracer: otel.Tracer("payment-consumer"),
	}
}

func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			return err
		}
		key := c.idem.Key(msg.Topic, msg.Partition, msg.Offset)
		seen, err := c.idem.Seen(ctx, key)
		if err != nil {
			c.log.Error("idempotency check failed", "err", err)
			continue
		}
		if seen {
			c.log.Info("duplicate message skipped", "key", key)
			_ = c.reader.CommitMessages(ctx, msg)
			continue
		}

		msgCtx := tracing.ExtractKafkaHeaders(ctx, msg.Headers)
		eventType := headerValue(msg.Headers, "event_type")
		msgCtx, span := c.tracer.Start(msgCtx, "Consume"+eventType)

		var event paymentEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			c.log.Error("unmarshal failed", "err", err)
			span.End()
			_ = c.reader.CommitMessages(ctx, msg)
			continue
		}

		c.handle(msgCtx, eventType, event)
		span.End()
		_ = c.reader.CommitMessages(ctx, msg)
	}
}

func (c *Consumer) handle(ctx context.Context, eventType string, event paymentEvent) {
	switch eventType {
	case "PaymentProcessed":
		if err := c.svc.CloseOrder(ctx, event.OrderID); err != nil {
			c.log.Error("close on payment failed", "order_id", event.OrderID, "err", err)
			return
		}
		c.log.Info("order closed on payment", "order_id", event.OrderID)
	case "PaymentFailed":
		reason := event.Reason
		if reason == "" {
			reason = "payment failed"
		}
		if err := c.svc.CancelOrder(ctx, event.OrderID, reason); err != nil {
			c.log.Error("cancel on payment failure failed", "order_id", event.OrderID, "err", err)
			return
		}
		c.log.Info("order cancelled on payment failure", "order_id", event.OrderID)
	default:
		c.log.Warn("unknown payment event skipped", "event_type", eventType)
	}
}

func headerValue(h []kafka.Header, key string) string {
	for _, hh := range h {
		if hh.Key == key {
			return string(hh.Value)
		}
	}
	return ""
}
