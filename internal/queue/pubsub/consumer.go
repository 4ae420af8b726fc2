package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/readlater-content-loader/internal/content"
	"github.com/JakeFAU/readlater-content-loader/internal/metrics"
	"github.com/JakeFAU/readlater-content-loader/internal/telemetry"
)

// Enqueuer accepts decoded prefetch requests.
type Enqueuer interface {
	Enqueue(ctx context.Context, req content.PrefetchRequest) error
}

// ConsumerConfig tunes subscription flow control.
type ConsumerConfig struct {
	MaxOutstandingMessages int
}

// Consumer moves prefetch requests from a subscription into an in-process queue.
type Consumer struct {
	sub    *pubsub.Subscription
	queue  Enqueuer
	tracer trace.Tracer
	logger *zap.Logger
}

// NewConsumer builds a Consumer for sub.
func NewConsumer(sub *pubsub.Subscription, queue Enqueuer, cfg ConsumerConfig, logger *zap.Logger) (*Consumer, error) {
	if sub == nil {
		return nil, fmt.Errorf("pubsub subscription is required")
	}
	if queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if cfg.MaxOutstandingMessages > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = cfg.MaxOutstandingMessages
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{sub: sub, queue: queue, tracer: telemetry.Tracer(), logger: logger}, nil
}

// Run receives until ctx is cancelled. Malformed messages are acked so they are not redelivered;
// messages that cannot be enqueued are nacked.
func (c *Consumer) Run(ctx context.Context) error {
	err := c.sub.Receive(ctx, c.handle)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("receive prefetch requests: %w", err)
	}
	return nil
}

func (c *Consumer) handle(ctx context.Context, msg *pubsub.Message) {
	ctx = otel.GetTextMapPropagator().Extract(ctx, attributeCarrier{attrs: msg.Attributes})
	ctx, span := c.tracer.Start(ctx, "pubsub.receive", trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attribute.String("messaging.message.id", msg.ID)))
	defer span.End()

	req, err := decode(msg.Data)
	if err != nil {
		metrics.ObserveQueueMessage("pubsub", "malformed")
		c.logger.Warn("dropping malformed prefetch message", zap.String("message_id", msg.ID), zap.Error(err))
		msg.Ack()
		return
	}
	if req.BatchID == "" {
		req.BatchID = msg.ID
	}
	if err := c.queue.Enqueue(ctx, req); err != nil {
		metrics.ObserveQueueMessage("pubsub", "nacked")
		c.logger.Warn("enqueue prefetch request failed",
			zap.String("message_id", msg.ID),
			zap.String("username", req.Username),
			zap.Error(err),
		)
		span.RecordError(err)
		msg.Nack()
		return
	}
	metrics.ObserveQueueMessage("pubsub", "received")
	msg.Ack()
}

func decode(data []byte) (content.PrefetchRequest, error) {
	var req content.PrefetchRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return content.PrefetchRequest{}, fmt.Errorf("decode prefetch request: %w", err)
	}
	if req.Username == "" {
		return content.PrefetchRequest{}, fmt.Errorf("prefetch request has no username")
	}
	if len(req.ItemIDs) == 0 {
		return content.PrefetchRequest{}, fmt.Errorf("prefetch request has no item ids")
	}
	return req, nil
}
