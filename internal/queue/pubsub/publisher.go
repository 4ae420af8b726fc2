package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"

	"github.com/JakeFAU/readlater-content-loader/internal/content"
	"github.com/JakeFAU/readlater-content-loader/internal/metrics"
)

// Publisher enqueues prefetch requests by publishing them to a topic.
type Publisher struct {
	topic *pubsub.Topic
}

// NewPublisher wraps topic.
func NewPublisher(topic *pubsub.Topic) (*Publisher, error) {
	if topic == nil {
		return nil, fmt.Errorf("pubsub topic is required")
	}
	return &Publisher{topic: topic}, nil
}

// Enqueue marshals req to JSON and waits for the server to accept it.
func (p *Publisher) Enqueue(ctx context.Context, req content.PrefetchRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal prefetch request: %w", err)
	}
	msg := &pubsub.Message{Data: data, Attributes: map[string]string{"username": req.Username}}
	otel.GetTextMapPropagator().Inject(ctx, attributeCarrier{attrs: msg.Attributes})

	if _, err := p.topic.Publish(ctx, msg).Get(ctx); err != nil {
		metrics.ObserveQueueMessage("pubsub", "publish_failed")
		return fmt.Errorf("publish prefetch request: %w", err)
	}
	metrics.ObserveQueueMessage("pubsub", "published")
	return nil
}

// Close flushes pending publishes.
func (p *Publisher) Close() {
	p.topic.Stop()
}
