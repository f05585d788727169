package outbox

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"github.com/mmdatafocus/approvals_backend/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Publisher delivers one event to its consumer. A nil error means delivered.
type Publisher interface {
	Publish(ctx context.Context, ev models.OutboxEvent) error
}

// PublisherFunc adapts an in-process handler.
type PublisherFunc func(ctx context.Context, ev models.OutboxEvent) error

func (f PublisherFunc) Publish(ctx context.Context, ev models.OutboxEvent) error {
	return f(ctx, ev)
}

// LogPublisher only logs events (local development).
type LogPublisher struct {
	Logger *logrus.Logger
}

func (p LogPublisher) Publish(_ context.Context, ev models.OutboxEvent) error {
	if p.Logger == nil {
		return nil
	}
	p.Logger.WithFields(logrus.Fields{
		"field":          "OutboxPublisher",
		"event_id":       ev.ID,
		"event_type":     ev.EventType,
		"tenant_id":      ev.TenantId,
		"correlation_id": ev.CorrelationId,
	}).Info(string(ev.Payload))
	return nil
}

// RedisStreamPublisher appends events to a Redis stream.
type RedisStreamPublisher struct {
	Client redis.Cmdable
	Stream string
	// MaxLen trims the stream approximately; zero keeps everything.
	MaxLen int64
}

func (p RedisStreamPublisher) Publish(ctx context.Context, ev models.OutboxEvent) error {
	if p.Client == nil || p.Stream == "" {
		return errors.New("redis stream publisher is not configured")
	}
	args := &redis.XAddArgs{
		Stream: p.Stream,
		Values: map[string]interface{}{
			"id":             ev.ID,
			"tenant_id":      ev.TenantId,
			"event_type":     ev.EventType,
			"correlation_id": ev.CorrelationId,
			"payload":        string(ev.Payload),
		},
	}
	if p.MaxLen > 0 {
		args.MaxLen = p.MaxLen
		args.Approx = true
	}
	if err := p.Client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", p.Stream, err)
	}
	return nil
}

// PubSubPublisher publishes the payload to a Pub/Sub topic with the event
// metadata as attributes, and waits for the server ack.
type PubSubPublisher struct {
	Topic *pubsub.Topic
}

func (p PubSubPublisher) Publish(ctx context.Context, ev models.OutboxEvent) error {
	if p.Topic == nil {
		return errors.New("pubsub publisher is not configured")
	}
	result := p.Topic.Publish(ctx, &pubsub.Message{
		Data: ev.Payload,
		Attributes: map[string]string{
			"event_id":       ev.ID,
			"event_type":     ev.EventType,
			"tenant_id":      ev.TenantId,
			"correlation_id": ev.CorrelationId,
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish %s: %w", ev.EventType, err)
	}
	return nil
}
