package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmdatafocus/approvals_backend/outbox"
	"github.com/sirupsen/logrus"
)

// NewOutboxPublisher builds the publisher selected by OUTBOX_PUBLISHER,
// connecting Pub/Sub or Redis on demand.
func NewOutboxPublisher(ctx context.Context, cfg OutboxWorkerConfig, logger *logrus.Logger) (outbox.Publisher, error) {
	switch cfg.Publisher {
	case OutboxPublisherPubSub:
		client, err := GetPubSubClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("pubsub client: %w", err)
		}
		topic, err := CreateTopicIfNotExists(ctx, client, PubSubTopicName())
		if err != nil {
			return nil, err
		}
		return outbox.PubSubPublisher{Topic: topic}, nil
	case OutboxPublisherRedis:
		if GetRedisDB() == nil {
			ConnectRedisWithRetry(ctx)
		}
		rdb := GetRedisDB()
		if rdb == nil {
			return nil, errors.New("redis is not connected")
		}
		return outbox.RedisStreamPublisher{Client: rdb, Stream: cfg.RedisStream, MaxLen: int64(intFromEnv("OUTBOX_REDIS_MAXLEN", 0))}, nil
	default:
		return outbox.LogPublisher{Logger: logger}, nil
	}
}
