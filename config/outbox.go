package config

import (
	"os"
	"strings"

	"github.com/mmdatafocus/approvals_backend/outbox"
)

// Outbox publisher kinds selected by OUTBOX_PUBLISHER.
const (
	OutboxPublisherPubSub = "pubsub"
	OutboxPublisherRedis  = "redis"
	OutboxPublisherLog    = "log"
)

type OutboxWorkerConfig struct {
	Worker      outbox.WorkerConfig
	Publisher   string
	RedisStream string
}

// LoadOutboxWorkerConfig reads the OUTBOX_* variables over the worker defaults.
func LoadOutboxWorkerConfig() OutboxWorkerConfig {
	def := outbox.DefaultWorkerConfig()
	w := outbox.WorkerConfig{
		BatchSize:         intFromEnv("OUTBOX_BATCH_SIZE", def.BatchSize),
		ItemConcurrency:   intFromEnv("OUTBOX_ITEM_CONCURRENCY", def.ItemConcurrency),
		BatchConcurrency:  intFromEnv("OUTBOX_BATCH_CONCURRENCY", def.BatchConcurrency),
		LeaseDuration:     durationMsFromEnv("OUTBOX_LEASE_MS", def.LeaseDuration),
		HeartbeatInterval: durationMsFromEnv("OUTBOX_HEARTBEAT_MS", def.HeartbeatInterval),
		Retry: outbox.RetryPolicy{
			MaxAttempts: intFromEnv("OUTBOX_MAX_ATTEMPTS", def.Retry.MaxAttempts),
			Base:        durationMsFromEnv("OUTBOX_RETRY_BASE_MS", def.Retry.Base),
			Max:         durationMsFromEnv("OUTBOX_RETRY_MAX_MS", def.Retry.Max),
			Jitter:      durationMsFromEnv("OUTBOX_RETRY_JITTER_MS", def.Retry.Jitter),
		},
		IdleInterval:    durationMsFromEnv("OUTBOX_IDLE_MS", def.IdleInterval),
		IdleJitter:      durationMsFromEnv("OUTBOX_IDLE_JITTER_MS", def.IdleJitter),
		ErrorBackoff:    durationMsFromEnv("OUTBOX_ERROR_BACKOFF_MS", def.ErrorBackoff),
		ShutdownTimeout: durationMsFromEnv("OUTBOX_SHUTDOWN_TIMEOUT_MS", def.ShutdownTimeout),
	}
	if w.BatchSize <= 0 {
		w.BatchSize = def.BatchSize
	}
	// A lease must outlive at least one heartbeat.
	if w.HeartbeatInterval >= w.LeaseDuration {
		w.HeartbeatInterval = w.LeaseDuration / 3
	}

	publisher := strings.ToLower(strings.TrimSpace(os.Getenv("OUTBOX_PUBLISHER")))
	switch publisher {
	case OutboxPublisherPubSub, OutboxPublisherRedis, OutboxPublisherLog:
	default:
		publisher = OutboxPublisherLog
	}
	stream := strings.TrimSpace(os.Getenv("OUTBOX_REDIS_STREAM"))
	if stream == "" {
		stream = "approval-events"
	}
	return OutboxWorkerConfig{Worker: w, Publisher: publisher, RedisStream: stream}
}
