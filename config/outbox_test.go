package config

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/mmdatafocus/approvals_backend/outbox"
	"github.com/stretchr/testify/assert"
)

func TestLoadOutboxWorkerConfig_Defaults(t *testing.T) {
	for _, k := range []string{"OUTBOX_BATCH_SIZE", "OUTBOX_LEASE_MS", "OUTBOX_HEARTBEAT_MS", "OUTBOX_PUBLISHER", "OUTBOX_REDIS_STREAM"} {
		t.Setenv(k, "")
	}
	cfg := LoadOutboxWorkerConfig()
	assert.Equal(t, 50, cfg.Worker.BatchSize)
	assert.Equal(t, 30*time.Second, cfg.Worker.LeaseDuration)
	assert.Equal(t, OutboxPublisherLog, cfg.Publisher)
	assert.Equal(t, "approval-events", cfg.RedisStream)
}

func TestLoadOutboxWorkerConfig_FromEnv(t *testing.T) {
	t.Setenv("OUTBOX_BATCH_SIZE", "25")
	t.Setenv("OUTBOX_ITEM_CONCURRENCY", "3")
	t.Setenv("OUTBOX_LEASE_MS", "6000")
	t.Setenv("OUTBOX_HEARTBEAT_MS", "9000")
	t.Setenv("OUTBOX_MAX_ATTEMPTS", "7")
	t.Setenv("OUTBOX_RETRY_BASE_MS", "250")
	t.Setenv("OUTBOX_RETRY_JITTER_MS", "not-a-number")
	t.Setenv("OUTBOX_PUBLISHER", "Redis")

	cfg := LoadOutboxWorkerConfig()
	assert.Equal(t, 25, cfg.Worker.BatchSize)
	assert.Equal(t, 3, cfg.Worker.ItemConcurrency)
	assert.Equal(t, 6*time.Second, cfg.Worker.LeaseDuration)
	assert.Equal(t, 2*time.Second, cfg.Worker.HeartbeatInterval, "heartbeat clamped below the lease")
	assert.Equal(t, 7, cfg.Worker.Retry.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Worker.Retry.Base)
	assert.Equal(t, 500*time.Millisecond, cfg.Worker.Retry.Jitter, "invalid value keeps default")
	assert.Equal(t, OutboxPublisherRedis, cfg.Publisher)
}

func TestNewOutboxPublisher_LogByDefault(t *testing.T) {
	t.Setenv("OUTBOX_PUBLISHER", "")
	cfg := LoadOutboxWorkerConfig()

	pub, err := NewOutboxPublisher(context.Background(), cfg, GetLogger())
	assert.NoError(t, err)
	assert.IsType(t, outbox.LogPublisher{}, pub)
}

func TestNewOutboxPublisher_RedisStream(t *testing.T) {
	mr := miniredis.RunT(t)
	t.Setenv("REDIS_ADDRESS", mr.Addr())
	t.Setenv("OUTBOX_PUBLISHER", OutboxPublisherRedis)
	t.Setenv("OUTBOX_REDIS_STREAM", "approvals-test")
	t.Cleanup(func() {
		if rdb != nil {
			_ = rdb.Close()
		}
		rdb, locker = nil, nil
	})

	pub, err := NewOutboxPublisher(context.Background(), LoadOutboxWorkerConfig(), GetLogger())
	assert.NoError(t, err)
	rp, ok := pub.(outbox.RedisStreamPublisher)
	if assert.True(t, ok) {
		assert.Equal(t, "approvals-test", rp.Stream)
	}
	assert.NotNil(t, GetRedisLock())
}

func TestFeatureFlags(t *testing.T) {
	t.Setenv("SKIP_MIGRATIONS", "yes")
	t.Setenv("OUTBOX_EMBEDDED_WORKER", "")
	t.Setenv("RATE_LIMIT_MAX_REQUESTS", "-4")
	t.Setenv("RATE_LIMIT_WINDOW_SECONDS", "30")

	assert.True(t, SkipMigrations())
	assert.False(t, EmbeddedOutboxWorker())
	assert.Equal(t, int64(600), RateLimitMaxRequests())
	assert.Equal(t, int64(30), RateLimitWindowSeconds())
}
