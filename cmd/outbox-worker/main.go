// outbox-worker delivers committed outbox events to the configured publisher
// (OUTBOX_PUBLISHER=pubsub|redis|log). Several replicas may run at once; leases
// keep each event with a single worker at a time.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_HOST=... OUTBOX_PUBLISHER=pubsub PUBSUB_PROJECT_ID=... go run ./cmd/outbox-worker
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mmdatafocus/approvals_backend/config"
	"github.com/mmdatafocus/approvals_backend/outbox"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := config.GetLogger()
	log := logger.WithFields(logrus.Fields{"field": "OutboxWorker"})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadOutboxWorkerConfig()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	pub, err := config.NewOutboxPublisher(ctx, cfg, logger)
	if err != nil {
		log.Fatal("outbox publisher unavailable: " + err.Error())
	}
	if pub, ok := pub.(outbox.PubSubPublisher); ok {
		defer pub.Topic.Stop()
	}
	defer func() {
		if rdb := config.GetRedisDB(); rdb != nil {
			_ = rdb.Close()
		}
	}()

	w := outbox.NewWorker(outbox.NewGormStore(db), pub, logger, cfg.Worker)
	log.WithFields(logrus.Fields{
		"worker_id":         w.ID,
		"publisher":         cfg.Publisher,
		"batch_size":        cfg.Worker.BatchSize,
		"item_concurrency":  cfg.Worker.ItemConcurrency,
		"batch_concurrency": cfg.Worker.BatchConcurrency,
	}).Info("starting outbox worker")

	if err := w.Run(ctx); err != nil {
		log.Error("outbox worker stopped: " + err.Error())
	}
}
