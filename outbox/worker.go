package outbox

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/approvals_backend/models"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// WorkerConfig tunes the delivery loop. Every field affects timing only.
type WorkerConfig struct {
	BatchSize         int
	ItemConcurrency   int
	BatchConcurrency  int
	LeaseDuration     time.Duration
	HeartbeatInterval time.Duration
	Retry             RetryPolicy
	IdleInterval      time.Duration
	IdleJitter        time.Duration
	ErrorBackoff      time.Duration
	ShutdownTimeout   time.Duration
}

func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		BatchSize:         50,
		ItemConcurrency:   8,
		BatchConcurrency:  1,
		LeaseDuration:     30 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		Retry: RetryPolicy{
			MaxAttempts: 10,
			Base:        time.Second,
			Max:         10 * time.Minute,
			Jitter:      500 * time.Millisecond,
		},
		IdleInterval:    500 * time.Millisecond,
		IdleJitter:      250 * time.Millisecond,
		ErrorBackoff:    5 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Worker leases outbox rows and hands them to a Publisher. Several workers may
// run against the same table; the lease is the only coordination.
type Worker struct {
	Store     Store
	Publisher Publisher
	Logger    *logrus.Logger
	ID        string
	Config    WorkerConfig
	Now       func() time.Time

	tracer trace.Tracer
	rndMu  sync.Mutex
	rnd    *rand.Rand
}

func NewWorker(store Store, publisher Publisher, logger *logrus.Logger, cfg WorkerConfig) *Worker {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	// A heartbeat at or beyond the lease lets the lease lapse mid-delivery.
	if cfg.LeaseDuration > 0 && cfg.HeartbeatInterval >= cfg.LeaseDuration {
		cfg.HeartbeatInterval = cfg.LeaseDuration / 3
	}
	return &Worker{
		Store:     store,
		Publisher: publisher,
		Logger:    logger,
		ID:        uuid.NewString(),
		Config:    cfg,
		Now:       func() time.Time { return time.Now().UTC() },
		tracer:    otel.Tracer("approvals_backend"),
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (w *Worker) log() *logrus.Entry {
	if w.Logger == nil {
		w.Logger = logrus.StandardLogger()
	}
	return w.Logger.WithFields(logrus.Fields{"field": "OutboxWorker", "worker_id": w.ID})
}

// Run polls until ctx is cancelled. In-flight deliveries then get up to
// ShutdownTimeout to finish before their context is cancelled too.
func (w *Worker) Run(ctx context.Context) error {
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()
	go func() {
		select {
		case <-ctx.Done():
		case <-workCtx.Done():
			return
		}
		timer := time.NewTimer(w.Config.ShutdownTimeout)
		defer timer.Stop()
		select {
		case <-timer.C:
			w.log().Warn("shutdown timeout reached, cancelling in-flight deliveries")
			cancelWork()
		case <-workCtx.Done():
		}
	}()

	loops := w.Config.BatchConcurrency
	if loops <= 0 {
		loops = 1
	}
	w.log().WithField("loops", loops).Info("outbox worker started")

	var wg sync.WaitGroup
	for i := 0; i < loops; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.loop(ctx, workCtx)
		}()
	}
	wg.Wait()
	w.log().Info("outbox worker stopped")
	return nil
}

func (w *Worker) loop(ctx, workCtx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := w.RunOnce(workCtx)
		var wait time.Duration
		switch {
		case err != nil:
			w.log().Error("outbox batch failed: " + err.Error())
			wait = w.Config.ErrorBackoff
		case n == 0:
			wait = w.Config.IdleInterval + w.jitter(w.Config.IdleJitter)
		}
		if wait <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// RunOnce leases one batch and delivers it. It returns the number of leased rows.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	batch, err := w.Store.Lease(ctx, w.ID, w.Config.BatchSize, w.Config.LeaseDuration)
	if err != nil {
		return 0, err
	}
	if len(batch) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	if w.Config.ItemConcurrency > 0 {
		g.SetLimit(w.Config.ItemConcurrency)
	}
	for _, ev := range batch {
		ev := ev
		g.Go(func() error {
			w.deliver(gctx, ev)
			return nil
		})
	}
	_ = g.Wait()
	return len(batch), nil
}

func (w *Worker) deliver(ctx context.Context, ev models.OutboxEvent) {
	tracer := w.tracer
	if tracer == nil {
		tracer = otel.Tracer("approvals_backend")
	}
	ctx, span := tracer.Start(ctx, "outbox.deliver", trace.WithAttributes(
		attribute.String("outbox.event_id", ev.ID),
		attribute.String("outbox.event_type", ev.EventType),
		attribute.String("tenant.id", ev.TenantId),
		attribute.Int("outbox.attempts", ev.Attempts),
	))
	defer span.End()

	stop := w.heartbeat(ctx, ev)
	pubErr := w.Publisher.Publish(ctx, ev)
	stop()

	entry := w.log().WithFields(logrus.Fields{
		"event_id":   ev.ID,
		"event_type": ev.EventType,
		"tenant_id":  ev.TenantId,
	})

	if pubErr == nil {
		if err := w.Store.MarkSent(ctx, ev.ID, w.ID); err != nil {
			w.markErr(entry, "mark sent", err)
		}
		return
	}

	span.RecordError(pubErr)
	span.SetStatus(codes.Error, pubErr.Error())
	attempts := ev.Attempts + 1
	msg := pubErr.Error()
	if w.Config.Retry.Exhausted(attempts) {
		if err := w.Store.MarkFailed(ctx, ev.ID, w.ID, attempts, msg); err != nil {
			w.markErr(entry, "mark failed", err)
			return
		}
		entry.WithField("attempts", attempts).Error("outbox delivery moved to FAILED after max attempts: " + msg)
		return
	}

	w.rndMu.Lock()
	delay := w.Config.Retry.Delay(attempts, w.rnd)
	w.rndMu.Unlock()
	now := time.Now().UTC()
	if w.Now != nil {
		now = w.Now()
	}
	next := now.Add(delay)
	if err := w.Store.MarkRetry(ctx, ev.ID, w.ID, attempts, next, msg); err != nil {
		w.markErr(entry, "mark retry", err)
		return
	}
	entry.WithFields(logrus.Fields{
		"attempts":     attempts,
		"available_at": next.Format(time.RFC3339Nano),
	}).Warn("outbox delivery failed: " + msg)
}

func (w *Worker) markErr(entry *logrus.Entry, op string, err error) {
	if errors.Is(err, ErrLeaseLost) {
		entry.Warn(fmt.Sprintf("%s: lease lost, another worker owns the event", op))
		return
	}
	entry.Error(fmt.Sprintf("%s: %v", op, err))
}

// heartbeat extends the lease while a delivery runs. The returned func stops it.
func (w *Worker) heartbeat(ctx context.Context, ev models.OutboxEvent) func() {
	if w.Config.HeartbeatInterval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(w.Config.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := w.Store.Heartbeat(ctx, ev.ID, w.ID, w.Config.LeaseDuration); err != nil {
					w.markErr(w.log().WithField("event_id", ev.ID), "heartbeat", err)
					if errors.Is(err, ErrLeaseLost) {
						return
					}
				}
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}

func (w *Worker) jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	w.rndMu.Lock()
	defer w.rndMu.Unlock()
	if w.rnd == nil {
		return time.Duration(rand.Int63n(int64(max)))
	}
	return time.Duration(w.rnd.Int63n(int64(max)))
}
