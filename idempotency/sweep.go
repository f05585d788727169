package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/approvals_backend/appctx"
	"github.com/mmdatafocus/approvals_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const sweepLockKey = "lock:idempotency-sweep"

// Sweeper releases IN_PROGRESS records left behind by crashed attempts so a
// retry with the same key starts FRESH. It is an operator tool; the approval
// gate never calls it.
type Sweeper struct {
	DB     *gorm.DB
	Locker *redislock.Client // optional; serializes sweeps across instances
	Logger *logrus.Logger
	Now    func() time.Time
}

// ReleaseStale deletes IN_PROGRESS records created before now-olderThan and
// returns how many were removed.
func (s *Sweeper) ReleaseStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, errors.New("olderThan must be positive")
	}
	now := time.Now().UTC()
	if s.Now != nil {
		now = s.Now()
	}

	if s.Locker != nil {
		lock, err := s.Locker.Obtain(ctx, sweepLockKey, 5*time.Minute, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			return 0, ErrSweepRunning
		}
		if err != nil {
			return 0, fmt.Errorf("obtain sweep lock: %w", err)
		}
		defer func() {
			if releaseErr := lock.Release(context.WithoutCancel(ctx)); releaseErr != nil && s.Logger != nil {
				s.Logger.WithFields(logrus.Fields{"field": "IdempotencySweeper"}).
					Warn("failed to release sweep lock: " + releaseErr.Error())
			}
		}()
	}

	ctx = appctx.Set(ctx, appctx.ContextKeySkipTenantScope, true)
	cutoff := now.Add(-olderThan)
	res := s.DB.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.IdempotencyStatusInProgress, cutoff).
		Delete(&models.IdempotencyRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("release stale idempotency records: %w", res.Error)
	}

	if s.Logger != nil && res.RowsAffected > 0 {
		s.Logger.WithFields(logrus.Fields{
			"field":  "IdempotencySweeper",
			"cutoff": cutoff.Format(time.RFC3339Nano),
			"count":  res.RowsAffected,
		}).Warn("released stale in-progress idempotency records")
	}
	return res.RowsAffected, nil
}
