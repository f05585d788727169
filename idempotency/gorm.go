package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
	"github.com/mmdatafocus/approvals_backend/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormLedger stores idempotency records in the idempotency_records table.
// Bind it to a transaction with NewGormLedger(tx) to make Complete part of a
// larger unit of work.
type GormLedger struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormLedger(db *gorm.DB) *GormLedger {
	return &GormLedger{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the time source (tests).
func (l *GormLedger) WithClock(now func() time.Time) *GormLedger {
	cp := *l
	cp.now = now
	return &cp
}

func isDuplicateKeyErr(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func (l *GormLedger) StartOrReplay(ctx context.Context, actionKey, tenantID, userID, idempotencyKey, requestHash string) (Outcome, error) {
	if actionKey == "" || tenantID == "" || idempotencyKey == "" {
		return Outcome{}, errors.New("action key, tenant id and idempotency key are required")
	}

	rec := models.IdempotencyRecord{
		TenantId:       tenantID,
		ActionKey:      actionKey,
		IdempotencyKey: idempotencyKey,
		UserId:         userID,
		RequestHash:    requestHash,
		Status:         models.IdempotencyStatusInProgress,
		CreatedAt:      l.now(),
	}
	// Insert-if-absent in one statement; the unique index is the mutual exclusion.
	res := l.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
	if res.Error != nil && !isDuplicateKeyErr(res.Error) {
		return Outcome{}, fmt.Errorf("insert idempotency record: %w", res.Error)
	}
	if res.Error == nil && res.RowsAffected == 1 {
		return Outcome{Mode: ModeFresh}, nil
	}

	existing, err := l.Get(ctx, actionKey, tenantID, idempotencyKey)
	if err != nil {
		return Outcome{}, err
	}
	if existing.RequestHash != requestHash {
		return Outcome{Mode: ModeMismatch}, nil
	}
	if !existing.Status.IsTerminal() {
		return Outcome{Mode: ModeInProgress}, nil
	}
	return Outcome{
		Mode:           ModeReplay,
		ResponseStatus: existing.ResponseStatus,
		ResponseBody:   json.RawMessage(existing.ResponseBody),
	}, nil
}

func (l *GormLedger) Complete(ctx context.Context, actionKey, tenantID, idempotencyKey string, responseStatus int, responseBody json.RawMessage) error {
	status := models.IdempotencyStatusCompleted
	if responseStatus >= 400 {
		status = models.IdempotencyStatusFailed
	}
	now := l.now()

	res := l.db.WithContext(ctx).Model(&models.IdempotencyRecord{}).
		Where("tenant_id = ? AND action_key = ? AND idempotency_key = ? AND status = ?",
			tenantID, actionKey, idempotencyKey, models.IdempotencyStatusInProgress).
		Updates(map[string]interface{}{
			"status":          status,
			"response_status": responseStatus,
			"response_body":   datatypes.JSON(responseBody),
			"completed_at":    &now,
		})
	if res.Error != nil {
		return fmt.Errorf("complete idempotency record: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	// Nothing updated: either already completed (no-op) or never started.
	if _, err := l.Get(ctx, actionKey, tenantID, idempotencyKey); err != nil {
		return err
	}
	return nil
}

// Release deletes an IN_PROGRESS record so the next attempt with the same key
// observes ModeFresh. Completed records are kept.
func (l *GormLedger) Release(ctx context.Context, actionKey, tenantID, idempotencyKey string) error {
	return l.db.WithContext(ctx).
		Where("tenant_id = ? AND action_key = ? AND idempotency_key = ? AND status = ?",
			tenantID, actionKey, idempotencyKey, models.IdempotencyStatusInProgress).
		Delete(&models.IdempotencyRecord{}).Error
}

// Get loads a record by its natural key.
func (l *GormLedger) Get(ctx context.Context, actionKey, tenantID, idempotencyKey string) (*models.IdempotencyRecord, error) {
	var rec models.IdempotencyRecord
	err := l.db.WithContext(ctx).
		Where("tenant_id = ? AND action_key = ? AND idempotency_key = ?", tenantID, actionKey, idempotencyKey).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load idempotency record: %w", err)
	}
	return &rec, nil
}

var _ Ledger = (*GormLedger)(nil)
