// Package outbox implements the transactional outbox: events are appended in
// the same transaction as the state change they report and delivered later by
// a leasing worker with at-least-once semantics.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/approvals_backend/models"
	"github.com/mmdatafocus/approvals_backend/utils"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrLeaseLost means the row is no longer leased by this worker.
	ErrLeaseLost      = errors.New("outbox lease lost")
	ErrEventNotFound  = errors.New("outbox event not found")
	ErrNotReplayable  = errors.New("only FAILED outbox events can be replayed")
	errEmptyEventType = errors.New("event type is required")
)

// Store is the persistence port of the outbox.
type Store interface {
	Enqueue(ctx context.Context, tenantID, eventType string, payload any, correlationID string) (*models.OutboxEvent, error)
	Lease(ctx context.Context, workerID string, limit int, leaseFor time.Duration) ([]models.OutboxEvent, error)
	Heartbeat(ctx context.Context, id, workerID string, leaseFor time.Duration) error
	MarkSent(ctx context.Context, id, workerID string) error
	MarkRetry(ctx context.Context, id, workerID string, attempts int, availableAt time.Time, lastErr string) error
	MarkFailed(ctx context.Context, id, workerID string, attempts int, lastErr string) error
	Replay(ctx context.Context, tenantID, id string) error
	Get(ctx context.Context, tenantID, id string) (*models.OutboxEvent, error)
	CountByStatus(ctx context.Context, tenantID string) (map[models.OutboxStatus]int64, error)
}

// GormStore keeps events in outbox_events. Bind it to the caller's transaction
// (NewGormStore(tx)) so Enqueue commits or rolls back with the state change.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the time source (tests).
func (s *GormStore) WithClock(now func() time.Time) *GormStore {
	cp := *s
	cp.now = now
	return &cp
}

// workerCtx disables tenant scoping; the dispatcher works across tenants.
func workerCtx(ctx context.Context) context.Context {
	return utils.SetSkipTenantScopeInContext(ctx, true)
}

func (s *GormStore) Enqueue(ctx context.Context, tenantID, eventType string, payload any, correlationID string) (*models.OutboxEvent, error) {
	if eventType == "" {
		return nil, errEmptyEventType
	}
	if tenantID == "" {
		return nil, errors.New("tenant id is required")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal outbox payload: %w", err)
	}
	now := s.now()
	ev := &models.OutboxEvent{
		ID:            uuid.NewString(),
		TenantId:      tenantID,
		EventType:     eventType,
		Payload:       datatypes.JSON(raw),
		CorrelationId: correlationID,
		Status:        models.OutboxStatusPending,
		Attempts:      0,
		AvailableAt:   now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.db.WithContext(ctx).Create(ev).Error; err != nil {
		return nil, fmt.Errorf("enqueue outbox event: %w", err)
	}
	return ev, nil
}

// Lease claims up to limit deliverable rows: PENDING rows whose availableAt has
// passed and LEASED rows whose lease expired. Each claim is a conditional
// update, so two workers never hold the same row at once.
func (s *GormStore) Lease(ctx context.Context, workerID string, limit int, leaseFor time.Duration) ([]models.OutboxEvent, error) {
	if workerID == "" {
		return nil, errors.New("worker id is required")
	}
	if limit <= 0 {
		return nil, nil
	}
	now := s.now()
	until := now.Add(leaseFor)
	ctx = workerCtx(ctx)

	var leased []models.OutboxEvent
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var candidates []models.OutboxEvent
		if err := tx.
			Where("(status = ? AND available_at <= ?) OR (status = ? AND locked_until < ?)",
				models.OutboxStatusPending, now, models.OutboxStatusLeased, now).
			Order("available_at ASC").
			Limit(limit).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Find(&candidates).Error; err != nil {
			return err
		}
		for _, ev := range candidates {
			res := tx.Model(&models.OutboxEvent{}).
				Where("id = ? AND ((status = ? AND available_at <= ?) OR (status = ? AND locked_until < ?))",
					ev.ID, models.OutboxStatusPending, now, models.OutboxStatusLeased, now).
				Updates(map[string]interface{}{
					"status":       models.OutboxStatusLeased,
					"locked_by":    workerID,
					"locked_until": until,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				continue
			}
			ev.Status = models.OutboxStatusLeased
			id := workerID
			ev.LockedBy = &id
			lockedUntil := until
			ev.LockedUntil = &lockedUntil
			leased = append(leased, ev)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("lease outbox events: %w", err)
	}
	return leased, nil
}

func (s *GormStore) Heartbeat(ctx context.Context, id, workerID string, leaseFor time.Duration) error {
	return s.updateOwned(ctx, id, workerID, map[string]interface{}{
		"locked_until": s.now().Add(leaseFor),
	})
}

func (s *GormStore) MarkSent(ctx context.Context, id, workerID string) error {
	now := s.now()
	return s.updateOwned(ctx, id, workerID, map[string]interface{}{
		"status":       models.OutboxStatusSent,
		"sent_at":      &now,
		"locked_by":    nil,
		"locked_until": nil,
		"last_error":   nil,
	})
}

// MarkRetry puts the row back to PENDING until availableAt.
func (s *GormStore) MarkRetry(ctx context.Context, id, workerID string, attempts int, availableAt time.Time, lastErr string) error {
	return s.updateOwned(ctx, id, workerID, map[string]interface{}{
		"status":       models.OutboxStatusPending,
		"attempts":     attempts,
		"available_at": availableAt,
		"last_error":   &lastErr,
		"locked_by":    nil,
		"locked_until": nil,
	})
}

// MarkFailed parks the row permanently; only Replay makes it deliverable again.
func (s *GormStore) MarkFailed(ctx context.Context, id, workerID string, attempts int, lastErr string) error {
	return s.updateOwned(ctx, id, workerID, map[string]interface{}{
		"status":       models.OutboxStatusFailed,
		"attempts":     attempts,
		"last_error":   &lastErr,
		"locked_by":    nil,
		"locked_until": nil,
	})
}

func (s *GormStore) updateOwned(ctx context.Context, id, workerID string, updates map[string]interface{}) error {
	res := s.db.WithContext(workerCtx(ctx)).Model(&models.OutboxEvent{}).
		Where("id = ? AND status = ? AND locked_by = ?", id, models.OutboxStatusLeased, workerID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrLeaseLost
	}
	return nil
}

// Replay moves a FAILED row back to PENDING with attempts reset.
func (s *GormStore) Replay(ctx context.Context, tenantID, id string) error {
	now := s.now()
	res := s.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("tenant_id = ? AND id = ? AND status = ?", tenantID, id, models.OutboxStatusFailed).
		Updates(map[string]interface{}{
			"status":       models.OutboxStatusPending,
			"attempts":     0,
			"available_at": now,
			"last_error":   nil,
			"locked_by":    nil,
			"locked_until": nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}
	if _, err := s.Get(ctx, tenantID, id); err != nil {
		return err
	}
	return ErrNotReplayable
}

func (s *GormStore) Get(ctx context.Context, tenantID, id string) (*models.OutboxEvent, error) {
	var ev models.OutboxEvent
	err := s.db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, id).Take(&ev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// CountByStatus groups rows by status; an empty tenantID counts every tenant.
func (s *GormStore) CountByStatus(ctx context.Context, tenantID string) (map[models.OutboxStatus]int64, error) {
	var rows []struct {
		Status models.OutboxStatus
		Total  int64
	}
	if tenantID == "" {
		ctx = workerCtx(ctx)
	}
	q := s.db.WithContext(ctx).Model(&models.OutboxEvent{}).Select("status, COUNT(*) AS total")
	if tenantID != "" {
		q = q.Where("tenant_id = ?", tenantID)
	}
	if err := q.Group("status").Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[models.OutboxStatus]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.Total
	}
	return out, nil
}

var _ Store = (*GormStore)(nil)
