// Package audit appends the audit trail and domain event records that
// accompany every approval decision.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/approvals_backend/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Entry struct {
	TenantID      string
	Action        string
	ReferenceType string
	ReferenceID   string
	Description   string
	Data          any
	UserID        string
	CorrelationID string
}

type Event struct {
	TenantID      string
	EventType     string
	AggregateType string
	AggregateID   string
	Payload       any
	CorrelationID string
}

type Recorder interface {
	Record(ctx context.Context, e Entry) error
	Emit(ctx context.Context, e Event) (*models.DomainEvent, error)
	Entries(ctx context.Context, tenantID, referenceType, referenceID string) ([]models.AuditEntry, error)
	Events(ctx context.Context, tenantID, aggregateType, aggregateID string) ([]models.DomainEvent, error)
}

type GormRecorder struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormRecorder(db *gorm.DB) *GormRecorder {
	return &GormRecorder{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *GormRecorder) WithClock(now func() time.Time) *GormRecorder {
	cp := *r
	cp.now = now
	return &cp
}

func marshal(v any) (datatypes.JSON, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

func (r *GormRecorder) Record(ctx context.Context, e Entry) error {
	if e.TenantID == "" || e.Action == "" {
		return errors.New("audit entry needs a tenant and an action")
	}
	data, err := marshal(e.Data)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(&models.AuditEntry{
		TenantId:      e.TenantID,
		Action:        e.Action,
		ReferenceType: e.ReferenceType,
		ReferenceId:   e.ReferenceID,
		Description:   e.Description,
		Data:          data,
		UserId:        e.UserID,
		CorrelationId: e.CorrelationID,
		CreatedAt:     r.now(),
	}).Error
}

func (r *GormRecorder) Emit(ctx context.Context, e Event) (*models.DomainEvent, error) {
	if e.TenantID == "" || e.EventType == "" {
		return nil, errors.New("domain event needs a tenant and an event type")
	}
	payload, err := marshal(e.Payload)
	if err != nil {
		return nil, err
	}
	ev := &models.DomainEvent{
		ID:            uuid.NewString(),
		TenantId:      e.TenantID,
		EventType:     e.EventType,
		AggregateType: e.AggregateType,
		AggregateId:   e.AggregateID,
		Payload:       payload,
		CorrelationId: e.CorrelationID,
		CreatedAt:     r.now(),
	}
	if err := r.db.WithContext(ctx).Create(ev).Error; err != nil {
		return nil, err
	}
	return ev, nil
}

func (r *GormRecorder) Entries(ctx context.Context, tenantID, referenceType, referenceID string) ([]models.AuditEntry, error) {
	var out []models.AuditEntry
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND reference_type = ? AND reference_id = ?", tenantID, referenceType, referenceID).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

func (r *GormRecorder) Events(ctx context.Context, tenantID, aggregateType, aggregateID string) ([]models.DomainEvent, error) {
	var out []models.DomainEvent
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND aggregate_type = ? AND aggregate_id = ?", tenantID, aggregateType, aggregateID).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

var _ Recorder = (*GormRecorder)(nil)
