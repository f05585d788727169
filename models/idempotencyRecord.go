package models

import (
	"time"

	"gorm.io/datatypes"
)

type IdempotencyStatus string

const (
	IdempotencyStatusInProgress IdempotencyStatus = "IN_PROGRESS"
	IdempotencyStatusCompleted  IdempotencyStatus = "COMPLETED"
	IdempotencyStatusFailed     IdempotencyStatus = "FAILED"
)

// IdempotencyRecord provides durable, DB-backed request deduplication.
// Unique constraint: (tenant_id, action_key, idempotency_key).
// RequestHash is written once on insert and never updated.
type IdempotencyRecord struct {
	ID             uint64            `gorm:"primary_key" json:"id"`
	TenantId       string            `gorm:"size:64;not null;index:uniq_idem,unique,priority:1" json:"tenant_id"`
	ActionKey      string            `gorm:"size:150;not null;index:uniq_idem,unique,priority:2" json:"action_key"`
	IdempotencyKey string            `gorm:"size:255;not null;index:uniq_idem,unique,priority:3" json:"idempotency_key"`
	UserId         string            `gorm:"size:100" json:"user_id"`
	RequestHash    string            `gorm:"size:64;not null" json:"request_hash"`
	Status         IdempotencyStatus `gorm:"size:20;not null;index:idx_idem_status_created,priority:1" json:"status"`
	ResponseStatus int               `gorm:"not null;default:0" json:"response_status"`
	ResponseBody   datatypes.JSON    `json:"response_body"`
	CreatedAt      time.Time         `gorm:"index:idx_idem_status_created,priority:2" json:"created_at"`
	CompletedAt    *time.Time        `json:"completed_at"`
}

func (s IdempotencyStatus) IsTerminal() bool {
	return s == IdempotencyStatusCompleted || s == IdempotencyStatusFailed
}
