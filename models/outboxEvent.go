package models

import (
	"time"

	"gorm.io/datatypes"
)

type OutboxStatus string

// Outbox statuses. Keep these as strings (DB values).
const (
	OutboxStatusPending OutboxStatus = "PENDING"
	OutboxStatusLeased  OutboxStatus = "LEASED"
	OutboxStatusSent    OutboxStatus = "SENT"
	OutboxStatusFailed  OutboxStatus = "FAILED"
)

// OutboxEvent is written in the same transaction as the state change it reports
// and delivered after commit by the outbox worker.
type OutboxEvent struct {
	ID            string         `gorm:"primary_key;size:36" json:"id"`
	TenantId      string         `gorm:"size:64;not null;index" json:"tenant_id"`
	EventType     string         `gorm:"size:100;not null;index" json:"event_type"`
	Payload       datatypes.JSON `json:"payload"`
	CorrelationId string         `gorm:"size:64;index" json:"correlation_id"`
	Status        OutboxStatus   `gorm:"size:20;not null;default:'PENDING';index:idx_outbox_dispatch,priority:1;index:idx_outbox_lease,priority:1" json:"status"` // PENDING|LEASED|SENT|FAILED
	Attempts      int            `gorm:"not null;default:0" json:"attempts"`
	AvailableAt   time.Time      `gorm:"not null;index:idx_outbox_dispatch,priority:2" json:"available_at"`
	LockedBy      *string        `gorm:"size:100" json:"locked_by"`
	LockedUntil   *time.Time     `gorm:"index:idx_outbox_lease,priority:2" json:"locked_until"`
	LastError     *string        `gorm:"type:text" json:"last_error"`
	SentAt        *time.Time     `json:"sent_at"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}
