package models

import (
	"time"

	"gorm.io/datatypes"
)

// AuditEntry is the append-only trail of decisions taken by the approval gate.
type AuditEntry struct {
	ID            uint64         `gorm:"primary_key" json:"id"`
	TenantId      string         `gorm:"size:64;not null;index:idx_audit_reference,priority:1" json:"tenant_id"`
	Action        string         `gorm:"size:100;not null" json:"action"`
	ReferenceType string         `gorm:"size:100;index:idx_audit_reference,priority:2" json:"reference_type"`
	ReferenceId   string         `gorm:"size:255;index:idx_audit_reference,priority:3" json:"reference_id"`
	Description   string         `gorm:"type:text" json:"description"`
	Data          datatypes.JSON `json:"data"`
	UserId        string         `gorm:"size:100;index" json:"user_id"`
	CorrelationId string         `gorm:"size:64" json:"correlation_id"`
	CreatedAt     time.Time      `json:"created_at"`
}

// DomainEvent records a business fact; its delivery is handled by the outbox row
// written next to it.
type DomainEvent struct {
	ID            string         `gorm:"primary_key;size:36" json:"id"`
	TenantId      string         `gorm:"size:64;not null;index:idx_domain_event_aggregate,priority:1" json:"tenant_id"`
	EventType     string         `gorm:"size:100;not null" json:"event_type"`
	AggregateType string         `gorm:"size:100;index:idx_domain_event_aggregate,priority:2" json:"aggregate_type"`
	AggregateId   string         `gorm:"size:255;index:idx_domain_event_aggregate,priority:3" json:"aggregate_id"`
	Payload       datatypes.JSON `json:"payload"`
	CorrelationId string         `gorm:"size:64" json:"correlation_id"`
	CreatedAt     time.Time      `json:"created_at"`
}
