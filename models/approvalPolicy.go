package models

import (
	"time"

	"gorm.io/datatypes"
)

type PolicyStatus string

const (
	PolicyStatusActive   PolicyStatus = "ACTIVE"
	PolicyStatusInactive PolicyStatus = "INACTIVE"
	PolicyStatusArchived PolicyStatus = "ARCHIVED"
)

// ApprovalPolicy decides whether an action needs a human decision.
// Rows are immutable apart from Status; a change of intent is a new Version.
type ApprovalPolicy struct {
	ID               string         `gorm:"primary_key;size:36" json:"id"`
	TenantId         string         `gorm:"size:64;not null;index:uniq_policy_version,unique,priority:1;index:idx_policy_active,priority:1" json:"tenant_id"`
	ActionKey        string         `gorm:"size:150;not null;index:uniq_policy_version,unique,priority:2;index:idx_policy_active,priority:2" json:"action_key"`
	Version          int            `gorm:"not null;index:uniq_policy_version,unique,priority:3" json:"version"`
	Name             string         `gorm:"size:255" json:"name"`
	Predicate        datatypes.JSON `json:"predicate"`
	WorkflowTemplate string         `gorm:"size:100;not null" json:"workflow_template"`
	Status           PolicyStatus   `gorm:"size:20;not null;index:idx_policy_active,priority:3" json:"status"`
	CreatedBy        string         `gorm:"size:100" json:"created_by"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}
