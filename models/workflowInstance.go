package models

import (
	"time"

	"gorm.io/datatypes"
)

type WorkflowInstanceStatus string

const (
	WorkflowInstanceStatusActive    WorkflowInstanceStatus = "ACTIVE"
	WorkflowInstanceStatusCompleted WorkflowInstanceStatus = "COMPLETED"
	WorkflowInstanceStatusFailed    WorkflowInstanceStatus = "FAILED"
	WorkflowInstanceStatusCancelled WorkflowInstanceStatus = "CANCELLED"
)

func (s WorkflowInstanceStatus) IsTerminal() bool {
	return s == WorkflowInstanceStatusCompleted ||
		s == WorkflowInstanceStatusFailed ||
		s == WorkflowInstanceStatusCancelled
}

// Well-known workflow states.
const (
	WorkflowStateStart    = "start"
	WorkflowStateApproved = "approved"
	WorkflowStateRejected = "rejected"
)

// WorkflowInstance tracks one approval process for a business entity.
// BusinessKey is "<actionKey>:<entityId>" and is unique per tenant.
type WorkflowInstance struct {
	ID           string                 `gorm:"primary_key;size:36" json:"id"`
	TenantId     string                 `gorm:"size:64;not null;index:uniq_wf_business_key,unique,priority:1" json:"tenant_id"`
	DefinitionId string                 `gorm:"size:36;not null;index" json:"definition_id"`
	Template     string                 `gorm:"size:100" json:"template"`
	BusinessKey  string                 `gorm:"size:255;not null;index:uniq_wf_business_key,unique,priority:2" json:"business_key"`
	Status       WorkflowInstanceStatus `gorm:"size:20;not null;index" json:"status"`
	CurrentState string                 `gorm:"size:50;not null" json:"current_state"`
	Context      datatypes.JSON         `json:"context"`
	StartEvent   string                 `gorm:"size:100" json:"start_event"`
	StartedBy    string                 `gorm:"size:100" json:"started_by"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
	CompletedAt  *time.Time             `json:"completed_at"`

	Tasks []WorkflowTask `gorm:"foreignKey:InstanceId" json:"tasks,omitempty"`
}

type WorkflowTaskStatus string

const (
	WorkflowTaskStatusOpen      WorkflowTaskStatus = "OPEN"
	WorkflowTaskStatusCompleted WorkflowTaskStatus = "COMPLETED"
	WorkflowTaskStatusCancelled WorkflowTaskStatus = "CANCELLED"
)

// WorkflowTask is a human decision point owned by an instance.
type WorkflowTask struct {
	ID          string             `gorm:"primary_key;size:36" json:"id"`
	TenantId    string             `gorm:"size:64;not null;index:idx_wf_task_instance,priority:1" json:"tenant_id"`
	InstanceId  string             `gorm:"size:36;not null;index:idx_wf_task_instance,priority:2" json:"instance_id"`
	Name        string             `gorm:"size:100;not null" json:"name"`
	Status      WorkflowTaskStatus `gorm:"size:20;not null" json:"status"`
	Event       string             `gorm:"size:50" json:"event"`
	Output      datatypes.JSON     `json:"output"`
	CompletedBy string             `gorm:"size:100" json:"completed_by"`
	CreatedAt   time.Time          `json:"created_at"`
	CompletedAt *time.Time         `json:"completed_at"`
}
