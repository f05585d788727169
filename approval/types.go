package approval

import (
	"net/http"

	"github.com/mmdatafocus/approvals_backend/models"
)

type Status string

const (
	StatusApproved Status = "APPROVED"
	StatusPending  Status = "PENDING"
	StatusRejected Status = "REJECTED"
)

type Reason string

const (
	ReasonNoPolicy              Reason = "no_policy"
	ReasonRulesNotMatched       Reason = "rules_not_matched"
	ReasonWorkflowApproved      Reason = "workflow_approved"
	ReasonWorkflowRejected      Reason = "workflow_rejected"
	ReasonWorkflowNotActive     Reason = "workflow_not_active"
	ReasonWorkflowPending       Reason = "workflow_pending"
	ReasonIdempotencyInProgress Reason = "idempotency_in_progress"
)

// Outbox and audit event types.
const (
	EventRequested    = "approval.requested"
	EventAutoApproved = "approval.auto_approved"
	EventApproved     = "approval.approved"
	EventRejected     = "approval.rejected"
	EventStepDecided  = "approval.step_decided"
)

// ActionDecide is the ledger action key for task decisions.
const ActionDecide = "approval.decide"

// Request asks whether actionKey on the entity may proceed.
type Request struct {
	TenantID       string         `json:"tenantId" validate:"required,max=64"`
	UserID         string         `json:"userId" validate:"required,max=100"`
	ActionKey      string         `json:"actionKey" validate:"required,max=150"`
	EntityType     string         `json:"entityType" validate:"required,max=100"`
	EntityID       string         `json:"entityId" validate:"required,max=100"`
	Payload        map[string]any `json:"payload"`
	IdempotencyKey string         `json:"idempotencyKey" validate:"required,max=255"`
	CorrelationID  string         `json:"correlationId,omitempty" validate:"max=64"`
}

// Result is what the caller acts on. It is stored verbatim in the ledger and
// replayed for retries with the same idempotency key.
type Result struct {
	Status     Status `json:"status"`
	Reason     Reason `json:"reason,omitempty"`
	InstanceID string `json:"instanceId,omitempty"`
	PolicyID   string `json:"policyId,omitempty"`
	TaskID     string `json:"taskId,omitempty"`
}

// HTTPStatus is the response status recorded in the ledger for r.
func (r Result) HTTPStatus() int {
	switch r.Status {
	case StatusApproved:
		return http.StatusOK
	case StatusRejected:
		return http.StatusConflict
	default:
		return http.StatusAccepted
	}
}

type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionReject  Decision = "REJECT"
)

// DecisionRequest completes a human task of a workflow instance.
type DecisionRequest struct {
	TenantID       string   `json:"tenantId" validate:"required,max=64"`
	UserID         string   `json:"userId" validate:"required,max=100"`
	InstanceID     string   `json:"instanceId" validate:"required,max=36"`
	TaskID         string   `json:"taskId" validate:"required,max=36"`
	Decision       Decision `json:"decision" validate:"required,oneof=APPROVE REJECT"`
	Comment        string   `json:"comment,omitempty" validate:"max=2000"`
	IdempotencyKey string   `json:"idempotencyKey" validate:"required,max=255"`
	CorrelationID  string   `json:"correlationId,omitempty" validate:"max=64"`
}

// ResultFromInstance maps a workflow instance to the gate's answer.
func ResultFromInstance(inst *models.WorkflowInstance) Result {
	res := Result{InstanceID: inst.ID, PolicyID: inst.DefinitionId}
	switch {
	case inst.Status == models.WorkflowInstanceStatusCompleted && inst.CurrentState == models.WorkflowStateApproved:
		res.Status, res.Reason = StatusApproved, ReasonWorkflowApproved
	case inst.Status == models.WorkflowInstanceStatusCompleted && inst.CurrentState == models.WorkflowStateRejected:
		res.Status, res.Reason = StatusRejected, ReasonWorkflowRejected
	case inst.Status == models.WorkflowInstanceStatusFailed || inst.Status == models.WorkflowInstanceStatusCancelled:
		res.Status, res.Reason = StatusRejected, ReasonWorkflowNotActive
	default:
		res.Status, res.Reason = StatusPending, ReasonWorkflowPending
		for _, t := range inst.Tasks {
			if t.Status == models.WorkflowTaskStatusOpen {
				res.TaskID = t.ID
				break
			}
		}
	}
	return res
}
