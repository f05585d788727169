package approval

import (
	"testing"

	"github.com/mmdatafocus/approvals_backend/models"
	"github.com/stretchr/testify/assert"
)

func TestResultFromInstance(t *testing.T) {
	tests := []struct {
		status models.WorkflowInstanceStatus
		state  string
		want   Status
		reason Reason
		code   int
	}{
		{models.WorkflowInstanceStatusCompleted, models.WorkflowStateApproved, StatusApproved, ReasonWorkflowApproved, 200},
		{models.WorkflowInstanceStatusCompleted, models.WorkflowStateRejected, StatusRejected, ReasonWorkflowRejected, 409},
		{models.WorkflowInstanceStatusFailed, models.WorkflowStateStart, StatusRejected, ReasonWorkflowNotActive, 409},
		{models.WorkflowInstanceStatusCancelled, models.WorkflowStateStart, StatusRejected, ReasonWorkflowNotActive, 409},
		{models.WorkflowInstanceStatusActive, models.WorkflowStateStart, StatusPending, ReasonWorkflowPending, 202},
	}
	for _, tt := range tests {
		t.Run(string(tt.status)+"/"+tt.state, func(t *testing.T) {
			got := ResultFromInstance(&models.WorkflowInstance{
				ID:           "i-1",
				DefinitionId: "p-1",
				Status:       tt.status,
				CurrentState: tt.state,
				Tasks:        []models.WorkflowTask{{ID: "task-1", Status: models.WorkflowTaskStatusOpen}},
			})
			assert.Equal(t, tt.want, got.Status)
			assert.Equal(t, tt.reason, got.Reason)
			assert.Equal(t, tt.code, got.HTTPStatus())
			assert.Equal(t, "i-1", got.InstanceID)
			assert.Equal(t, "p-1", got.PolicyID)
			if tt.want == StatusPending {
				assert.Equal(t, "task-1", got.TaskID)
			} else {
				assert.Empty(t, got.TaskID)
			}
		})
	}
}

func TestValidationErrorMessage(t *testing.T) {
	err := &ValidationError{Fields: map[string]string{"UserID": "required", "ActionKey": "required"}}
	assert.Equal(t, "approval: invalid request (ActionKey:required, UserID:required)", err.Error())
}
