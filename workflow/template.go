package workflow

import (
	"fmt"
	"sort"

	"github.com/mmdatafocus/approvals_backend/models"
)

// Task events.
const (
	EventApprove = "approve"
	EventReject  = "reject"
)

const (
	TemplateSingleApprover = "single-approver"
	TemplateTwoStep        = "two-step"
)

// Transition moves an instance to To. A non-empty Status ends the instance;
// otherwise OpenTask names the next human task.
type Transition struct {
	To       string
	Status   models.WorkflowInstanceStatus
	OpenTask string
}

// Template is a small state machine: state -> event -> transition.
type Template struct {
	Name        string
	InitialTask string
	Transitions map[string]map[string]Transition
}

func (t Template) next(state, event string) (Transition, bool) {
	events, ok := t.Transitions[state]
	if !ok {
		return Transition{}, false
	}
	tr, ok := events[event]
	return tr, ok
}

var templates = map[string]Template{
	TemplateSingleApprover: {
		Name:        TemplateSingleApprover,
		InitialTask: "approval",
		Transitions: map[string]map[string]Transition{
			models.WorkflowStateStart: {
				EventApprove: {To: models.WorkflowStateApproved, Status: models.WorkflowInstanceStatusCompleted},
				EventReject:  {To: models.WorkflowStateRejected, Status: models.WorkflowInstanceStatusCompleted},
			},
		},
	},
	TemplateTwoStep: {
		Name:        TemplateTwoStep,
		InitialTask: "manager_approval",
		Transitions: map[string]map[string]Transition{
			models.WorkflowStateStart: {
				EventApprove: {To: "manager_approved", OpenTask: "finance_approval"},
				EventReject:  {To: models.WorkflowStateRejected, Status: models.WorkflowInstanceStatusCompleted},
			},
			"manager_approved": {
				EventApprove: {To: models.WorkflowStateApproved, Status: models.WorkflowInstanceStatusCompleted},
				EventReject:  {To: models.WorkflowStateRejected, Status: models.WorkflowInstanceStatusCompleted},
			},
		},
	},
}

// LookupTemplate resolves a template by name; an empty name is the single
// approver template.
func LookupTemplate(name string) (Template, error) {
	if name == "" {
		name = TemplateSingleApprover
	}
	t, ok := templates[name]
	if !ok {
		return Template{}, fmt.Errorf("%w: %q", ErrUnknownTemplate, name)
	}
	return t, nil
}

func TemplateNames() []string {
	names := make([]string, 0, len(templates))
	for name := range templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
