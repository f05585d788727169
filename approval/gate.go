// Package approval is the approval gate: it decides whether a business action
// may proceed now, must wait for a human decision, or was rejected. Every call
// is deduplicated by the idempotency ledger, and every decision is recorded in
// the audit trail and announced through the outbox in the same transaction.
package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mmdatafocus/approvals_backend/audit"
	"github.com/mmdatafocus/approvals_backend/idempotency"
	"github.com/mmdatafocus/approvals_backend/models"
	"github.com/mmdatafocus/approvals_backend/policy"
	"github.com/mmdatafocus/approvals_backend/rules"
	"github.com/mmdatafocus/approvals_backend/utils"
	"github.com/mmdatafocus/approvals_backend/workflow"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Gate struct {
	uow    UnitOfWork
	logger *logrus.Logger
	tracer trace.Tracer
}

func NewGate(uow UnitOfWork, logger *logrus.Logger) *Gate {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Gate{uow: uow, logger: logger, tracer: otel.Tracer("approvals_backend")}
}

func (g *Gate) log() *logrus.Entry {
	return g.logger.WithFields(logrus.Fields{"field": "ApprovalGate"})
}

type requestFingerprint struct {
	ActionKey string         `json:"actionKey"`
	EntityID  string         `json:"entityId"`
	Payload   map[string]any `json:"payload"`
}

// RequireApproval runs the gate for one request.
func (g *Gate) RequireApproval(ctx context.Context, req Request) (res Result, err error) {
	ctx, span := g.tracer.Start(ctx, "approval.RequireApproval", trace.WithAttributes(
		attribute.String("tenant.id", req.TenantID),
		attribute.String("approval.action_key", req.ActionKey),
		attribute.String("approval.entity_id", req.EntityID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.String("approval.status", string(res.Status)))
		}
		span.End()
	}()

	if err := validate(req); err != nil {
		return Result{}, err
	}
	if req.Payload == nil {
		req.Payload = map[string]any{}
	}
	req.CorrelationID = correlationID(ctx, req.CorrelationID)

	hash, err := idempotency.RequestHash(requestFingerprint{ActionKey: req.ActionKey, EntityID: req.EntityID, Payload: req.Payload})
	if err != nil {
		return Result{}, &ValidationError{Fields: map[string]string{"payload": err.Error()}}
	}

	out, err := g.uow.Stores().Ledger.StartOrReplay(ctx, req.ActionKey, req.TenantID, req.UserID, req.IdempotencyKey, hash)
	if err != nil {
		return Result{}, err
	}
	switch out.Mode {
	case idempotency.ModeReplay:
		span.SetAttributes(attribute.Bool("approval.replayed", true))
		return decodeStored(out.ResponseBody)
	case idempotency.ModeInProgress:
		return Result{Status: StatusPending, Reason: ReasonIdempotencyInProgress}, nil
	case idempotency.ModeMismatch:
		return Result{}, ErrIdempotencyKeyMismatch
	}

	err = g.uow.Do(ctx, func(s Stores) error {
		r, err := g.evaluate(ctx, s, req)
		if err != nil {
			return err
		}
		body, err := json.Marshal(r)
		if err != nil {
			return err
		}
		if err := s.Ledger.Complete(ctx, req.ActionKey, req.TenantID, req.IdempotencyKey, r.HTTPStatus(), body); err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		// The ledger record stays IN_PROGRESS; retries report PENDING until it is swept.
		g.log().WithFields(logrus.Fields{
			"tenant_id":       req.TenantID,
			"action_key":      req.ActionKey,
			"entity_id":       req.EntityID,
			"idempotency_key": req.IdempotencyKey,
		}).Error("approval gate failed after ledger insert: " + err.Error())
		return Result{}, err
	}

	g.log().WithFields(logrus.Fields{
		"tenant_id":   req.TenantID,
		"action_key":  req.ActionKey,
		"entity_id":   req.EntityID,
		"status":      res.Status,
		"reason":      res.Reason,
		"instance_id": res.InstanceID,
	}).Info("approval decided")
	return res, nil
}

// evaluate runs policy lookup, rule evaluation and the workflow inside the
// caller's transaction.
func (g *Gate) evaluate(ctx context.Context, s Stores, req Request) (Result, error) {
	pol, err := s.Policies.Active(ctx, req.TenantID, req.ActionKey)
	if errors.Is(err, policy.ErrPolicyNotFound) {
		return g.autoApprove(ctx, s, req, nil, ReasonNoPolicy)
	}
	if err != nil {
		return Result{}, err
	}

	predicate, err := policy.Predicate(pol)
	if err != nil {
		return Result{}, err
	}
	if !rules.Evaluate(predicate, req.Payload) {
		return g.autoApprove(ctx, s, req, pol, ReasonRulesNotMatched)
	}

	snapshot, err := json.Marshal(req.Payload)
	if err != nil {
		return Result{}, err
	}
	inst, created, err := s.Workflows.StartInstance(ctx, workflow.StartRequest{
		TenantID:     req.TenantID,
		DefinitionID: pol.ID,
		Template:     pol.WorkflowTemplate,
		BusinessKey:  req.ActionKey + ":" + req.EntityID,
		Context:      snapshot,
		StartEvent:   req.ActionKey,
		StartedBy:    req.UserID,
	})
	if err != nil {
		return Result{}, err
	}

	// A replayed instance keeps the policy version it was started under.
	res := ResultFromInstance(inst)
	if created {
		payload := map[string]any{
			"instanceId":  inst.ID,
			"policyId":    pol.ID,
			"actionKey":   req.ActionKey,
			"entityType":  req.EntityType,
			"entityId":    req.EntityID,
			"taskId":      res.TaskID,
			"requestedBy": req.UserID,
			"payload":     req.Payload,
		}
		if err := g.record(ctx, s, req.TenantID, req.UserID, req.CorrelationID, EventRequested,
			req.EntityType, req.EntityID, fmt.Sprintf("Approval requested for %s %s", req.ActionKey, req.EntityID), payload); err != nil {
			return Result{}, err
		}
	}
	return res, nil
}

func (g *Gate) autoApprove(ctx context.Context, s Stores, req Request, pol *models.ApprovalPolicy, reason Reason) (Result, error) {
	res := Result{Status: StatusApproved, Reason: reason}
	payload := map[string]any{
		"actionKey":  req.ActionKey,
		"entityType": req.EntityType,
		"entityId":   req.EntityID,
		"reason":     reason,
		"approvedBy": req.UserID,
	}
	if pol != nil {
		res.PolicyID = pol.ID
		payload["policyId"] = pol.ID
	}
	err := g.record(ctx, s, req.TenantID, req.UserID, req.CorrelationID, EventAutoApproved,
		req.EntityType, req.EntityID, fmt.Sprintf("%s %s auto-approved (%s)", req.ActionKey, req.EntityID, reason), payload)
	return res, err
}

// record appends one audit entry, one domain event and one outbox row.
func (g *Gate) record(ctx context.Context, s Stores, tenantID, userID, correlationID, eventType, refType, refID, description string, payload map[string]any) error {
	if err := s.Audit.Record(ctx, audit.Entry{
		TenantID:      tenantID,
		Action:        eventType,
		ReferenceType: refType,
		ReferenceID:   refID,
		Description:   description,
		Data:          payload,
		UserID:        userID,
		CorrelationID: correlationID,
	}); err != nil {
		return err
	}
	ev, err := s.Audit.Emit(ctx, audit.Event{
		TenantID:      tenantID,
		EventType:     eventType,
		AggregateType: refType,
		AggregateID:   refID,
		Payload:       payload,
		CorrelationID: correlationID,
	})
	if err != nil {
		return err
	}
	payload["domainEventId"] = ev.ID
	_, err = s.Outbox.Enqueue(ctx, tenantID, eventType, payload, correlationID)
	return err
}

// Decide records a human decision on a workflow task.
func (g *Gate) Decide(ctx context.Context, req DecisionRequest) (res Result, err error) {
	ctx, span := g.tracer.Start(ctx, "approval.Decide", trace.WithAttributes(
		attribute.String("tenant.id", req.TenantID),
		attribute.String("workflow.instance_id", req.InstanceID),
		attribute.String("workflow.task_id", req.TaskID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := validate(req); err != nil {
		return Result{}, err
	}
	req.CorrelationID = correlationID(ctx, req.CorrelationID)

	hash, err := idempotency.RequestHash(struct {
		InstanceID string   `json:"instanceId"`
		TaskID     string   `json:"taskId"`
		Decision   Decision `json:"decision"`
		Comment    string   `json:"comment"`
	}{req.InstanceID, req.TaskID, req.Decision, req.Comment})
	if err != nil {
		return Result{}, err
	}

	ledger := g.uow.Stores().Ledger
	out, err := ledger.StartOrReplay(ctx, ActionDecide, req.TenantID, req.UserID, req.IdempotencyKey, hash)
	if err != nil {
		return Result{}, err
	}
	switch out.Mode {
	case idempotency.ModeReplay:
		return decodeStored(out.ResponseBody)
	case idempotency.ModeInProgress:
		return Result{Status: StatusPending, Reason: ReasonIdempotencyInProgress, InstanceID: req.InstanceID}, nil
	case idempotency.ModeMismatch:
		return Result{}, ErrIdempotencyKeyMismatch
	}

	event := workflow.EventApprove
	if req.Decision == DecisionReject {
		event = workflow.EventReject
	}
	output, err := json.Marshal(map[string]any{"decision": req.Decision, "comment": req.Comment})
	if err != nil {
		return Result{}, err
	}

	err = g.uow.Do(ctx, func(s Stores) error {
		inst, err := s.Workflows.CompleteTask(ctx, req.TenantID, req.InstanceID, req.TaskID, workflow.TaskCompletion{
			Event:       event,
			Output:      output,
			CompletedBy: req.UserID,
		})
		if err != nil {
			return mapWorkflowErr(err)
		}
		r := ResultFromInstance(inst)

		eventType := EventStepDecided
		if inst.Status.IsTerminal() {
			eventType = EventRejected
			if r.Status == StatusApproved {
				eventType = EventApproved
			}
		}
		actionKey, entityID, _ := strings.Cut(inst.BusinessKey, ":")
		payload := map[string]any{
			"instanceId": inst.ID,
			"policyId":   inst.DefinitionId,
			"taskId":     req.TaskID,
			"decision":   req.Decision,
			"comment":    req.Comment,
			"decidedBy":  req.UserID,
			"status":     r.Status,
			"actionKey":  actionKey,
			"entityId":   entityID,
		}
		if err := g.record(ctx, s, req.TenantID, req.UserID, req.CorrelationID, eventType, "workflow_instance", inst.ID,
			fmt.Sprintf("Task %s decided %s by %s", req.TaskID, req.Decision, req.UserID), payload); err != nil {
			return err
		}

		body, err := json.Marshal(r)
		if err != nil {
			return err
		}
		if err := s.Ledger.Complete(ctx, ActionDecide, req.TenantID, req.IdempotencyKey, r.HTTPStatus(), body); err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) || isValidation(err) {
			// Nothing was written; let a corrected retry reuse the key.
			if relErr := ledger.Release(ctx, ActionDecide, req.TenantID, req.IdempotencyKey); relErr != nil {
				g.log().Error("release decision key: " + relErr.Error())
			}
		}
		return Result{}, err
	}

	g.log().WithFields(logrus.Fields{
		"tenant_id":   req.TenantID,
		"instance_id": req.InstanceID,
		"task_id":     req.TaskID,
		"decision":    req.Decision,
		"status":      res.Status,
	}).Info("approval task decided")
	return res, nil
}

// Status reads the live decision for a workflow instance without touching the ledger.
func (g *Gate) Status(ctx context.Context, tenantID, instanceID string) (Result, error) {
	if tenantID == "" || instanceID == "" {
		return Result{}, &ValidationError{Fields: map[string]string{"instanceId": "required"}}
	}
	inst, err := g.uow.Stores().Workflows.GetInstance(ctx, tenantID, instanceID)
	if err != nil {
		return Result{}, mapWorkflowErr(err)
	}
	return ResultFromInstance(inst), nil
}

// Instance returns the workflow instance with its tasks.
func (g *Gate) Instance(ctx context.Context, tenantID, instanceID string) (*models.WorkflowInstance, error) {
	inst, err := g.uow.Stores().Workflows.GetInstance(ctx, tenantID, instanceID)
	if err != nil {
		return nil, mapWorkflowErr(err)
	}
	return inst, nil
}

func mapWorkflowErr(err error) error {
	switch {
	case errors.Is(err, workflow.ErrInstanceNotFound), errors.Is(err, workflow.ErrTaskNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, workflow.ErrTaskAlreadyCompleted), errors.Is(err, workflow.ErrInstanceNotActive):
		return fmt.Errorf("%w: %w", ErrConflict, err)
	case errors.Is(err, workflow.ErrUnknownEvent):
		return &ValidationError{Fields: map[string]string{"decision": err.Error()}}
	default:
		return err
	}
}

func isValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func decodeStored(body json.RawMessage) (Result, error) {
	var res Result
	if err := json.Unmarshal(body, &res); err != nil {
		return Result{}, fmt.Errorf("decode stored approval result: %w", err)
	}
	return res, nil
}

func correlationID(ctx context.Context, given string) string {
	if given != "" {
		return given
	}
	if id, ok := utils.GetCorrelationIdFromContext(ctx); ok && id != "" {
		return id
	}
	return uuid.NewString()
}
