package main

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/approvals_backend/approval"
	"github.com/mmdatafocus/approvals_backend/config"
	"github.com/mmdatafocus/approvals_backend/outbox"
	"github.com/mmdatafocus/approvals_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const headerIdempotencyKey = "Idempotency-Key"

type approvalHandlers struct {
	db     func() *gorm.DB
	logger *logrus.Logger
}

func (h *approvalHandlers) gate() *approval.Gate {
	return approval.NewGate(approval.NewGormUnitOfWork(h.db()), h.logger)
}

type requireApprovalBody struct {
	ActionKey  string         `json:"actionKey"`
	EntityType string         `json:"entityType"`
	EntityID   string         `json:"entityId"`
	Payload    map[string]any `json:"payload"`
}

type decisionBody struct {
	Decision approval.Decision `json:"decision"`
	Comment  string            `json:"comment"`
}

type outboxReplayRequest struct {
	TenantID string `json:"tenant_id"`
	EventID  string `json:"event_id"`
}

func (h *approvalHandlers) requireApproval(c *gin.Context) {
	var body requireApprovalBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	ctx := c.Request.Context()
	tenantID, _ := utils.GetTenantIdFromContext(ctx)
	userID, _ := utils.GetUserIdFromContext(ctx)
	cid, _ := utils.GetCorrelationIdFromContext(ctx)

	res, err := h.gate().RequireApproval(ctx, approval.Request{
		TenantID:       tenantID,
		UserID:         userID,
		ActionKey:      body.ActionKey,
		EntityType:     body.EntityType,
		EntityID:       body.EntityID,
		Payload:        body.Payload,
		IdempotencyKey: c.GetHeader(headerIdempotencyKey),
		CorrelationID:  cid,
	})
	if err != nil {
		h.writeError(c, "requireApproval", err)
		return
	}
	c.JSON(res.HTTPStatus(), res)
}

func (h *approvalHandlers) instanceStatus(c *gin.Context) {
	ctx := c.Request.Context()
	tenantID, _ := utils.GetTenantIdFromContext(ctx)

	inst, err := h.gate().Instance(ctx, tenantID, c.Param("id"))
	if err != nil {
		h.writeError(c, "instanceStatus", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"result":   approval.ResultFromInstance(inst),
		"instance": inst,
	})
}

func (h *approvalHandlers) decide(c *gin.Context) {
	var body decisionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	ctx := c.Request.Context()
	tenantID, _ := utils.GetTenantIdFromContext(ctx)
	userID, _ := utils.GetUserIdFromContext(ctx)
	cid, _ := utils.GetCorrelationIdFromContext(ctx)

	res, err := h.gate().Decide(ctx, approval.DecisionRequest{
		TenantID:       tenantID,
		UserID:         userID,
		InstanceID:     c.Param("id"),
		TaskID:         c.Param("taskId"),
		Decision:       body.Decision,
		Comment:        body.Comment,
		IdempotencyKey: c.GetHeader(headerIdempotencyKey),
		CorrelationID:  cid,
	})
	if err != nil {
		h.writeError(c, "decide", err)
		return
	}
	c.JSON(res.HTTPStatus(), res)
}

func (h *approvalHandlers) outboxReplay(c *gin.Context) {
	var req outboxReplayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if req.TenantID == "" || req.EventID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tenant_id and event_id are required"})
		return
	}

	store := outbox.NewGormStore(h.db())
	err := store.Replay(c.Request.Context(), req.TenantID, req.EventID)
	switch {
	case errors.Is(err, outbox.ErrEventNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case errors.Is(err, outbox.ErrNotReplayable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case err != nil:
		h.writeError(c, "outboxReplay", err)
		return
	}

	cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"tenant_id":      req.TenantID,
		"event_id":       req.EventID,
		"status":         "PENDING",
		"correlation_id": cid,
	})
}

func (h *approvalHandlers) outboxStats(c *gin.Context) {
	counts, err := outbox.NewGormStore(h.db()).CountByStatus(c.Request.Context(), c.Query("tenant_id"))
	if err != nil {
		h.writeError(c, "outboxStats", err)
		return
	}
	c.JSON(http.StatusOK, counts)
}

// writeError maps domain errors onto HTTP statuses; anything unexpected is
// logged and reported as 500 without internals.
func (h *approvalHandlers) writeError(c *gin.Context, funcName string, err error) {
	var ve *approval.ValidationError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": ve.Fields})
	case errors.Is(err, approval.ErrIdempotencyKeyMismatch):
		c.JSON(http.StatusConflict, gin.H{"error": "idempotency key reused with a different request"})
	case errors.Is(err, approval.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, approval.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		config.LogError(h.logger, "handlers.go", funcName, "unexpected error", gin.H{"correlation_id": cid}, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "correlation_id": cid})
	}
}
