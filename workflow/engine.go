package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/approvals_backend/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrInstanceNotFound     = errors.New("workflow instance not found")
	ErrTaskNotFound         = errors.New("workflow task not found")
	ErrTaskAlreadyCompleted = errors.New("workflow task already completed")
	ErrInstanceNotActive    = errors.New("workflow instance is not active")
	ErrUnknownEvent         = errors.New("event not allowed in current state")
	ErrUnknownTemplate      = errors.New("unknown workflow template")
)

type StartRequest struct {
	TenantID     string
	DefinitionID string
	Template     string
	// BusinessKey is "<actionKey>:<entityId>"; at most one instance exists per key.
	BusinessKey string
	Context     json.RawMessage
	StartEvent  string
	StartedBy   string
}

type TaskCompletion struct {
	Event       string
	Output      json.RawMessage
	CompletedBy string
}

// Engine runs approval workflow instances.
type Engine interface {
	// StartInstance finds the instance for req.BusinessKey or creates it.
	// created is true only for the call that inserted the row.
	StartInstance(ctx context.Context, req StartRequest) (inst *models.WorkflowInstance, created bool, err error)
	CompleteTask(ctx context.Context, tenantID, instanceID, taskID string, c TaskCompletion) (*models.WorkflowInstance, error)
	GetInstance(ctx context.Context, tenantID, instanceID string) (*models.WorkflowInstance, error)
	Cancel(ctx context.Context, tenantID, instanceID, by string) (*models.WorkflowInstance, error)
	Fail(ctx context.Context, tenantID, instanceID, by string) (*models.WorkflowInstance, error)
}

type GormEngine struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormEngine(db *gorm.DB) *GormEngine {
	return &GormEngine{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the time source (tests).
func (e *GormEngine) WithClock(now func() time.Time) *GormEngine {
	cp := *e
	cp.now = now
	return &cp
}

func (e *GormEngine) StartInstance(ctx context.Context, req StartRequest) (*models.WorkflowInstance, bool, error) {
	if req.TenantID == "" || req.BusinessKey == "" || req.DefinitionID == "" {
		return nil, false, errors.New("tenant id, business key and definition id are required")
	}
	tmpl, err := LookupTemplate(req.Template)
	if err != nil {
		return nil, false, err
	}

	now := e.now()
	inst := &models.WorkflowInstance{
		ID:           uuid.NewString(),
		TenantId:     req.TenantID,
		DefinitionId: req.DefinitionID,
		Template:     tmpl.Name,
		BusinessKey:  req.BusinessKey,
		Status:       models.WorkflowInstanceStatusActive,
		CurrentState: models.WorkflowStateStart,
		Context:      datatypes.JSON(req.Context),
		StartEvent:   req.StartEvent,
		StartedBy:    req.StartedBy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	created := false
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "business_key"}},
			DoNothing: true,
		}).Omit("Tasks").Create(inst)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		created = true
		return openTask(tx, inst, tmpl.InitialTask, now)
	})
	if err != nil {
		return nil, false, err
	}

	if !created {
		inst, err = e.findByBusinessKey(ctx, req.TenantID, req.BusinessKey)
		if err != nil {
			return nil, false, err
		}
		return inst, false, nil
	}
	got, err := e.GetInstance(ctx, req.TenantID, inst.ID)
	if err != nil {
		return nil, false, err
	}
	return got, true, nil
}

func (e *GormEngine) CompleteTask(ctx context.Context, tenantID, instanceID, taskID string, c TaskCompletion) (*models.WorkflowInstance, error) {
	now := e.now()
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var inst models.WorkflowInstance
		if err := tx.Where("tenant_id = ? AND id = ?", tenantID, instanceID).Take(&inst).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrInstanceNotFound
			}
			return err
		}
		var task models.WorkflowTask
		if err := tx.Where("tenant_id = ? AND instance_id = ? AND id = ?", tenantID, instanceID, taskID).Take(&task).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTaskNotFound
			}
			return err
		}
		if task.Status != models.WorkflowTaskStatusOpen {
			return ErrTaskAlreadyCompleted
		}
		if inst.Status.IsTerminal() {
			return ErrInstanceNotActive
		}

		tmpl, err := LookupTemplate(inst.Template)
		if err != nil {
			return err
		}
		tr, ok := tmpl.next(inst.CurrentState, c.Event)
		if !ok {
			return fmt.Errorf("%w: %q in state %q", ErrUnknownEvent, c.Event, inst.CurrentState)
		}

		res := tx.Model(&models.WorkflowTask{}).
			Where("tenant_id = ? AND id = ? AND status = ?", tenantID, task.ID, models.WorkflowTaskStatusOpen).
			Updates(map[string]interface{}{
				"status":       models.WorkflowTaskStatusCompleted,
				"event":        c.Event,
				"output":       datatypes.JSON(c.Output),
				"completed_by": c.CompletedBy,
				"completed_at": &now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrTaskAlreadyCompleted
		}

		updates := map[string]interface{}{
			"current_state": tr.To,
			"updated_at":    now,
		}
		if tr.Status != "" {
			updates["status"] = tr.Status
			updates["completed_at"] = &now
		}
		res = tx.Model(&models.WorkflowInstance{}).
			Where("tenant_id = ? AND id = ? AND status = ? AND current_state = ?", tenantID, inst.ID, models.WorkflowInstanceStatusActive, inst.CurrentState).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInstanceNotActive
		}

		if tr.Status == "" && tr.OpenTask != "" {
			return openTask(tx, &inst, tr.OpenTask, now)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e.GetInstance(ctx, tenantID, instanceID)
}

func (e *GormEngine) GetInstance(ctx context.Context, tenantID, instanceID string) (*models.WorkflowInstance, error) {
	var inst models.WorkflowInstance
	err := e.db.WithContext(ctx).
		Preload("Tasks", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC, id ASC") }).
		Where("tenant_id = ? AND id = ?", tenantID, instanceID).
		Take(&inst).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInstanceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

func (e *GormEngine) Cancel(ctx context.Context, tenantID, instanceID, by string) (*models.WorkflowInstance, error) {
	return e.terminate(ctx, tenantID, instanceID, by, models.WorkflowInstanceStatusCancelled)
}

func (e *GormEngine) Fail(ctx context.Context, tenantID, instanceID, by string) (*models.WorkflowInstance, error) {
	return e.terminate(ctx, tenantID, instanceID, by, models.WorkflowInstanceStatusFailed)
}

// terminate ends an ACTIVE instance and cancels its open tasks.
func (e *GormEngine) terminate(ctx context.Context, tenantID, instanceID, by string, status models.WorkflowInstanceStatus) (*models.WorkflowInstance, error) {
	now := e.now()
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.WorkflowInstance{}).
			Where("tenant_id = ? AND id = ? AND status = ?", tenantID, instanceID, models.WorkflowInstanceStatusActive).
			Updates(map[string]interface{}{
				"status":       status,
				"completed_at": &now,
				"updated_at":   now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&models.WorkflowInstance{}).Where("tenant_id = ? AND id = ?", tenantID, instanceID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return ErrInstanceNotFound
			}
			return ErrInstanceNotActive
		}
		return tx.Model(&models.WorkflowTask{}).
			Where("tenant_id = ? AND instance_id = ? AND status = ?", tenantID, instanceID, models.WorkflowTaskStatusOpen).
			Updates(map[string]interface{}{
				"status":       models.WorkflowTaskStatusCancelled,
				"completed_by": by,
				"completed_at": &now,
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return e.GetInstance(ctx, tenantID, instanceID)
}

func (e *GormEngine) findByBusinessKey(ctx context.Context, tenantID, businessKey string) (*models.WorkflowInstance, error) {
	var inst models.WorkflowInstance
	err := e.db.WithContext(ctx).
		Preload("Tasks", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC, id ASC") }).
		Where("tenant_id = ? AND business_key = ?", tenantID, businessKey).
		Take(&inst).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInstanceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

func openTask(tx *gorm.DB, inst *models.WorkflowInstance, name string, now time.Time) error {
	return tx.Create(&models.WorkflowTask{
		ID:         uuid.NewString(),
		TenantId:   inst.TenantId,
		InstanceId: inst.ID,
		Name:       name,
		Status:     models.WorkflowTaskStatusOpen,
		CreatedAt:  now,
	}).Error
}

// OpenTask returns the instance's open task, if any.
func OpenTask(inst *models.WorkflowInstance) *models.WorkflowTask {
	if inst == nil {
		return nil
	}
	for i := range inst.Tasks {
		if inst.Tasks[i].Status == models.WorkflowTaskStatusOpen {
			return &inst.Tasks[i]
		}
	}
	return nil
}
