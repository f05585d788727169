// Package policy stores versioned approval policies per tenant and action.
package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mmdatafocus/approvals_backend/models"
	"github.com/mmdatafocus/approvals_backend/rules"
	"github.com/mmdatafocus/approvals_backend/utils"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrPolicyNotFound = errors.New("approval policy not found")

// Store is the read and admin surface over approval policies.
type Store interface {
	// Active returns the single ACTIVE policy for the action or ErrPolicyNotFound.
	Active(ctx context.Context, tenantID, actionKey string) (*models.ApprovalPolicy, error)
	Publish(ctx context.Context, in NewPolicy) (*models.ApprovalPolicy, error)
	Archive(ctx context.Context, tenantID, policyID string) error
	Get(ctx context.Context, tenantID, policyID string) (*models.ApprovalPolicy, error)
	History(ctx context.Context, tenantID, actionKey string) ([]models.ApprovalPolicy, error)
}

type NewPolicy struct {
	TenantID         string       `validate:"required,max=64" yaml:"tenant"`
	ActionKey        string       `validate:"required,max=150" yaml:"action"`
	Name             string       `validate:"max=255" yaml:"name"`
	Predicate        *rules.Rules `yaml:"predicate"`
	WorkflowTemplate string       `validate:"required,max=100" yaml:"workflow"`
	CreatedBy        string       `validate:"max=100" yaml:"createdBy"`
}

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Predicate decodes the stored predicate of p.
func Predicate(p *models.ApprovalPolicy) (*rules.Rules, error) {
	if p == nil {
		return nil, nil
	}
	r, err := rules.Parse(p.Predicate)
	if err != nil {
		return nil, fmt.Errorf("policy %s: %w", p.ID, err)
	}
	return r, nil
}

func (s *GormStore) Active(ctx context.Context, tenantID, actionKey string) (*models.ApprovalPolicy, error) {
	var p models.ApprovalPolicy
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND action_key = ? AND status = ?", tenantID, actionKey, models.PolicyStatusActive).
		Order("version DESC").
		Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPolicyNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Publish stores in as the next ACTIVE version and retires the previous one.
func (s *GormStore) Publish(ctx context.Context, in NewPolicy) (*models.ApprovalPolicy, error) {
	if err := utils.Validator().Struct(in); err != nil {
		return nil, err
	}
	if err := in.Predicate.Validate(); err != nil {
		return nil, fmt.Errorf("invalid predicate: %w", err)
	}
	var predicate datatypes.JSON
	if !in.Predicate.IsEmpty() {
		raw, err := json.Marshal(in.Predicate)
		if err != nil {
			return nil, err
		}
		predicate = raw
	}

	p := &models.ApprovalPolicy{
		ID:               uuid.NewString(),
		TenantId:         in.TenantID,
		ActionKey:        in.ActionKey,
		Name:             in.Name,
		Predicate:        predicate,
		WorkflowTemplate: in.WorkflowTemplate,
		Status:           models.PolicyStatusActive,
		CreatedBy:        in.CreatedBy,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var latest struct{ Version int }
		if err := tx.Model(&models.ApprovalPolicy{}).
			Select("COALESCE(MAX(version), 0) AS version").
			Where("tenant_id = ? AND action_key = ?", in.TenantID, in.ActionKey).
			Scan(&latest).Error; err != nil {
			return err
		}
		p.Version = latest.Version + 1

		if err := tx.Model(&models.ApprovalPolicy{}).
			Where("tenant_id = ? AND action_key = ? AND status = ?", in.TenantID, in.ActionKey, models.PolicyStatusActive).
			Update("status", models.PolicyStatusInactive).Error; err != nil {
			return err
		}
		return tx.Create(p).Error
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *GormStore) Archive(ctx context.Context, tenantID, policyID string) error {
	res := s.db.WithContext(ctx).Model(&models.ApprovalPolicy{}).
		Where("tenant_id = ? AND id = ?", tenantID, policyID).
		Update("status", models.PolicyStatusArchived)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrPolicyNotFound
	}
	return nil
}

func (s *GormStore) Get(ctx context.Context, tenantID, policyID string) (*models.ApprovalPolicy, error) {
	var p models.ApprovalPolicy
	err := s.db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, policyID).Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPolicyNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// History lists every version of the action's policy, newest first.
func (s *GormStore) History(ctx context.Context, tenantID, actionKey string) ([]models.ApprovalPolicy, error) {
	var out []models.ApprovalPolicy
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND action_key = ?", tenantID, actionKey).
		Order("version DESC").
		Find(&out).Error
	return out, err
}
