package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/mmdatafocus/approvals_backend/models"
	"github.com/mmdatafocus/approvals_backend/rules"
	"gopkg.in/yaml.v3"
)

type seedFile struct {
	Policies []NewPolicy `yaml:"policies"`
}

// LoadFile reads a YAML seed document:
//
//	policies:
//	  - tenant: acme
//	    action: bill.approve
//	    workflow: single-approver
//	    predicate:
//	      all:
//	        - {field: amount, operator: gt, value: 100}
func LoadFile(path string) ([]NewPolicy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(raw)
}

func Decode(raw []byte) ([]NewPolicy, error) {
	var doc seedFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode policy seed: %w", err)
	}
	for i, p := range doc.Policies {
		if err := p.Predicate.Validate(); err != nil {
			return nil, fmt.Errorf("policies[%d] %s: %w", i, p.ActionKey, err)
		}
	}
	return doc.Policies, nil
}

// Seed publishes each policy unless the active version already carries the
// same predicate and workflow template. It returns how many were published.
func Seed(ctx context.Context, store Store, docs []NewPolicy) (int, error) {
	published := 0
	for _, in := range docs {
		current, err := store.Active(ctx, in.TenantID, in.ActionKey)
		switch {
		case errors.Is(err, ErrPolicyNotFound):
		case err != nil:
			return published, err
		default:
			same, err := samePolicy(current, in)
			if err != nil {
				return published, err
			}
			if same {
				continue
			}
		}
		if _, err := store.Publish(ctx, in); err != nil {
			return published, fmt.Errorf("publish %s/%s: %w", in.TenantID, in.ActionKey, err)
		}
		published++
	}
	return published, nil
}

func samePolicy(current *models.ApprovalPolicy, in NewPolicy) (bool, error) {
	if current.WorkflowTemplate != in.WorkflowTemplate {
		return false, nil
	}
	existing, err := Predicate(current)
	if err != nil {
		return false, err
	}
	if existing.IsEmpty() || in.Predicate.IsEmpty() {
		return existing.IsEmpty() == in.Predicate.IsEmpty(), nil
	}
	a, err := json.Marshal(existing)
	if err != nil {
		return false, err
	}
	// Round-trip through Parse so both sides carry json.Number values.
	normalized, err := json.Marshal(in.Predicate)
	if err != nil {
		return false, err
	}
	parsed, err := rules.Parse(normalized)
	if err != nil {
		return false, err
	}
	b, err := json.Marshal(parsed)
	if err != nil {
		return false, err
	}
	return bytes.Equal(a, b), nil
}
