package policy_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mmdatafocus/approvals_backend/models"
	"github.com/mmdatafocus/approvals_backend/policy"
	"github.com/mmdatafocus/approvals_backend/rules"
	"github.com/mmdatafocus/approvals_backend/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func amountOver(v int) *rules.Rules {
	return &rules.Rules{All: []rules.Condition{{Field: "amount", Operator: rules.OpGt, Value: v}}}
}

func TestActive_NotFound(t *testing.T) {
	store := policy.NewGormStore(testutil.NewDB(t))
	_, err := store.Active(context.Background(), "t1", "bill.approve")
	assert.ErrorIs(t, err, policy.ErrPolicyNotFound)
}

func TestPublish_VersionsAndRetiresPrevious(t *testing.T) {
	store := policy.NewGormStore(testutil.NewDB(t))
	ctx := context.Background()

	v1, err := store.Publish(ctx, policy.NewPolicy{TenantID: "t1", ActionKey: "bill.approve", Predicate: amountOver(100), WorkflowTemplate: "single-approver"})
	require.NoError(t, err)
	assert.Equal(t, 1, v1.Version)

	v2, err := store.Publish(ctx, policy.NewPolicy{TenantID: "t1", ActionKey: "bill.approve", Predicate: amountOver(1000), WorkflowTemplate: "single-approver"})
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)

	active, err := store.Active(ctx, "t1", "bill.approve")
	require.NoError(t, err)
	assert.Equal(t, v2.ID, active.ID)

	r, err := policy.Predicate(active)
	require.NoError(t, err)
	assert.True(t, rules.Evaluate(r, map[string]any{"amount": 1500}))
	assert.False(t, rules.Evaluate(r, map[string]any{"amount": 500}))

	old, err := store.Get(ctx, "t1", v1.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PolicyStatusInactive, old.Status)

	history, err := store.History(ctx, "t1", "bill.approve")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 2, history[0].Version)
}

func TestPublish_TenantsAreIndependent(t *testing.T) {
	store := policy.NewGormStore(testutil.NewDB(t))
	ctx := context.Background()

	_, err := store.Publish(ctx, policy.NewPolicy{TenantID: "t1", ActionKey: "bill.approve", WorkflowTemplate: "single-approver"})
	require.NoError(t, err)
	p, err := store.Publish(ctx, policy.NewPolicy{TenantID: "t2", ActionKey: "bill.approve", WorkflowTemplate: "single-approver"})
	require.NoError(t, err)
	assert.Equal(t, 1, p.Version)

	_, err = store.Get(ctx, "t1", p.ID)
	assert.ErrorIs(t, err, policy.ErrPolicyNotFound)
}

func TestPublish_RejectsInvalidInput(t *testing.T) {
	store := policy.NewGormStore(testutil.NewDB(t))
	ctx := context.Background()

	_, err := store.Publish(ctx, policy.NewPolicy{TenantID: "t1", ActionKey: "bill.approve"})
	assert.Error(t, err, "workflow template is required")

	bad := &rules.Rules{All: []rules.Condition{{Field: "amount", Operator: "between", Value: 1}}}
	_, err = store.Publish(ctx, policy.NewPolicy{TenantID: "t1", ActionKey: "bill.approve", WorkflowTemplate: "single-approver", Predicate: bad})
	assert.Error(t, err)

	_, err = store.Active(ctx, "t1", "bill.approve")
	assert.ErrorIs(t, err, policy.ErrPolicyNotFound)
}

func TestArchive(t *testing.T) {
	store := policy.NewGormStore(testutil.NewDB(t))
	ctx := context.Background()

	p, err := store.Publish(ctx, policy.NewPolicy{TenantID: "t1", ActionKey: "bill.approve", WorkflowTemplate: "single-approver"})
	require.NoError(t, err)
	require.NoError(t, store.Archive(ctx, "t1", p.ID))

	_, err = store.Active(ctx, "t1", "bill.approve")
	assert.ErrorIs(t, err, policy.ErrPolicyNotFound)
	assert.ErrorIs(t, store.Archive(ctx, "t1", "missing"), policy.ErrPolicyNotFound)
}

const seedYAML = `
policies:
  - tenant: t1
    action: bill.approve
    name: Bills over 100
    workflow: single-approver
    predicate:
      all:
        - field: amount
          operator: gt
          value: 100
      any:
        - field: currency
          operator: in
          value: [USD, EUR]
  - tenant: t1
    action: expense.submit
    workflow: single-approver
`

func TestLoadFileAndSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seedYAML), 0o600))

	docs, err := policy.LoadFile(path)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "Bills over 100", docs[0].Name)

	store := policy.NewGormStore(testutil.NewDB(t))
	ctx := context.Background()

	n, err := policy.Seed(ctx, store, docs)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = policy.Seed(ctx, store, docs)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "unchanged policies are not republished")

	active, err := store.Active(ctx, "t1", "bill.approve")
	require.NoError(t, err)
	r, err := policy.Predicate(active)
	require.NoError(t, err)
	assert.True(t, rules.Evaluate(r, map[string]any{"amount": 150.0, "currency": "EUR"}))
	assert.False(t, rules.Evaluate(r, map[string]any{"amount": 150.0, "currency": "GBP"}))
}

func TestDecode_RejectsUnknownOperator(t *testing.T) {
	_, err := policy.Decode([]byte(`
policies:
  - tenant: t1
    action: bill.approve
    workflow: single-approver
    predicate:
      all:
        - {field: amount, operator: approx, value: 1}
`))
	assert.Error(t, err)
}
