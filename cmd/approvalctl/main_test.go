package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bsm/redislock"
	"github.com/mmdatafocus/approvals_backend/models"
	"github.com/mmdatafocus/approvals_backend/outbox"
	"github.com/mmdatafocus/approvals_backend/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const seedYAML = `policies:
  - tenant: acme
    action: bill.approve
    name: large bills
    workflow: single-approver
    predicate:
      all:
        - {field: amount, operator: gt, value: 1000}
  - tenant: acme
    action: expense.approve
    workflow: two-step
`

func testEnv(t *testing.T, locker *redislock.Client) (*env, *gorm.DB, *bytes.Buffer) {
	t.Helper()
	db := testutil.NewDB(t)
	logger, _ := test.NewNullLogger()
	var out bytes.Buffer
	return &env{
		db:     func() (*gorm.DB, error) { return db, nil },
		locker: func(context.Context) *redislock.Client { return locker },
		logger: logger,
		out:    &out,
	}, db, &out
}

func run(t *testing.T, e *env, args ...string) error {
	t.Helper()
	root := newRootCmd(e)
	root.SetArgs(args)
	return root.ExecuteContext(context.Background())
}

func TestPolicySeed_IsRepeatable(t *testing.T) {
	e, db, out := testEnv(t, nil)
	file := filepath.Join(t.TempDir(), "policies.yaml")
	require.NoError(t, os.WriteFile(file, []byte(seedYAML), 0o600))

	require.NoError(t, run(t, e, "policy", "seed", "--file", file))
	assert.Contains(t, out.String(), "published 2 of 2 policies")

	out.Reset()
	require.NoError(t, run(t, e, "policy", "seed", "-f", file))
	assert.Contains(t, out.String(), "published 0 of 2 policies")

	var n int64
	require.NoError(t, db.Model(&models.ApprovalPolicy{}).Where("tenant_id = ?", "acme").Count(&n).Error)
	assert.Equal(t, int64(2), n)

	out.Reset()
	require.NoError(t, run(t, e, "policy", "history", "--tenant", "acme", "--action", "bill.approve"))
	assert.Contains(t, out.String(), "v1\tACTIVE\tsingle-approver")
}

func TestPolicySeed_RequiresFile(t *testing.T) {
	e, _, _ := testEnv(t, nil)
	assert.Error(t, run(t, e, "policy", "seed"))
}

func TestLedgerSweep(t *testing.T) {
	e, db, out := testEnv(t, nil)
	old := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, db.Create(&models.IdempotencyRecord{
		TenantId:       "acme",
		ActionKey:      "bill.approve",
		IdempotencyKey: "k1",
		UserId:         "u1",
		RequestHash:    "h",
		Status:         models.IdempotencyStatusInProgress,
		CreatedAt:      old,
	}).Error)

	require.NoError(t, run(t, e, "ledger", "sweep", "--older-than", "10m"))
	assert.Contains(t, out.String(), "released 1 stale records")
}

func TestLedgerSweep_LockHeldElsewhere(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := redislock.New(client)

	held, err := locker.Obtain(context.Background(), "lock:idempotency-sweep", time.Minute, nil)
	require.NoError(t, err)
	defer held.Release(context.Background())

	e, _, out := testEnv(t, locker)
	require.NoError(t, run(t, e, "ledger", "sweep"))
	assert.Contains(t, out.String(), "another sweep is running")
}

func TestOutboxReplayAndStats(t *testing.T) {
	e, db, out := testEnv(t, nil)
	store := outbox.NewGormStore(db)
	ev, err := store.Enqueue(context.Background(), "acme", "approval.requested", map[string]any{"a": 1}, "cid")
	require.NoError(t, err)
	require.NoError(t, db.Model(&models.OutboxEvent{}).Where("id = ?", ev.ID).
		Update("status", models.OutboxStatusFailed).Error)

	require.NoError(t, run(t, e, "outbox", "stats"))
	assert.Contains(t, out.String(), "FAILED\t1")

	out.Reset()
	require.NoError(t, run(t, e, "outbox", "replay", "--tenant", "acme", "--id", ev.ID))
	assert.Contains(t, out.String(), "requeued")

	assert.ErrorIs(t, run(t, e, "outbox", "replay", "--tenant", "acme", "--id", ev.ID), outbox.ErrNotReplayable)
}
