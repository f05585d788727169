package idempotency_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/mmdatafocus/approvals_backend/idempotency"
	"github.com/mmdatafocus/approvals_backend/models"
	"github.com/mmdatafocus/approvals_backend/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	tenant = "tenant-1"
	action = "purchasing.approveBill"
)

func TestStartOrReplay_FirstCallIsFresh(t *testing.T) {
	ledger := idempotency.NewGormLedger(testutil.NewDB(t))
	ctx := context.Background()

	out, err := ledger.StartOrReplay(ctx, action, tenant, "u1", "key-1", "hash-a")
	require.NoError(t, err)
	assert.Equal(t, idempotency.ModeFresh, out.Mode)

	rec, err := ledger.Get(ctx, action, tenant, "key-1")
	require.NoError(t, err)
	assert.Equal(t, models.IdempotencyStatusInProgress, rec.Status)
	assert.Equal(t, "hash-a", rec.RequestHash)
	assert.Equal(t, "u1", rec.UserId)
}

func TestStartOrReplay_Modes(t *testing.T) {
	ledger := idempotency.NewGormLedger(testutil.NewDB(t))
	ctx := context.Background()

	_, err := ledger.StartOrReplay(ctx, action, tenant, "u1", "key-1", "hash-a")
	require.NoError(t, err)

	out, err := ledger.StartOrReplay(ctx, action, tenant, "u1", "key-1", "hash-a")
	require.NoError(t, err)
	assert.Equal(t, idempotency.ModeInProgress, out.Mode, "same hash while running")

	out, err = ledger.StartOrReplay(ctx, action, tenant, "u1", "key-1", "hash-b")
	require.NoError(t, err)
	assert.Equal(t, idempotency.ModeMismatch, out.Mode, "different hash while running")

	body := json.RawMessage(`{"status":"APPROVED","reason":"no_policy"}`)
	require.NoError(t, ledger.Complete(ctx, action, tenant, "key-1", 200, body))

	out, err = ledger.StartOrReplay(ctx, action, tenant, "u1", "key-1", "hash-a")
	require.NoError(t, err)
	assert.Equal(t, idempotency.ModeReplay, out.Mode)
	assert.Equal(t, 200, out.ResponseStatus)
	assert.JSONEq(t, string(body), string(out.ResponseBody))

	out, err = ledger.StartOrReplay(ctx, action, tenant, "u1", "key-1", "hash-b")
	require.NoError(t, err)
	assert.Equal(t, idempotency.ModeMismatch, out.Mode, "different hash after completion")
}

func TestStartOrReplay_KeysAreScopedByTenantAndAction(t *testing.T) {
	ledger := idempotency.NewGormLedger(testutil.NewDB(t))
	ctx := context.Background()

	for _, tc := range []struct{ tenant, action string }{
		{tenant, action},
		{"tenant-2", action},
		{tenant, "pos.voidSale"},
		{"global", action},
	} {
		out, err := ledger.StartOrReplay(ctx, tc.action, tc.tenant, "u1", "shared-key", "hash")
		require.NoError(t, err)
		assert.Equal(t, idempotency.ModeFresh, out.Mode, "%s/%s", tc.tenant, tc.action)
	}
}

func TestComplete_SecondCompletionIsNoop(t *testing.T) {
	ledger := idempotency.NewGormLedger(testutil.NewDB(t))
	ctx := context.Background()

	_, err := ledger.StartOrReplay(ctx, action, tenant, "u1", "key-1", "hash-a")
	require.NoError(t, err)

	require.NoError(t, ledger.Complete(ctx, action, tenant, "key-1", 202, json.RawMessage(`{"status":"PENDING"}`)))
	require.NoError(t, ledger.Complete(ctx, action, tenant, "key-1", 200, json.RawMessage(`{"status":"APPROVED"}`)))

	rec, err := ledger.Get(ctx, action, tenant, "key-1")
	require.NoError(t, err)
	assert.Equal(t, models.IdempotencyStatusCompleted, rec.Status)
	assert.Equal(t, 202, rec.ResponseStatus)
	assert.JSONEq(t, `{"status":"PENDING"}`, string(rec.ResponseBody))
	assert.NotNil(t, rec.CompletedAt)
}

func TestComplete_ErrorResponsesAreStoredAsFailed(t *testing.T) {
	ledger := idempotency.NewGormLedger(testutil.NewDB(t))
	ctx := context.Background()

	_, err := ledger.StartOrReplay(ctx, action, tenant, "u1", "key-1", "hash-a")
	require.NoError(t, err)
	require.NoError(t, ledger.Complete(ctx, action, tenant, "key-1", 409, json.RawMessage(`{"status":"REJECTED"}`)))

	rec, err := ledger.Get(ctx, action, tenant, "key-1")
	require.NoError(t, err)
	assert.Equal(t, models.IdempotencyStatusFailed, rec.Status)

	out, err := ledger.StartOrReplay(ctx, action, tenant, "u1", "key-1", "hash-a")
	require.NoError(t, err)
	assert.Equal(t, idempotency.ModeReplay, out.Mode)
	assert.Equal(t, 409, out.ResponseStatus)
}

func TestComplete_UnknownRecord(t *testing.T) {
	ledger := idempotency.NewGormLedger(testutil.NewDB(t))

	err := ledger.Complete(context.Background(), action, tenant, "missing", 200, nil)
	assert.ErrorIs(t, err, idempotency.ErrRecordNotFound)
}

func TestStartOrReplay_ConcurrentCallersGetOneFresh(t *testing.T) {
	ledger := idempotency.NewGormLedger(testutil.NewDB(t))
	ctx := context.Background()

	const callers = 16
	modes := make(chan idempotency.Mode, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := ledger.StartOrReplay(ctx, action, tenant, "u1", "race-key", "hash")
			if err != nil {
				t.Error(err)
				return
			}
			modes <- out.Mode
		}()
	}
	wg.Wait()
	close(modes)

	counts := map[idempotency.Mode]int{}
	for m := range modes {
		counts[m]++
	}
	assert.Equal(t, 1, counts[idempotency.ModeFresh])
	assert.Equal(t, callers-1, counts[idempotency.ModeInProgress])
}

func TestStartOrReplay_RequiresKey(t *testing.T) {
	ledger := idempotency.NewGormLedger(testutil.NewDB(t))

	_, err := ledger.StartOrReplay(context.Background(), action, tenant, "u1", "", "hash")
	assert.Error(t, err)
}

func TestWithClock_StampsCreatedAt(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	ledger := idempotency.NewGormLedger(testutil.NewDB(t)).WithClock(func() time.Time { return at })
	ctx := context.Background()

	_, err := ledger.StartOrReplay(ctx, action, tenant, "u1", "key-1", "hash")
	require.NoError(t, err)
	rec, err := ledger.Get(ctx, action, tenant, "key-1")
	require.NoError(t, err)
	assert.True(t, rec.CreatedAt.Equal(at))
}

func TestRelease_OnlyInProgress(t *testing.T) {
	ledger := idempotency.NewGormLedger(testutil.NewDB(t))
	ctx := context.Background()

	_, err := ledger.StartOrReplay(ctx, action, tenant, "u1", "key-1", "h")
	require.NoError(t, err)
	require.NoError(t, ledger.Release(ctx, action, tenant, "key-1"))

	out, err := ledger.StartOrReplay(ctx, action, tenant, "u1", "key-1", "h")
	require.NoError(t, err)
	assert.Equal(t, idempotency.ModeFresh, out.Mode)

	require.NoError(t, ledger.Complete(ctx, action, tenant, "key-1", 200, json.RawMessage(`{}`)))
	require.NoError(t, ledger.Release(ctx, action, tenant, "key-1"))

	out, err = ledger.StartOrReplay(ctx, action, tenant, "u1", "key-1", "h")
	require.NoError(t, err)
	assert.Equal(t, idempotency.ModeReplay, out.Mode)
}
