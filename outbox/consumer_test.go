package outbox_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mmdatafocus/approvals_backend/idempotency"
	"github.com/mmdatafocus/approvals_backend/models"
	"github.com/mmdatafocus/approvals_backend/outbox"
	"github.com/mmdatafocus/approvals_backend/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdempotentHandler_AppliesOnce(t *testing.T) {
	ledger := idempotency.NewGormLedger(testutil.NewDB(t))
	ctx := context.Background()

	applied := 0
	h := outbox.IdempotentHandler(ledger, func(context.Context, models.OutboxEvent) error {
		applied++
		return nil
	})

	ev := sampleEvent()
	require.NoError(t, h.Publish(ctx, ev))
	require.NoError(t, h.Publish(ctx, ev), "redelivery is acknowledged")
	assert.Equal(t, 1, applied)

	rec, err := ledger.Get(ctx, "outbox:approval.requested", "t1", "ev-1")
	require.NoError(t, err)
	assert.Equal(t, models.IdempotencyStatusCompleted, rec.Status)
}

func TestIdempotentHandler_RetriesAfterFailure(t *testing.T) {
	ledger := idempotency.NewGormLedger(testutil.NewDB(t))
	ctx := context.Background()

	calls := 0
	boom := errors.New("downstream failed")
	h := outbox.IdempotentHandler(ledger, func(context.Context, models.OutboxEvent) error {
		calls++
		if calls == 1 {
			return boom
		}
		return nil
	})

	ev := sampleEvent()
	assert.ErrorIs(t, h.Publish(ctx, ev), boom)
	require.NoError(t, h.Publish(ctx, ev))
	require.NoError(t, h.Publish(ctx, ev))
	assert.Equal(t, 2, calls)
}

func TestIdempotentHandler_InProgressIsBusy(t *testing.T) {
	ledger := idempotency.NewGormLedger(testutil.NewDB(t))
	ctx := context.Background()

	ev := sampleEvent()
	hash, err := idempotency.RequestHash(json.RawMessage(ev.Payload))
	require.NoError(t, err)
	_, err = ledger.StartOrReplay(ctx, "outbox:"+ev.EventType, ev.TenantId, "other", ev.ID, hash)
	require.NoError(t, err)

	h := outbox.IdempotentHandler(ledger, func(context.Context, models.OutboxEvent) error { return nil })
	assert.ErrorIs(t, h.Publish(ctx, ev), outbox.ErrConsumerBusy)
}
