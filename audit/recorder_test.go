package audit_test

import (
	"context"
	"testing"

	"github.com/mmdatafocus/approvals_backend/audit"
	"github.com/mmdatafocus/approvals_backend/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAndEmit(t *testing.T) {
	rec := audit.NewGormRecorder(testutil.NewDB(t))
	ctx := context.Background()

	require.NoError(t, rec.Record(ctx, audit.Entry{
		TenantID:      "t1",
		Action:        "approval.requested",
		ReferenceType: "bill",
		ReferenceID:   "B-1",
		Data:          map[string]any{"amount": 150},
		UserID:        "u1",
	}))
	ev, err := rec.Emit(ctx, audit.Event{
		TenantID:      "t1",
		EventType:     "approval.requested",
		AggregateType: "bill",
		AggregateID:   "B-1",
		Payload:       map[string]any{"instanceId": "i-1"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, ev.ID)

	entries, err := rec.Entries(ctx, "t1", "bill", "B-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.JSONEq(t, `{"amount":150}`, string(entries[0].Data))

	events, err := rec.Events(ctx, "t1", "bill", "B-1")
	require.NoError(t, err)
	require.Len(t, events, 1)

	other, err := rec.Entries(ctx, "t2", "bill", "B-1")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestRecord_RequiresTenantAndAction(t *testing.T) {
	rec := audit.NewGormRecorder(testutil.NewDB(t))
	assert.Error(t, rec.Record(context.Background(), audit.Entry{Action: "x"}))
	_, err := rec.Emit(context.Background(), audit.Event{TenantID: "t1"})
	assert.Error(t, err)
}
