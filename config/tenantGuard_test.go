package config_test

import (
	"context"
	"testing"

	"github.com/mmdatafocus/approvals_backend/appctx"
	"github.com/mmdatafocus/approvals_backend/models"
	"github.com/mmdatafocus/approvals_backend/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTenantGuard_ScopesQueriesToContextTenant(t *testing.T) {
	db := testutil.NewDB(t)
	for _, tenant := range []string{"t1", "t2"} {
		require.NoError(t, db.Create(&models.AuditEntry{TenantId: tenant, Action: "approval.requested"}).Error)
	}

	count := func(ctx context.Context, where ...any) int64 {
		var n int64
		q := db.WithContext(ctx).Model(&models.AuditEntry{})
		if len(where) > 0 {
			q = q.Where(where[0], where[1:]...)
		}
		require.NoError(t, q.Count(&n).Error)
		return n
	}

	t1 := appctx.Set(context.Background(), appctx.ContextKeyTenantId, "t1")
	assert.Equal(t, int64(1), count(t1))
	assert.Equal(t, int64(1), count(t1, "tenant_id = ?", "t2"), "explicit tenant filter wins")
	assert.Equal(t, int64(2), count(context.Background()), "no tenant in context")
	assert.Equal(t, int64(2), count(appctx.Set(t1, appctx.ContextKeySkipTenantScope, true)))
	assert.Equal(t, int64(2), count(appctx.Set(context.Background(), appctx.ContextKeyTenantId, appctx.GlobalTenant)))
}

func TestTenantGuard_ScopesDeletes(t *testing.T) {
	db := testutil.NewDB(t)
	for _, tenant := range []string{"t1", "t2"} {
		require.NoError(t, db.Create(&models.AuditEntry{TenantId: tenant, Action: "approval.requested"}).Error)
	}

	t1 := appctx.Set(context.Background(), appctx.ContextKeyTenantId, "t1")
	res := db.WithContext(t1).Where("action = ?", "approval.requested").Delete(&models.AuditEntry{})
	require.NoError(t, res.Error)
	assert.Equal(t, int64(1), res.RowsAffected)

	var left []models.AuditEntry
	require.NoError(t, db.Find(&left).Error)
	require.Len(t, left, 1)
	assert.Equal(t, "t2", left[0].TenantId)
}
