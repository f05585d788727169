// Package testutil holds shared fixtures for package tests.
package testutil

import (
	"testing"

	"github.com/mmdatafocus/approvals_backend/config"
	"github.com/mmdatafocus/approvals_backend/models"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// NewDB opens a private in-memory SQLite database with every table migrated.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	db, err := config.OpenDatabase(config.DriverSQLite, ":memory:?_busy_timeout=5000")
	require.NoError(t, err)
	require.NoError(t, models.MigrateTable(db))

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}
