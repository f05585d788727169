// approvalctl is the operator CLI for the approvals service: policy seeding,
// migrations, stale idempotency sweeps and outbox replay.
//
// Usage (from backend directory):
//
//	DB_DRIVER=mysql DB_USER=... DB_HOST=... go run ./cmd/approvalctl policy seed --file policies.yaml
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/approvals_backend/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// env carries the dependencies commands resolve lazily, so --help never
// touches the database.
type env struct {
	db     func() (*gorm.DB, error)
	locker func(ctx context.Context) *redislock.Client
	logger *logrus.Logger
	out    io.Writer
}

func defaultEnv() *env {
	return &env{
		db: func() (*gorm.DB, error) {
			config.ConnectDatabaseWithRetry()
			if db := config.GetDB(); db != nil {
				return db, nil
			}
			return nil, fmt.Errorf("database not initialized; set DB_* env vars")
		},
		locker: func(ctx context.Context) *redislock.Client {
			if os.Getenv("REDIS_ADDRESS") == "" {
				return nil
			}
			config.ConnectRedisWithRetry(ctx)
			return config.GetRedisLock()
		},
		logger: config.GetLogger(),
		out:    os.Stdout,
	}
}

func newRootCmd(e *env) *cobra.Command {
	root := &cobra.Command{
		Use:           "approvalctl",
		Short:         "Operate the approvals service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(e.out)
	root.AddCommand(newMigrateCmd(e), newPolicyCmd(e), newLedgerCmd(e), newOutboxCmd(e))
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(defaultEnv()).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
