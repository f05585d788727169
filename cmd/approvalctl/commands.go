package main

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/mmdatafocus/approvals_backend/idempotency"
	"github.com/mmdatafocus/approvals_backend/models"
	"github.com/mmdatafocus/approvals_backend/outbox"
	"github.com/mmdatafocus/approvals_backend/policy"
	"github.com/spf13/cobra"
)

func newMigrateCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the service tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := e.db()
			if err != nil {
				return err
			}
			if err := models.MigrateTable(db.WithContext(cmd.Context())); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func newPolicyCmd(e *env) *cobra.Command {
	policyCmd := &cobra.Command{Use: "policy", Short: "Manage approval policies"}

	var file string
	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Publish the policies in a YAML file, skipping unchanged ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			docs, err := policy.LoadFile(file)
			if err != nil {
				return err
			}
			db, err := e.db()
			if err != nil {
				return err
			}
			n, err := policy.Seed(cmd.Context(), policy.NewGormStore(db), docs)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %d of %d policies\n", n, len(docs))
			return nil
		},
	}
	seedCmd.Flags().StringVarP(&file, "file", "f", "", "YAML file with a policies: list")
	_ = seedCmd.MarkFlagRequired("file")

	var tenantID, actionKey string
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List every version of a policy, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := e.db()
			if err != nil {
				return err
			}
			versions, err := policy.NewGormStore(db).History(cmd.Context(), tenantID, actionKey)
			if err != nil {
				return err
			}
			for _, p := range versions {
				fmt.Fprintf(cmd.OutOrStdout(), "v%d\t%s\t%s\t%s\n", p.Version, p.Status, p.WorkflowTemplate, p.ID)
			}
			return nil
		},
	}
	historyCmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	historyCmd.Flags().StringVar(&actionKey, "action", "", "action key")
	_ = historyCmd.MarkFlagRequired("tenant")
	_ = historyCmd.MarkFlagRequired("action")

	policyCmd.AddCommand(seedCmd, historyCmd)
	return policyCmd
}

func newLedgerCmd(e *env) *cobra.Command {
	ledgerCmd := &cobra.Command{Use: "ledger", Short: "Maintain the idempotency ledger"}

	var (
		olderThan time.Duration
		noLock    bool
	)
	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Release IN_PROGRESS records left behind by crashed requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := e.db()
			if err != nil {
				return err
			}
			s := &idempotency.Sweeper{DB: db, Logger: e.logger}
			if !noLock {
				s.Locker = e.locker(cmd.Context())
			}
			n, err := s.ReleaseStale(cmd.Context(), olderThan)
			if errors.Is(err, idempotency.ErrSweepRunning) {
				fmt.Fprintln(cmd.OutOrStdout(), "another sweep is running; nothing to do")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "released %d stale records\n", n)
			return nil
		},
	}
	sweepCmd.Flags().DurationVar(&olderThan, "older-than", 15*time.Minute, "minimum age of an IN_PROGRESS record")
	sweepCmd.Flags().BoolVar(&noLock, "no-lock", false, "skip the Redis lock (single operator only)")

	ledgerCmd.AddCommand(sweepCmd)
	return ledgerCmd
}

func newOutboxCmd(e *env) *cobra.Command {
	outboxCmd := &cobra.Command{Use: "outbox", Short: "Inspect and repair the outbox"}

	var tenantID, eventID string
	replayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Move a FAILED event back to PENDING",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := e.db()
			if err != nil {
				return err
			}
			if err := outbox.NewGormStore(db).Replay(cmd.Context(), tenantID, eventID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "event %s requeued\n", eventID)
			return nil
		},
	}
	replayCmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	replayCmd.Flags().StringVar(&eventID, "id", "", "outbox event id")
	_ = replayCmd.MarkFlagRequired("tenant")
	_ = replayCmd.MarkFlagRequired("id")

	var statsTenant string
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Count outbox events by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := e.db()
			if err != nil {
				return err
			}
			counts, err := outbox.NewGormStore(db).CountByStatus(cmd.Context(), statsTenant)
			if err != nil {
				return err
			}
			statuses := make([]string, 0, len(counts))
			for s := range counts {
				statuses = append(statuses, string(s))
			}
			sort.Strings(statuses)
			for _, s := range statuses {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", s, counts[models.OutboxStatus(s)])
			}
			return nil
		},
	}
	statsCmd.Flags().StringVar(&statsTenant, "tenant", "", "tenant id (default: all tenants)")

	outboxCmd.AddCommand(replayCmd, statsCmd)
	return outboxCmd
}
