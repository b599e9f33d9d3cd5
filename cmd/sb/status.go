package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/signalbox/internal/approval"
	"github.com/zulandar/signalbox/internal/session"
	"github.com/zulandar/signalbox/internal/settings"
	"github.com/zulandar/signalbox/internal/telegraph"
)

func newStatusCmd() *cobra.Command {
	var (
		watch    bool
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show active sessions",
		Long:  "Shows active sessions with their queued instructions and pending questions. Use --watch for auto-refresh.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, watch, interval)
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "auto-refresh")
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "refresh interval with --watch")
	return cmd
}

func runStatus(cmd *cobra.Command, watch bool, interval time.Duration) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	out := cmd.OutOrStdout()
	ctx := cmd.Context()
	for {
		rows, err := telegraph.CollectStatus(e.db)
		if err != nil {
			return err
		}
		if watch {
			// Clear screen.
			fmt.Fprint(out, "\033[2J\033[H")
		}
		fmt.Fprintln(out, telegraph.FormatStatus(rows, settings.Paused(e.db), time.Now()))

		if !watch {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}

func newCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove dead sessions and prune old approvals",
		Long: "Unregisters sessions whose owner process is gone or that exceed\n" +
			"sessions.max_age_hours, expires abandoned approvals and deletes resolved\n" +
			"approvals older than listener.approval_retention_hours.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCleanup(cmd)
		},
	}
}

// processProbe reports owner liveness. Tests replace it.
var processProbe session.ProcessProbe = session.ProcessAlive

func runCleanup(cmd *cobra.Command) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	dead, err := session.CleanupDead(e.db, processProbe)
	if err != nil {
		return err
	}
	stale, err := session.CleanupStale(e.db, e.cfg.Sessions.MaxAge())
	if err != nil {
		return err
	}

	retention := e.cfg.Listener.ApprovalRetention()
	now := time.Now()
	pruned, err := approval.Prune(e.db, approval.PruneOpts{
		Retention: retention,
		Deadline:  now.Add(e.cfg.Listener.PruneBudget()),
	})
	if err != nil {
		return err
	}
	expired, err := approval.ExpireAbandoned(e.db, now.Add(-retention))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Removed %d dead and %d stale session(s)\n", len(dead), stale)
	for _, id := range dead {
		fmt.Fprintf(out, "  %s\n", id)
	}
	fmt.Fprintf(out, "Expired %d abandoned and pruned %d resolved approval(s)\n", expired, pruned)
	return nil
}
