package cli

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/blackmichael/listing-lifecycle/internal/domain"
)

// NewRunCommand creates the run command.
func NewRunCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one expiration batch now",
		Long: `Run the warning, expiration and grace passes once, in-process.

Safe to run while the server or another scheduler is also running batches.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := opts.open(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			run, err := a.Service.RunExpiration(ctx)
			if err != nil {
				return fmt.Errorf("expiration run: %w", err)
			}
			summary := run.Summary()
			return opts.print(cmd.OutOrStdout(), summary, func(w io.Writer) {
				r := summary.RunResult
				fmt.Fprintf(w, "run %s finished in %s\n", summary.ID, summary.Duration)
				fmt.Fprintf(w, "warned7d=%d warned24h=%d expired=%d renewed=%d archived=%d deleted=%d errors=%d\n",
					r.Warned7D, r.Warned24H, r.Expired, r.Renewed, r.Archived, r.Deleted, r.Errors)
			})
		},
	}
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show per-status counts, policy and the last run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := opts.open(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.Service.Stats(ctx)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), report, func(w io.Writer) {
				for _, st := range domain.AllStatuses {
					fmt.Fprintf(w, "%-10s %d\n", st, report.Counts[st])
				}
				p := report.Policy
				fmt.Fprintf(w, "policy: lifetime=%dd grace=%dd warnings=%v retention=%s\n",
					p.LifetimeDays, p.GracePeriodDays, p.WarningWindows, p.RetentionMode)
				pl := report.Pipeline
				fmt.Fprintf(w, "pipeline: within7d=%d within24h=%d awaitingExpiry=%d pendingPurge=%d\n",
					pl.ExpiringWithin7D, pl.ExpiringWithin24H, pl.AwaitingExpiry, pl.PendingPurge)
				if report.LastRun != nil {
					fmt.Fprintf(w, "last run: %s at %s (%s)\n",
						report.LastRun.ID, report.LastRun.FinishedAt.Format(time.RFC3339), report.LastRun.Duration)
				}
			})
		},
	}
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema if it does not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// opening the app applies the schema
			a, err := opts.open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.SQL == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "memory store: nothing to migrate")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

// NewToggleCommand creates the toggle command.
func NewToggleCommand(opts *RootOptions) *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "toggle <listing-id> <true|false>",
		Short: "Set a listing's auto-renew flag on behalf of its owner",
		Example: `  lifecycle toggle 6f1c... true --owner user-42
  lifecycle toggle 6f1c... false --owner user-42 --format json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			enabled, err := strconv.ParseBool(args[1])
			if err != nil {
				return fmt.Errorf("invalid flag value %q: %w", args[1], err)
			}

			ctx := cmd.Context()
			a, err := opts.open(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Service.ToggleAutoRenew(ctx, args[0], owner, enabled)
			if err != nil {
				if errors.Is(err, domain.ErrForbidden) {
					return fmt.Errorf("%s does not own listing %s: %w", owner, args[0], err)
				}
				return err
			}
			return opts.print(cmd.OutOrStdout(), res, func(w io.Writer) {
				state := "unchanged"
				if res.Changed {
					state = "updated"
				}
				fmt.Fprintf(w, "listing %s autoRenew=%t (%s)\n", res.ListingID, res.AutoRenew, state)
			})
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "id of the listing owner (required)")
	_ = cmd.MarkFlagRequired("owner")

	return cmd
}

// NewPruneRunsCommand creates the prune-runs command.
func NewPruneRunsCommand(opts *RootOptions) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune-runs",
		Short: "Delete run history older than a given age",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return errors.New("--older-than must be positive")
			}
			ctx := cmd.Context()
			a, err := opts.open(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.SQL == nil {
				return errors.New("prune-runs requires a SQL store")
			}

			n, err := a.SQL.PruneRuns(ctx, olderThan)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), map[string]int64{"deleted": n}, func(w io.Writer) {
				fmt.Fprintf(w, "deleted %d run(s)\n", n)
			})
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "age beyond which runs are deleted")

	return cmd
}
