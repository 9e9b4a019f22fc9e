package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"propsync/internal/domain"
	"propsync/internal/engine"
	"propsync/internal/models"

	"github.com/spf13/cobra"
)

type opener func(cmd *cobra.Command) (*app, error)

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "propsyncctl",
		Short:         "Operate the property CRM sync",
		Long:          "propsyncctl inspects and controls sync jobs through the same redis and database the sync service uses.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	defaultConfig := os.Getenv("CONFIG_PATH")
	if defaultConfig == "" {
		defaultConfig = "configs/config.yaml"
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfig, "path to config file")

	open := func(cmd *cobra.Command) (*app, error) {
		return openApp(cmd.Context(), configPath)
	}
	addCommands(rootCmd, open)
	return rootCmd
}

func addCommands(rootCmd *cobra.Command, open opener) {
	rootCmd.AddCommand(
		newStartCmd(open),
		newActiveCmd(open),
		newStatusCmd(open),
		newCancelCmd(open),
		newForceClearCmd(open),
		newJanitorCmd(open),
		newQueueCmd(open),
		newStatsCmd(open),
		newClearTypeCmd(open),
		newExportCmd(open),
	)
}

// withApp opens the stores, runs fn and closes them again.
func withApp(open opener, fn func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := open(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd, a, args)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newStartCmd(open opener) *cobra.Command {
	var taxonomy string
	cmd := &cobra.Command{
		Use:   "start <type>",
		Short: "Start a bulk sync of one entity type",
		Long: `Creates a sync job and queues its first batch. The running service's
workers pick the batch up. When a job of the type is already active its id
is printed instead.`,
		Args: cobra.ExactArgs(1),
		RunE: withApp(open, func(cmd *cobra.Command, a *app, args []string) error {
			opts := models.Options{}
			if taxonomy != "" {
				opts["taxonomy"] = taxonomy
			}
			res, err := a.engine.Start(cmd.Context(), args[0], opts)
			if err != nil {
				return fmt.Errorf("start %s: %w", args[0], err)
			}
			if res.AlreadyRunning {
				fmt.Fprintf(cmd.OutOrStdout(), "Sync already running: %s\n", res.SyncID)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Started %s (%d items)\n", res.SyncID, res.Total)
			return nil
		}),
	}
	cmd.Flags().StringVar(&taxonomy, "taxonomy", "", "limit a taxonomy sync to one taxonomy")
	return cmd
}

func newActiveCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "active",
		Short: "List running syncs",
		Args:  cobra.NoArgs,
		RunE: withApp(open, func(cmd *cobra.Command, a *app, _ []string) error {
			snaps, err := a.engine.ListActive(cmd.Context())
			if err != nil {
				return fmt.Errorf("list active syncs: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(snaps) == 0 {
				fmt.Fprintln(out, "No active syncs")
				return nil
			}
			sort.Slice(snaps, func(i, j int) bool { return snaps[i].Type < snaps[j].Type })

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TYPE\tSYNC ID\tSTATUS\tPROGRESS\tFAILED")
			for _, s := range snaps {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d (%d%%)\t%d\n",
					s.Type, s.SyncID, s.Status, s.Processed, s.Total, s.Percentage, s.FailedCount)
			}
			return tw.Flush()
		}),
	}
}

func newStatusCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "status <sync-id>",
		Short: "Show the progress record of a sync",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(open, func(cmd *cobra.Command, a *app, args []string) error {
			snap, err := a.engine.Get(cmd.Context(), args[0])
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("sync %s not found or expired", args[0])
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), snap)
		}),
	}
}

func newCancelCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <sync-id>",
		Short: "Cancel a pending or running sync",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(open, func(cmd *cobra.Command, a *app, args []string) error {
			err := a.engine.Cancel(cmd.Context(), args[0])
			switch {
			case errors.Is(err, domain.ErrNotFound):
				return fmt.Errorf("sync %s not found or expired", args[0])
			case errors.Is(err, engine.ErrNotCancellable):
				return fmt.Errorf("sync %s is already finished", args[0])
			case err != nil:
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cancelled %s\n", args[0])
			return nil
		}),
	}
}

func newForceClearCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "force-clear",
		Short: "Empty the active sync index",
		Long: `Removes every entry of the active index and cancels the jobs it pointed
at. Use when a crashed process left a sync type blocked.`,
		Args: cobra.NoArgs,
		RunE: withApp(open, func(cmd *cobra.Command, a *app, _ []string) error {
			cleared, err := a.engine.ForceClear(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d active sync(s)\n", len(cleared))
			for _, syncType := range sortedTypes(cleared) {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s: %s\n", syncType, cleared[syncType])
			}
			return nil
		}),
	}
}

func newJanitorCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "janitor",
		Short: "Run one reconciliation pass over the active index",
		Args:  cobra.NoArgs,
		RunE: withApp(open, func(cmd *cobra.Command, a *app, _ []string) error {
			report, err := a.engine.ReconcileActive(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		}),
	}
}

func newQueueCmd(open opener) *cobra.Command {
	var limit int64
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Show queued and dead-lettered batches",
		Args:  cobra.NoArgs,
		RunE: withApp(open, func(cmd *cobra.Command, a *app, _ []string) error {
			ctx := cmd.Context()
			n, err := a.queue.Len(ctx)
			if err != nil {
				return fmt.Errorf("queue length: %w", err)
			}
			dead, err := a.queue.DeadLetters(ctx, limit)
			if err != nil {
				return fmt.Errorf("dead letters: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Queued batches: %d\n", n)
			fmt.Fprintf(out, "Dead letters: %d\n", len(dead))
			for _, t := range dead {
				fmt.Fprintf(out, "  %s offset=%d attempt=%d enqueued=%s\n",
					t.SyncID, t.Offset, t.Attempt, t.EnqueuedAt.Format(time.RFC3339))
			}
			return nil
		}),
	}
	cmd.Flags().Int64Var(&limit, "limit", 20, "number of dead letters to show")
	return cmd
}

func newStatsCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count stored mappings per entity type",
		Args:  cobra.NoArgs,
		RunE: withApp(open, func(cmd *cobra.Command, a *app, _ []string) error {
			stats, err := a.mappings.GetStats(cmd.Context())
			if err != nil {
				return err
			}
			types := make([]string, 0, len(stats))
			for t := range stats {
				types = append(types, t)
			}
			sort.Strings(types)

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ENTITY TYPE\tMAPPINGS")
			for _, t := range types {
				fmt.Fprintf(tw, "%s\t%d\n", t, stats[t])
			}
			return tw.Flush()
		}),
	}
}

func newClearTypeCmd(open opener) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear-type <entity-type>",
		Short: "Delete every mapping of an entity type",
		Long: `Deletes all stored local-to-CRM mappings of one entity type. The next
sync of that type re-creates the records in the CRM unless a natural-key
lookup matches them.`,
		Args: cobra.ExactArgs(1),
		RunE: withApp(open, func(cmd *cobra.Command, a *app, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to clear %s mappings without --yes", args[0])
			}
			n, err := a.mappings.ClearType(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d %s mapping(s)\n", n, args[0])
			return nil
		}),
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the deletion")
	return cmd
}

func newExportCmd(open opener) *cobra.Command {
	var (
		days int
		dir  string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the sync log and mapping stats to an xlsx file",
		Args:  cobra.NoArgs,
		RunE: withApp(open, func(cmd *cobra.Command, a *app, _ []string) error {
			if days <= 0 {
				return fmt.Errorf("--days must be positive, got %d", days)
			}
			if dir == "" {
				dir = a.cfg.Exports.Path
			}
			since := time.Now().UTC().AddDate(0, 0, -days)
			path, err := a.reports.SaveSyncReport(cmd.Context(), dir, since)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Report written to %s\n", path)
			return nil
		}),
	}
	cmd.Flags().IntVar(&days, "days", 7, "include sync log entries of the last N days")
	cmd.Flags().StringVar(&dir, "dir", "", "output directory, exports.path when empty")
	return cmd
}

func sortedTypes(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
