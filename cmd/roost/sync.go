package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roost-app/roost/internal/config"
	"github.com/roost-app/roost/internal/daemon"
	"github.com/roost-app/roost/internal/remote"
	roostsync "github.com/roost-app/roost/internal/sync"
	"github.com/roost-app/roost/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Sync configured accounts once",
	Long: `Run one sync pass over every configured account (or only --account).

Each account runs its sources in order: timelines, lists, friends and
followers. A source whose checkpoint is younger than sync.interval is
skipped unless --force is given. A failing source does not stop the others.

Examples:
  roost sync
  roost sync --account alice --force
  roost sync --replay fixtures/session.jsonl
  roost sync --record session.jsonl`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().StringSlice("account", nil, "Account to sync (repeatable, default: all configured)")
	syncCmd.Flags().Bool("force", false, "Ignore checkpoints")
	syncCmd.Flags().Bool("members", false, "Also replace list memberships")
	syncCmd.Flags().String("replay", "", "Serve responses from a recorded JSONL file")
	syncCmd.Flags().String("record", "", "Record every response to a JSONL file")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	accounts, _ := cmd.Flags().GetStringSlice("account")
	force, _ := cmd.Flags().GetBool("force")
	members, _ := cmd.Flags().GetBool("members")
	replay, _ := cmd.Flags().GetString("replay")
	record, _ := cmd.Flags().GetString("record")

	if len(accounts) > 0 {
		cfg.Accounts = config.SplitAccounts(strings.Join(accounts, ","))
	}
	if members {
		cfg.Sync.ListMembers = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx := cmd.Context()
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	rc, err := newRemote(cfg, replay)
	if err != nil {
		return err
	}
	var recorder *remote.Recorder
	if record != "" {
		recorder = remote.NewRecorder(rc)
		rc = recorder
	}

	d, err := daemon.New(newOrchestrator(cfg, st, rc, newCache(cfg)), &daemon.Config{
		Accounts:    cfg.Accounts,
		Interval:    cfg.Sync.Interval,
		Concurrency: cfg.Sync.Concurrency,
		ListMembers: cfg.Sync.ListMembers,
		Force:       force,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s Syncing %d account(s)...\n", ui.RenderAccent("🔄"), len(cfg.Accounts))
	start := time.Now()
	reports, runErr := d.RunOnce(ctx)
	printReports(out, reports)

	if recorder != nil {
		recs := recorder.Recordings()
		if err := remote.WriteReplay(record, recs); err != nil {
			return fmt.Errorf("failed to write recording: %w", err)
		}
		fmt.Fprintf(out, "   Recorded %d response(s) to %s\n", len(recs), record)
	}

	if runErr != nil {
		if msg := lastRemoteError(rc); msg != "" {
			logger.Debug("last remote failure", zap.String("error", msg))
		}
		return runErr
	}
	if len(reports) == 0 {
		fmt.Fprintf(out, "%s Everything is up to date (use --force to sync anyway)\n", ui.RenderPass("✓"))
		return nil
	}
	fmt.Fprintf(out, "%s Sync complete in %v\n", ui.RenderPass("✓"), time.Since(start).Round(time.Millisecond))
	return nil
}

func printReports(w io.Writer, reports []roostsync.Report) {
	for _, r := range reports {
		mark := ui.RenderPass("✓")
		detail := ""
		switch {
		case r.Error != "" && !r.Complete && r.Failures > 0:
			mark = ui.RenderWarn("⚠")
			detail = fmt.Sprintf("  %d failure(s)", r.Failures)
		case r.Error != "":
			mark = ui.RenderFail("✗")
			detail = "  " + ui.Truncate(r.Error, 60)
		}
		fmt.Fprintf(w, "%s %-16s %-10s +%d statuses  %d users  -%d  %s%s\n",
			mark, r.Account, r.SourceName, r.NewStatuses, r.UsersWritten, r.Removed,
			ui.RenderMuted(r.Duration.Round(time.Millisecond).String()), detail)
	}
}

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Keep accounts in sync (foreground)",
	Long: `Run the sync daemon in the foreground.

The daemon runs a pass immediately, then wakes every sync.poll_interval and
syncs every source whose checkpoint is older than sync.interval. Changes to
the config file reload the account list without a restart.

With --dashboard-port (or dashboard.enabled) a WebSocket server streams
sync_complete and stats messages:
  ws://localhost:8080/ws

Press Ctrl+C to stop.`,
	RunE: runDaemon,
}

func init() {
	daemonCmd.Flags().Int("dashboard-port", 0, "Start the dashboard on this port")
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	if port, _ := cmd.Flags().GetInt("dashboard-port"); port > 0 {
		cfg.Dashboard.Enabled = true
		cfg.Dashboard.Port = port
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx := cmd.Context()
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	rc, err := newRemote(cfg, "")
	if err != nil {
		return err
	}
	respCache := newCache(cfg)

	dcfg := &daemon.Config{
		Accounts:     cfg.Accounts,
		Interval:     cfg.Sync.Interval,
		PollInterval: cfg.Sync.PollInterval,
		Concurrency:  cfg.Sync.Concurrency,
		ListMembers:  cfg.Sync.ListMembers,
		ConfigPath:   cfg.File,
		Logger:       logger,
	}
	if cfg.File != "" {
		path := cfg.File
		dcfg.Reload = func() ([]string, error) {
			next, err := config.Load(path)
			if err != nil {
				return nil, err
			}
			return next.Accounts, nil
		}
	}

	out := cmd.OutOrStdout()
	if cfg.Dashboard.Enabled {
		stopDashboard, err := startDashboard(cfg.Dashboard.Port, st, respCache, dcfg)
		if err != nil {
			return err
		}
		defer stopDashboard()
	}

	d, err := daemon.New(newOrchestrator(cfg, st, rc, respCache), dcfg)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s Starting sync daemon...\n", ui.RenderAccent("🚀"))
	fmt.Fprintf(out, "   Accounts: %v\n", cfg.Accounts)
	fmt.Fprintf(out, "   Store: %s\n", cfg.StorePath())
	if cfg.File != "" {
		fmt.Fprintf(out, "   Config: %s (watched)\n", cfg.File)
	}
	fmt.Fprintf(out, "\nPress Ctrl+C to stop\n\n")

	if err := d.Start(ctx); err != nil {
		return fmt.Errorf("daemon stopped: %w", err)
	}
	fmt.Fprintln(out, "Daemon stopped")
	return nil
}
