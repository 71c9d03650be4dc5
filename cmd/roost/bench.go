package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/roost-app/roost/internal/loadtest"
	"github.com/roost-app/roost/internal/ui"
)

var benchCmd = &cobra.Command{
	Use:     "bench",
	GroupID: "maint",
	Short:   "Measure concurrent timeline read latency",
	Long: `Create a throwaway store populated with synthetic accounts and statuses,
then read home timelines from many goroutines at once and report latency.

With --writer a consistency check also runs: readers verify that every
timeline stays duplicate-free and newest-first while a writer appends.

Examples:
  roost bench
  roost bench --accounts 50 --statuses 2000 --workers 64
  roost bench --json`,
	RunE: runBench,
}

func init() {
	benchCmd.Flags().Int("accounts", 10, "Number of synthetic accounts")
	benchCmd.Flags().Int("statuses", 500, "Statuses per account")
	benchCmd.Flags().Int("workers", 32, "Concurrent readers")
	benchCmd.Flags().Int("reads", 20, "Reads per worker")
	benchCmd.Flags().Duration("writer", 0, "Also run the consistency check for this long")
	benchCmd.Flags().Bool("json", false, "Output results as JSON")
	rootCmd.AddCommand(benchCmd)
}

func runBench(cmd *cobra.Command, args []string) error {
	accounts, _ := cmd.Flags().GetInt("accounts")
	statuses, _ := cmd.Flags().GetInt("statuses")
	workers, _ := cmd.Flags().GetInt("workers")
	reads, _ := cmd.Flags().GetInt("reads")
	writer, _ := cmd.Flags().GetDuration("writer")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	if accounts <= 0 || statuses < 0 || workers <= 0 || reads <= 0 {
		return fmt.Errorf("--accounts, --workers and --reads must be positive")
	}

	dir, err := os.MkdirTemp("", "roost-bench-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	out := cmd.OutOrStdout()
	ctx := cmd.Context()
	if !jsonOutput {
		fmt.Fprintf(out, "%s Populating %d accounts × %d statuses...\n", ui.RenderAccent("⏱"), accounts, statuses)
	}
	start := time.Now()
	td, err := loadtest.CreateTestDatabase(ctx, filepath.Join(dir, "bench.db"), accounts, statuses)
	if err != nil {
		return err
	}
	defer td.Close()
	populate := time.Since(start)

	start = time.Now()
	stats, err := td.RunConcurrentReads(ctx, workers, reads)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	var consistencyErr error
	if writer > 0 {
		consistencyErr = td.VerifyConsistency(ctx, workers, writer)
	}

	if jsonOutput {
		result := map[string]any{
			"config": map[string]any{
				"accounts": accounts,
				"statuses": statuses,
				"workers":  workers,
				"reads":    reads,
			},
			"populate_ms": populate.Milliseconds(),
			"latency": map[string]any{
				"min_us":  stats.Min.Microseconds(),
				"p50_us":  stats.P50.Microseconds(),
				"mean_us": stats.Mean.Microseconds(),
				"p95_us":  stats.P95.Microseconds(),
				"p99_us":  stats.P99.Microseconds(),
				"max_us":  stats.Max.Microseconds(),
			},
			"reads":  stats.TotalQueries,
			"errors": stats.Errors,
			"rps":    float64(stats.TotalQueries) / elapsed.Seconds(),
		}
		if writer > 0 {
			result["consistent"] = consistencyErr == nil
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
		return consistencyErr
	}

	fmt.Fprintf(out, "   Populated in %v\n\n", populate.Round(time.Millisecond))
	if _, err := stats.WriteTo(out); err != nil {
		return err
	}
	fmt.Fprintf(out, "  Throughput:    %.0f reads/s\n\n", float64(stats.TotalQueries)/elapsed.Seconds())

	if writer > 0 {
		if consistencyErr != nil {
			fmt.Fprintf(out, "%s Consistency check failed: %v\n", ui.RenderFail("✗"), consistencyErr)
			return consistencyErr
		}
		fmt.Fprintf(out, "%s Timelines stayed consistent under concurrent writes\n", ui.RenderPass("✓"))
	}
	if stats.Errors > 0 {
		return fmt.Errorf("%d read(s) failed", stats.Errors)
	}
	return nil
}
