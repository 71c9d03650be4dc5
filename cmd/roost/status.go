package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roost-app/roost/internal/schema"
	"github.com/roost-app/roost/internal/store"
	"github.com/roost-app/roost/internal/ui"
)

type checkpointStatus struct {
	Source   string     `json:"source" yaml:"source"`
	LastSync *time.Time `json:"last_sync,omitempty" yaml:"last_sync,omitempty"`
	Due      bool       `json:"due" yaml:"due"`
}

type accountStatus struct {
	Account     string             `json:"account" yaml:"account"`
	GUID        string             `json:"guid,omitempty" yaml:"guid,omitempty"`
	Checkpoints []checkpointStatus `json:"checkpoints" yaml:"checkpoints"`
}

type statusOutput struct {
	Path     string          `json:"path" yaml:"path"`
	Size     int64           `json:"size" yaml:"size"`
	Modified time.Time       `json:"modified" yaml:"modified"`
	Counts   store.Counts    `json:"counts" yaml:"counts"`
	Accounts []accountStatus `json:"accounts" yaml:"accounts"`
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "read",
	Short:   "Show store contents and sync checkpoints",
	Long: `Display the local store location, row counts and, for every configured
account, when each source was last synced.

Formats:
  text  human readable (default)
  yaml  machine readable
  json  machine readable`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringP("format", "f", "text", "Output format: text, yaml or json")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	switch format {
	case "text", "yaml", "json":
	default:
		return fmt.Errorf("--format must be text, yaml or json, got %q", format)
	}

	out := cmd.OutOrStdout()
	path := cfg.StorePath()
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		if format == "text" {
			fmt.Fprintf(out, "\n%s Store not initialized\n", ui.RenderWarn("⚠"))
			fmt.Fprintf(out, "   Run 'roost sync' to create it\n\n")
			return nil
		}
		return fmt.Errorf("store not initialized: %s", path)
	}
	if err != nil {
		return fmt.Errorf("failed to check store: %w", err)
	}

	ctx := cmd.Context()
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	counts, err := st.Counts(ctx)
	if err != nil {
		return err
	}
	status := statusOutput{
		Path:     path,
		Size:     info.Size(),
		Modified: info.ModTime(),
		Counts:   counts,
	}

	now := time.Now()
	for _, account := range cfg.Accounts {
		as := accountStatus{Account: account}
		guid, err := st.MapUsername(ctx, account)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		as.GUID = guid
		for _, src := range schema.Sources {
			cs := checkpointStatus{Source: src.String(), Due: true}
			if guid != "" {
				last, err := st.GetLastSync(ctx, src, guid)
				if err != nil {
					return err
				}
				if !last.IsZero() {
					cs.LastSync = &last
					cs.Due = now.Sub(last) >= cfg.Sync.Interval
				}
			}
			as.Checkpoints = append(as.Checkpoints, cs)
		}
		status.Accounts = append(status.Accounts, as)
	}

	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(status); err != nil {
			return err
		}
		return enc.Close()
	}
	printStatus(out, status)
	return nil
}

func formatSize(size int64) string {
	switch {
	case size > 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	case size > 1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	default:
		return fmt.Sprintf("%d bytes", size)
	}
}

func printStatus(w io.Writer, s statusOutput) {
	fmt.Fprintf(w, "\n%s Store Status\n\n", ui.RenderAccent("📊"))
	fmt.Fprintf(w, "Location: %s\n", s.Path)
	fmt.Fprintf(w, "Size: %s\n", formatSize(s.Size))
	fmt.Fprintf(w, "Modified: %s\n", s.Modified.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Users: %d\n", s.Counts.Users)
	fmt.Fprintf(w, "Statuses: %d (%d timeline entries)\n", s.Counts.Statuses, s.Counts.Timeline)
	fmt.Fprintf(w, "Follows: %d\n", s.Counts.Follows)
	fmt.Fprintf(w, "Lists: %d (%d members)\n", s.Counts.Lists, s.Counts.ListMembers)

	for _, a := range s.Accounts {
		fmt.Fprintf(w, "\n%s\n", ui.RenderHeader("@"+a.Account))
		for _, c := range a.Checkpoints {
			last := ui.RenderMuted("never")
			if c.LastSync != nil {
				last = c.LastSync.Local().Format("2006-01-02 15:04:05")
			}
			mark := ui.RenderPass("✓")
			if c.Due {
				mark = ui.RenderWarn("•")
			}
			fmt.Fprintf(w, "  %s %-13s %s\n", mark, c.Source, last)
		}
	}
	fmt.Fprintln(w)
}
