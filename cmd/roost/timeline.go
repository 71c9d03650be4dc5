package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/roost-app/roost/internal/schema"
	"github.com/roost-app/roost/internal/store"
	"github.com/roost-app/roost/internal/ui"
)

var timelineCmd = &cobra.Command{
	Use:     "timeline <account>",
	GroupID: "read",
	Short:   "Print a stored timeline",
	Long: `Print statuses from the local store, newest first.

Kinds:
  public   home feed (default)
  user     the account's own statuses
  replies  statuses mentioning the account

--since accepts natural language ("2 hours ago", "yesterday", "last monday")
as well as RFC 3339 timestamps.

With --fetch the timeline of any user is read from the remote service
instead (responses are cached for cache.user_timeline_ttl and not stored).

Examples:
  roost timeline alice
  roost timeline alice --kind replies --since "yesterday"
  roost timeline alice --list friends-of-roost
  roost timeline bob --fetch`,
	Args: cobra.ExactArgs(1),
	RunE: runTimeline,
}

func init() {
	timelineCmd.Flags().StringP("kind", "k", "public", "Timeline kind: public, user or replies")
	timelineCmd.Flags().String("list", "", "Print the feed of this list owned by the account instead")
	timelineCmd.Flags().IntP("limit", "n", 20, "Maximum number of statuses")
	timelineCmd.Flags().String("since", "", "Only statuses newer than this")
	timelineCmd.Flags().Bool("fetch", false, "Fetch from the remote service without storing")
	rootCmd.AddCommand(timelineCmd)
}

// parseSince interprets expr relative to now.
func parseSince(expr string, now time.Time) (time.Time, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, expr); err == nil {
		return t, nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(expr, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --since %q: %w", expr, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("invalid --since %q: no date found", expr)
	}
	return r.Time, nil
}

func runTimeline(cmd *cobra.Command, args []string) error {
	account := strings.TrimPrefix(args[0], "@")
	kindName, _ := cmd.Flags().GetString("kind")
	listName, _ := cmd.Flags().GetString("list")
	limit, _ := cmd.Flags().GetInt("limit")
	sinceExpr, _ := cmd.Flags().GetString("since")
	fetch, _ := cmd.Flags().GetBool("fetch")

	kind, err := schema.ParseTimelineKind(kindName)
	if err != nil {
		return err
	}
	since, err := parseSince(sinceExpr, time.Now())
	if err != nil {
		return err
	}
	if limit <= 0 {
		limit = store.DefaultTimelineLimit
	}

	ctx := cmd.Context()
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	var items []schema.TimelineItem
	collect := func(it schema.TimelineItem) error {
		if !since.IsZero() && it.Status.CreatedAt.Before(since) {
			return nil
		}
		items = append(items, it)
		return nil
	}

	switch {
	case fetch:
		rc, err := newRemote(cfg, "")
		if err != nil {
			return err
		}
		fetched, err := newOrchestrator(cfg, st, rc, newCache(cfg)).FetchUserTimeline(ctx, account)
		if err != nil {
			return err
		}
		for _, it := range fetched {
			if len(items) == limit {
				break
			}
			_ = collect(it)
		}

	case listName != "":
		listGUID, err := st.MapListname(ctx, account, listName)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no list %q owned by @%s in the store", listName, account)
		}
		if err != nil {
			return err
		}
		if err := st.ForEachStatusInList(ctx, listGUID, limit, collect); err != nil {
			return err
		}

	default:
		guid, err := st.MapUsername(ctx, account)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("@%s is not in the store (run 'roost sync' first)", account)
		}
		if err != nil {
			return err
		}
		if err := st.ForEachStatusInTimeline(ctx, kind, guid, limit, collect); err != nil {
			return err
		}
	}

	printTimeline(cmd.OutOrStdout(), items)
	return nil
}

func printTimeline(w io.Writer, items []schema.TimelineItem) {
	if len(items) == 0 {
		fmt.Fprintf(w, "%s No statuses\n", ui.RenderMuted("∅"))
		return
	}
	width := ui.Width(100)
	for _, it := range items {
		header := fmt.Sprintf("%s %s", ui.RenderAccent("@"+it.Author.Username), ui.RenderMuted(it.Status.CreatedAt.Local().Format("Jan 2 15:04")))
		fmt.Fprintln(w, header)
		text := strings.ReplaceAll(it.Status.Text, "\n", " ")
		fmt.Fprintf(w, "  %s\n\n", ui.Truncate(text, width-2))
	}
}
