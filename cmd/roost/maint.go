package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roost-app/roost/internal/cache"
	"github.com/roost-app/roost/internal/config"
	"github.com/roost-app/roost/internal/schema"
	"github.com/roost-app/roost/internal/ui"
)

var checkpointCmd = &cobra.Command{
	Use:     "checkpoint",
	GroupID: "maint",
	Short:   "Manage sync checkpoints",
}

var checkpointClearCmd = &cobra.Command{
	Use:   "clear <source|all>",
	Short: "Forget when a source was last synced",
	Long: `Remove the checkpoints of one source for every account, so the next
sync runs it regardless of sync.interval.

Sources: timelines, lists, list-members, friends, followers, all`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sources := schema.Sources
		if !strings.EqualFold(args[0], "all") {
			src, err := schema.ParseSource(args[0])
			if err != nil {
				return err
			}
			sources = []schema.Source{src}
		}

		ctx := cmd.Context()
		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		out := cmd.OutOrStdout()
		for _, src := range sources {
			n, err := st.RemoveLastSyncSource(ctx, src)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s Cleared %d %s checkpoint(s)\n", ui.RenderPass("✓"), n, src)
		}
		return nil
	},
}

var cacheCmd = &cobra.Command{
	Use:     "cache",
	GroupID: "maint",
	Short:   "Inspect or clear the response cache overflow folder",
}

type swapFile struct {
	Key  string `json:"key"`
	Size int64  `json:"size"`
}

// listSwapFiles returns the overflow files a cache could have written.
func listSwapFiles(dir string) ([]swapFile, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var files []swapFile
	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		key, err := cache.DecodeSwapName(de.Name())
		if err != nil {
			continue
		}
		info, err := de.Info()
		if err != nil {
			return nil, err
		}
		files = append(files, swapFile{Key: key, Size: info.Size()})
	}
	return files, nil
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache settings and overflow files left on disk",
	Long: `Show the cache capacity and the overflow folder. The cache itself lives
in the memory of a running sync or daemon; files listed here were left by a
process that did not shut down cleanly and are removed by the next one.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json")
		dir := cfg.SwapDir()
		files, err := listSwapFiles(dir)
		if err != nil {
			return fmt.Errorf("failed to read swap folder: %w", err)
		}

		var total int64
		for _, f := range files {
			total += f.Size
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"capacity":          int64(cfg.Cache.CapacityMB) << 20,
				"user_timeline_ttl": cfg.Cache.UserTimelineTTL.String(),
				"swap_dir":          dir,
				"swap_files":        files,
				"swap_bytes":        total,
			})
		}

		fmt.Fprintf(out, "\n%s Cache\n\n", ui.RenderAccent("🗄"))
		fmt.Fprintf(out, "Capacity: %s\n", formatSize(int64(cfg.Cache.CapacityMB)<<20))
		fmt.Fprintf(out, "User timeline TTL: %s\n", cfg.Cache.UserTimelineTTL)
		fmt.Fprintf(out, "Swap folder: %s\n", dir)
		fmt.Fprintf(out, "Leftover files: %d (%s)\n", len(files), formatSize(total))
		for _, f := range files {
			fmt.Fprintf(out, "  %s %s\n", ui.Truncate(f.Key, 60), ui.RenderMuted(formatSize(f.Size)))
		}
		fmt.Fprintln(out)
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete overflow files left on disk",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := cfg.SwapDir()
		files, err := listSwapFiles(dir)
		if err != nil {
			return fmt.Errorf("failed to read swap folder: %w", err)
		}

		c := cache.New(cache.Config{SwapDir: dir, Logger: logger})
		if err := c.InitializeSwapFolder(); err != nil {
			return err
		}
		if err := c.ClearSwapFolder(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Removed %d file(s) from %s\n", ui.RenderPass("✓"), len(files), dir)
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "maint",
	Short:   "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:         "init",
	Short:       "Create a configuration file",
	Annotations: map[string]string{annotationCreatesConfig: "true"},
	Long: `Write a configuration file. On a terminal an interactive form asks for
the accounts and the API endpoint; otherwise --account and --base-url are
used.

The file is written to --config, or roost.toml in the user config directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		accounts, _ := cmd.Flags().GetStringSlice("account")
		baseURL, _ := cmd.Flags().GetString("base-url")

		path := cfgFile
		if path == "" {
			dir, err := os.UserConfigDir()
			if err != nil {
				return fmt.Errorf("failed to find config directory: %w", err)
			}
			path = filepath.Join(dir, "roost", "roost.toml")
		}
		if _, err := os.Stat(path); err == nil && !force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}

		if len(accounts) > 0 {
			cfg.Accounts = config.SplitAccounts(strings.Join(accounts, ","))
		}
		if baseURL != "" {
			cfg.Remote.BaseURL = baseURL
		}
		if ui.StdinIsTerminal() && len(accounts) == 0 {
			if err := config.Wizard(cfg); err != nil {
				return err
			}
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		if err := config.WriteFile(path, cfg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Wrote %s\n", ui.RenderPass("✓"), path)
		return nil
	},
}

func init() {
	checkpointCmd.AddCommand(checkpointClearCmd)
	rootCmd.AddCommand(checkpointCmd)

	cacheStatsCmd.Flags().Bool("json", false, "Output as JSON")
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)

	configInitCmd.Flags().Bool("force", false, "Overwrite an existing file")
	configInitCmd.Flags().StringSlice("account", nil, "Account to sync (repeatable)")
	configInitCmd.Flags().String("base-url", "", "API base URL")
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
