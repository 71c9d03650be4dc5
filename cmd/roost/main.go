// Command roost keeps an offline copy of social timelines in a local store.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roost-app/roost/internal/config"
	"github.com/roost-app/roost/internal/logging"
	"github.com/roost-app/roost/internal/ui"
)

// annotationCreatesConfig marks commands that may run before a config file
// exists.
const annotationCreatesConfig = "roost/creates-config"

var (
	cfgFile string
	verbose bool
	noColor bool

	cfg      *config.Config
	logger   = zap.NewNop()
	closeLog = func() error { return nil }
)

var rootCmd = &cobra.Command{
	Use:   "roost",
	Short: "Offline-first timeline sync",
	Long: `roost mirrors home timelines, mentions, lists and follow graphs of your
accounts into a local SQLite store so they can be read without a network.

Configuration is read from roost.toml (or roost.yaml) in the working
directory or ~/.config/roost/, then from ROOST_* environment variables.
Run 'roost config init' to create one.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if noColor {
			ui.DisableColor()
		}

		path := cfgFile
		if cmd.Annotations[annotationCreatesConfig] != "" {
			// The file named by --config is the output, not an input.
			if _, err := os.Stat(path); err != nil {
				path = ""
			}
		}

		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Log.Level = "debug"
		}

		logger, closeLog, err = logging.New(cfg.Log, os.Stderr)
		if err != nil {
			return err
		}
		logger.Debug("configuration loaded", zap.String("file", cfg.File), zap.String("data_dir", cfg.DataDir))
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return closeLog()
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "read", Title: "Reading:"},
		&cobra.Group{ID: "maint", Title: "Maintenance:"},
	)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Config file (default: ./roost.toml or ~/.config/roost/roost.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFail("Error:"), err)
		os.Exit(1)
	}
}
