package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	configPath string
	dryRun     bool
	taskFilter string
	devLog     bool
)

var rootCmd = &cobra.Command{
	Use:   "ralph",
	Short: "Run an autonomous, tracker-synced task loop over a local ledger",
	Long: `ralph drives a queue of tasks described in a plan file through a
bounded tool-calling agent loop, committing successful attempts to git
and syncing status with an external issue tracker.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runRun,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "./ralph.config.toml", "path to config file")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "select and log the next task without executing it")
	rootCmd.PersistentFlags().StringVar(&taskFilter, "task", "", "restrict the run to a single task id")
	rootCmd.PersistentFlags().BoolVar(&devLog, "dev", false, "use text log format (default is JSON)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(learnCmd)
}

// Execute runs the root command, printing SPEC_FULL.md §7's
// `Ralph failed: ` banner for any error that escapes a subcommand.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Ralph failed: "+err.Error())
		return err
	}
	return nil
}

// configureLogger builds the process logger: JSON by default, text
// under --dev, with level taken from cfg.LogLevel, mirroring the
// teacher's cmd/cortex/main.go configureLogger.
func configureLogger(logLevel string, useDev bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(logLevel)) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if useDev {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
