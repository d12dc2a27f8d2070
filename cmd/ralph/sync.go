package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ralph-dev/ralph/internal/ledger"
	"github.com/ralph-dev/ralph/internal/tracker"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one bidirectional sync pass against the configured tracker",
	RunE:  runSync,
}

func runSync(cmd *cobra.Command, args []string) error {
	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolving working directory: %w", err)
	}

	a, err := loadApp(workDir)
	if err != nil {
		return err
	}

	trk, err := a.buildTracker(workDir)
	if err != nil {
		return fmt.Errorf("building tracker: %w", err)
	}
	if trk == nil {
		fmt.Println("sync skipped: no tracker credentials configured")
		return nil
	}

	syncCfg, err := tracker.LoadSyncConfig(a.cfg.Tracker)
	if err != nil {
		return fmt.Errorf("loading tracker sync config: %w", err)
	}
	syncer := tracker.NewSyncer(trk, a.ledger, syncCfg, a.logger)

	ops, err := a.ledger.Read()
	if err != nil {
		return fmt.Errorf("reading ledger: %w", err)
	}
	state := ledger.Derive(ops)

	mode := tracker.ModePush
	if syncCfg.AutoPull {
		mode = tracker.ModeAuto
	}

	result, err := syncer.SyncBidirectional(context.Background(), state, mode)
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	fmt.Printf("sync complete: pulled=%d (created=%d updated=%d) pushed=%d (created=%d updated=%d)\n",
		result.Pull.Processed, result.Pull.Created, result.Pull.Updated,
		result.Push.Processed, result.Push.Created, result.Push.Updated)
	for _, e := range append(result.Pull.Errors, result.Push.Errors...) {
		a.logger.Warn("tracker: sync error", "error", e)
	}
	return nil
}
