package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ralph-dev/ralph/internal/git"
	"github.com/ralph-dev/ralph/internal/ledger"
	"github.com/ralph-dev/ralph/internal/learner"
)

// maxDigestDiffBytes bounds the "Recent Changes" section of the
// learning digest so an unusually large working-tree diff can't
// dominate the console output.
const maxDigestDiffBytes = 4000

var learnCmd = &cobra.Command{
	Use:   "learn",
	Short: "Run one learning analysis pass and print the resulting digest",
	RunE:  runLearn,
}

func runLearn(cmd *cobra.Command, args []string) error {
	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolving working directory: %w", err)
	}

	a, err := loadApp(workDir)
	if err != nil {
		return err
	}
	if !a.cfg.Learning.Enabled {
		fmt.Println("learn skipped: learning.enabled is false")
		return nil
	}

	ops, err := a.ledger.Read()
	if err != nil {
		return fmt.Errorf("reading ledger: %w", err)
	}
	state := ledger.Derive(ops)

	idx, err := learner.OpenIndex(learningIndexPath(a.paths.StateDir))
	if err != nil {
		return fmt.Errorf("opening learning index: %w", err)
	}
	defer idx.Close()

	analyzer := &learner.Analyzer{
		Log:           a.learning,
		Index:         idx,
		MinConfidence: a.cfg.Learning.MinConfidence,
		MinSamples:    3,
		Logger:        a.logger,
	}
	report, trail, err := analyzer.Analyze(state, time.Now)
	if err != nil {
		return fmt.Errorf("analyzing: %w", err)
	}
	for _, entry := range trail {
		a.logger.Debug("learn: "+entry.Message, "category", entry.Category)
	}

	reporter := learner.NewReporter(a.logger)
	if err := reporter.Publish(os.Stdout, report, recentDiff(workDir)); err != nil {
		return fmt.Errorf("publishing digest: %w", err)
	}
	return nil
}

// recentDiff returns the working tree's uncommitted diff against HEAD,
// truncated for safe embedding in a digest. Returns "" outside a git
// repository or when there is nothing to show.
func recentDiff(workDir string) string {
	diff, err := git.NewWorkspace(workDir).Diff()
	if err != nil || diff == "" {
		return ""
	}
	return git.TruncateDiff(diff, maxDigestDiffBytes)
}

func learningIndexPath(stateDir string) string {
	return filepath.Join(stateDir, "learning.db")
}
