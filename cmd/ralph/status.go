package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ralph-dev/ralph/internal/ledger"
	"github.com/ralph-dev/ralph/internal/learner"
	"github.com/ralph-dev/ralph/internal/scheduler"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the scheduler's next pick, recent progress events, and the latest learning aggregate",
	RunE:  runStatus,
}

const statusRecentEvents = 10

func runStatus(cmd *cobra.Command, args []string) error {
	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolving working directory: %w", err)
	}

	a, err := loadApp(workDir)
	if err != nil {
		return err
	}

	ops, err := a.ledger.Read()
	if err != nil {
		return fmt.Errorf("reading ledger: %w", err)
	}
	state := ledger.Derive(ops)
	next := pick(state, a.cfg.Loop.TaskFilter)
	if next != nil {
		fmt.Printf("next task: %s (%s) — %s\n", next.ID, next.Status, next.Title)
	} else {
		fmt.Println("next task: none (no eligible tasks)")
	}

	events, err := a.progress.Read()
	if err != nil {
		return fmt.Errorf("reading progress log: %w", err)
	}
	fmt.Println("\nrecent progress events:")
	start := 0
	if len(events) > statusRecentEvents {
		start = len(events) - statusRecentEvents
	}
	for _, evt := range events[start:] {
		fmt.Printf("  %s %-16s task=%s %s\n", evt.Timestamp.Format(time.RFC3339), evt.Type, evt.TaskID, evt.Reason)
	}

	analyzer := &learner.Analyzer{Log: a.learning, MinConfidence: a.cfg.Learning.MinConfidence, MinSamples: 3, Logger: a.logger}
	report, _, err := analyzer.Analyze(state, time.Now)
	if err != nil {
		return fmt.Errorf("running learner analysis: %w", err)
	}
	fmt.Println("\nlatest learning aggregate:")
	fmt.Printf("  tasks analyzed: %d, mean duration: %.1fms, estimate accuracy: %.2f\n",
		report.Aggregate.Volume, report.Aggregate.MeanDurationMS, report.Aggregate.EstimateAccuracy)

	return nil
}

// pick applies the same task-filter restriction RunLoop applies before
// calling scheduler.PickNext.
func pick(state map[string]*ledger.Task, taskFilter string) *ledger.Task {
	if taskFilter != "" {
		filtered := make(map[string]*ledger.Task)
		if t, ok := state[taskFilter]; ok {
			filtered[taskFilter] = t
		}
		state = filtered
	}
	return scheduler.PickNext(state)
}
