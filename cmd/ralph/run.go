package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the outer task loop (the default when no subcommand is given)",
	RunE:  runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolving working directory: %w", err)
	}

	a, err := loadApp(workDir)
	if err != nil {
		return err
	}

	sched, err := a.buildScheduler(workDir)
	if err != nil {
		return fmt.Errorf("building scheduler: %w", err)
	}

	a.logger.Info("ralph starting", "config", configPath, "dryRun", a.cfg.Loop.DryRun, "taskFilter", a.cfg.Loop.TaskFilter)

	result, err := sched.RunLoop(context.Background(), a.cfg)
	if err != nil {
		return fmt.Errorf("run loop: %w", err)
	}

	a.logger.Info("ralph run complete", "tasksCompleted", result.TasksCompleted, "tasksFailed", result.TasksFailed)
	if result.TasksCompleted == 0 && result.TasksFailed > 0 {
		return fmt.Errorf("all %d attempted tasks failed", result.TasksFailed)
	}
	return nil
}
