package main

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ralph-dev/ralph/internal/ledger"
	"github.com/ralph-dev/ralph/internal/planfile"
)

// newTaskID mints a short, collision-resistant task id for a
// newly-discovered task.
func newTaskID() string {
	return uuid.NewString()[:8]
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Parse the plan file and append any new tasks to the ledger",
	RunE:  runDiscover,
}

func runDiscover(cmd *cobra.Command, args []string) error {
	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolving working directory: %w", err)
	}

	a, err := loadApp(workDir)
	if err != nil {
		return err
	}

	candidates, err := planfile.ParseFile(a.cfg.PlanFile)
	if err != nil {
		return fmt.Errorf("parsing plan file: %w", err)
	}

	ops, err := a.ledger.Read()
	if err != nil {
		return fmt.Errorf("reading ledger: %w", err)
	}
	state := ledger.Derive(ops)
	fresh := planfile.Diff(candidates, planfile.ExistingTitleSet(state))

	titleID := make(map[string]string, len(state))
	for _, t := range state {
		titleID[t.Title] = t.ID
	}

	now := time.Now()
	created := 0
	for _, c := range fresh {
		id := newTaskID()
		task := &ledger.Task{
			ID:          id,
			Type:        c.Type,
			Status:      ledger.StatusDiscovered,
			Title:       c.Title,
			Description: c.Description,
			CreatedAt:   now,
			UpdatedAt:   now,
			Estimate:    c.Estimate,
			Complexity:  c.Complexity,
			Tags:        c.Tags,
		}
		if c.ParentTitle != "" {
			if parentID, ok := titleID[c.ParentTitle]; ok {
				task.Parent = parentID
			}
		}
		if err := a.ledger.Append(ledger.TaskOperation{Kind: ledger.OpCreate, Timestamp: now, Task: task}); err != nil {
			return fmt.Errorf("appending discovered task %q: %w", c.Title, err)
		}
		titleID[c.Title] = id
		created++
	}

	a.logger.Info("discover complete", "candidates", len(candidates), "created", created)
	fmt.Printf("discovered %d candidate task(s), %d new\n", len(candidates), created)
	return nil
}
