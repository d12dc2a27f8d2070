package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/ralph-dev/ralph/internal/ledger"
)

func writeWorkspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, ".git"), 0o755); err != nil {
		t.Fatalf("mkdir .git: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "AGENTS.md"), []byte("Be helpful."), 0o644); err != nil {
		t.Fatalf("write agents file: %v", err)
	}
	plan := "## Add login page\ncomplexity: moderate\nestimate: 3\n\nBuild the login form.\n\n## Add logout button\n"
	if err := os.WriteFile(filepath.Join(dir, "PLAN.md"), []byte(plan), 0o644); err != nil {
		t.Fatalf("write plan file: %v", err)
	}
	cfgContents := `
plan_file = "PLAN.md"
agents_file = "AGENTS.md"

[learning]
enabled = true
`
	if err := os.WriteFile(filepath.Join(dir, "ralph.config.toml"), []byte(cfgContents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return dir
}

func resetFlags(t *testing.T, dir string) {
	t.Helper()
	t.Chdir(dir)
	configPath = filepath.Join(dir, "ralph.config.toml")
	dryRun = false
	taskFilter = ""
	devLog = false
}

func TestRunDiscoverCreatesTasksFromPlan(t *testing.T) {
	dir := writeWorkspace(t)
	resetFlags(t, dir)

	if err := runDiscover(discoverCmd, nil); err != nil {
		t.Fatalf("runDiscover: %v", err)
	}

	a, err := loadApp(dir)
	if err != nil {
		t.Fatalf("loadApp: %v", err)
	}
	ops, err := a.ledger.Read()
	if err != nil {
		t.Fatalf("ledger.Read: %v", err)
	}
	state := ledger.Derive(ops)
	if len(state) != 2 {
		t.Fatalf("expected 2 discovered tasks, got %d", len(state))
	}

	var loginFound bool
	for _, task := range state {
		if task.Title == "Add login page" {
			loginFound = true
			if task.Complexity == nil || *task.Complexity != ledger.ComplexityModerate {
				t.Fatalf("expected moderate complexity, got %+v", task.Complexity)
			}
			if task.Estimate == nil || *task.Estimate != 3 {
				t.Fatalf("expected estimate 3, got %+v", task.Estimate)
			}
		}
	}
	if !loginFound {
		t.Fatal("expected to find 'Add login page' task")
	}

	// Running discover again must not duplicate already-known titles.
	if err := runDiscover(discoverCmd, nil); err != nil {
		t.Fatalf("second runDiscover: %v", err)
	}
	ops, err = a.ledger.Read()
	if err != nil {
		t.Fatalf("ledger.Read: %v", err)
	}
	if state2 := ledger.Derive(ops); len(state2) != 2 {
		t.Fatalf("expected discover to stay idempotent, got %d tasks", len(state2))
	}
}

func TestRunLearnSkipsWhenDisabled(t *testing.T) {
	dir := writeWorkspace(t)
	resetFlags(t, dir)
	cfgContents := `
plan_file = "PLAN.md"
agents_file = "AGENTS.md"
`
	if err := os.WriteFile(filepath.Join(dir, "ralph.config.toml"), []byte(cfgContents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if err := runLearn(learnCmd, nil); err != nil {
		t.Fatalf("runLearn: %v", err)
	}
}

func TestRunStatusWithEmptyLedger(t *testing.T) {
	dir := writeWorkspace(t)
	resetFlags(t, dir)

	if err := runStatus(statusCmd, nil); err != nil {
		t.Fatalf("runStatus: %v", err)
	}
}

func TestNewTaskIDIsShortAndUnique(t *testing.T) {
	a, b := newTaskID(), newTaskID()
	if len(a) != 8 {
		t.Fatalf("expected 8-character id, got %q", a)
	}
	if a == b {
		t.Fatalf("expected distinct ids, got two matching %q", a)
	}
}

func TestConfigureLoggerRespectsLevel(t *testing.T) {
	logger := configureLogger("debug", true)
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("expected debug level enabled")
	}
}
