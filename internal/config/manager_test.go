package config

import (
	"path/filepath"
	"sync"
	"testing"
)

func baseConfig() *Config {
	return &Config{
		PlanFile:   "PLAN.md",
		AgentsFile: "AGENTS.md",
		Loop:       Loop{Parallelism: 1, OnFailure: OnFailureContinue},
		LogLevel:   "info",
	}
}

func TestRWMutexManagerGetSet(t *testing.T) {
	initial := baseConfig()
	mgr := NewRWMutexManager(initial)

	got := mgr.Get()
	if got == nil {
		t.Fatal("expected initial config snapshot")
	}
	if got == initial {
		t.Fatal("expected manager to store cloned config on bootstrap")
	}
	if got.LogLevel != "info" {
		t.Fatalf("unexpected initial log level: %q", got.LogLevel)
	}

	next := baseConfig()
	next.LogLevel = "debug"
	mgr.Set(next)
	next.LogLevel = "error"

	updated := mgr.Get()
	if updated == next {
		t.Fatal("expected manager to clone Set input")
	}
	if updated.LogLevel != "debug" {
		t.Fatalf("expected clone to be unaffected by later mutation of the input, got %q", updated.LogLevel)
	}
}

func TestRWMutexManagerGetReturnsIndependentClones(t *testing.T) {
	mgr := NewRWMutexManager(baseConfig())

	a := mgr.Get()
	a.Sandbox.AllowedPaths = append(a.Sandbox.AllowedPaths, "mutated")

	b := mgr.Get()
	if len(b.Sandbox.AllowedPaths) != 0 {
		t.Fatalf("expected independent clone, got %v", b.Sandbox.AllowedPaths)
	}
}

func TestRWMutexManagerReloadRejectsEmptyPath(t *testing.T) {
	mgr := NewRWMutexManager(baseConfig())
	if err := mgr.Reload(""); err == nil {
		t.Fatal("expected error for empty reload path")
	}
}

func TestRWMutexManagerReloadLoadsFromDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ralph.config.toml")
	writeTestConfig(t, path, `
plan_file = "PLAN.md"
agents_file = "AGENTS.md"

[loop]
parallelism = 1
`)

	mgr := NewRWMutexManager(baseConfig())
	if err := mgr.Reload(path); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if got := mgr.Get().PlanFile; got != "PLAN.md" {
		t.Fatalf("unexpected plan file after reload: %q", got)
	}
}

func TestConcurrentGetSetIsRaceFree(t *testing.T) {
	mgr := NewRWMutexManager(baseConfig())
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = mgr.Get()
		}()
		go func() {
			defer wg.Done()
			mgr.Set(baseConfig())
		}()
	}
	wg.Wait()
}
