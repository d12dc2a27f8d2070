package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/ralph-dev/ralph/internal/agent"
	"github.com/ralph-dev/ralph/internal/config"
	"github.com/ralph-dev/ralph/internal/executor"
	"github.com/ralph-dev/ralph/internal/git"
	"github.com/ralph-dev/ralph/internal/ledger"
	"github.com/ralph-dev/ralph/internal/learner"
	"github.com/ralph-dev/ralph/internal/llm"
	"github.com/ralph-dev/ralph/internal/llm/anthropic"
	"github.com/ralph-dev/ralph/internal/llm/openai"
	"github.com/ralph-dev/ralph/internal/policy"
	"github.com/ralph-dev/ralph/internal/progress"
	"github.com/ralph-dev/ralph/internal/sandbox"
	"github.com/ralph-dev/ralph/internal/scheduler"
	"github.com/ralph-dev/ralph/internal/statedir"
	"github.com/ralph-dev/ralph/internal/tracker"
	"github.com/ralph-dev/ralph/internal/tracker/beads"
)

// app bundles the collaborators every subcommand needs, constructed
// once from the resolved config and state directory.
type app struct {
	cfg    *config.Config
	paths  *statedir.Paths
	logger *slog.Logger

	ledger   *ledger.Ledger
	progress *progress.Log
	learning *learner.Log
}

func loadApp(workDir string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	cfg.ApplyFlags(dryRun, taskFilter)

	logger := configureLogger(cfg.LogLevel, devLog)

	paths, err := statedir.Resolve(workDir)
	if err != nil {
		return nil, fmt.Errorf("resolving state directory: %w", err)
	}
	if err := paths.EnsureStateDir(); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	return &app{
		cfg:      cfg,
		paths:    paths,
		logger:   logger,
		ledger:   ledger.New(paths.TasksPath, logger),
		progress: progress.New(paths.ProgressPath, logger),
		learning: learner.NewLog(paths.LearningPath, logger),
	}, nil
}

// buildExecutor wires the sandbox/policy pair named in SPEC_FULL.md
// §4.7, choosing the local or Docker command backend per
// cfg.Sandbox.Backend.
func (a *app) buildExecutor(workDir string) (*executor.Executor, error) {
	var opts []sandbox.Option
	if a.cfg.Sandbox.CacheReads {
		opts = append(opts, sandbox.WithReadCache())
	}
	opts = append(opts, sandbox.WithCommandLimits(
		a.cfg.Sandbox.MaxCommands,
		a.cfg.Sandbox.AllowedCommands,
		a.cfg.Sandbox.DeniedCommands,
		a.cfg.Sandbox.Timeout.Duration,
	))
	if len(a.cfg.Sandbox.Env) > 0 {
		opts = append(opts, sandbox.WithCommandEnv(a.cfg.Sandbox.Env))
	}

	if a.cfg.Sandbox.Backend == "docker" {
		backend, err := sandbox.NewDockerBackend(workDir, a.cfg.Sandbox.DockerImage, a.cfg.Sandbox.Env)
		if err != nil {
			return nil, fmt.Errorf("starting docker sandbox backend: %w", err)
		}
		opts = append(opts, sandbox.WithBackend(backend))
	}

	sb := sandbox.New(workDir, opts...)

	p := &policy.Policy{
		Mode: policy.ModeCore,
		Files: policy.Files{
			Read:  policy.FileRules{Allow: a.cfg.Sandbox.AllowedPaths, Deny: a.cfg.Sandbox.DeniedPaths},
			Write: policy.FileRules{Allow: a.cfg.Sandbox.AllowedPaths, Deny: a.cfg.Sandbox.DeniedPaths},
		},
		Commands: policy.Commands{Allow: a.cfg.Sandbox.AllowedCommands, Deny: a.cfg.Sandbox.DeniedCommands},
	}

	return executor.New(sb, p, workDir, executor.WithLogger(a.logger)), nil
}

// buildProvider constructs the llm.Provider named by cfg.LLM.Provider.
func (a *app) buildProvider() (llm.Provider, error) {
	switch a.cfg.LLM.Provider {
	case "openai":
		return openai.New(a.cfg.LLM.APIKey, a.cfg.LLM.Model, nil), nil
	case "anthropic", "":
		return anthropic.New(a.cfg.LLM.APIKey, a.cfg.LLM.Model, nil), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", a.cfg.LLM.Provider)
	}
}

// buildTracker resolves a tracker.Tracker from config, or nil if no
// token is configured for the selected type (§6.3's disabled-sync rule).
func (a *app) buildTracker(workDir string) (tracker.Tracker, error) {
	registry := tracker.NewRegistry()
	registry.Register("beads", func(cfg config.Tracker, auth tracker.Auth) (tracker.Tracker, error) {
		return beads.NewWithWorkDir(workDir, auth), nil
	})
	return registry.Build(a.cfg.Tracker)
}

// buildScheduler assembles a ready-to-run Scheduler: the sandbox
// executor, the bounded agent tool-calling runner, git auto-commit,
// and tracker sync, per SPEC_FULL.md §4.2's wiring.
func (a *app) buildScheduler(workDir string) (*scheduler.Scheduler, error) {
	exec, err := a.buildExecutor(workDir)
	if err != nil {
		return nil, err
	}

	provider, err := a.buildProvider()
	if err != nil {
		return nil, err
	}
	systemPrompt, err := readAgentsFile(a.cfg.AgentsFile)
	if err != nil {
		return nil, err
	}
	runner := agent.New(provider, systemPrompt)

	opts := []scheduler.Option{scheduler.WithLogger(a.logger)}
	if a.cfg.Git.AutoCommit {
		opts = append(opts, scheduler.WithGit(git.NewWorkspace(workDir)))
	}
	if a.cfg.Learning.Enabled {
		opts = append(opts, scheduler.WithLearning(a.learning))
	}

	trk, err := a.buildTracker(workDir)
	if err != nil {
		return nil, err
	}
	if trk != nil {
		syncCfg, err := tracker.LoadSyncConfig(a.cfg.Tracker)
		if err != nil {
			return nil, err
		}
		opts = append(opts, scheduler.WithTracker(tracker.NewSyncer(trk, a.ledger, syncCfg, a.logger)))
	}

	return scheduler.New(a.ledger, a.progress, exec, runner, opts...), nil
}

func readAgentsFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading agents file %s: %w", path, err)
	}
	return string(data), nil
}
