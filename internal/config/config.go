// Package config loads and validates ralph's TOML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that unmarshals from TOML strings like "60s" or "2m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// OnFailure selects what the outer run loop does when a task attempt fails.
type OnFailure string

const (
	OnFailureContinue OnFailure = "continue"
	OnFailureStop     OnFailure = "stop"
)

// NotificationChannel is where anomaly/completion notifications go.
type NotificationChannel string

const (
	ChannelConsole NotificationChannel = "console"
	ChannelSlack   NotificationChannel = "slack"
	ChannelEmail   NotificationChannel = "email"
)

// Config is the top-level shape of ralph.config.toml, per SPEC_FULL.md §6.2.
type Config struct {
	PlanFile      string        `toml:"plan_file"`
	AgentsFile    string        `toml:"agents_file"`
	Loop          Loop          `toml:"loop"`
	Sandbox       SandboxConfig `toml:"sandbox"`
	Tracker       Tracker       `toml:"tracker"`
	Git           Git           `toml:"git"`
	Learning      Learning      `toml:"learning"`
	Notifications Notifications `toml:"notifications"`
	LogLevel      string        `toml:"log_level"`
	LLM           LLM           `toml:"llm"`
}

// LLM selects and configures the provider adapter backing internal/agent.
type LLM struct {
	Provider string `toml:"provider"` // "anthropic" (default) or "openai"
	Model    string `toml:"model"`
	APIKey   string `toml:"api_key"` // empty falls back to the vendor's env var, per §4.8
}

// Loop configures the scheduler's resource caps and outer-loop policy.
type Loop struct {
	MaxIterationsPerTask int       `toml:"max_iterations_per_task"`
	MaxTimePerTask       Duration  `toml:"max_time_per_task"`
	MaxCostPerTask       float64   `toml:"max_cost_per_task"`
	MaxTasksPerRun       int       `toml:"max_tasks_per_run"`
	MaxTimePerRun        Duration  `toml:"max_time_per_run"`
	OnFailure            OnFailure `toml:"on_failure"`
	Parallelism          int       `toml:"parallelism"`
	DryRun               bool      `toml:"dry_run"`
	TaskFilter           string    `toml:"task_filter"`
}

// SandboxConfig configures the overlay filesystem and command runner.
type SandboxConfig struct {
	Timeout         Duration `toml:"timeout"`
	MaxCommands     int      `toml:"max_commands"`
	CacheReads      bool     `toml:"cache_reads"`
	Backend         string   `toml:"backend"` // "local" (default) or "docker"
	DockerImage     string   `toml:"docker_image"`
	AllowedPaths    []string `toml:"allowed_paths"`
	DeniedPaths     []string `toml:"denied_paths"`
	AllowedCommands []string          `toml:"allowed_commands"`
	DeniedCommands  []string          `toml:"denied_commands"`
	Env             map[string]string `toml:"env"`
}

// Tracker configures the optional issue-tracker sync integration.
type Tracker struct {
	Type           string `toml:"type"`
	ConfigPath     string `toml:"config_path"`
	AutoCreate     bool   `toml:"auto_create"`
	AutoTransition bool   `toml:"auto_transition"`
	AutoComment    bool   `toml:"auto_comment"`
	AutoPull       bool   `toml:"auto_pull"`
}

// Git configures the commit/branch behavior run after each successful attempt.
type Git struct {
	AutoCommit      bool     `toml:"auto_commit"`
	CommitPrefix    string   `toml:"commit_prefix"`
	BranchPrefix    string   `toml:"branch_prefix"`
	BranchRetention Duration `toml:"branch_retention"`
}

// Learning configures the pattern-detection analyzer.
type Learning struct {
	Enabled               bool    `toml:"enabled"`
	AutoApplyImprovements bool    `toml:"auto_apply_improvements"`
	MinConfidence         float64 `toml:"min_confidence"`
	RetentionDays         int     `toml:"retention_days"`
}

// Notifications configures where anomaly/completion alerts are sent.
type Notifications struct {
	Enabled    bool                `toml:"enabled"`
	OnAnomaly  bool                `toml:"on_anomaly"`
	OnComplete bool                `toml:"on_complete"`
	Channel    NotificationChannel `toml:"channel"`
}

// Clone returns a deep copy of cfg so callers can safely mutate the result.
func (cfg *Config) Clone() *Config {
	if cfg == nil {
		return nil
	}
	cloned := *cfg
	cloned.Sandbox.AllowedPaths = cloneStringSlice(cfg.Sandbox.AllowedPaths)
	cloned.Sandbox.DeniedPaths = cloneStringSlice(cfg.Sandbox.DeniedPaths)
	cloned.Sandbox.AllowedCommands = cloneStringSlice(cfg.Sandbox.AllowedCommands)
	cloned.Sandbox.DeniedCommands = cloneStringSlice(cfg.Sandbox.DeniedCommands)
	if cfg.Sandbox.Env != nil {
		cloned.Sandbox.Env = make(map[string]string, len(cfg.Sandbox.Env))
		for k, v := range cfg.Sandbox.Env {
			cloned.Sandbox.Env[k] = v
		}
	}
	return &cloned
}

func cloneStringSlice(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// ExpandHome resolves a leading "~" in path to the current user's home
// directory, mirroring the teacher's config-path convention.
func ExpandHome(path string) string {
	if len(path) == 0 {
		return path
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}

// Load reads, defaults, normalizes, and validates a ralph TOML config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyDefaults(&cfg)
	normalizePaths(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Loop.MaxIterationsPerTask == 0 {
		cfg.Loop.MaxIterationsPerTask = 20
	}
	if cfg.Loop.MaxTimePerTask.Duration == 0 {
		cfg.Loop.MaxTimePerTask.Duration = 30 * time.Minute
	}
	if cfg.Loop.MaxTasksPerRun == 0 {
		cfg.Loop.MaxTasksPerRun = 10
	}
	if cfg.Loop.MaxTimePerRun.Duration == 0 {
		cfg.Loop.MaxTimePerRun.Duration = 4 * time.Hour
	}
	if cfg.Loop.OnFailure == "" {
		cfg.Loop.OnFailure = OnFailureContinue
	}
	// Parallelism is reserved for future use and must default and stay at 1;
	// enforced again in validate.
	if cfg.Loop.Parallelism == 0 {
		cfg.Loop.Parallelism = 1
	}

	if cfg.Sandbox.Timeout.Duration == 0 {
		cfg.Sandbox.Timeout.Duration = 5 * time.Minute
	}
	if cfg.Sandbox.MaxCommands == 0 {
		cfg.Sandbox.MaxCommands = 100
	}
	if cfg.Sandbox.Backend == "" {
		cfg.Sandbox.Backend = "local"
	}

	if cfg.Git.CommitPrefix == "" {
		cfg.Git.CommitPrefix = "ralph: "
	}
	if cfg.Git.BranchPrefix == "" {
		cfg.Git.BranchPrefix = "ralph/"
	}
	if cfg.Git.BranchRetention.Duration == 0 {
		cfg.Git.BranchRetention.Duration = 7 * 24 * time.Hour
	}

	if cfg.Learning.MinConfidence == 0 {
		cfg.Learning.MinConfidence = 0.6
	}
	if cfg.Learning.RetentionDays == 0 {
		cfg.Learning.RetentionDays = 90
	}

	if cfg.Notifications.Channel == "" {
		cfg.Notifications.Channel = ChannelConsole
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "anthropic"
	}
	if cfg.LLM.Model == "" {
		switch cfg.LLM.Provider {
		case "openai":
			cfg.LLM.Model = "gpt-5"
		default:
			cfg.LLM.Model = "claude-sonnet-4-5"
		}
	}
}

func normalizePaths(cfg *Config) {
	cfg.PlanFile = ExpandHome(strings.TrimSpace(cfg.PlanFile))
	cfg.AgentsFile = ExpandHome(strings.TrimSpace(cfg.AgentsFile))
	cfg.Tracker.ConfigPath = ExpandHome(strings.TrimSpace(cfg.Tracker.ConfigPath))
}

func validate(cfg *Config) error {
	if cfg.PlanFile == "" {
		return fmt.Errorf("planFile is required")
	}
	if cfg.AgentsFile == "" {
		return fmt.Errorf("agentsFile is required")
	}
	if cfg.Loop.Parallelism != 1 {
		return fmt.Errorf("loop.parallelism must be 1 (reserved for future use), got %d", cfg.Loop.Parallelism)
	}
	if cfg.Loop.OnFailure != OnFailureContinue && cfg.Loop.OnFailure != OnFailureStop {
		return fmt.Errorf("loop.onFailure must be %q or %q, got %q", OnFailureContinue, OnFailureStop, cfg.Loop.OnFailure)
	}
	switch cfg.Sandbox.Backend {
	case "local", "docker":
	default:
		return fmt.Errorf("sandbox.backend must be %q or %q, got %q", "local", "docker", cfg.Sandbox.Backend)
	}
	switch cfg.Notifications.Channel {
	case ChannelConsole, ChannelSlack, ChannelEmail:
	default:
		return fmt.Errorf("notifications.channel must be one of console/slack/email, got %q", cfg.Notifications.Channel)
	}
	if cfg.Learning.MinConfidence < 0 || cfg.Learning.MinConfidence > 1 {
		return fmt.Errorf("learning.minConfidence must be in [0,1], got %f", cfg.Learning.MinConfidence)
	}
	switch cfg.LLM.Provider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("llm.provider must be %q or %q, got %q", "anthropic", "openai", cfg.LLM.Provider)
	}
	return nil
}

// ApplyFlags applies the --dry-run and --task CLI overrides named in
// SPEC_FULL.md §6.2.
func (cfg *Config) ApplyFlags(dryRun bool, task string) {
	if dryRun {
		cfg.Loop.DryRun = true
	}
	if task != "" {
		cfg.Loop.TaskFilter = task
		if cfg.Loop.MaxTasksPerRun > 1 || cfg.Loop.MaxTasksPerRun == 0 {
			cfg.Loop.MaxTasksPerRun = 1
		}
	}
}
