// Package tracker implements bidirectional reconciliation between the
// local task ledger and an external issue tracker, per SPEC_FULL.md
// §4.5/§6.3.
package tracker

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/ralph-dev/ralph/internal/config"
)

// LinkType enumerates the relationship kinds LinkIssues supports.
type LinkType string

const (
	LinkBlocks      LinkType = "blocks"
	LinkIsBlockedBy LinkType = "is-blocked-by"
	LinkRelatesTo   LinkType = "relates-to"
	LinkDuplicates  LinkType = "duplicates"
	LinkParentOf    LinkType = "parent-of"
	LinkChildOf     LinkType = "child-of"
)

// ExternalIssue is the remote-side record returned by CreateIssue/GetIssue.
type ExternalIssue struct {
	ID          string
	Key         string
	URL         string
	Title       string
	Description string
	Status      string
	Type        string
	Parent      string
	Subtasks    []string
	Labels      []string
	Created     time.Time
	Updated     time.Time
}

// Transition is one entry of GetTransitions' result: an available move
// from the issue's current state to To, named Name.
type Transition struct {
	ID   string
	Name string
	To   string
}

// HealthStatus is the result of a HealthCheck call.
type HealthStatus struct {
	Healthy bool
	Latency time.Duration
}

// TaskLike is the minimal shape CreateIssue/CreateSubtask need from a
// ledger task — kept narrow so Tracker adapters such as beads read four
// plain fields and don't import internal/ledger.
type TaskLike struct {
	ID          string
	Title       string
	Description string
	Type        string
}

// Tracker is the uniform interface every concrete adapter implements,
// per SPEC_FULL.md §6.3.
type Tracker interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	HealthCheck(ctx context.Context) (HealthStatus, error)

	CreateIssue(ctx context.Context, task TaskLike) (ExternalIssue, error)
	UpdateIssue(ctx context.Context, id string, changes map[string]any) error
	GetIssue(ctx context.Context, id string) (ExternalIssue, error)
	FindIssues(ctx context.Context, query string) ([]ExternalIssue, error)
	CreateSubtask(ctx context.Context, parentID string, task TaskLike) (ExternalIssue, error)
	LinkIssues(ctx context.Context, from, to string, linkType LinkType) error
	TransitionIssue(ctx context.Context, id, targetStatus string) error
	GetTransitions(ctx context.Context, id string) ([]Transition, error)
	AddComment(ctx context.Context, id, body string) error
}

// Factory builds a Tracker from runtime config and resolved auth.
type Factory func(cfg config.Tracker, auth Auth) (Tracker, error)

// Registry maps tracker.type to its Factory, replacing the dynamic
// `importModule` adapter lookup named in spec §9's design notes with
// compile-time registration.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under typeName. Registering the same name
// twice overwrites the previous entry, matching how the teacher's own
// compile-time tables (e.g. workflow command maps) are assembled.
func (r *Registry) Register(typeName string, factory Factory) {
	r.factories[typeName] = factory
}

// Build resolves auth for cfg.Type, looks up its factory, and
// constructs a Tracker. Build returns (nil, nil) when no token is
// configured for the type — sync is disabled for that type, not an
// error, per §6.3's "Missing token ⇒ sync disabled" rule.
func (r *Registry) Build(cfg config.Tracker) (Tracker, error) {
	if cfg.Type == "" {
		return nil, nil
	}
	factory, ok := r.factories[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("tracker: no adapter registered for type %q", cfg.Type)
	}
	auth, ok := ResolveAuth(cfg.Type)
	if !ok {
		return nil, nil
	}
	return factory(cfg, auth)
}

// Auth is the credential pair resolved for a tracker type.
type Auth struct {
	Token string
	Email string
}

// ResolveAuth looks up environment variables for typeName per §6.3:
// RALPH_{T}_TOKEN, then {T}_TOKEN (hyphens become underscores,
// uppercased), paired with RALPH_{T}_EMAIL / {T}_EMAIL. Returns
// ok=false when no token is found anywhere, meaning sync is disabled.
func ResolveAuth(typeName string) (Auth, bool) {
	upper := strings.ToUpper(strings.ReplaceAll(typeName, "-", "_"))

	token := firstNonEmptyEnv("RALPH_" + upper + "_TOKEN", upper+"_TOKEN")
	if token == "" {
		return Auth{}, false
	}
	email := firstNonEmptyEnv("RALPH_"+upper+"_EMAIL", upper+"_EMAIL")
	return Auth{Token: token, Email: email}, true
}

func firstNonEmptyEnv(names ...string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// SyncConfig augments config.Tracker with the status-mapping tables
// that drive autoTransition and mapStatusToRalph (§4.5). These live in
// a side TOML file named by tracker.configPath rather than the main
// config, since they're per-tracker-instance vocabulary, not loop
// policy — the same document split as the main config vs. sandbox
// allow/deny lists.
type SyncConfig struct {
	AutoCreate     bool
	AutoTransition bool
	AutoComment    bool
	AutoPull       bool

	// StatusMap maps a local status (e.g. "done") to the remote
	// tracker's status string (e.g. "Closed").
	StatusMap map[string]string
	// ReverseStatusMap maps a remote status string directly to a local
	// status, consulted before StatusMap's case-insensitive inverse.
	ReverseStatusMap map[string]string
}

type syncConfigFile struct {
	StatusMap        map[string]string `toml:"status_map"`
	ReverseStatusMap map[string]string `toml:"reverse_status_map"`
}

// LoadSyncConfig builds a SyncConfig from cfg's auto-flags plus, if
// cfg.ConfigPath is set and exists, the status maps found there. A
// missing file is not an error: it just means no explicit mapping was
// configured, and mapStatusToRalph falls back to heuristics.
func LoadSyncConfig(cfg config.Tracker) (SyncConfig, error) {
	sc := SyncConfig{
		AutoCreate:     cfg.AutoCreate,
		AutoTransition: cfg.AutoTransition,
		AutoComment:    cfg.AutoComment,
		AutoPull:       cfg.AutoPull,
	}
	if cfg.ConfigPath == "" {
		return sc, nil
	}

	data, err := os.ReadFile(cfg.ConfigPath)
	if os.IsNotExist(err) {
		return sc, nil
	}
	if err != nil {
		return sc, fmt.Errorf("tracker: reading sync config %s: %w", cfg.ConfigPath, err)
	}

	var file syncConfigFile
	if _, err := toml.Decode(string(data), &file); err != nil {
		return sc, fmt.Errorf("tracker: parsing sync config %s: %w", cfg.ConfigPath, err)
	}
	sc.StatusMap = file.StatusMap
	sc.ReverseStatusMap = file.ReverseStatusMap
	return sc, nil
}
