// Package beads implements tracker.Tracker against the bd CLI, the
// same subprocess-and-parse-JSON integration the teacher's
// internal/beads package uses for its own bead store.
package beads

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/ralph-dev/ralph/internal/config"
	"github.com/ralph-dev/ralph/internal/tracker"
)

// Adapter implements tracker.Tracker by shelling out to the bd CLI in
// WorkDir, mirroring internal/beads/beads.go's runBD helper.
type Adapter struct {
	WorkDir string
	Auth    tracker.Auth
}

// New returns a beads Adapter. It satisfies tracker.Factory's shape so
// it can be registered directly into a tracker.Registry.
func New(cfg config.Tracker, auth tracker.Auth) (tracker.Tracker, error) {
	return &Adapter{WorkDir: ".", Auth: auth}, nil
}

// NewWithWorkDir is the same as New but lets callers (tests, cmd/ralph)
// name the project directory bd should operate against explicitly.
func NewWithWorkDir(workDir string, auth tracker.Auth) *Adapter {
	return &Adapter{WorkDir: workDir, Auth: auth}
}

var _ tracker.Tracker = (*Adapter)(nil)

func (a *Adapter) run(ctx context.Context, args ...string) ([]byte, error) {
	path, err := exec.LookPath("bd")
	if err != nil {
		return nil, fmt.Errorf("bd CLI not found in PATH: %w", err)
	}

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Dir = a.WorkDir
	env := append(os.Environ(), "BEADS_NO_DAEMON=1")
	if a.Auth.Token != "" {
		env = append(env, "BD_API_TOKEN="+a.Auth.Token)
	}
	if a.Auth.Email != "" {
		env = append(env, "BD_EMAIL="+a.Auth.Email)
	}
	cmd.Env = env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("bd %v failed: %w\nstderr: %s", args, err, stderr.String())
	}
	return stdout.Bytes(), nil
}

// bdBead mirrors the subset of `bd show`/`bd list --json` fields this
// adapter needs, named the way internal/beads.Bead names them.
type bdBead struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	IssueType   string    `json:"issue_type"`
	Labels      []string  `json:"labels"`
	ParentID    string    `json:"parent_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (b bdBead) toExternalIssue() tracker.ExternalIssue {
	return tracker.ExternalIssue{
		ID:      b.ID,
		Key:     b.ID,
		Title:   b.Title,
		Status:  b.Status,
		Type:    b.IssueType,
		Labels:  b.Labels,
		Parent:  b.ParentID,
		Created: b.CreatedAt,
		Updated: b.UpdatedAt,
	}
}

func (a *Adapter) Connect(ctx context.Context) error {
	_, err := exec.LookPath("bd")
	if err != nil {
		return fmt.Errorf("beads tracker: bd CLI not found: %w", err)
	}
	return nil
}

func (a *Adapter) Disconnect(ctx context.Context) error { return nil }

func (a *Adapter) HealthCheck(ctx context.Context) (tracker.HealthStatus, error) {
	start := time.Now()
	_, err := a.run(ctx, "list", "--limit", "1", "--json", "--quiet")
	latency := time.Since(start)
	if err != nil {
		return tracker.HealthStatus{Healthy: false, Latency: latency}, err
	}
	return tracker.HealthStatus{Healthy: true, Latency: latency}, nil
}

func (a *Adapter) CreateIssue(ctx context.Context, task tracker.TaskLike) (tracker.ExternalIssue, error) {
	issueType := task.Type
	if issueType == "" {
		issueType = "task"
	}
	args := []string{
		"create",
		"--type", issueType,
		"--title", task.Title,
		"--description", task.Description,
		"--silent",
	}
	out, err := a.run(ctx, args...)
	if err != nil {
		return tracker.ExternalIssue{}, fmt.Errorf("creating bd issue %q: %w", task.Title, err)
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		return tracker.ExternalIssue{}, fmt.Errorf("creating bd issue %q returned empty id", task.Title)
	}
	return tracker.ExternalIssue{ID: id, Key: id, Title: task.Title, Type: issueType}, nil
}

func (a *Adapter) UpdateIssue(ctx context.Context, id string, changes map[string]any) error {
	args := []string{"update", id}
	if title, ok := changes["title"].(string); ok {
		args = append(args, "--title", title)
	}
	if desc, ok := changes["description"].(string); ok {
		args = append(args, "--description", desc)
	}
	if priority, ok := changes["priority"]; ok {
		args = append(args, "--priority", fmt.Sprintf("%v", priority))
	}
	if status, ok := changes["status"].(string); ok {
		args = append(args, "--status", status)
	}
	if len(args) == 2 {
		return nil // nothing recognized to change
	}
	_, err := a.run(ctx, args...)
	if err != nil {
		return fmt.Errorf("updating bd issue %s: %w", id, err)
	}
	return nil
}

func (a *Adapter) GetIssue(ctx context.Context, id string) (tracker.ExternalIssue, error) {
	out, err := a.run(ctx, "show", "--json", id)
	if err != nil {
		return tracker.ExternalIssue{}, fmt.Errorf("showing bd issue %s: %w", id, err)
	}
	var b bdBead
	if err := json.Unmarshal(out, &b); err != nil {
		return tracker.ExternalIssue{}, fmt.Errorf("parsing bd show output for %s: %w", id, err)
	}
	return b.toExternalIssue(), nil
}

func (a *Adapter) FindIssues(ctx context.Context, query string) ([]tracker.ExternalIssue, error) {
	commands := [][]string{
		{"list", "--all", "--limit", "0", "--json", "--quiet"},
		{"list", "--all", "--limit", "0", "--format=json"},
		{"list", "--limit", "0", "--json", "--quiet"},
		{"list", "--json", "--quiet"},
	}

	var (
		out     []byte
		err     error
		lastErr error
	)
	for _, args := range commands {
		out, err = a.run(ctx, args...)
		if err == nil {
			break
		}
		lastErr = err
	}
	if err != nil {
		return nil, fmt.Errorf("listing bd issues: %w", lastErr)
	}

	var beadList []bdBead
	if err := json.Unmarshal(out, &beadList); err != nil {
		return nil, fmt.Errorf("parsing bd list output: %w", err)
	}

	query = strings.ToLower(strings.TrimSpace(query))
	issues := make([]tracker.ExternalIssue, 0, len(beadList))
	for _, b := range beadList {
		if query != "" && !strings.Contains(strings.ToLower(b.Title), query) {
			continue
		}
		issues = append(issues, b.toExternalIssue())
	}
	return issues, nil
}

func (a *Adapter) CreateSubtask(ctx context.Context, parentID string, task tracker.TaskLike) (tracker.ExternalIssue, error) {
	issueType := task.Type
	if issueType == "" {
		issueType = "task"
	}
	args := []string{
		"create",
		"--type", issueType,
		"--title", task.Title,
		"--description", task.Description,
		"--parent", parentID,
		"--silent",
	}
	out, err := a.run(ctx, args...)
	if err != nil {
		return tracker.ExternalIssue{}, fmt.Errorf("creating bd subtask %q under %s: %w", task.Title, parentID, err)
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		return tracker.ExternalIssue{}, fmt.Errorf("creating bd subtask %q returned empty id", task.Title)
	}
	return tracker.ExternalIssue{ID: id, Key: id, Title: task.Title, Type: issueType, Parent: parentID}, nil
}

// bdDepType maps tracker.LinkType onto `bd dep add`'s --type vocabulary.
// is-blocked-by and child-of are expressed by swapping from/to and using
// the inverse relation, since bd's dependency graph is directional on
// "depends on".
func bdDepType(linkType tracker.LinkType) (depType string, ok bool) {
	switch linkType {
	case tracker.LinkBlocks:
		return "blocks", true
	case tracker.LinkRelatesTo:
		return "relates", true
	case tracker.LinkDuplicates:
		return "duplicates", true
	case tracker.LinkParentOf, tracker.LinkChildOf:
		return "parent-child", true
	default:
		return "", false
	}
}

func (a *Adapter) LinkIssues(ctx context.Context, from, to string, linkType tracker.LinkType) error {
	switch linkType {
	case tracker.LinkIsBlockedBy:
		from, to = to, from
		linkType = tracker.LinkBlocks
	case tracker.LinkChildOf:
		from, to = to, from
		linkType = tracker.LinkParentOf
	}

	depType, ok := bdDepType(linkType)
	if !ok {
		return fmt.Errorf("beads tracker: unsupported link type %q", linkType)
	}

	if linkType == tracker.LinkParentOf {
		_, err := a.run(ctx, "update", to, "--parent", from)
		if err != nil {
			return fmt.Errorf("linking bd parent %s -> %s: %w", from, to, err)
		}
		return nil
	}

	_, err := a.run(ctx, "dep", "add", from, to, "--type", depType)
	if err != nil {
		return fmt.Errorf("linking bd issues %s -> %s: %w", from, to, err)
	}
	return nil
}

func (a *Adapter) TransitionIssue(ctx context.Context, id, targetStatus string) error {
	_, err := a.run(ctx, "update", id, "--status", targetStatus)
	if err != nil {
		return fmt.Errorf("transitioning bd issue %s to %s: %w", id, targetStatus, err)
	}
	return nil
}

// bdTransitions is the fixed set bd exposes; the CLI has no
// "available transitions" query, so this is the same small status
// vocabulary internal/beads.Bead.Status uses (open/in_progress/
// review/closed) rather than a live per-issue lookup.
var bdTransitions = []tracker.Transition{
	{ID: "open", Name: "Reopen", To: "open"},
	{ID: "in_progress", Name: "Start", To: "in_progress"},
	{ID: "review", Name: "Request review", To: "review"},
	{ID: "closed", Name: "Close", To: "closed"},
}

func (a *Adapter) GetTransitions(ctx context.Context, id string) ([]tracker.Transition, error) {
	return bdTransitions, nil
}

func (a *Adapter) AddComment(ctx context.Context, id, body string) error {
	_, err := a.run(ctx, "comment", id, body)
	if err != nil {
		return fmt.Errorf("commenting on bd issue %s: %w", id, err)
	}
	return nil
}
