package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ralph-dev/ralph/internal/ledger"
)

// Syncer drives both the per-task sync hook (§4.5 "Per-task sync") and
// the two-phase bidirectional reconciliation against one Tracker.
type Syncer struct {
	tracker Tracker
	ledger  *ledger.Ledger
	sync    SyncConfig
	logger  *slog.Logger
	now     func() time.Time
}

// NewSyncer returns a Syncer. A nil tracker makes every sync call a no-op,
// matching "Missing token ⇒ sync disabled for that type" (§6.3).
func NewSyncer(t Tracker, led *ledger.Ledger, sc SyncConfig, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{tracker: t, ledger: led, sync: sc, logger: logger, now: time.Now}
}

// SyncTask implements internal/scheduler.TrackerSyncer: it runs the
// per-task sync steps and swallows any failure into a log line, per
// §4.5 ("Any failure is caught and reported via the log; it never
// propagates to the scheduler.") and §7's transient-external-failure
// row.
func (s *Syncer) SyncTask(ctx context.Context, task *ledger.Task, success bool) error {
	if s == nil || s.tracker == nil || task == nil {
		return nil
	}
	if err := s.syncTaskToTracker(ctx, task, success); err != nil {
		s.logger.Warn("tracker: per-task sync failed", "task", task.ID, "error", err)
	}
	return nil
}

// syncTaskToTracker implements the three-step per-task sync algorithm
// of §4.5. Returns the first error encountered; SyncTask is the
// swallowing wrapper callers outside this package should use.
func (s *Syncer) syncTaskToTracker(ctx context.Context, task *ledger.Task, success bool) error {
	// Step 1: create if unlinked.
	if s.sync.AutoCreate && task.ExternalID == "" {
		issue, err := s.tracker.CreateIssue(ctx, taskLike(task))
		if err != nil {
			return fmt.Errorf("create issue for %s: %w", task.ID, err)
		}
		if err := s.ledger.Append(ledger.TaskOperation{
			Kind:        ledger.OpLink,
			Timestamp:   s.now(),
			ID:          task.ID,
			ExternalID:  issue.Key,
			ExternalURL: issue.URL,
		}); err != nil {
			return fmt.Errorf("append link op for %s: %w", task.ID, err)
		}
		task = task.Clone()
		task.ExternalID = issue.Key
		task.ExternalURL = issue.URL
	}

	// Step 2: transition.
	if s.sync.AutoTransition && task.ExternalID != "" {
		if target, ok := s.sync.StatusMap[string(task.Status)]; ok {
			if err := s.tracker.TransitionIssue(ctx, task.ExternalID, target); err != nil {
				return fmt.Errorf("transition issue for %s: %w", task.ID, err)
			}
		}
	}

	// Step 3: comment.
	if s.sync.AutoComment && task.ExternalID != "" {
		body := fmt.Sprintf("Task marked as %s by Ralph.", task.Status)
		if success {
			body = "Task completed successfully by Ralph."
		}
		if err := s.tracker.AddComment(ctx, task.ExternalID, body); err != nil {
			return fmt.Errorf("add comment for %s: %w", task.ID, err)
		}
	}

	return nil
}

func taskLike(t *ledger.Task) TaskLike {
	return TaskLike{ID: t.ID, Title: t.Title, Description: t.Description, Type: string(t.Type)}
}

// PhaseResult is the per-phase summary returned by syncBidirectional,
// per §4.5: "{processed, created, updated, skipped, errors[], duration}".
type PhaseResult struct {
	Processed int
	Created   int
	Updated   int
	Skipped   int
	Errors    []error
	Duration  time.Duration
}

// BidirResult is the combined pull-then-push summary.
type BidirResult struct {
	Pull PhaseResult
	Push PhaseResult
}

// SyncMode selects whether conflict resolution applies.
type SyncMode string

const (
	ModeAuto SyncMode = "auto" // tracker-wins
	ModePull SyncMode = "pull" // pull only, no push, no conflict policy
	ModePush SyncMode = "push" // push only, no pull, no conflict policy
)

// SyncBidirectional runs the two-phase reconciliation of §4.5 over the
// tasks in state: first pull (tracker → ledger), then push
// (ledger → tracker). In ModeAuto the tracker is treated as
// human-authoritative — a status mismatch found during pull is applied
// to the ledger with Source:"tracker" for audit, and push then leaves
// that task's status alone. ModePull/ModePush run only their named
// phase and skip conflict resolution entirely.
func (s *Syncer) SyncBidirectional(ctx context.Context, state map[string]*ledger.Task, mode SyncMode) (BidirResult, error) {
	var result BidirResult
	if s.tracker == nil {
		return result, nil
	}

	var pulled map[string]bool
	if mode == ModeAuto || mode == ModePull {
		pullStart := s.now()
		result.Pull, pulled = s.pull(ctx, state)
		result.Pull.Duration = s.now().Sub(pullStart)
	}

	if mode == ModeAuto || mode == ModePush {
		pushStart := s.now()
		result.Push = s.push(ctx, state, pulled)
		result.Push.Duration = s.now().Sub(pushStart)
	}

	return result, nil
}

func (s *Syncer) pull(ctx context.Context, state map[string]*ledger.Task) (PhaseResult, map[string]bool) {
	var r PhaseResult
	if !s.sync.AutoPull {
		return r, nil
	}
	pulled := make(map[string]bool)

	byExternalID := make(map[string]*ledger.Task, len(state))
	for _, task := range state {
		if task.ExternalID != "" {
			byExternalID[task.ExternalID] = task
		}
	}

	issues, err := s.tracker.FindIssues(ctx, "")
	if err != nil {
		r.Errors = append(r.Errors, fmt.Errorf("find issues: %w", err))
		return r, nil
	}

	for _, issue := range issues {
		r.Processed++
		task, ok := byExternalID[issue.Key]
		if !ok {
			r.Skipped++
			continue
		}
		mapped := MapStatusToRalph(issue.Status, s.sync)
		if mapped == task.Status {
			r.Skipped++
			continue
		}
		if err := s.ledger.Append(ledger.TaskOperation{
			Kind:      ledger.OpUpdate,
			Timestamp: s.now(),
			ID:        task.ID,
			Changes:   map[string]any{"status": mapped},
			Source:    "tracker",
		}); err != nil {
			r.Errors = append(r.Errors, fmt.Errorf("pull update %s: %w", task.ID, err))
			continue
		}
		pulled[task.ID] = true
		r.Updated++
	}
	return r, pulled
}

func (s *Syncer) push(ctx context.Context, state map[string]*ledger.Task, pulled map[string]bool) PhaseResult {
	var r PhaseResult
	for _, task := range state {
		r.Processed++
		if task.ExternalID == "" {
			if !s.sync.AutoCreate {
				r.Skipped++
				continue
			}
			issue, err := s.tracker.CreateIssue(ctx, taskLike(task))
			if err != nil {
				r.Errors = append(r.Errors, fmt.Errorf("push create %s: %w", task.ID, err))
				continue
			}
			if err := s.ledger.Append(ledger.TaskOperation{
				Kind:        ledger.OpLink,
				Timestamp:   s.now(),
				ID:          task.ID,
				ExternalID:  issue.Key,
				ExternalURL: issue.URL,
			}); err != nil {
				r.Errors = append(r.Errors, fmt.Errorf("push link %s: %w", task.ID, err))
				continue
			}
			r.Created++
			continue
		}

		if !s.sync.AutoTransition || pulled[task.ID] {
			r.Skipped++
			continue
		}
		target, ok := s.sync.StatusMap[string(task.Status)]
		if !ok {
			r.Skipped++
			continue
		}
		if err := s.tracker.TransitionIssue(ctx, task.ExternalID, target); err != nil {
			r.Errors = append(r.Errors, fmt.Errorf("push transition %s: %w", task.ID, err))
			continue
		}
		r.Updated++
	}
	return r
}

// MapStatusToRalph implements §4.5's mapStatusToRalph: consult
// sc.ReverseStatusMap, then the case-insensitive inverse of
// sc.StatusMap, then heuristic substring matches, defaulting to pending.
func MapStatusToRalph(remote string, sc SyncConfig) ledger.Status {
	if sc.ReverseStatusMap != nil {
		if local, ok := sc.ReverseStatusMap[remote]; ok {
			return ledger.Status(local)
		}
	}
	for local, mapped := range sc.StatusMap {
		if strings.EqualFold(mapped, remote) {
			return ledger.Status(local)
		}
	}

	lower := strings.ToLower(remote)
	switch {
	case strings.Contains(lower, "done"), strings.Contains(lower, "closed"), strings.Contains(lower, "resolved"):
		return ledger.StatusDone
	case strings.Contains(lower, "progress"), strings.Contains(lower, "active"):
		return ledger.StatusInProgress
	case strings.Contains(lower, "review"):
		return ledger.StatusReview
	case strings.Contains(lower, "block"):
		return ledger.StatusBlocked
	default:
		return ledger.StatusPending
	}
}
