package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/ralph-dev/ralph/internal/config"
	"github.com/ralph-dev/ralph/internal/executor"
	"github.com/ralph-dev/ralph/internal/git"
	"github.com/ralph-dev/ralph/internal/learner"
	"github.com/ralph-dev/ralph/internal/ledger"
	"github.com/ralph-dev/ralph/internal/progress"
)

// Scheduler drives the outer run loop described in SPEC_FULL.md §4.2:
// pick one task, run it to completion or failure, commit or roll back,
// and repeat until a stopping condition is met. It never runs more
// than one task concurrently — config.loop.parallelism is validated to
// equal 1 at load time (internal/config.validate).
type Scheduler struct {
	ledger   *ledger.Ledger
	progress *progress.Log
	exec     *executor.Executor
	git      git.Ops // nil disables git.autoCommit regardless of config
	tracker  TrackerSyncer
	runner   IterationRunner
	logger   *slog.Logger
	learning *learner.Log // nil disables learning.enabled regardless of config

	now func() time.Time
}

// Option configures a new Scheduler.
type Option func(*Scheduler)

// WithGit wires the git collaborator used for auto-commit after a
// successful task. Without it, git.autoCommit is a no-op.
func WithGit(ops git.Ops) Option {
	return func(s *Scheduler) { s.git = ops }
}

// WithTracker wires the per-task tracker-sync hook (§4.5).
func WithTracker(t TrackerSyncer) Option {
	return func(s *Scheduler) { s.tracker = t }
}

// WithLogger overrides the default slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithLearning wires the learning event log that RecordCompletion feeds
// on every finished task attempt. Without it, learning.enabled is a
// no-op regardless of config.
func WithLearning(l *learner.Log) Option {
	return func(s *Scheduler) { s.learning = l }
}

// New returns a Scheduler over led/prog/exec, driven by runner.
func New(led *ledger.Ledger, prog *progress.Log, exec *executor.Executor, runner IterationRunner, opts ...Option) *Scheduler {
	s := &Scheduler{
		ledger:   led,
		progress: prog,
		exec:     exec,
		runner:   runner,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PickNext implements the selection policy (total order, ties broken
// by earlier rule):
//  1. exclude terminal statuses (done/cancelled/review/blocked)
//  2. exclude tasks blocked by a live blocker
//  3. prefer in_progress over other live statuses (resume before starting)
//  4. among remaining, pick the earliest createdAt
func PickNext(state map[string]*ledger.Task) *ledger.Task {
	var candidates []*ledger.Task
	for _, task := range state {
		if task.Status.Terminal() {
			continue
		}
		if ledger.IsBlocked(task, state) {
			continue
		}
		candidates = append(candidates, task)
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		aResume := a.Status == ledger.StatusInProgress
		bResume := b.Status == ledger.StatusInProgress
		if aResume != bResume {
			return aResume
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return candidates[0]
}

// UpdateStatus appends an update operation changing status (and,
// optionally, recording reason as a progress event) and records a
// status_change progress event.
func (s *Scheduler) UpdateStatus(id string, status ledger.Status, reason string) error {
	now := s.now()
	if err := s.ledger.Append(ledger.TaskOperation{
		Kind:      ledger.OpUpdate,
		Timestamp: now,
		ID:        id,
		Changes:   map[string]any{"status": status},
	}); err != nil {
		return fmt.Errorf("scheduler: update status: %w", err)
	}
	return s.progress.Append(progress.Event{
		Type:      progress.EventStatusChange,
		TaskID:    id,
		Status:    string(status),
		Reason:    reason,
		Timestamp: now,
	})
}

// RunTaskLoop runs the inner loop against an in_progress task: up to
// maxIterations iterations, bounded by maxTime wall-clock, stopping at
// the first `complete` or `error` result.
func (s *Scheduler) RunTaskLoop(ctx context.Context, task *ledger.Task, maxIterations int, maxTime time.Duration) (TaskResult, error) {
	start := s.now()
	i := 0
	seen := map[string]bool{}
	var artifacts []string
	addArtifacts := func(files []string) {
		for _, f := range files {
			if !seen[f] {
				seen[f] = true
				artifacts = append(artifacts, f)
			}
		}
	}

	for i < maxIterations && s.now().Sub(start) < maxTime {
		i++

		result, err := s.runner.ExecuteIteration(ctx, task, i, s.exec)
		if err != nil {
			result = IterationResult{Kind: IterationError, Reason: err.Error()}
		}
		addArtifacts(result.Artifacts)

		if evtErr := s.progress.Append(progress.Event{
			Type:      progress.EventIteration,
			TaskID:    task.ID,
			Iteration: i,
			Result:    string(result.Kind),
			Reason:    result.Reason,
			Timestamp: s.now(),
		}); evtErr != nil {
			s.logger.Warn("scheduler: failed to append iteration event", "task", task.ID, "iteration", i, "error", evtErr)
		}

		switch result.Kind {
		case IterationComplete:
			return TaskResult{Success: true, Iterations: i, Artifacts: artifacts}, nil
		case IterationError:
			return TaskResult{Success: false, Iterations: i, Reason: result.Reason, Artifacts: artifacts}, nil
		}
		// continue: loop again
	}

	reason := "Max iterations reached"
	if s.now().Sub(start) >= maxTime {
		reason = "Time limit exceeded"
	}
	return TaskResult{Success: false, Iterations: i, Reason: reason, Artifacts: artifacts}, nil
}

// RecordCompletion appends the ledger/progress trail for a finished
// task attempt: status transition, completedAt/actual on success, and
// (if learning.enabled and a learning log is wired via WithLearning) a
// task_completed event in internal/learner's own log, carrying the
// TaskMetrics that the pattern detectors fold over.
func (s *Scheduler) RecordCompletion(task *ledger.Task, result TaskResult, learningEnabled bool) error {
	now := s.now()
	status := ledger.StatusDone
	if !result.Success {
		status = ledger.StatusBlocked
	}

	changes := map[string]any{"status": status}
	if result.Success {
		changes["completedAt"] = now
		changes["actual"] = float64(result.Iterations)
	}

	if err := s.ledger.Append(ledger.TaskOperation{
		Kind:      ledger.OpUpdate,
		Timestamp: now,
		ID:        task.ID,
		Changes:   changes,
	}); err != nil {
		return fmt.Errorf("scheduler: record completion: %w", err)
	}

	if err := s.progress.Append(progress.Event{
		Type:      progress.EventStatusChange,
		TaskID:    task.ID,
		Status:    string(status),
		Reason:    result.Reason,
		Timestamp: now,
	}); err != nil {
		return fmt.Errorf("scheduler: append completion event: %w", err)
	}

	if err := s.progress.Append(progress.Event{
		Type:      progress.EventTaskCompleted,
		TaskID:    task.ID,
		Result:    fmt.Sprintf("%v", result.Success),
		Timestamp: now,
	}); err != nil {
		s.logger.Warn("scheduler: failed to append task_completed event", "task", task.ID, "error", err)
	}

	if learningEnabled && s.learning != nil {
		snapshot := task.Clone()
		snapshot.CompletedAt = &now
		if result.Success {
			actual := float64(result.Iterations)
			snapshot.Actual = &actual
		}

		execCtx := learner.ExecContext{FilesChanged: len(result.Artifacts)}
		if result.Success && s.git != nil {
			execCtx.Commits = 1
		}
		if !result.Success && result.Reason != "" {
			execCtx.Blockers = []string{result.Reason}
		}

		metrics := learner.RecordTaskMetrics(snapshot, execCtx, result.Success)
		if err := s.learning.Append(learner.Event{
			Kind:      learner.EventTaskCompleted,
			Timestamp: now,
			Metrics:   &metrics,
		}); err != nil {
			s.logger.Warn("scheduler: failed to append learning event", "task", task.ID, "error", err)
		}
	}

	return nil
}

// RunLoop runs the outer loop: pick → mark in_progress → run inner →
// commit-or-rollback → record → sync → repeat, bounded by
// maxTasksPerRun and maxTimePerRun.
func (s *Scheduler) RunLoop(ctx context.Context, cfg *config.Config) (LoopResult, error) {
	start := s.now()
	var result LoopResult

	for {
		if cfg.Loop.MaxTasksPerRun > 0 && result.TasksCompleted+result.TasksFailed >= cfg.Loop.MaxTasksPerRun {
			break
		}
		if cfg.Loop.MaxTimePerRun.Duration > 0 && s.now().Sub(start) >= cfg.Loop.MaxTimePerRun.Duration {
			break
		}

		ops, err := s.ledger.Read()
		if err != nil {
			return result, fmt.Errorf("scheduler: read ledger: %w", err)
		}
		state := ledger.Derive(ops)
		if cfg.Loop.TaskFilter != "" {
			state = filterByID(state, cfg.Loop.TaskFilter)
		}

		task := PickNext(state)
		if task == nil {
			break
		}

		if task.Status != ledger.StatusInProgress {
			if err := s.UpdateStatus(task.ID, ledger.StatusInProgress, "selected by scheduler"); err != nil {
				return result, err
			}
		}

		if cfg.Loop.DryRun {
			s.logger.Info("scheduler: dry run, skipping execution", "task", task.ID)
			break
		}

		taskResult, err := s.RunTaskLoop(ctx, task, cfg.Loop.MaxIterationsPerTask, cfg.Loop.MaxTimePerTask.Duration)
		if err != nil {
			return result, fmt.Errorf("scheduler: run task loop: %w", err)
		}

		if taskResult.Success {
			if _, err := s.exec.Flush(); err != nil {
				s.logger.Error("scheduler: flush failed after successful task", "task", task.ID, "error", err)
			} else if cfg.Git.AutoCommit && s.git != nil {
				if err := s.git.Add("."); err != nil {
					s.logger.Error("scheduler: git add failed", "task", task.ID, "error", err)
				} else if _, err := s.git.Commit(git.CommitMessage(cfg.Git.CommitPrefix, task.ID, task.Title)); err != nil {
					s.logger.Error("scheduler: git commit failed", "task", task.ID, "error", err)
				}
			}
			result.TasksCompleted++
		} else {
			s.exec.Rollback()
			result.TasksFailed++
		}

		if err := s.RecordCompletion(task, taskResult, cfg.Learning.Enabled); err != nil {
			return result, err
		}

		if s.tracker != nil {
			if err := s.tracker.SyncTask(ctx, task, taskResult.Success); err != nil {
				s.logger.Warn("scheduler: tracker sync failed", "task", task.ID, "error", err)
			}
		}

		if !taskResult.Success && cfg.Loop.OnFailure == config.OnFailureStop {
			break
		}
		if cfg.Loop.TaskFilter != "" {
			break
		}
	}

	s.cleanupStaleBranches(cfg)

	return result, nil
}

// cleanupStaleBranches prunes ralph's own per-run branches (prefixed
// cfg.Git.BranchPrefix) once per RunLoop call, the way an operator
// would run git branch -D by hand on a long-lived checkout. Disabled
// whenever auto-commit is off or no git collaborator is wired, since
// neither implies anything created branches to prune in the first
// place.
func (s *Scheduler) cleanupStaleBranches(cfg *config.Config) {
	if !cfg.Git.AutoCommit || s.git == nil || cfg.Git.BranchPrefix == "" {
		return
	}
	cutoff := s.now().Add(-cfg.Git.BranchRetention.Duration)
	deleted, err := s.git.CleanupStaleBranches(cfg.Git.BranchPrefix, cutoff)
	if err != nil {
		s.logger.Warn("scheduler: stale branch cleanup failed", "error", err)
		return
	}
	if len(deleted) > 0 {
		s.logger.Info("scheduler: pruned stale branches", "branches", deleted)
	}
}

// filterByID restricts state to the single id named by filter, the way
// --task=X scopes the outer loop to one task (§6.2).
func filterByID(state map[string]*ledger.Task, filter string) map[string]*ledger.Task {
	task, ok := state[filter]
	if !ok {
		return nil
	}
	return map[string]*ledger.Task{filter: task}
}
