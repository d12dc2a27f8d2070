// Package scheduler implements the single-threaded cooperative loop
// that picks one task at a time, drives it to completion or failure,
// and records the outcome — SPEC_FULL.md §4.2/§5.
package scheduler

import (
	"context"

	"github.com/ralph-dev/ralph/internal/executor"
	"github.com/ralph-dev/ralph/internal/ledger"
)

// IterationKind tags the three-way result of one ExecuteIteration call.
type IterationKind string

const (
	IterationComplete IterationKind = "complete"
	IterationContinue IterationKind = "continue"
	IterationError    IterationKind = "error"
)

// IterationResult is the tagged outcome of a single inner-loop iteration.
type IterationResult struct {
	Kind      IterationKind
	Artifacts []string
	Reason    string
}

// IterationRunner is the decision point where the LLM tool-call loop
// would be consulted. It must be a pure function of (task snapshot,
// iteration number, executor façade) — no hidden state across calls.
type IterationRunner interface {
	ExecuteIteration(ctx context.Context, task *ledger.Task, iteration int, exec *executor.Executor) (IterationResult, error)
}

// TaskResult is the inner loop's return value.
type TaskResult struct {
	Success    bool
	Iterations int
	Reason     string
	Artifacts  []string // files touched across every iteration, deduplicated
}

// LoopResult is the outer loop's return value.
type LoopResult struct {
	TasksCompleted int
	TasksFailed    int
}

// TrackerSyncer is the per-task sync hook described in SPEC_FULL.md
// §4.5. A nil TrackerSyncer disables tracker sync entirely (e.g. no
// tracker.type configured).
type TrackerSyncer interface {
	SyncTask(ctx context.Context, task *ledger.Task, success bool) error
}
