package ledger

import (
	"testing"
	"time"
)

func mustTime(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func createOp(id string, status Status, createdAt time.Time, blockedBy ...string) TaskOperation {
	return TaskOperation{
		Kind:      OpCreate,
		Timestamp: createdAt,
		Task: &Task{
			ID:        id,
			Type:      TypeTask,
			Status:    status,
			Title:     id,
			CreatedAt: createdAt,
			UpdatedAt: createdAt,
			BlockedBy: blockedBy,
		},
	}
}

func updateOp(id string, ts time.Time, changes map[string]any) TaskOperation {
	return TaskOperation{Kind: OpUpdate, Timestamp: ts, ID: id, Changes: changes}
}

func TestDeriveUnknownIDNeverGrowsState(t *testing.T) {
	ops := []TaskOperation{
		updateOp("ghost", mustTime("2026-01-01"), map[string]any{"status": "done"}),
		{Kind: OpLink, Timestamp: mustTime("2026-01-01"), ID: "ghost", ExternalID: "X-1"},
		{Kind: OpRelate, Timestamp: mustTime("2026-01-01"), ID: "ghost", RelationKind: RelationBlocks, TargetID: "other"},
	}
	state := Derive(ops)
	if len(state) != 0 {
		t.Fatalf("expected empty state, got %d entries", len(state))
	}
}

func TestDeriveLaterCreateOverwrites(t *testing.T) {
	t1 := createOp("T", StatusPending, mustTime("2026-01-01"))
	t1.Task.Title = "first"
	t2 := createOp("T", StatusDone, mustTime("2026-01-02"))
	t2.Task.Title = "second"

	state := Derive([]TaskOperation{t1, t2})
	got := state["T"]
	if got.Title != "second" || got.Status != StatusDone {
		t.Fatalf("expected overwritten record, got %+v", got)
	}
}

func TestDeriveUpdateMergesShallow(t *testing.T) {
	ops := []TaskOperation{
		createOp("T1", StatusPending, mustTime("2026-01-01")),
		updateOp("T1", mustTime("2026-01-02"), map[string]any{"status": "in_progress"}),
	}
	state := Derive(ops)
	task := state["T1"]
	if task.Status != StatusInProgress {
		t.Fatalf("expected in_progress, got %s", task.Status)
	}
	if !task.UpdatedAt.Equal(mustTime("2026-01-02")) {
		t.Fatalf("expected updatedAt to track op timestamp, got %v", task.UpdatedAt)
	}
	if task.Title != "T1" {
		t.Fatalf("update must not clobber untouched fields, got title %q", task.Title)
	}
}

func TestDeriveDeterministicAndIdempotent(t *testing.T) {
	ops := []TaskOperation{
		createOp("T1", StatusPending, mustTime("2026-01-01")),
		createOp("T2", StatusPending, mustTime("2026-01-02"), "T1"),
		updateOp("T1", mustTime("2026-01-03"), map[string]any{"status": "done"}),
	}
	first := Derive(ops)
	second := Derive(ops)
	if len(first) != len(second) {
		t.Fatalf("non-deterministic derive: %d vs %d entries", len(first), len(second))
	}
	for id, task := range first {
		other, ok := second[id]
		if !ok || other.Status != task.Status || other.Title != task.Title {
			t.Fatalf("derive not idempotent for %s", id)
		}
	}
}

func TestIsBlockedEmptyNeverBlocks(t *testing.T) {
	task := &Task{ID: "T1"}
	if IsBlocked(task, map[string]*Task{}) {
		t.Fatal("task with no blockedBy must never be blocked")
	}
}

func TestIsBlockedOnlyClosedBlockersNeverBlocks(t *testing.T) {
	task := &Task{ID: "T2", BlockedBy: []string{"T1"}}
	state := map[string]*Task{
		"T1": {ID: "T1", Status: StatusDone},
	}
	if IsBlocked(task, state) {
		t.Fatal("blocker resolved to done must not block")
	}
}

func TestIsBlockedLiveBlockerBlocks(t *testing.T) {
	task := &Task{ID: "T2", BlockedBy: []string{"T1"}}
	state := map[string]*Task{
		"T1": {ID: "T1", Status: StatusInProgress},
	}
	if !IsBlocked(task, state) {
		t.Fatal("blocker still open must block")
	}
}

func TestIsBlockedDanglingReferenceDoesNotBlock(t *testing.T) {
	task := &Task{ID: "T2", BlockedBy: []string{"ghost"}}
	if IsBlocked(task, map[string]*Task{}) {
		t.Fatal("dangling blocker reference must not block")
	}
}
