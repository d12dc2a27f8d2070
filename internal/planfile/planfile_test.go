package planfile

import (
	"strings"
	"testing"

	"github.com/ralph-dev/ralph/internal/ledger"
)

const samplePlan = `# Release Plan

## Add retry queue

Implements a durable retry queue for failed sends.
complexity: moderate
estimate: 3.5

- [ ] wire queue into dispatcher
- [ ] add metrics counter
type: bug

## Fix flaky health check

tags: infra, urgent
`

func TestParseHeadingsAndChecklist(t *testing.T) {
	tasks, err := Parse(strings.NewReader(samplePlan))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(tasks) != 4 {
		t.Fatalf("expected 4 candidates, got %d: %+v", len(tasks), tasks)
	}

	top := tasks[0]
	if top.Title != "Add retry queue" || top.Type != ledger.TypeFeature {
		t.Fatalf("unexpected top task: %+v", top)
	}
	if top.Complexity == nil || *top.Complexity != ledger.ComplexityModerate {
		t.Fatalf("expected complexity moderate, got %+v", top.Complexity)
	}
	if top.Estimate == nil || *top.Estimate != 3.5 {
		t.Fatalf("expected estimate 3.5, got %+v", top.Estimate)
	}
	if !strings.Contains(top.Description, "durable retry queue") {
		t.Fatalf("expected description to retain body text, got %q", top.Description)
	}

	sub1, sub2 := tasks[1], tasks[2]
	if sub1.Title != "wire queue into dispatcher" || sub1.ParentTitle != "Add retry queue" {
		t.Fatalf("unexpected subtask 1: %+v", sub1)
	}
	if sub2.Title != "add metrics counter" || sub2.ParentTitle != "Add retry queue" {
		t.Fatalf("unexpected subtask 2: %+v", sub2)
	}
	if sub2.Type != ledger.TaskType("bug") {
		t.Fatalf("expected annotation to retype subtask 2 as bug, got %q", sub2.Type)
	}

	last := tasks[3]
	if last.Title != "Fix flaky health check" {
		t.Fatalf("unexpected last task: %+v", last)
	}
	if len(last.Tags) != 2 || last.Tags[0] != "infra" || last.Tags[1] != "urgent" {
		t.Fatalf("unexpected tags: %+v", last.Tags)
	}
}

func TestParseInvalidEstimateErrors(t *testing.T) {
	_, err := Parse(strings.NewReader("## A task\nestimate: not-a-number\n"))
	if err == nil {
		t.Fatal("expected error for invalid estimate")
	}
}

func TestDiffExcludesExistingTitles(t *testing.T) {
	candidates := []CandidateTask{{Title: "Add retry queue"}, {Title: "Fix flaky health check"}}
	existing := map[string]struct{}{"add retry queue": {}}

	remaining := Diff(candidates, existing)
	if len(remaining) != 1 || remaining[0].Title != "Fix flaky health check" {
		t.Fatalf("unexpected diff result: %+v", remaining)
	}
}

func TestExistingTitleSetIsCaseInsensitive(t *testing.T) {
	state := map[string]*ledger.Task{
		"t1": {Title: "Add Retry Queue"},
	}
	set := ExistingTitleSet(state)
	if _, ok := set["add retry queue"]; !ok {
		t.Fatalf("expected lowercased title in set, got %+v", set)
	}
}
