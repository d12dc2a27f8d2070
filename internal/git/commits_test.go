package git

import (
	"reflect"
	"testing"
	"time"
)

func TestExtractTaskIDs(t *testing.T) {
	tests := []struct {
		name     string
		message  string
		expected []string
	}{
		{
			name:     "simple task ID",
			message:  "fix(ralph-abc): implement new feature",
			expected: []string{"ralph-abc"},
		},
		{
			name:     "task ID with number suffix",
			message:  "feat(ralph-abc.1): add tests for feature",
			expected: []string{"ralph-abc.1"},
		},
		{
			name:     "multiple task IDs",
			message:  "fix ralph-abc and ralph-def.2 issues",
			expected: []string{"ralph-abc", "ralph-def.2"},
		},
		{
			name:     "task ID in middle of message",
			message:  "Updated implementation for ralph-xyz according to requirements",
			expected: []string{"ralph-xyz"},
		},
		{
			name:     "no task IDs",
			message:  "general refactoring and cleanup",
			expected: []string{},
		},
		{
			name:     "false positives filtered out",
			message:  "built-in function and non-zero values with utf-8 encoding",
			expected: []string{},
		},
		{
			name:     "edge case short IDs filtered",
			message:  "fix a-b issue",
			expected: []string{},
		},
		{
			name:     "project with numbers",
			message:  "implement hg-website-123.5 feature",
			expected: []string{"hg-website-123.5"},
		},
		{
			name:     "conventional commit format",
			message:  "feat(project-abc): closes project-abc with implementation",
			expected: []string{"project-abc"},
		},
		{
			name:     "duplicate task IDs deduplicated",
			message:  "fix ralph-xyz issue and update ralph-xyz tests for ralph-xyz",
			expected: []string{"ralph-xyz"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ExtractTaskIDs(tt.message)
			if !reflect.DeepEqual(result, tt.expected) {
				t.Errorf("ExtractTaskIDs() = %v, expected %v", result, tt.expected)
			}
		})
	}
}

func TestIsLikelyTaskID(t *testing.T) {
	tests := []struct {
		name      string
		candidate string
		expected  bool
	}{
		{name: "valid task ID", candidate: "ralph-abc", expected: true},
		{name: "valid task ID with numbers", candidate: "project-123", expected: true},
		{name: "valid task ID with suffix", candidate: "ralph-abc.1", expected: true},
		{name: "too short", candidate: "a-b", expected: false},
		{name: "false positive - built-in", candidate: "built-in", expected: false},
		{name: "false positive - utf-8", candidate: "utf-8", expected: false},
		{name: "false positive - non-zero", candidate: "non-zero", expected: false},
		{name: "no dash", candidate: "ralph", expected: false},
		{name: "first part too short", candidate: "a-ralph", expected: false},
		{name: "second part too short", candidate: "ralph-a", expected: false},
		{name: "case insensitive false positive", candidate: "BUILT-IN", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := isLikelyTaskID(tt.candidate)
			if result != tt.expected {
				t.Errorf("isLikelyTaskID(%q) = %v, expected %v", tt.candidate, result, tt.expected)
			}
		})
	}
}

func TestCommitTaskIDs(t *testing.T) {
	commit := Commit{
		Hash:    "abc123",
		Message: "feat(ralph-xyz): implement feature for ralph-abc.1",
		Author:  "test@example.com",
		Date:    time.Now(),
	}

	commit.TaskIDs = ExtractTaskIDs(commit.Message)

	expected := []string{"ralph-xyz", "ralph-abc.1"}
	if !reflect.DeepEqual(commit.TaskIDs, expected) {
		t.Errorf("Commit.TaskIDs = %v, expected %v", commit.TaskIDs, expected)
	}
}

func TestParseCommitLines(t *testing.T) {
	raw := "abc123def456|feat(ralph-xyz): implement feature|John Doe|2024-01-15 10:30:00 -0500"

	commits, err := parseCommitLines(raw)
	if err != nil {
		t.Fatalf("parseCommitLines: %v", err)
	}
	if len(commits) != 1 {
		t.Fatalf("expected 1 commit, got %d", len(commits))
	}
	if commits[0].Hash != "abc123def456" {
		t.Errorf("unexpected hash: %s", commits[0].Hash)
	}
	expected := []string{"ralph-xyz"}
	if !reflect.DeepEqual(commits[0].TaskIDs, expected) {
		t.Errorf("TaskIDs = %v, expected %v", commits[0].TaskIDs, expected)
	}
}

func TestParseCommitLinesSkipsBlankInput(t *testing.T) {
	commits, err := parseCommitLines("   \n  ")
	if err != nil {
		t.Fatalf("parseCommitLines: %v", err)
	}
	if len(commits) != 0 {
		t.Fatalf("expected no commits for blank input, got %d", len(commits))
	}
}
