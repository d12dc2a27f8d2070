package git

import (
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

// Commit represents a git commit with metadata.
type Commit struct {
	Hash    string
	Message string
	Author  string
	Date    time.Time
	TaskIDs []string // task IDs extracted from the commit message
}

// parseCommitLines parses the "%H|%s|%an|%ai" format used by Log and
// GetRecentCommits.
func parseCommitLines(out string) ([]Commit, error) {
	trimmed := strings.TrimSpace(out)
	if trimmed == "" {
		return []Commit{}, nil
	}

	lines := strings.Split(trimmed, "\n")
	commits := make([]Commit, 0, len(lines))

	for _, line := range lines {
		if line == "" {
			continue
		}

		parts := strings.Split(line, "|")
		if len(parts) != 4 {
			continue
		}

		date, err := time.Parse("2006-01-02 15:04:05 -0700", parts[3])
		if err != nil {
			date, err = time.Parse("2006-01-02 15:04:05", parts[3])
			if err != nil {
				continue // Skip commits with unparseable dates
			}
		}

		commits = append(commits, Commit{
			Hash:    parts[0],
			Message: parts[1],
			Author:  parts[2],
			Date:    date,
			TaskIDs: ExtractTaskIDs(parts[1]),
		})
	}

	return commits, nil
}

// GetRecentCommits returns commits from the last N days.
func GetRecentCommits(workspace string, days int) ([]Commit, error) {
	since := fmt.Sprintf("--since=%d.days.ago", days)
	cmd := exec.Command("git", "log", since, "--pretty=format:%H|%s|%an|%ai", "--no-merges")
	cmd.Dir = workspace

	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("failed to get recent commits: %w (%s)", err, strings.TrimSpace(string(out)))
	}

	return parseCommitLines(string(out))
}

// ExtractTaskIDs finds task ID patterns in a commit message, e.g. the
// "{commitPrefix}{taskId}: {title}" format §6.4 mandates, plus any
// incidental task references elsewhere in the message.
// Matches patterns like: ralph-abc, ralph-abc.1, task-def.2.
func ExtractTaskIDs(message string) []string {
	pattern := `\b([a-zA-Z][a-zA-Z0-9]*(?:-[a-zA-Z0-9]+)+(?:\.[0-9]+)?)\b`
	re := regexp.MustCompile(pattern)

	matches := re.FindAllStringSubmatch(message, -1)
	taskIDs := make([]string, 0, len(matches))
	seen := make(map[string]bool)

	for _, match := range matches {
		if len(match) > 1 {
			taskID := match[1]
			if !isLikelyTaskID(taskID) {
				continue
			}
			if !seen[taskID] {
				taskIDs = append(taskIDs, taskID)
				seen[taskID] = true
			}
		}
	}

	return taskIDs
}

// isLikelyTaskID filters out common false positives.
func isLikelyTaskID(candidate string) bool {
	candidate = strings.ToLower(candidate)
	
	// Common false positives to exclude
	falsePositives := []string{
		"built-in", "sub-command", "non-zero", "up-to-date",
		"self-contained", "well-known", "user-defined", "real-time",
		"long-term", "short-term", "run-time", "full-time",
		"end-to-end", "one-time", "multi-step", "step-by-step",
		"co-author", "co-authored", "x-ray", "x-axis", "y-axis",
		"utf-8", "base64", "sha-256", "md5",
	}
	
	for _, fp := range falsePositives {
		if candidate == fp {
			return false
		}
	}
	
	// Must be at least 5 characters (e.g., "ab-cd")
	if len(candidate) < 5 {
		return false
	}
	
	// Should look like project-identifier pattern (can have multiple dashes)
	parts := strings.Split(candidate, "-")
	if len(parts) < 2 {
		return false
	}
	
	// First part should be at least 2 chars, last part at least 2 chars
	if len(parts[0]) < 2 || len(parts[len(parts)-1]) < 2 {
		return false
	}
	
	// All parts should be non-empty
	for _, part := range parts {
		if len(part) == 0 {
			return false
		}
	}
	
	return true
}

// GetCommitsWithTaskID returns commits that reference a specific task ID.
func GetCommitsWithTaskID(workspace, taskID string, days int) ([]Commit, error) {
	commits, err := GetRecentCommits(workspace, days)
	if err != nil {
		return nil, err
	}

	var matching []Commit
	for _, commit := range commits {
		for _, id := range commit.TaskIDs {
			if id == taskID {
				matching = append(matching, commit)
				break
			}
		}
	}

	return matching, nil
}

// GetAllTaskIDsFromCommits extracts all unique task IDs from recent commits.
func GetAllTaskIDsFromCommits(workspace string, days int) ([]string, error) {
	commits, err := GetRecentCommits(workspace, days)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var allTaskIDs []string

	for _, commit := range commits {
		for _, taskID := range commit.TaskIDs {
			if !seen[taskID] {
				allTaskIDs = append(allTaskIDs, taskID)
				seen[taskID] = true
			}
		}
	}

	return allTaskIDs, nil
}