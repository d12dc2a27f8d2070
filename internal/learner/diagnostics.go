package learner

import "strings"

// FailureDiagnosis is a classified failure extracted from captured
// sandbox output. The agent runner folds a diagnosis's category and
// summary into a failed iteration's reason, which the scheduler passes
// on as ExecContext.Blockers; the failure_mode detector counts blocked
// or failed tasks per aggregate and does not read the category.
type FailureDiagnosis struct {
	Category string // compile_error, test_failure, timeout, rate_limited, permission_denied, unknown
	Summary  string // the matching line
	Details  string // a few lines of surrounding context
}

var failureCategories = []struct {
	category string
	matchers []string
}{
	{category: "test_failure", matchers: []string{"FAIL", "FAILED", "--- FAIL"}},
	{category: "compile_error", matchers: []string{"cannot find package", "undefined:", "cannot find module"}},
	{category: "permission_denied", matchers: []string{"permission denied", "Permission denied"}},
	{category: "rate_limited", matchers: []string{"rate limit", "429", "Too Many Requests"}},
	{category: "timeout", matchers: []string{"context deadline exceeded", "context canceled"}},
	{category: "unknown", matchers: []string{"error:", "Error:"}},
}

// DiagnoseFailure scans captured sandbox output for known failure
// patterns, in priority order, and returns the first match. Returns
// nil if nothing recognizable was found.
func DiagnoseFailure(output string) *FailureDiagnosis {
	if output == "" {
		return nil
	}
	lines := strings.Split(output, "\n")

	for _, pattern := range failureCategories {
		for i, line := range lines {
			matched := false
			for _, matcher := range pattern.matchers {
				if strings.Contains(line, matcher) {
					matched = true
					break
				}
			}
			if !matched {
				continue
			}

			start := i - 2
			if start < 0 {
				start = 0
			}
			end := i + 3
			if end > len(lines) {
				end = len(lines)
			}

			return &FailureDiagnosis{
				Category: pattern.category,
				Summary:  strings.TrimSpace(line),
				Details:  strings.TrimSpace(strings.Join(lines[start:end], "\n")),
			}
		}
	}
	return nil
}
