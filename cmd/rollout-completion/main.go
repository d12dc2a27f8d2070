// Command rollout-completion checks whether a ralph deployment has
// been running cleanly long enough to declare a rollout complete,
// reading the same progress and ledger logs the scheduler writes
// during normal operation.
package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/ralph-dev/ralph/internal/config"
	"github.com/ralph-dev/ralph/internal/ledger"
	"github.com/ralph-dev/ralph/internal/progress"
	"github.com/ralph-dev/ralph/internal/statedir"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("Usage: rollout-completion <config-path>")
	}
	configPath := os.Args[1]

	if _, err := config.Load(configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	paths, err := statedir.Resolve(".")
	if err != nil {
		log.Fatalf("failed to resolve state directory: %v", err)
	}

	nullLogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	progLog := progress.New(paths.ProgressPath, nullLogger)
	events, err := progLog.Read()
	if err != nil {
		log.Fatalf("failed to read progress log: %v", err)
	}

	led := ledger.New(paths.TasksPath, nullLogger)
	ops, err := led.Read()
	if err != nil {
		log.Fatalf("failed to read ledger: %v", err)
	}
	state := ledger.Derive(ops)

	completion := checkCompletionCriteria(events, state)
	printCompletionReport(completion)

	if completion.OverallReady {
		os.Exit(0)
	}
	os.Exit(1)
}

type CompletionCriteria struct {
	Timestamp           time.Time         `json:"timestamp"`
	CleanWindow         bool              `json:"clean_window"`
	FailureRateStable   bool              `json:"failure_rate_stable"`
	ApprovalsQuiet      bool              `json:"approvals_quiet"`
	CriticalTasksClosed bool              `json:"critical_tasks_closed"`
	OverallReady        bool              `json:"overall_ready"`
	Details             CompletionDetails `json:"details"`
}

type CompletionDetails struct {
	FailuresLast24H       int               `json:"failures_last_24h"`
	FailuresLastHour      int               `json:"failures_last_hour"`
	ApprovalsLast24H      map[string]int    `json:"approvals_last_24h"`
	HighSeverityPatterns  []string          `json:"high_severity_patterns"`
	CriticalTaskStatus    map[string]string `json:"critical_task_status"`
}

func checkCompletionCriteria(events []progress.Event, state map[string]*ledger.Task) CompletionCriteria {
	now := time.Now()
	cutoff24h := now.Add(-24 * time.Hour)
	cutoff1h := now.Add(-time.Hour)

	completion := CompletionCriteria{
		Timestamp: now,
		Details: CompletionDetails{
			ApprovalsLast24H:   make(map[string]int),
			CriticalTaskStatus: make(map[string]string),
		},
	}

	violationCounts := make(map[string]int)
	for _, e := range events {
		switch e.Type {
		case progress.EventStatusChange:
			if e.Status != string(ledger.StatusBlocked) {
				continue
			}
			if e.Timestamp.After(cutoff24h) {
				completion.Details.FailuresLast24H++
			}
			if e.Timestamp.After(cutoff1h) {
				completion.Details.FailuresLastHour++
			}
		case progress.EventApprovalNeeded:
			if e.Timestamp.After(cutoff24h) {
				completion.Details.ApprovalsLast24H[e.ApprovalClass]++
			}
		case progress.EventPolicyViolation:
			if e.Timestamp.After(cutoff24h) {
				violationCounts[e.ViolationType]++
			}
		}
	}

	// Stable if fewer than 3 failures per hour sustained over 24h (72 total) and <3 in the last hour.
	completion.FailureRateStable = completion.Details.FailuresLast24H < 72 && completion.Details.FailuresLastHour < 3

	totalApprovals := 0
	for _, c := range completion.Details.ApprovalsLast24H {
		totalApprovals += c
	}
	// Quiet if <10 approval-required events in 24h and no single class >5.
	completion.ApprovalsQuiet = totalApprovals < 10
	for _, c := range completion.Details.ApprovalsLast24H {
		if c > 5 {
			completion.ApprovalsQuiet = false
			break
		}
	}

	for kind, count := range violationCounts {
		if count > 2 {
			completion.Details.HighSeverityPatterns = append(completion.Details.HighSeverityPatterns, fmt.Sprintf("%s(%d)", kind, count))
		}
	}
	completion.CleanWindow = len(completion.Details.HighSeverityPatterns) == 0

	allClosed := true
	for _, task := range state {
		if !hasTag(task.Tags, "critical") {
			continue
		}
		completion.Details.CriticalTaskStatus[task.ID] = string(task.Status)
		if task.Status != ledger.StatusDone {
			allClosed = false
		}
	}
	completion.CriticalTasksClosed = allClosed

	completion.OverallReady = completion.CleanWindow &&
		completion.FailureRateStable &&
		completion.ApprovalsQuiet &&
		completion.CriticalTasksClosed

	return completion
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func printCompletionReport(completion CompletionCriteria) {
	fmt.Printf("\n=== Rollout Completion Status - %s ===\n",
		completion.Timestamp.Format("2006-01-02 15:04:05"))

	if completion.OverallReady {
		fmt.Printf("ROLLOUT READY FOR COMPLETION\n\n")
	} else {
		fmt.Printf("ROLLOUT IN PROGRESS\n\n")
	}

	printCriterion("Clean Window", completion.CleanWindow,
		fmt.Sprintf("High-severity patterns: %v", completion.Details.HighSeverityPatterns))

	printCriterion("Failure Rate Stable", completion.FailureRateStable,
		fmt.Sprintf("Last 24h: %d failures, Last hour: %d failures",
			completion.Details.FailuresLast24H, completion.Details.FailuresLastHour))

	printCriterion("Approvals Quiet", completion.ApprovalsQuiet, formatApprovals(completion.Details.ApprovalsLast24H))

	printCriterion("Critical Tasks Closed", completion.CriticalTasksClosed, formatTaskStatus(completion.Details.CriticalTaskStatus))

	fmt.Printf("=== End Report ===\n\n")

	if !completion.OverallReady {
		fmt.Printf("Next steps:\n")
		if !completion.CleanWindow {
			fmt.Printf("  - continue monitoring for recurring policy violation patterns\n")
		}
		if !completion.FailureRateStable {
			fmt.Printf("  - address failure rate spikes before declaring completion\n")
		}
		if !completion.ApprovalsQuiet {
			fmt.Printf("  - investigate recurring approval-required events\n")
		}
		if !completion.CriticalTasksClosed {
			fmt.Printf("  - complete remaining tasks tagged 'critical'\n")
		}
		fmt.Printf("\n")
	}
}

func printCriterion(name string, passed bool, details string) {
	status := "FAIL"
	if passed {
		status = "PASS"
	}
	fmt.Printf("[%s] %s\n", status, name)
	if details != "" {
		fmt.Printf("   %s\n", details)
	}
	fmt.Printf("\n")
}

func formatApprovals(approvals map[string]int) string {
	if len(approvals) == 0 {
		return "no approval-required events"
	}
	var items []string
	for class, count := range approvals {
		items = append(items, fmt.Sprintf("%s: %d", class, count))
	}
	sort.Strings(items)
	return fmt.Sprintf("last 24h: %v", items)
}

func formatTaskStatus(tasks map[string]string) string {
	if len(tasks) == 0 {
		return "no tasks tagged 'critical'"
	}
	var items []string
	for id, status := range tasks {
		items = append(items, fmt.Sprintf("%s: %s", id, status))
	}
	sort.Strings(items)
	return fmt.Sprintf("status: %v", items)
}
