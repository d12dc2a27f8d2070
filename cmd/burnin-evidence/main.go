// Command burnin-evidence computes SLO gates over a window of the
// progress log (state/progress.jsonl) and writes the result as JSON
// and Markdown evidence artifacts, the way an operator would check a
// deployment's health before widening its rollout.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ralph-dev/ralph/internal/progress"
)

type SLOGates struct {
	IterationErrorPctMax float64 `json:"iteration_error_pct_max"`
	ApprovalPctMax       float64 `json:"approval_pct_max"`
	PolicyViolationsMax  int     `json:"policy_violations_max"`
}

type BurninMetrics struct {
	WindowStart string `json:"window_start"`
	WindowEnd   string `json:"window_end"`
	Days        int    `json:"days"`

	TasksCompleted int            `json:"tasks_completed"`
	StatusCounts   map[string]int `json:"status_counts"`

	IterationErrors    int     `json:"iteration_errors"`
	IterationTotal     int     `json:"iteration_total"`
	IterationErrorPct  float64 `json:"iteration_error_pct"`

	ApprovalCount int     `json:"approval_count"`
	ApprovalPct   float64 `json:"approval_pct"`

	PolicyViolationCounts map[string]int `json:"policy_violation_counts"`
	PolicyViolationTotal  int            `json:"policy_violation_total"`
}

type BurninReport struct {
	GeneratedAt string          `json:"generated_at"`
	Mode        string          `json:"mode"` // daily|final
	Date        string          `json:"date"`
	Gates       SLOGates        `json:"gates"`
	Metrics     BurninMetrics   `json:"metrics"`
	GateResults map[string]bool `json:"gate_results,omitempty"`
	OverallPass bool            `json:"overall_pass,omitempty"`
}

func main() {
	var (
		progressPath = flag.String("progress", "state/progress.jsonl", "path to progress.jsonl")
		outDir       = flag.String("out", "artifacts/burnin", "output directory for evidence artifacts")
		dateStr      = flag.String("date", time.Now().Format("2006-01-02"), "anchor date (YYYY-MM-DD)")
		days         = flag.Int("days", 1, "window length in days (1 for daily; 7 for final)")
		mode         = flag.String("mode", "daily", "report mode: daily|final")
	)
	flag.Parse()

	date, err := time.Parse("2006-01-02", *dateStr)
	if err != nil {
		die("invalid --date: %v", err)
	}
	if *mode != "daily" && *mode != "final" {
		die("invalid --mode %q (expected daily|final)", *mode)
	}
	if *days <= 0 {
		die("--days must be > 0")
	}

	log := progress.New(*progressPath, slog.Default())
	events, err := log.Read()
	if err != nil {
		die("read progress log: %v", err)
	}

	start := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -(*days-1))
	end := time.Date(date.Year(), date.Month(), date.Day(), 23, 59, 59, 0, time.UTC)

	metrics := collectMetrics(events, start, end)

	gates := SLOGates{IterationErrorPctMax: 5.0, ApprovalPctMax: 20.0, PolicyViolationsMax: 10}
	report := BurninReport{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Mode:        *mode,
		Date:        *dateStr,
		Gates:       gates,
		Metrics:     metrics,
	}

	if *mode == "final" || *days >= 7 {
		report.GateResults = map[string]bool{
			"iteration_error_pct": metrics.IterationErrorPct <= gates.IterationErrorPctMax,
			"approval_pct":        metrics.ApprovalPct <= gates.ApprovalPctMax,
			"policy_violations":   metrics.PolicyViolationTotal <= gates.PolicyViolationsMax,
		}
		report.OverallPass = report.GateResults["iteration_error_pct"] && report.GateResults["approval_pct"] && report.GateResults["policy_violations"]
	}

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		die("mkdir out dir: %v", err)
	}

	base := fmt.Sprintf("burnin-%s-%s", *mode, *dateStr)
	jsonPath := filepath.Join(*outDir, base+".json")
	mdPath := filepath.Join(*outDir, base+".md")

	if err := writeJSON(jsonPath, report); err != nil {
		die("write json: %v", err)
	}
	if err := os.WriteFile(mdPath, []byte(renderMarkdown(report)), 0o644); err != nil {
		die("write markdown: %v", err)
	}

	fmt.Printf("burn-in evidence written:\n- %s\n- %s\n", jsonPath, mdPath)
}

func collectMetrics(events []progress.Event, start, end time.Time) BurninMetrics {
	m := BurninMetrics{
		WindowStart:           start.Format(time.RFC3339),
		WindowEnd:             end.Format(time.RFC3339),
		Days:                  int(end.Sub(start).Hours()/24) + 1,
		StatusCounts:          make(map[string]int),
		PolicyViolationCounts: make(map[string]int),
	}

	for _, e := range events {
		if e.Timestamp.Before(start) || e.Timestamp.After(end) {
			continue
		}
		switch e.Type {
		case progress.EventTaskCompleted:
			m.TasksCompleted++
		case progress.EventStatusChange:
			m.StatusCounts[e.Status]++
		case progress.EventIteration:
			m.IterationTotal++
			if e.Result == "error" {
				m.IterationErrors++
			}
		case progress.EventApprovalNeeded:
			m.ApprovalCount++
		case progress.EventPolicyViolation:
			m.PolicyViolationCounts[e.ViolationType]++
			m.PolicyViolationTotal++
		}
	}

	if m.IterationTotal > 0 {
		m.IterationErrorPct = 100 * float64(m.IterationErrors) / float64(m.IterationTotal)
	}
	if m.TasksCompleted > 0 {
		m.ApprovalPct = 100 * float64(m.ApprovalCount) / float64(m.TasksCompleted)
	}

	return m
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func renderMarkdown(r BurninReport) string {
	var sb strings.Builder
	sb.WriteString("# Ralph Burn-in Evidence\n\n")
	sb.WriteString(fmt.Sprintf("- Generated: `%s`\n", r.GeneratedAt))
	sb.WriteString(fmt.Sprintf("- Mode: `%s`\n", r.Mode))
	sb.WriteString(fmt.Sprintf("- Date: `%s`\n", r.Date))
	sb.WriteString("\n## Window\n")
	sb.WriteString(fmt.Sprintf("- Start: `%s`\n- End: `%s`\n- Days: `%d`\n", r.Metrics.WindowStart, r.Metrics.WindowEnd, r.Metrics.Days))

	sb.WriteString("\n## Core Metrics\n")
	sb.WriteString(fmt.Sprintf("- Tasks completed: **%d**\n", r.Metrics.TasksCompleted))
	sb.WriteString(fmt.Sprintf("- Iteration errors: **%d** / %d (**%.2f%%**)\n", r.Metrics.IterationErrors, r.Metrics.IterationTotal, r.Metrics.IterationErrorPct))
	sb.WriteString(fmt.Sprintf("- Approval-required events: **%d** (**%.2f%%** of completions)\n", r.Metrics.ApprovalCount, r.Metrics.ApprovalPct))
	sb.WriteString(fmt.Sprintf("- Policy violation total: **%d**\n", r.Metrics.PolicyViolationTotal))

	sb.WriteString("\n## Status Breakdown\n")
	statuses := make([]string, 0, len(r.Metrics.StatusCounts))
	for k := range r.Metrics.StatusCounts {
		statuses = append(statuses, k)
	}
	sort.Strings(statuses)
	for _, k := range statuses {
		sb.WriteString(fmt.Sprintf("- %s: %d\n", k, r.Metrics.StatusCounts[k]))
	}

	sb.WriteString("\n## Policy Violation Breakdown\n")
	kinds := make([]string, 0, len(r.Metrics.PolicyViolationCounts))
	for k := range r.Metrics.PolicyViolationCounts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		sb.WriteString(fmt.Sprintf("- %s: %d\n", k, r.Metrics.PolicyViolationCounts[k]))
	}

	if len(r.GateResults) > 0 {
		sb.WriteString("\n## 7-Day Gate Evaluation\n")
		sb.WriteString(fmt.Sprintf("- Iteration errors <= %.2f%%: **%v**\n", r.Gates.IterationErrorPctMax, r.GateResults["iteration_error_pct"]))
		sb.WriteString(fmt.Sprintf("- Approval rate <= %.2f%%: **%v**\n", r.Gates.ApprovalPctMax, r.GateResults["approval_pct"]))
		sb.WriteString(fmt.Sprintf("- Policy violations <= %d: **%v**\n", r.Gates.PolicyViolationsMax, r.GateResults["policy_violations"]))
		sb.WriteString(fmt.Sprintf("\n**Overall Pass:** `%v`\n", r.OverallPass))
	}
	return sb.String()
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
