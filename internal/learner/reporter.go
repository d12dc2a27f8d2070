package learner

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

// Reporter formats an analysis Report into a human-readable digest and
// delivers it to the one concrete notification channel this repo
// supports: console output plus structured logging (per §1's
// Non-goals — no Matrix/chat dispatch here, unlike the teacher's
// Reporter). The strings.Builder digest-formatting idiom itself is
// kept from the teacher's reporter.go; the dispatch mechanics are not.
type Reporter struct {
	logger *slog.Logger
}

// NewReporter creates a Reporter that logs through logger.
func NewReporter(logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{logger: logger}
}

// FormatDigest renders a Report as a markdown-ish text digest, in the
// shape of the teacher's daily digest messages.
func FormatDigest(report *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Learning Digest — %s\n\n", report.GeneratedAt.Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "- **Tasks analyzed:** %d\n", report.TotalTasks)
	fmt.Fprintf(&b, "- **Mean duration:** %.0fms\n", report.Aggregate.MeanDurationMS)
	fmt.Fprintf(&b, "- **Estimate accuracy:** %.0f%%\n", report.Aggregate.EstimateAccuracy*100)
	fmt.Fprintf(&b, "- **Bug count:** %d\n", report.Aggregate.BugCount)

	if len(report.Patterns) == 0 {
		fmt.Fprintf(&b, "\nNo patterns met the confidence threshold this cycle.\n")
	} else {
		fmt.Fprintf(&b, "\n### Patterns\n\n")
		for _, p := range report.Patterns {
			fmt.Fprintf(&b, "- [%s] %s (confidence %.2f)\n", p.Type, p.Description, p.Confidence)
		}
	}

	if len(report.Proposals) == 0 {
		fmt.Fprintf(&b, "\nNo improvement proposals this cycle.\n")
	} else {
		fmt.Fprintf(&b, "\n### Proposals\n\n")
		for _, p := range report.Proposals {
			fmt.Fprintf(&b, "- [%s/%s] %s -> %s\n", p.Target, p.Priority, p.Change, p.Section)
		}
	}

	return b.String()
}

// Publish writes the digest to w and logs a summary line — the
// console-plus-structured-logging channel named in §1's Non-goals.
// diff, if non-empty, is appended as a "Recent Changes" section;
// callers truncate it first (e.g. via internal/git.TruncateDiff) so
// one noisy working tree can't blow up the digest.
func (r *Reporter) Publish(w io.Writer, report *Report, diff string) error {
	digest := FormatDigest(report)
	if diff != "" {
		digest += fmt.Sprintf("\n### Recent Changes\n\n```diff\n%s\n```\n", diff)
	}
	if _, err := io.WriteString(w, digest); err != nil {
		return fmt.Errorf("learner: write digest: %w", err)
	}
	r.logger.Info("learner: published digest",
		"tasks", report.TotalTasks,
		"patterns", len(report.Patterns),
		"proposals", len(report.Proposals),
		"generated_at", report.GeneratedAt.Format(time.RFC3339))
	return nil
}
