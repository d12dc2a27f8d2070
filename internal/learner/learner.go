// Package learner implements the Learning Analyzer (§4.6): it folds
// completed-task metrics into periodic aggregates, runs pattern
// detectors over the fold, and turns surviving patterns into
// improvement proposals against the agent instruction docs.
package learner

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ralph-dev/ralph/internal/ledger"
)

// Report is the output of one analysis cycle, mirroring the shape of
// the teacher's own LearnerReport but built from this repo's
// task-metric/pattern/proposal types instead of dispatch-history SQL
// rows.
type Report struct {
	GeneratedAt     time.Time        `json:"generated_at"`
	TotalTasks      int              `json:"total_tasks"`
	Aggregate       AggregateMetrics `json:"aggregate"`
	Patterns        []Pattern        `json:"patterns"`
	Proposals       []Proposal       `json:"proposals"`
	ProposalSummary string           `json:"proposal_summary"`
}

// LogEntry is a timestamped audit-trail line produced while analyzing,
// independent of the persisted Event log — it exists purely to explain
// to an operator what one Analyze call did and why.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Category  string    `json:"category"` // analysis, pattern, proposal, error
	Message   string    `json:"message"`
}

// Analyzer runs one analysis cycle: fold state -> metrics -> patterns
// -> proposals, persisting each stage to the learning log and the
// derived index as it goes.
type Analyzer struct {
	Log           *Log
	Index         *Index // may be nil; the index is a cache, not a dependency
	MinConfidence float64
	MinSamples    int
	Logger        *slog.Logger
}

// Analyze runs one learning cycle over the given task state (the
// ledger's derived fold) and the learning log's prior task_completed
// events, persists newly detected patterns and proposals to the log,
// and rebuilds the derived index when one is configured.
func (a *Analyzer) Analyze(tasks map[string]*ledger.Task, now func() time.Time) (*Report, []LogEntry, error) {
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var trail []LogEntry
	logf := func(cat, format string, args ...any) {
		entry := LogEntry{Timestamp: now(), Category: cat, Message: fmt.Sprintf(format, args...)}
		trail = append(trail, entry)
		logger.Info("learner: "+entry.Message, "category", cat)
	}

	logf("analysis", "starting learning analysis cycle")

	events, err := a.Log.Read()
	if err != nil {
		logf("error", "failed to read learning log: %v", err)
		return nil, trail, fmt.Errorf("learner: read log: %w", err)
	}
	metrics := TaskMetricsFromEvents(events)
	logf("analysis", "folded %d prior task_completed events", len(metrics))

	periodEnd := now()
	periodStart := periodEnd.Add(-7 * 24 * time.Hour)
	agg := AggregatePeriod(metrics, periodStart, periodEnd)
	logf("analysis", "period volume=%d meanDurationMs=%.0f estimateAccuracy=%.0f%%",
		agg.Volume, agg.MeanDurationMS, agg.EstimateAccuracy*100)

	detectorCtx := DetectorContext{
		Metrics:    metrics,
		Aggregates: []AggregateMetrics{agg},
		Tasks:      tasks,
		MinSamples: a.MinSamples,
	}
	patterns := RunDetectors(detectorCtx, a.MinConfidence)
	for _, p := range patterns {
		pat := p
		logf("pattern", "[%s] %s (confidence %.2f)", p.Type, p.Description, p.Confidence)
		if err := a.Log.Append(Event{Kind: EventPatternDetected, Timestamp: now(), Pattern: &pat}); err != nil {
			logf("error", "failed to persist pattern %s: %v", p.Type, err)
		}
	}

	proposals, summary := GenerateImprovements(patterns, &agg)
	if err := SaveProposals(a.Log, proposals, now); err != nil {
		logf("error", "failed to persist proposals: %v", err)
	}
	for _, p := range proposals {
		logf("proposal", "[%s/%s] %s", p.Target, p.Priority, p.Change)
	}

	if a.Index != nil {
		allEvents, err := a.Log.Read()
		if err != nil {
			logf("error", "failed to reread log for index rebuild: %v", err)
		} else if err := a.Index.Rebuild(TaskMetricsFromEvents(allEvents)); err != nil {
			logf("error", "failed to rebuild index: %v", err)
		} else {
			logf("analysis", "rebuilt derived index")
		}
	}

	logf("analysis", "analysis complete: %d tasks, %d patterns, %d proposals",
		len(metrics), len(patterns), len(proposals))

	report := &Report{
		GeneratedAt:     periodEnd,
		TotalTasks:      len(metrics),
		Aggregate:       agg,
		Patterns:        patterns,
		Proposals:       proposals,
		ProposalSummary: summary,
	}
	return report, trail, nil
}
