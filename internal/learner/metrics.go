package learner

import (
	"time"

	"github.com/ralph-dev/ralph/internal/ledger"
)

// ExecContext supplements a completed ledger.Task with execution detail
// the ledger itself doesn't carry (commits, file churn, why a task
// stalled) — the scheduler's executor façade accumulates this over one
// task attempt and hands it to RecordTaskMetrics at completion.
type ExecContext struct {
	Commits      int
	FilesChanged int
	LinesChanged int
	Blockers     []string
}

// TaskMetrics is one completed task's measurements, per §4.6.
type TaskMetrics struct {
	TaskID     string
	Type       ledger.TaskType
	Complexity *ledger.Complexity
	Aggregate  string
	Domain     string
	Tags       []string

	DurationMS   int64
	DurationDays float64

	Estimate      *float64
	Actual        float64
	EstimateRatio *float64 // Actual / Estimate, nil if no estimate

	Commits      int
	FilesChanged int
	LinesChanged int
	Blockers     int

	Success bool
}

// RecordTaskMetrics computes TaskMetrics for a completed task. Actual
// prefers task.Actual (iterations recorded by the scheduler); it falls
// back to execCtx.Commits when the task carries no actual, per §4.6's
// "prefer task.actual, else execContext.iterations" rule (commits are
// this repo's nearest equivalent of iteration count outside the
// ledger).
func RecordTaskMetrics(task *ledger.Task, execCtx ExecContext, success bool) TaskMetrics {
	m := TaskMetrics{
		TaskID:       task.ID,
		Type:         task.Type,
		Complexity:   task.Complexity,
		Aggregate:    task.Aggregate,
		Domain:       task.Domain,
		Tags:         append([]string(nil), task.Tags...),
		Commits:      execCtx.Commits,
		FilesChanged: execCtx.FilesChanged,
		LinesChanged: execCtx.LinesChanged,
		Blockers:     len(execCtx.Blockers),
		Success:      success,
	}

	if task.CompletedAt != nil {
		d := task.CompletedAt.Sub(task.CreatedAt)
		m.DurationMS = d.Milliseconds()
		m.DurationDays = d.Hours() / 24
	}

	if task.Actual != nil {
		m.Actual = *task.Actual
	} else {
		m.Actual = float64(execCtx.Commits)
	}

	if task.Estimate != nil {
		v := *task.Estimate
		m.Estimate = &v
		if v != 0 {
			ratio := m.Actual / v
			m.EstimateRatio = &ratio
		}
	}

	return m
}

// AggregateMetrics summarizes a period's worth of TaskMetrics, per
// §4.6's aggregation table.
type AggregateMetrics struct {
	PeriodStart time.Time
	PeriodEnd   time.Time

	Volume           int
	MeanDurationMS   float64
	MedianDurationMS float64
	MeanIterations   float64
	TotalCommits     int
	TotalFilesChanged int
	MeanEstimateRatio float64
	EstimateAccuracy  float64 // pct of tasks with 0.8 <= ratio <= 1.2
	BugCount          int

	ByType       map[ledger.TaskType]int
	ByAggregate  map[string]int
	ByComplexity map[ledger.Complexity]int
}

// AggregatePeriod computes AggregateMetrics over one window of
// TaskMetrics.
func AggregatePeriod(metrics []TaskMetrics, start, end time.Time) AggregateMetrics {
	agg := AggregateMetrics{
		PeriodStart:  start,
		PeriodEnd:    end,
		ByType:       map[ledger.TaskType]int{},
		ByAggregate:  map[string]int{},
		ByComplexity: map[ledger.Complexity]int{},
	}
	if len(metrics) == 0 {
		return agg
	}

	agg.Volume = len(metrics)
	durations := make([]float64, 0, len(metrics))
	var sumDuration, sumActual, sumRatio float64
	var ratioCount, inRangeCount int

	for _, m := range metrics {
		durations = append(durations, float64(m.DurationMS))
		sumDuration += float64(m.DurationMS)
		sumActual += m.Actual
		agg.TotalCommits += m.Commits
		agg.TotalFilesChanged += m.FilesChanged
		agg.ByType[m.Type]++
		if m.Aggregate != "" {
			agg.ByAggregate[m.Aggregate]++
		}
		if m.Complexity != nil {
			agg.ByComplexity[*m.Complexity]++
		}
		if m.Type == ledger.TypeBug {
			agg.BugCount++
		}
		if m.EstimateRatio != nil {
			sumRatio += *m.EstimateRatio
			ratioCount++
			if *m.EstimateRatio >= 0.8 && *m.EstimateRatio <= 1.2 {
				inRangeCount++
			}
		}
	}

	agg.MeanDurationMS = sumDuration / float64(len(metrics))
	agg.MeanIterations = sumActual / float64(len(metrics))
	agg.MedianDurationMS = median(durations)
	if ratioCount > 0 {
		agg.MeanEstimateRatio = sumRatio / float64(ratioCount)
		agg.EstimateAccuracy = float64(inRangeCount) / float64(ratioCount)
	}

	return agg
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
