package learner

import (
	"testing"
	"time"

	"github.com/ralph-dev/ralph/internal/ledger"
)

func TestRecordTaskMetricsDurationAndRatio(t *testing.T) {
	created := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	completed := created.Add(3 * time.Hour)
	estimate := 2.0
	actual := 3.0
	task := &ledger.Task{
		ID:          "t1",
		Type:        ledger.TypeFeature,
		Aggregate:   "billing",
		CreatedAt:   created,
		CompletedAt: &completed,
		Estimate:    &estimate,
		Actual:      &actual,
	}

	m := RecordTaskMetrics(task, ExecContext{Commits: 5, FilesChanged: 2}, true)

	if m.DurationMS != (3 * time.Hour).Milliseconds() {
		t.Fatalf("unexpected duration: %d", m.DurationMS)
	}
	if m.Actual != 3.0 {
		t.Fatalf("expected actual from task.Actual, got %f", m.Actual)
	}
	if m.EstimateRatio == nil || *m.EstimateRatio != 1.5 {
		t.Fatalf("expected ratio 1.5, got %v", m.EstimateRatio)
	}
	if !m.Success {
		t.Fatal("expected success true")
	}
}

func TestRecordTaskMetricsFallsBackToCommitsForActual(t *testing.T) {
	task := &ledger.Task{ID: "t2", Type: ledger.TypeBug, CreatedAt: time.Now()}
	m := RecordTaskMetrics(task, ExecContext{Commits: 4}, false)
	if m.Actual != 4 {
		t.Fatalf("expected actual to fall back to commits, got %f", m.Actual)
	}
	if m.EstimateRatio != nil {
		t.Fatal("expected nil ratio with no estimate")
	}
}

func TestRecordTaskMetricsNoEstimateRatioOnZeroEstimate(t *testing.T) {
	estimate := 0.0
	task := &ledger.Task{ID: "t3", CreatedAt: time.Now(), Estimate: &estimate}
	m := RecordTaskMetrics(task, ExecContext{}, true)
	if m.EstimateRatio != nil {
		t.Fatal("expected nil ratio when estimate is zero")
	}
}

func TestAggregatePeriodComputesMeansAndAccuracy(t *testing.T) {
	ratio1, ratio2, ratio3 := 1.0, 0.9, 3.0
	metrics := []TaskMetrics{
		{TaskID: "a", Type: ledger.TypeFeature, Aggregate: "x", DurationMS: 1000, Actual: 1, EstimateRatio: &ratio1},
		{TaskID: "b", Type: ledger.TypeBug, Aggregate: "x", DurationMS: 2000, Actual: 2, EstimateRatio: &ratio2},
		{TaskID: "c", Type: ledger.TypeFeature, Aggregate: "y", DurationMS: 3000, Actual: 3, EstimateRatio: &ratio3},
	}
	start := time.Now().Add(-time.Hour)
	end := time.Now()

	agg := AggregatePeriod(metrics, start, end)

	if agg.Volume != 3 {
		t.Fatalf("expected volume 3, got %d", agg.Volume)
	}
	if agg.MeanDurationMS != 2000 {
		t.Fatalf("expected mean duration 2000, got %f", agg.MeanDurationMS)
	}
	if agg.MedianDurationMS != 2000 {
		t.Fatalf("expected median duration 2000, got %f", agg.MedianDurationMS)
	}
	if agg.BugCount != 1 {
		t.Fatalf("expected 1 bug, got %d", agg.BugCount)
	}
	wantAccuracy := 2.0 / 3.0
	if agg.EstimateAccuracy != wantAccuracy {
		t.Fatalf("expected accuracy %f, got %f", wantAccuracy, agg.EstimateAccuracy)
	}
	if agg.ByAggregate["x"] != 2 || agg.ByAggregate["y"] != 1 {
		t.Fatalf("unexpected ByAggregate breakdown: %+v", agg.ByAggregate)
	}
}

func TestAggregatePeriodEmptyMetrics(t *testing.T) {
	agg := AggregatePeriod(nil, time.Now(), time.Now())
	if agg.Volume != 0 {
		t.Fatalf("expected zero volume, got %d", agg.Volume)
	}
}

func TestMedianOddAndEven(t *testing.T) {
	if got := median([]float64{3, 1, 2}); got != 2 {
		t.Fatalf("expected median 2, got %f", got)
	}
	if got := median([]float64{1, 2, 3, 4}); got != 2.5 {
		t.Fatalf("expected median 2.5, got %f", got)
	}
	if got := median(nil); got != 0 {
		t.Fatalf("expected median of empty slice to be 0, got %f", got)
	}
}
