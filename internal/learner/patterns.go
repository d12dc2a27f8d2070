package learner

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/ralph-dev/ralph/internal/ledger"
)

// Pattern is one detector's finding, per §4.6.
type Pattern struct {
	Type        string         `json:"type"`
	Confidence  float64        `json:"confidence"`
	Description string         `json:"description"`
	Data        map[string]any `json:"data,omitempty"`
	Evidence    []string       `json:"evidence,omitempty"`
	Suggestion  string         `json:"suggestion,omitempty"`
}

// DetectorContext is the read-only view every detector runs against.
type DetectorContext struct {
	Metrics    []TaskMetrics
	Aggregates []AggregateMetrics
	Tasks      map[string]*ledger.Task
	MinSamples int // default 5
}

func (c DetectorContext) minSamples() int {
	if c.MinSamples > 0 {
		return c.MinSamples
	}
	return 5
}

// Detector is a pure function (context) -> Pattern?.
type Detector func(DetectorContext) *Pattern

// Detectors is the fixed set the orchestrator runs, in the order named
// by §4.6's table.
var Detectors = []Detector{
	detectEstimationDrift,
	detectTaskClustering,
	detectBlockingChain,
	detectBugHotspot,
	detectIterationAnomaly,
	detectVelocityTrend,
	detectBottleneck,
	detectComplexitySignal,
	detectTestGap,
	detectHighChurn,
	detectCoupling,
	detectFailureMode,
	detectSpecDrift,
	detectPlanDrift,
	detectKnowledgeStaleness,
}

// RunDetectors runs every detector, keeping only patterns whose
// confidence meets minConfidence (default 0.6 per §4.6).
func RunDetectors(ctx DetectorContext, minConfidence float64) []Pattern {
	if minConfidence <= 0 {
		minConfidence = 0.6
	}
	var out []Pattern
	for _, d := range Detectors {
		if p := d(ctx); p != nil && p.Confidence >= minConfidence {
			out = append(out, *p)
		}
	}
	return out
}

func confidence(sampleCount, k int, strength float64) float64 {
	ratio := float64(sampleCount) / float64(k)
	if ratio > 1 {
		ratio = 1
	}
	return ratio * strength
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64, m float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)))
}

func detectEstimationDrift(ctx DetectorContext) *Pattern {
	var ratios []float64
	for _, m := range ctx.Metrics {
		if m.EstimateRatio != nil {
			ratios = append(ratios, *m.EstimateRatio)
		}
	}
	if len(ratios) < ctx.minSamples() {
		return nil
	}
	avg := mean(ratios)
	if avg <= 1.5 && avg >= 0.7 {
		return nil
	}
	// ratio is actual/estimate: avg > 1 means actuals ran past their
	// estimates (underestimated); avg < 1 means tasks finished under
	// their estimates (overestimated).
	direction := "underestimated"
	verb := "overshooting"
	if avg < 1 {
		direction = "overestimated"
		verb = "undershooting"
	}
	return &Pattern{
		Type:        "estimation_drift",
		Confidence:  confidence(len(ratios), 10, 0.9),
		Description: fmt.Sprintf("Estimates are systematically %s actuals (mean ratio %.2f across %d tasks)", verb, avg, len(ratios)),
		Data:        map[string]any{"avgRatio": avg, "direction": direction, "samples": len(ratios)},
		Suggestion:  "Recalibrate estimate guidance for this task mix",
	}
}

func detectTaskClustering(ctx DetectorContext) *Pattern {
	counts := countBy(ctx.Metrics, func(m TaskMetrics) string { return m.Aggregate })
	area, count := maxCount(counts)
	if count < 3 {
		return nil
	}
	return &Pattern{
		Type:        "task_clustering",
		Confidence:  confidence(count, 6, 0.75),
		Description: fmt.Sprintf("%d tasks cluster under aggregate %q", count, area),
		Data:        map[string]any{"aggregate": area, "count": count},
	}
}

func detectBlockingChain(ctx DetectorContext) *Pattern {
	var worst *ledger.Task
	worstCount := 0
	for _, t := range ctx.Tasks {
		if len(t.Blocks) > worstCount {
			worst = t
			worstCount = len(t.Blocks)
		}
	}
	if worstCount < 2 {
		return nil
	}
	return &Pattern{
		Type:        "blocking_chain",
		Confidence:  confidence(worstCount, 4, 0.8),
		Description: fmt.Sprintf("Task %s blocks %d other tasks", worst.ID, worstCount),
		Data:        map[string]any{"taskId": worst.ID, "blocks": worstCount},
		Evidence:    []string{worst.ID},
		Suggestion:  "Prioritize unblocking this task to unlock downstream work",
	}
}

func detectBugHotspot(ctx DetectorContext) *Pattern {
	total := countBy(ctx.Metrics, func(m TaskMetrics) string { return m.Aggregate })
	bugs := countBy(filterMetrics(ctx.Metrics, func(m TaskMetrics) bool { return m.Type == ledger.TypeBug }),
		func(m TaskMetrics) string { return m.Aggregate })

	var bestArea string
	bestBugs := 0
	for area, n := range total {
		if area == "" || n < 3 {
			continue
		}
		if bugs[area] >= 2 && bugs[area] > bestBugs {
			bestArea = area
			bestBugs = bugs[area]
		}
	}
	if bestBugs < 2 {
		return nil
	}
	return &Pattern{
		Type:        "bug_hotspot",
		Confidence:  confidence(bestBugs, 4, 0.85),
		Description: fmt.Sprintf("Aggregate %q has %d bug-type tasks", bestArea, bestBugs),
		Data:        map[string]any{"aggregate": bestArea, "bugCount": bestBugs},
		Suggestion:  "Consider a focused quality pass on this aggregate",
	}
}

func detectIterationAnomaly(ctx DetectorContext) *Pattern {
	var actuals []float64
	for _, m := range ctx.Metrics {
		actuals = append(actuals, m.Actual)
	}
	if len(actuals) < 5 {
		return nil
	}
	m := mean(actuals)
	sd := stddev(actuals, m)
	if sd == 0 {
		return nil
	}
	var worstID string
	worstZ := 0.0
	for _, tm := range ctx.Metrics {
		z := (tm.Actual - m) / sd
		if z > 2 && z > worstZ {
			worstZ = z
			worstID = tm.TaskID
		}
	}
	if worstID == "" {
		return nil
	}
	return &Pattern{
		Type:        "iteration_anomaly",
		Confidence:  confidence(len(actuals), 10, 0.7),
		Description: fmt.Sprintf("Task %s took an anomalous number of iterations (%.1fσ above mean)", worstID, worstZ),
		Data:        map[string]any{"taskId": worstID, "zScore": worstZ},
		Evidence:    []string{worstID},
	}
}

func detectVelocityTrend(ctx DetectorContext) *Pattern {
	if len(ctx.Aggregates) < 2 {
		return nil
	}
	half := len(ctx.Aggregates) / 2
	firstMean := meanVolume(ctx.Aggregates[:half])
	secondMean := meanVolume(ctx.Aggregates[half:])
	if firstMean == 0 {
		return nil
	}
	change := (secondMean - firstMean) / firstMean
	if math.Abs(change) <= 0.2 {
		return nil
	}
	direction := "accelerating"
	if change < 0 {
		direction = "slowing"
	}
	return &Pattern{
		Type:        "velocity_trend",
		Confidence:  confidence(len(ctx.Aggregates), 4, 0.7),
		Description: fmt.Sprintf("Velocity is %s: %.0f%% change in mean tasks completed per period", direction, change*100),
		Data:        map[string]any{"change": change},
	}
}

func meanVolume(aggs []AggregateMetrics) float64 {
	var xs []float64
	for _, a := range aggs {
		xs = append(xs, float64(a.Volume))
	}
	return mean(xs)
}

func detectBottleneck(ctx DetectorContext) *Pattern {
	if len(ctx.Metrics) < 5 {
		return nil
	}
	overall := mean(durationsOf(ctx.Metrics))
	if overall == 0 {
		return nil
	}
	byType := map[ledger.TaskType][]float64{}
	for _, m := range ctx.Metrics {
		byType[m.Type] = append(byType[m.Type], float64(m.DurationMS))
	}
	var worstType ledger.TaskType
	worstMean := 0.0
	for t, xs := range byType {
		if len(xs) < 2 {
			continue
		}
		mt := mean(xs)
		if mt > 1.5*overall && mt > worstMean {
			worstType = t
			worstMean = mt
		}
	}
	if worstType == "" {
		return nil
	}
	return &Pattern{
		Type:        "bottleneck",
		Confidence:  confidence(len(ctx.Metrics), 10, 0.75),
		Description: fmt.Sprintf("Task type %q takes %.1fx the overall mean duration", worstType, worstMean/overall),
		Data:        map[string]any{"type": string(worstType), "meanDurationMs": worstMean, "overallMeanMs": overall},
	}
}

func durationsOf(metrics []TaskMetrics) []float64 {
	var xs []float64
	for _, m := range metrics {
		xs = append(xs, float64(m.DurationMS))
	}
	return xs
}

var complexityOrder = []ledger.Complexity{
	ledger.ComplexityTrivial, ledger.ComplexitySimple, ledger.ComplexityModerate, ledger.ComplexityComplex,
}

func detectComplexitySignal(ctx DetectorContext) *Pattern {
	if len(ctx.Metrics) < 5 {
		return nil
	}
	byComplexity := map[ledger.Complexity][]float64{}
	for _, m := range ctx.Metrics {
		if m.Complexity != nil {
			byComplexity[*m.Complexity] = append(byComplexity[*m.Complexity], float64(m.DurationMS))
		}
	}
	var means []float64
	var present []ledger.Complexity
	for _, c := range complexityOrder {
		if xs, ok := byComplexity[c]; ok && len(xs) > 0 {
			means = append(means, mean(xs))
			present = append(present, c)
		}
	}
	if len(means) < 2 {
		return nil
	}
	monotonic := true
	for i := 1; i < len(means); i++ {
		if means[i] < means[i-1] {
			monotonic = false
			break
		}
	}
	if monotonic {
		return nil
	}
	return &Pattern{
		Type:        "complexity_signal",
		Confidence:  confidence(len(ctx.Metrics), 10, 0.7),
		Description: "Mean duration does not increase monotonically with complexity — sizing may be inconsistent",
		Data:        map[string]any{"complexities": present, "meanDurationsMs": means},
	}
}

func detectTestGap(ctx DetectorContext) *Pattern {
	byArea := map[string][]TaskMetrics{}
	for _, m := range ctx.Metrics {
		if m.Aggregate != "" {
			byArea[m.Aggregate] = append(byArea[m.Aggregate], m)
		}
	}
	var worstArea string
	worstRatio := 1.0
	worstCount := 0
	for area, ms := range byArea {
		nonTest := 0
		testCount := 0
		for _, m := range ms {
			if m.Type == ledger.TypeTest {
				testCount++
			} else {
				nonTest++
			}
		}
		if nonTest < 3 {
			continue
		}
		ratio := float64(testCount) / float64(len(ms))
		if ratio < 0.2 && (worstArea == "" || nonTest > worstCount) {
			worstArea = area
			worstRatio = ratio
			worstCount = nonTest
		}
	}
	if worstArea == "" {
		return nil
	}
	return &Pattern{
		Type:        "test_gap",
		Confidence:  confidence(worstCount, 6, 0.7),
		Description: fmt.Sprintf("Aggregate %q has a %.0f%% test ratio over %d non-test tasks", worstArea, worstRatio*100, worstCount),
		Data:        map[string]any{"aggregate": worstArea, "testRatio": worstRatio},
		Suggestion:  "Add test coverage before further feature work in this aggregate",
	}
}

func detectHighChurn(ctx DetectorContext) *Pattern {
	min := ctx.minSamples()
	if len(ctx.Metrics) < min {
		return nil
	}
	overall := mean(filesChangedOf(ctx.Metrics))
	if overall == 0 {
		return nil
	}
	byArea := map[string][]float64{}
	for _, m := range ctx.Metrics {
		if m.Aggregate != "" {
			byArea[m.Aggregate] = append(byArea[m.Aggregate], float64(m.FilesChanged))
		}
	}
	var worstArea string
	worstMean := 0.0
	worstCount := 0
	for area, xs := range byArea {
		if len(xs) < min {
			continue
		}
		am := mean(xs)
		if am > 1.5*overall && am > worstMean {
			worstArea = area
			worstMean = am
			worstCount = len(xs)
		}
	}
	if worstArea == "" {
		return nil
	}
	return &Pattern{
		Type:        "high_churn",
		Confidence:  confidence(worstCount, min*2, 0.7),
		Description: fmt.Sprintf("Aggregate %q changes %.1fx more files per task than average", worstArea, worstMean/overall),
		Data:        map[string]any{"aggregate": worstArea, "meanFilesChanged": worstMean},
	}
}

func filesChangedOf(metrics []TaskMetrics) []float64 {
	var xs []float64
	for _, m := range metrics {
		xs = append(xs, float64(m.FilesChanged))
	}
	return xs
}

func detectCoupling(ctx DetectorContext) *Pattern {
	co := map[[2]string]int{}
	for _, m := range ctx.Metrics {
		labels := labelsOf(m)
		sort.Strings(labels)
		for i := 0; i < len(labels); i++ {
			for j := i + 1; j < len(labels); j++ {
				key := [2]string{labels[i], labels[j]}
				co[key]++
			}
		}
	}
	var bestPair [2]string
	bestCount := 0
	for pair, count := range co {
		if count >= 3 && count > bestCount {
			bestPair = pair
			bestCount = count
		}
	}
	if bestCount == 0 {
		return nil
	}
	return &Pattern{
		Type:        "coupling",
		Confidence:  confidence(bestCount, 6, 0.65),
		Description: fmt.Sprintf("%q and %q co-occur on %d tasks", bestPair[0], bestPair[1], bestCount),
		Data:        map[string]any{"pair": bestPair, "count": bestCount},
	}
}

func labelsOf(m TaskMetrics) []string {
	var labels []string
	if m.Aggregate != "" {
		labels = append(labels, "aggregate:"+m.Aggregate)
	}
	if m.Domain != "" {
		labels = append(labels, "domain:"+m.Domain)
	}
	for _, t := range m.Tags {
		labels = append(labels, "tag:"+t)
	}
	return labels
}

func detectFailureMode(ctx DetectorContext) *Pattern {
	group := func(m TaskMetrics) string {
		if m.Aggregate != "" {
			return m.Aggregate
		}
		return string(m.Type)
	}
	byGroup := map[string]int{}
	for _, m := range ctx.Metrics {
		if !m.Success || m.Blockers > 0 {
			byGroup[group(m)]++
		}
	}
	area, count := maxCount(byGroup)
	if count < 2 {
		return nil
	}
	return &Pattern{
		Type:        "failure_mode",
		Confidence:  confidence(count, 4, 0.75),
		Description: fmt.Sprintf("%q accounts for %d failed or blocked tasks", area, count),
		Data:        map[string]any{"group": area, "count": count},
	}
}

func detectSpecDrift(ctx DetectorContext) *Pattern {
	byArea := map[string][]TaskMetrics{}
	for _, m := range ctx.Metrics {
		area := m.Aggregate
		if area == "" {
			area = m.Domain
		}
		if area != "" {
			byArea[area] = append(byArea[area], m)
		}
	}
	var worstArea string
	worstFraction := 0.0
	worstCount := 0
	for area, ms := range byArea {
		if len(ms) < 3 {
			continue
		}
		failures := 0
		for _, m := range ms {
			if !m.Success {
				failures++
			}
		}
		fraction := float64(failures) / float64(len(ms))
		if fraction > 0.3 && fraction > worstFraction {
			worstArea = area
			worstFraction = fraction
			worstCount = len(ms)
		}
	}
	if worstArea == "" {
		return nil
	}
	return &Pattern{
		Type:        "spec_drift",
		Confidence:  confidence(worstCount, 6, 0.7),
		Description: fmt.Sprintf("Area %q has a %.0f%% failure fraction across %d tasks — the spec may no longer match reality", worstArea, worstFraction*100, worstCount),
		Data:        map[string]any{"area": worstArea, "failureFraction": worstFraction},
	}
}

// detectPlanDrift compares each parent task's subtask count created
// in the same planning pass (within planDriftWindow of the parent's
// createdAt) against subtasks added afterward. A parent whose
// after-the-fact subtasks exceed half its originally planned count is
// evidence the plan under-scoped that unit of work.
const planDriftWindow = time.Minute

func detectPlanDrift(ctx DetectorContext) *Pattern {
	byArea := map[string]int{}
	for _, parent := range ctx.Tasks {
		if len(parent.Subtasks) == 0 {
			continue
		}
		planned, spawned := 0, 0
		for _, subID := range parent.Subtasks {
			sub, ok := ctx.Tasks[subID]
			if !ok {
				continue
			}
			if sub.CreatedAt.Sub(parent.CreatedAt) <= planDriftWindow {
				planned++
			} else {
				spawned++
			}
		}
		if planned == 0 {
			continue
		}
		if float64(spawned)/float64(planned) > 0.5 {
			area := parent.Aggregate
			if area == "" {
				area = parent.Domain
			}
			if area != "" {
				byArea[area]++
			}
		}
	}
	area, count := maxCount(byArea)
	if count < 2 {
		return nil
	}
	return &Pattern{
		Type:        "plan_drift",
		Confidence:  confidence(count, 4, 0.65),
		Description: fmt.Sprintf("%d parent tasks in %q spawned subtasks well beyond their original plan", count, area),
		Data:        map[string]any{"area": area, "count": count},
	}
}

func detectKnowledgeStaleness(ctx DetectorContext) *Pattern {
	var unclassified, classified []TaskMetrics
	for _, m := range ctx.Metrics {
		if m.Aggregate == "" && m.Domain == "" {
			unclassified = append(unclassified, m)
		} else {
			classified = append(classified, m)
		}
	}
	if len(unclassified) < 3 {
		return nil
	}
	totalFiles := sumFilesChanged(ctx.Metrics)
	if totalFiles == 0 {
		return nil
	}
	share := float64(sumFilesChanged(unclassified)) / float64(totalFiles)
	if share <= 0.4 {
		return nil
	}
	return &Pattern{
		Type:        "knowledge_staleness",
		Confidence:  confidence(len(unclassified), 6, 0.65),
		Description: fmt.Sprintf("%d unclassified tasks account for %.0f%% of file churn — classification metadata is going stale", len(unclassified), share*100),
		Data:        map[string]any{"count": len(unclassified), "fileChurnShare": share},
		Suggestion:  "Backfill aggregate/domain tags so future analysis can attribute this work",
	}
}

func sumFilesChanged(metrics []TaskMetrics) int {
	sum := 0
	for _, m := range metrics {
		sum += m.FilesChanged
	}
	return sum
}

func countBy(metrics []TaskMetrics, key func(TaskMetrics) string) map[string]int {
	counts := map[string]int{}
	for _, m := range metrics {
		k := key(m)
		if k == "" {
			continue
		}
		counts[k]++
	}
	return counts
}

func filterMetrics(metrics []TaskMetrics, keep func(TaskMetrics) bool) []TaskMetrics {
	var out []TaskMetrics
	for _, m := range metrics {
		if keep(m) {
			out = append(out, m)
		}
	}
	return out
}

func maxCount(counts map[string]int) (string, int) {
	var best string
	bestCount := 0
	// Deterministic across runs: break count ties on key order.
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if counts[k] > bestCount {
			best = k
			bestCount = counts[k]
		}
	}
	return best, bestCount
}
