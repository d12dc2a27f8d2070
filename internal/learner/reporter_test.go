package learner

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/ralph-dev/ralph/internal/ledger"
)

func TestFormatDigestNoPatterns(t *testing.T) {
	report := &Report{
		GeneratedAt: time.Date(2026, 1, 2, 15, 4, 0, 0, time.UTC),
		TotalTasks:  3,
		Aggregate:   AggregateMetrics{MeanDurationMS: 1200, EstimateAccuracy: 0.5, BugCount: 1},
	}
	digest := FormatDigest(report)
	if !strings.Contains(digest, "Tasks analyzed:** 3") {
		t.Fatalf("digest missing task count: %s", digest)
	}
	if !strings.Contains(digest, "No patterns met the confidence threshold") {
		t.Fatalf("digest should note absence of patterns: %s", digest)
	}
}

func TestFormatDigestWithPatternsAndProposals(t *testing.T) {
	report := &Report{
		GeneratedAt: time.Now(),
		TotalTasks:  10,
		Patterns: []Pattern{
			{Type: "bug_hotspot", Description: "aggregate X has many bugs", Confidence: 0.8},
		},
		Proposals: []Proposal{
			{Target: "agents/*.md", Section: "Quality", Priority: "high", Change: "Schedule a quality pass"},
		},
	}
	digest := FormatDigest(report)
	if !strings.Contains(digest, "bug_hotspot") {
		t.Fatalf("digest missing pattern: %s", digest)
	}
	if !strings.Contains(digest, "Schedule a quality pass") {
		t.Fatalf("digest missing proposal: %s", digest)
	}
}

func TestReporterPublishWritesAndLogs(t *testing.T) {
	r := NewReporter(nil)
	var buf bytes.Buffer
	report := &Report{GeneratedAt: time.Now(), TotalTasks: 1}
	if err := r.Publish(&buf, report, ""); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatal("expected digest output written to buffer")
	}
}

func TestReporterPublishIncludesDiffSection(t *testing.T) {
	r := NewReporter(nil)
	var buf bytes.Buffer
	report := &Report{GeneratedAt: time.Now(), TotalTasks: 1}
	if err := r.Publish(&buf, report, "+added line\n-removed line"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if !strings.Contains(buf.String(), "### Recent Changes") {
		t.Fatalf("expected digest to include diff section, got: %s", buf.String())
	}
}

func TestAnalyzerAnalyzeEmptyLog(t *testing.T) {
	dir := t.TempDir()
	log := NewLog(dir+"/learning.jsonl", nil)
	analyzer := &Analyzer{Log: log, MinConfidence: 0.6, MinSamples: 5}

	fixed := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	report, trail, err := analyzer.Analyze(map[string]*ledger.Task{}, func() time.Time { return fixed })
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if report.TotalTasks != 0 {
		t.Fatalf("expected 0 tasks, got %d", report.TotalTasks)
	}
	if len(trail) == 0 {
		t.Fatal("expected a non-empty audit trail")
	}
}
