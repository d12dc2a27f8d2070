package learner

import (
	"fmt"
	"time"
)

// Proposal is a deterministic, human-readable improvement suggestion
// generated from one or more detected patterns, per §4.6.
type Proposal struct {
	ID          string   `json:"id"`
	Target      string   `json:"target"`
	Section     string   `json:"section,omitempty"`
	Priority    string   `json:"priority"` // high, medium, low
	Confidence  float64  `json:"confidence"`
	Description string   `json:"description"`
	Change      string   `json:"change"`
	Rationale   string   `json:"rationale"`
	Evidence    []string `json:"evidence,omitempty"`
	Status      string   `json:"status"` // pending, approved, rejected, applied
}

// proposalRule maps a pattern type to the target doc/section a
// proposal about it should land in.
type proposalRule struct {
	target   string
	section  string
	priority func(Pattern) string
	change   func(Pattern) string
}

var proposalRules = map[string]proposalRule{
	"estimation_drift": {
		target:  "AGENTS.md",
		section: "Estimation",
		priority: func(p Pattern) string { return priorityFromConfidence(p.Confidence) },
		change:  func(p Pattern) string { return "Adjust estimate guidance to account for observed drift" },
	},
	"task_clustering": {
		target:  "agents/*.md",
		section: "Aggregates",
		priority: func(Pattern) string { return "low" },
		change:  func(p Pattern) string { return "Document this aggregate as a recurring work area" },
	},
	"blocking_chain": {
		target:  "AGENTS.md",
		section: "Scheduling",
		priority: func(Pattern) string { return "high" },
		change:  func(p Pattern) string { return "Prioritize resolving the blocking task before its dependents" },
	},
	"bug_hotspot": {
		target:  "agents/*.md",
		section: "Quality",
		priority: func(Pattern) string { return "high" },
		change:  func(p Pattern) string { return "Schedule a quality pass over this aggregate" },
	},
	"iteration_anomaly": {
		target:  "AGENTS.md",
		section: "Task Sizing",
		priority: func(Pattern) string { return "medium" },
		change:  func(p Pattern) string { return "Flag outlier tasks for manual review of scope" },
	},
	"velocity_trend": {
		target:  "AGENTS.md",
		section: "Velocity",
		priority: func(Pattern) string { return "low" },
		change:  func(p Pattern) string { return "Note the velocity trend in planning" },
	},
	"bottleneck": {
		target:  "AGENTS.md",
		section: "Task Sizing",
		priority: func(Pattern) string { return "medium" },
		change:  func(p Pattern) string { return "Break this task type into smaller units" },
	},
	"complexity_signal": {
		target:  "AGENTS.md",
		section: "Task Sizing",
		priority: func(Pattern) string { return "medium" },
		change:  func(p Pattern) string { return "Recalibrate complexity tags against observed durations" },
	},
	"test_gap": {
		target:  "agents/*.md",
		section: "Quality",
		priority: func(Pattern) string { return "high" },
		change:  func(p Pattern) string { return "Require test coverage before further work in this aggregate" },
	},
	"high_churn": {
		target:  "agents/*.md",
		section: "Quality",
		priority: func(Pattern) string { return "medium" },
		change:  func(p Pattern) string { return "Investigate why this aggregate touches unusually many files per task" },
	},
	"coupling": {
		target:  "AGENTS.md",
		section: "Architecture",
		priority: func(Pattern) string { return "low" },
		change:  func(p Pattern) string { return "Document the coupling between these areas" },
	},
	"failure_mode": {
		target:  "agents/*.md",
		section: "Quality",
		priority: func(Pattern) string { return "high" },
		change:  func(p Pattern) string { return "Investigate the recurring failure mode in this group" },
	},
	"spec_drift": {
		target:  "agents/*.md",
		section: "Specs",
		priority: func(Pattern) string { return "high" },
		change:  func(p Pattern) string { return "Review and update the spec for this area" },
	},
	"plan_drift": {
		target:  "AGENTS.md",
		section: "Planning",
		priority: func(Pattern) string { return "medium" },
		change:  func(p Pattern) string { return "Budget more subtasks up front for this area's plans" },
	},
	"knowledge_staleness": {
		target:  "AGENTS.md",
		section: "Classification",
		priority: func(Pattern) string { return "low" },
		change:  func(p Pattern) string { return "Backfill aggregate/domain tags for unclassified work" },
	},
}

func priorityFromConfidence(c float64) string {
	switch {
	case c >= 0.85:
		return "high"
	case c >= 0.7:
		return "medium"
	default:
		return "low"
	}
}

// GenerateImprovements deterministically maps detected patterns to
// improvement proposals, per §4.6.
func GenerateImprovements(patterns []Pattern, latestAggregate *AggregateMetrics) ([]Proposal, string) {
	var proposals []Proposal
	for i, p := range patterns {
		rule, ok := proposalRules[p.Type]
		if !ok {
			continue
		}
		proposals = append(proposals, Proposal{
			ID:          fmt.Sprintf("prop-%s-%d", p.Type, i),
			Target:      rule.target,
			Section:     rule.section,
			Priority:    rule.priority(p),
			Confidence:  p.Confidence,
			Description: p.Description,
			Change:      rule.change(p),
			Rationale:   p.Suggestion,
			Evidence:    p.Evidence,
			Status:      "pending",
		})
	}

	summary := fmt.Sprintf("%d pattern(s) analyzed, %d proposal(s) generated", len(patterns), len(proposals))
	if latestAggregate != nil {
		summary = fmt.Sprintf("%s (latest period: %d tasks, %.0f%% estimate accuracy)",
			summary, latestAggregate.Volume, latestAggregate.EstimateAccuracy*100)
	}
	return proposals, summary
}

// SaveProposals appends each proposal as an improvement_proposed event.
func SaveProposals(log *Log, proposals []Proposal, now func() time.Time) error {
	for _, p := range proposals {
		proposal := p
		if err := log.Append(Event{
			Kind:      EventImprovementProposed,
			Timestamp: now(),
			Proposal:  &proposal,
		}); err != nil {
			return fmt.Errorf("learner: save proposal %s: %w", p.ID, err)
		}
	}
	return nil
}
