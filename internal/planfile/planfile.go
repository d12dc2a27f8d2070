// Package planfile parses the markdown plan document named by
// config.PlanFile into candidate tasks the discover flow can diff
// against the ledger.
//
// The convention is the same GSD-style heading/checklist shape the
// teacher's prompt-building code in internal/dispatch targets (a
// `## <title>` heading per unit of work, an optional `- [ ]` checklist
// of subtasks, and inline `key: value` annotation lines), parsed with a
// small line-oriented scanner rather than a general Markdown library —
// see DESIGN.md for why this one component stays on bufio/regexp.
package planfile

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/ralph-dev/ralph/internal/ledger"
)

// CandidateTask is one unit of work discovered in a plan document.
type CandidateTask struct {
	Title       string
	Description string
	Type        ledger.TaskType
	Complexity  *ledger.Complexity
	Estimate    *float64
	Tags        []string
	ParentTitle string
}

var (
	headingRe    = regexp.MustCompile(`^(#{2,3})\s+(.*\S)\s*$`)
	checklistRe  = regexp.MustCompile(`^\s*-\s+\[([ xX])\]\s+(.*\S)\s*$`)
	annotationRe = regexp.MustCompile(`^\s*(complexity|estimate|type|tags)\s*:\s*(.+\S)\s*$`)
)

// Parse reads a plan document and returns the candidate tasks it
// describes. A level-2 heading (`## Title`) starts a top-level
// candidate; a level-3 heading nested under it, or a checklist item
// beneath it, becomes a candidate whose ParentTitle is the enclosing
// heading's title. Annotation lines (`complexity: moderate`,
// `estimate: 2.5`, `type: bug`, `tags: a, b`) attach to the most
// recently opened candidate and are not included in its description.
func Parse(r io.Reader) ([]CandidateTask, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var tasks []CandidateTask
	var current *CandidateTask
	var topTitle string
	var sectionTitle string
	var descLines []string

	flushDescription := func() {
		if current == nil {
			return
		}
		current.Description = strings.TrimSpace(strings.Join(descLines, "\n"))
		descLines = nil
	}

	appendTask := func(t CandidateTask) *CandidateTask {
		tasks = append(tasks, t)
		return &tasks[len(tasks)-1]
	}

	for scanner.Scan() {
		line := scanner.Text()

		if m := headingRe.FindStringSubmatch(line); m != nil {
			flushDescription()
			level, title := len(m[1]), m[2]
			if level == 2 {
				topTitle = title
				sectionTitle = title
				current = appendTask(CandidateTask{Title: title, Type: ledger.TypeFeature})
			} else {
				sectionTitle = title
				current = appendTask(CandidateTask{Title: title, Type: ledger.TypeTask, ParentTitle: topTitle})
			}
			continue
		}

		if m := checklistRe.FindStringSubmatch(line); m != nil {
			flushDescription()
			current = appendTask(CandidateTask{Title: m[2], Type: ledger.TypeSubtask, ParentTitle: sectionTitle})
			continue
		}

		if m := annotationRe.FindStringSubmatch(line); m != nil && current != nil {
			if err := applyAnnotation(current, strings.ToLower(m[1]), m[2]); err != nil {
				return nil, fmt.Errorf("planfile: %s: %w", current.Title, err)
			}
			continue
		}

		if current != nil && strings.TrimSpace(line) != "" {
			descLines = append(descLines, line)
		}
	}
	flushDescription()

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("planfile: scan: %w", err)
	}
	return tasks, nil
}

func applyAnnotation(t *CandidateTask, key, value string) error {
	switch key {
	case "complexity":
		c := ledger.Complexity(strings.ToLower(strings.TrimSpace(value)))
		t.Complexity = &c
	case "estimate":
		v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return fmt.Errorf("invalid estimate %q: %w", value, err)
		}
		t.Estimate = &v
	case "type":
		t.Type = ledger.TaskType(strings.ToLower(strings.TrimSpace(value)))
	case "tags":
		var tags []string
		for _, tag := range strings.Split(value, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				tags = append(tags, tag)
			}
		}
		t.Tags = tags
	}
	return nil
}

// ParseFile opens path and parses it with Parse.
func ParseFile(path string) ([]CandidateTask, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("planfile: open %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Diff returns the candidates whose Title does not already appear
// (case-insensitively) among existingTitles.
func Diff(candidates []CandidateTask, existingTitles map[string]struct{}) []CandidateTask {
	var out []CandidateTask
	for _, c := range candidates {
		key := strings.ToLower(strings.TrimSpace(c.Title))
		if _, ok := existingTitles[key]; ok {
			continue
		}
		out = append(out, c)
	}
	return out
}

// ExistingTitleSet builds the lookup Diff expects from a derived
// ledger task-state map.
func ExistingTitleSet(state map[string]*ledger.Task) map[string]struct{} {
	set := make(map[string]struct{}, len(state))
	for _, t := range state {
		set[strings.ToLower(strings.TrimSpace(t.Title))] = struct{}{}
	}
	return set
}
