// Package agent implements the one concrete scheduler.IterationRunner
// this repo ships: a tool-calling loop over internal/llm's
// vendor-agnostic Provider, translating each model-issued ToolCall
// into an internal/executor.Executor operation. spec.md §4.2 leaves
// ExecuteIteration abstract ("the core contract required here is only
// that it is a pure function of (task snapshot, iteration number,
// executor façade)"); this package is the production implementation of
// that decision point, grounded on the teacher's dispatch package only
// for the shape of a single bounded turn (one model call, one batch of
// tool executions, one tagged result) — the teacher dispatches whole
// agent CLI processes via tmux/headless backends, so the turn-by-turn
// tool loop itself has no direct teacher analogue and is built fresh
// against internal/llm's contract.
package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/ralph-dev/ralph/internal/executor"
	"github.com/ralph-dev/ralph/internal/ledger"
	"github.com/ralph-dev/ralph/internal/learner"
	"github.com/ralph-dev/ralph/internal/llm"
	"github.com/ralph-dev/ralph/internal/scheduler"
)

// Tool names the runner offers to the model.
const (
	toolReadFile      = "read_file"
	toolWriteFile     = "write_file"
	toolDeleteFile    = "delete_file"
	toolBash          = "bash"
	toolCompleteTask  = "complete_task"
	toolReportBlocker = "report_blocker"
)

// Runner drives one task attempt as a bounded tool-calling loop against
// an llm.Provider, implementing scheduler.IterationRunner.
type Runner struct {
	Provider     llm.Provider
	SystemPrompt string // e.g. the contents of AGENTS.md
}

// New returns a Runner over provider, seeded with the given system prompt.
func New(provider llm.Provider, systemPrompt string) *Runner {
	return &Runner{Provider: provider, SystemPrompt: systemPrompt}
}

// tools is the fixed tool set offered on every turn.
func tools() []llm.Tool {
	return []llm.Tool{
		{
			Name:        toolReadFile,
			Description: "Read a file from the task workspace",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"path": map[string]any{"type": "string"}},
				"required":   []string{"path"},
			},
		},
		{
			Name:        toolWriteFile,
			Description: "Write (create or overwrite) a file in the task workspace",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path":    map[string]any{"type": "string"},
					"content": map[string]any{"type": "string"},
				},
				"required": []string{"path", "content"},
			},
		},
		{
			Name:        toolDeleteFile,
			Description: "Delete a file from the task workspace",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"path": map[string]any{"type": "string"}},
				"required":   []string{"path"},
			},
		},
		{
			Name:        toolBash,
			Description: "Run a shell command in the task workspace",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"command": map[string]any{"type": "string"}},
				"required":   []string{"command"},
			},
		},
		{
			Name:        toolCompleteTask,
			Description: "Declare the task complete, listing the artifacts produced",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"artifacts": map[string]any{"type": "array", "items": map[string]any{"type": "string"}}},
			},
		},
		{
			Name:        toolReportBlocker,
			Description: "Declare the task blocked and stop this attempt",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"reason": map[string]any{"type": "string"}},
				"required":   []string{"reason"},
			},
		},
	}
}

func taskPrompt(task *ledger.Task, iteration int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task %s (iteration %d): %s\n\n", task.ID, iteration, task.Title)
	if task.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", task.Description)
	}
	fmt.Fprintf(&b, "Type: %s", task.Type)
	if task.Complexity != nil {
		fmt.Fprintf(&b, ", complexity: %s", *task.Complexity)
	}
	b.WriteString("\n\nUse the available tools to make progress. Call complete_task when done, or report_blocker if you cannot proceed.")
	return b.String()
}

// ExecuteIteration implements scheduler.IterationRunner: it sends one
// chat turn, executes every returned tool call against exec in order,
// and folds the outcomes into a single tagged IterationResult. A
// complete_task or report_blocker call ends the attempt immediately;
// any other tool calls (or none) continue the loop.
func (r *Runner) ExecuteIteration(ctx context.Context, task *ledger.Task, iteration int, exec *executor.Executor) (scheduler.IterationResult, error) {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: r.SystemPrompt},
		{Role: llm.RoleUser, Content: taskPrompt(task, iteration)},
	}

	resp, err := r.Provider.Chat(ctx, messages, tools())
	if err != nil {
		return scheduler.IterationResult{}, fmt.Errorf("agent: chat: %w", err)
	}

	if len(resp.ToolCalls) == 0 {
		return scheduler.IterationResult{Kind: scheduler.IterationContinue, Reason: "model returned no tool calls"}, nil
	}

	var artifacts []string
	for _, call := range resp.ToolCalls {
		switch call.Name {
		case toolReadFile:
			path, _ := call.Arguments["path"].(string)
			if _, err := exec.ReadFile(path); err != nil {
				return scheduler.IterationResult{Kind: scheduler.IterationError, Reason: err.Error()}, nil
			}
		case toolWriteFile:
			path, _ := call.Arguments["path"].(string)
			content, _ := call.Arguments["content"].(string)
			if err := exec.WriteFile(path, []byte(content)); err != nil {
				return scheduler.IterationResult{Kind: scheduler.IterationError, Reason: err.Error()}, nil
			}
			artifacts = append(artifacts, path)
		case toolDeleteFile:
			path, _ := call.Arguments["path"].(string)
			if err := exec.DeleteFile(path); err != nil {
				return scheduler.IterationResult{Kind: scheduler.IterationError, Reason: err.Error()}, nil
			}
		case toolBash:
			command, _ := call.Arguments["command"].(string)
			result, err := exec.Bash(ctx, command)
			if err != nil {
				return scheduler.IterationResult{Kind: scheduler.IterationError, Reason: err.Error()}, nil
			}
			if result.Blocked {
				return scheduler.IterationResult{Kind: scheduler.IterationError, Reason: "command blocked pending approval: " + result.ApprovalReason}, nil
			}
			if result.ExitCode != 0 {
				return scheduler.IterationResult{Kind: scheduler.IterationError, Reason: classifyFailure(result.Stdout + result.Stderr)}, nil
			}
		case toolCompleteTask:
			artifacts = append(artifacts, stringSlice(call.Arguments["artifacts"])...)
			return scheduler.IterationResult{Kind: scheduler.IterationComplete, Artifacts: artifacts}, nil
		case toolReportBlocker:
			reason, _ := call.Arguments["reason"].(string)
			return scheduler.IterationResult{Kind: scheduler.IterationError, Reason: reason}, nil
		default:
			return scheduler.IterationResult{Kind: scheduler.IterationError, Reason: fmt.Sprintf("unknown tool %q", call.Name)}, nil
		}
	}

	return scheduler.IterationResult{Kind: scheduler.IterationContinue, Artifacts: artifacts}, nil
}

func stringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// classifyFailure turns a failing command's combined output into a
// reason string, preferring learner.DiagnoseFailure's category and
// summary over a raw excerpt so RecordTaskMetrics's caller can later
// attribute the blocker to a known failure category.
func classifyFailure(output string) string {
	if diag := learner.DiagnoseFailure(output); diag != nil {
		return fmt.Sprintf("%s: %s", diag.Category, diag.Summary)
	}
	if len(output) > 2000 {
		output = output[:2000]
	}
	return output
}
