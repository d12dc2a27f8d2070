// Package executor composes the sandbox and policy packages into the
// single surface the scheduler and LLM-driven task attempt use to
// touch the filesystem and run commands.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ralph-dev/ralph/internal/policy"
	"github.com/ralph-dev/ralph/internal/sandbox"
)

// ErrPolicyDenied is returned (wrapped) by ReadFile/WriteFile/Bash
// when policy denies the action.
var ErrPolicyDenied = errors.New("policy denied")

// ApprovalHandler decides, in an interactive run, whether a pending
// approval-required action is approved. Non-interactive runs pass nil,
// in which case approval-required actions are always blocked.
type ApprovalHandler func(ctx context.Context, action string, class policy.ApprovalClass) (approved bool, reason string)

// Executor is the façade the scheduler and LLM tool-call loop depend
// on. It never exposes the sandbox or policy directly.
type Executor struct {
	sandbox *sandbox.Sandbox
	policy  *policy.Policy
	workDir string
	logger  *slog.Logger
	approve ApprovalHandler

	selfModificationApproved bool
}

// Option configures a new Executor.
type Option func(*Executor)

// WithLogger overrides the default slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithApprovalHandler wires an interactive approval prompt. Without
// one, approval-required actions are always blocked.
func WithApprovalHandler(h ApprovalHandler) Option {
	return func(e *Executor) { e.approve = h }
}

// WithSelfModificationApproved bypasses the delivery-mode
// runtime/skills write guard for this executor's lifetime.
func WithSelfModificationApproved() Option {
	return func(e *Executor) { e.selfModificationApproved = true }
}

// New returns an Executor wrapping sb under the given policy.
func New(sb *sandbox.Sandbox, p *policy.Policy, workDir string, opts ...Option) *Executor {
	e := &Executor{sandbox: sb, policy: p, workDir: workDir, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// PolicyDeniedError carries the policy.Violation that caused a denial.
type PolicyDeniedError struct {
	Violation *policy.Violation
}

func (e *PolicyDeniedError) Error() string {
	return fmt.Sprintf("%v: %s (%s)", ErrPolicyDenied, e.Violation.Target, e.Violation.Rule)
}

func (e *PolicyDeniedError) Unwrap() error { return ErrPolicyDenied }

// ReadFile consults CheckFileRead before delegating to the sandbox.
func (e *Executor) ReadFile(path string) ([]byte, error) {
	decision := policy.CheckFileRead(e.policy, path, e.workDir)
	if !decision.Allowed {
		e.logger.Warn("policy_violation", "action", "read", "path", path, "rule", decision.Violation.Rule)
		return nil, &PolicyDeniedError{Violation: decision.Violation}
	}
	return e.sandbox.Read(path)
}

// WriteFile consults CheckFileWrite (with the self-modification guard)
// before delegating to the sandbox.
func (e *Executor) WriteFile(path string, content []byte) error {
	decision := policy.CheckFileWrite(e.policy, path, e.workDir, e.selfModificationApproved)
	if !decision.Allowed {
		e.logger.Warn("policy_violation", "action", "write", "path", path, "rule", decision.Violation.Rule)
		return &PolicyDeniedError{Violation: decision.Violation}
	}
	e.sandbox.Write(path, content)
	return nil
}

// DeleteFile consults CheckFileWrite (deletion is treated as a write
// for policy purposes) before delegating to the sandbox.
func (e *Executor) DeleteFile(path string) error {
	decision := policy.CheckFileWrite(e.policy, path, e.workDir, e.selfModificationApproved)
	if !decision.Allowed {
		e.logger.Warn("policy_violation", "action", "delete", "path", path, "rule", decision.Violation.Rule)
		return &PolicyDeniedError{Violation: decision.Violation}
	}
	e.sandbox.Delete(path)
	return nil
}

// BashResult wraps sandbox.CommandResult with the blocked-on-approval
// case the façade adds.
type BashResult struct {
	sandbox.CommandResult
	Blocked        bool
	ApprovalClass  policy.ApprovalClass
	ApprovalReason string
}

// Bash consults CheckCommand, then RequiresApproval. A required
// approval is resolved via the configured ApprovalHandler; with none
// configured (non-interactive runs) the action is blocked without
// executing.
func (e *Executor) Bash(ctx context.Context, command string) (BashResult, error) {
	decision := policy.CheckCommand(e.policy, command)
	if !decision.Allowed {
		e.logger.Warn("policy_violation", "action", "bash", "command", command, "rule", decision.Violation.Rule)
		return BashResult{}, &PolicyDeniedError{Violation: decision.Violation}
	}

	approval := policy.RequiresApproval(e.policy, command)
	if approval.RequiresApproval {
		if e.approve == nil {
			e.logger.Info("approval_required", "command", command, "class", approval.ApprovalClass)
			return BashResult{Blocked: true, ApprovalClass: approval.ApprovalClass}, nil
		}
		approved, reason := e.approve(ctx, command, approval.ApprovalClass)
		if !approved {
			e.logger.Info("approval_denied", "command", command, "class", approval.ApprovalClass, "reason", reason)
			return BashResult{Blocked: true, ApprovalClass: approval.ApprovalClass, ApprovalReason: reason}, nil
		}
	}

	result := e.sandbox.Bash(ctx, command)
	return BashResult{CommandResult: result}, nil
}

// Flush delegates to the sandbox.
func (e *Executor) Flush() ([]sandbox.FileChange, error) {
	return e.sandbox.Flush()
}

// Rollback delegates to the sandbox.
func (e *Executor) Rollback() {
	e.sandbox.Rollback()
}

// GetPendingChanges delegates to the sandbox.
func (e *Executor) GetPendingChanges() []sandbox.FileChange {
	return e.sandbox.GetPendingChanges()
}

// Counters delegates to the sandbox's resource accounting.
func (e *Executor) Counters() sandbox.Counters {
	return e.sandbox.Counters()
}
