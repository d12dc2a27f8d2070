// Package policy implements the pure decision functions that gate every
// file read/write and command the sandbox executor performs.
package policy

import "time"

// Mode selects how permissive the file/command allow-deny pipeline is
// when neither an explicit allow nor deny entry matches.
type Mode string

const (
	ModeCore     Mode = "core"
	ModeDelivery Mode = "delivery"
)

// ApprovalClass tags an action as belonging to one of the sensitive
// categories a human may need to approve before it runs.
type ApprovalClass string

const (
	ClassDestructiveOps           ApprovalClass = "destructive_ops"
	ClassDependencyChanges        ApprovalClass = "dependency_changes"
	ClassProductionImpactingEdits ApprovalClass = "production_impacting_edits"
)

// CheckKind enumerates the required-check identifiers a policy can name.
type CheckKind string

const (
	CheckTest      CheckKind = "test"
	CheckBuild     CheckKind = "build"
	CheckLint      CheckKind = "lint"
	CheckTypecheck CheckKind = "typecheck"
)

// FileRules holds the prefix allow/deny sets for one direction (read or
// write).
type FileRules struct {
	Allow []string
	Deny  []string
}

// Files groups the read and write rule sets.
type Files struct {
	Read  FileRules
	Write FileRules
}

// Commands holds the prefix allow/deny sets for shell commands.
type Commands struct {
	Allow []string
	Deny  []string
}

// Approval configures which action classes require human approval.
type Approval struct {
	RequiredFor   []ApprovalClass
	RequireReason bool
}

// Checks configures the required-check pipeline.
type Checks struct {
	Required       []CheckKind
	RollbackOnFail bool
	// Commands maps a check kind to the shell command that runs it, e.g.
	// {"test": "npm test", "build": "npm run build"}.
	Commands map[CheckKind]string
}

// Policy is process-lifetime configuration, never mutated after load.
type Policy struct {
	Version  string
	Mode     Mode
	Files    Files
	Commands Commands
	Approval Approval
	Checks   Checks
}

// requiresApprovalFor reports whether class is in policy's configured set.
func (p *Policy) requiresApprovalFor(class ApprovalClass) bool {
	for _, c := range p.Approval.RequiredFor {
		if c == class {
			return true
		}
	}
	return false
}

// ViolationType enumerates the taxonomy of policy violations.
type ViolationType string

const (
	ViolationFileReadDenied    ViolationType = "file_read_denied"
	ViolationFileWriteDenied   ViolationType = "file_write_denied"
	ViolationCommandDenied     ViolationType = "command_denied"
	ViolationApprovalRequired  ViolationType = "approval_required"
)

// Violation describes why an action was denied.
type Violation struct {
	Type      ViolationType
	Target    string
	Rule      string
	Timestamp time.Time
}

// Decision is the outcome of a file or command check.
type Decision struct {
	Allowed   bool
	Violation *Violation
}
