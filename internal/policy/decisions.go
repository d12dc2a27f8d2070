package policy

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// direction distinguishes read rules from write rules so the shared
// pipeline in checkFile can serve both CheckFileRead and CheckFileWrite.
type direction int

const (
	dirRead direction = iota
	dirWrite
)

// pathMatches implements the prefix rule of SPEC_FULL.md §4.4: pattern
// "." matches every path; pattern X matches path P iff P == X, P
// starts with "X/", or P starts with X (the bare-prefix clause is
// intentional: it lets a deny rule for ".env" also catch ".env.local").
func pathMatches(path, pattern string) bool {
	if pattern == "." {
		return true
	}
	if path == pattern {
		return true
	}
	if strings.HasPrefix(path, pattern+"/") {
		return true
	}
	return strings.HasPrefix(path, pattern)
}

func relativeToWorkDir(path, workDir string) string {
	if workDir == "" {
		return filepath.ToSlash(path)
	}
	rel, err := filepath.Rel(workDir, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

func anyMatch(path string, patterns []string) (string, bool) {
	for _, pattern := range patterns {
		if pathMatches(path, pattern) {
			return pattern, true
		}
	}
	return "", false
}

// selfModificationGuardedPrefixes are the paths delivery mode protects
// from writes unless the caller has explicitly approved self-modification.
var selfModificationGuardedPrefixes = []string{"runtime", "skills"}

func isSelfModificationPath(path string) bool {
	_, matched := anyMatch(path, selfModificationGuardedPrefixes)
	return matched
}

func checkFile(p *Policy, rawPath, workDir string, dir direction, selfModificationApproved bool) Decision {
	rel := relativeToWorkDir(rawPath, workDir)

	rules := p.Files.Read
	ruleLabel := "Read"
	if dir == dirWrite {
		rules = p.Files.Write
		ruleLabel = "Write"

		if p.Mode == ModeDelivery && isSelfModificationPath(rel) && !selfModificationApproved {
			return Decision{
				Allowed: false,
				Violation: &Violation{
					Type:      ViolationFileWriteDenied,
					Target:    rel,
					Rule:      "self-modification requires explicit approval (delivery mode)",
					Timestamp: time.Now(),
				},
			}
		}
	}

	if pattern, denied := anyMatch(rel, rules.Deny); denied {
		return Decision{
			Allowed: false,
			Violation: &Violation{
				Type:      violationTypeFor(dir),
				Target:    rel,
				Rule:      fmt.Sprintf("deny%s: %s", ruleLabel, pattern),
				Timestamp: time.Now(),
			},
		}
	}

	if _, allowed := anyMatch(rel, rules.Allow); allowed {
		return Decision{Allowed: true}
	}

	if p.Mode == ModeDelivery {
		return Decision{
			Allowed: false,
			Violation: &Violation{
				Type:      violationTypeFor(dir),
				Target:    rel,
				Rule:      fmt.Sprintf("not in allow%s list (delivery mode)", ruleLabel),
				Timestamp: time.Now(),
			},
		}
	}

	return Decision{Allowed: true}
}

func violationTypeFor(dir direction) ViolationType {
	if dir == dirWrite {
		return ViolationFileWriteDenied
	}
	return ViolationFileReadDenied
}

// CheckFileRead decides whether path may be read under policy.
func CheckFileRead(p *Policy, path, workDir string) Decision {
	return checkFile(p, path, workDir, dirRead, false)
}

// CheckFileWrite decides whether path may be written under policy.
// selfModificationApproved bypasses the delivery-mode runtime/skills
// guard; it has no effect in core mode.
func CheckFileWrite(p *Policy, path, workDir string, selfModificationApproved bool) Decision {
	return checkFile(p, path, workDir, dirWrite, selfModificationApproved)
}

// commandMatches mirrors the teacher's prefix-token command gating but
// adds the spec's substring clause: cmd == pat, cmd starts with "pat ",
// or pat occurs anywhere in cmd.
func commandMatches(cmd, pattern string) bool {
	if cmd == pattern {
		return true
	}
	if strings.HasPrefix(cmd, pattern+" ") {
		return true
	}
	return strings.Contains(cmd, pattern)
}

func anyCommandMatch(cmd string, patterns []string) (string, bool) {
	for _, pattern := range patterns {
		if commandMatches(cmd, pattern) {
			return pattern, true
		}
	}
	return "", false
}

// CheckCommand decides whether cmd may run under policy.
func CheckCommand(p *Policy, cmd string) Decision {
	if pattern, denied := anyCommandMatch(cmd, p.Commands.Deny); denied {
		return Decision{
			Allowed: false,
			Violation: &Violation{
				Type:      ViolationCommandDenied,
				Target:    cmd,
				Rule:      fmt.Sprintf("denyCommand: %s", pattern),
				Timestamp: time.Now(),
			},
		}
	}
	if _, allowed := anyCommandMatch(cmd, p.Commands.Allow); allowed {
		return Decision{Allowed: true}
	}
	if p.Mode == ModeDelivery {
		return Decision{
			Allowed: false,
			Violation: &Violation{
				Type:      ViolationCommandDenied,
				Target:    cmd,
				Rule:      "not in allowCommands list (delivery mode)",
				Timestamp: time.Now(),
			},
		}
	}
	return Decision{Allowed: true}
}

// classifiers holds the compiled pattern family for each class; ClassifyAction
// reports at most one hit per class even though several regexes may
// independently match within that class.
var classifiers = map[ApprovalClass][]*regexp.Regexp{
	ClassDestructiveOps: {
		regexp.MustCompile(`(?i)\brm\s+(-[rf]+\s+)?`),
		regexp.MustCompile(`(?i)\bgit\s+(reset|clean|checkout\s+--)\b`),
		regexp.MustCompile(`(?i)\bgit\s+push\s+--force\b`),
		regexp.MustCompile(`(?i)\bdrop\s+(table|database)\b`),
		regexp.MustCompile(`(?i)\btruncate\b`),
		regexp.MustCompile(`(?i)\bdelete\s+from\b`),
	},
	ClassDependencyChanges: {
		regexp.MustCompile(`(?i)\b(npm|yarn|pnpm|pip|cargo)\s+(install|uninstall|update|add|remove)\b`),
		regexp.MustCompile(`\bpackage\.json\b`),
		regexp.MustCompile(`\byarn\.lock\b`),
		regexp.MustCompile(`\bpnpm-lock\.yaml\b`),
		regexp.MustCompile(`\bpackage-lock\.json\b`),
	},
	ClassProductionImpactingEdits: {
		regexp.MustCompile(`(?i)\b(deploy|release|publish)\b`),
		regexp.MustCompile(`\bDockerfile\b`),
		regexp.MustCompile(`\bdocker-compose\b`),
		regexp.MustCompile(`\.github/workflows\b`),
		regexp.MustCompile(`\.env\.production\b`),
		regexp.MustCompile(`\binfrastructure/\b`),
		regexp.MustCompile(`\bterraform/\b`),
		regexp.MustCompile(`\bk8s/\b`),
		regexp.MustCompile(`\bkubernetes/\b`),
	},
}

// classOrder fixes iteration order so ClassifyAction's result, while a
// set, is built deterministically.
var classOrder = []ApprovalClass{ClassDestructiveOps, ClassDependencyChanges, ClassProductionImpactingEdits}

// ClassifyAction scans text against each approval-class pattern family
// and returns the set of classes that matched, at most once per class.
func ClassifyAction(text string) map[ApprovalClass]bool {
	result := make(map[ApprovalClass]bool)
	for _, class := range classOrder {
		for _, re := range classifiers[class] {
			if re.MatchString(text) {
				result[class] = true
				break
			}
		}
	}
	return result
}

// ApprovalResult is the outcome of RequiresApproval.
type ApprovalResult struct {
	RequiresApproval bool
	ApprovalClass    ApprovalClass
	Allowed          bool
}

// RequiresApproval reports whether action falls into any class the
// policy requires approval for. Approval is orthogonal to allow/deny:
// Allowed is always true here, since denial is decided separately by
// CheckFileWrite/CheckCommand.
func RequiresApproval(p *Policy, action string) ApprovalResult {
	classes := ClassifyAction(action)
	for _, class := range classOrder {
		if !classes[class] {
			continue
		}
		if p.requiresApprovalFor(class) {
			return ApprovalResult{RequiresApproval: true, ApprovalClass: class, Allowed: true}
		}
	}
	return ApprovalResult{Allowed: true}
}

// CheckResult is the outcome of running one required check.
type CheckResult struct {
	Check    CheckKind
	Passed   bool
	Output   string
	Duration time.Duration
}

// CommandRunner executes a shell command and returns its captured
// stdout, stderr, and exit code. The sandbox's Bash has a different
// shape (it takes a context and returns a CommandResult), so it does not
// satisfy this interface directly.
type CommandRunner interface {
	Run(command string) (stdout, stderr string, exitCode int, err error)
}

// RunRequiredChecks runs every check named in policy.Checks.Required,
// looking its command up in commandMap (falling back to
// policy.Checks.Commands when commandMap is nil).
func RunRequiredChecks(p *Policy, commandMap map[CheckKind]string, runner CommandRunner) []CheckResult {
	if commandMap == nil {
		commandMap = p.Checks.Commands
	}
	results := make([]CheckResult, 0, len(p.Checks.Required))
	for _, check := range p.Checks.Required {
		cmd, ok := commandMap[check]
		if !ok || strings.TrimSpace(cmd) == "" {
			results = append(results, CheckResult{
				Check:  check,
				Passed: false,
				Output: fmt.Sprintf("No command configured for check: %s", check),
			})
			continue
		}

		start := time.Now()
		stdout, stderr, exitCode, _ := runner.Run(cmd)
		duration := time.Since(start)

		output := stdout
		if strings.TrimSpace(output) == "" {
			output = stderr
		}

		results = append(results, CheckResult{
			Check:    check,
			Passed:   exitCode == 0,
			Output:   output,
			Duration: duration,
		})
	}
	return results
}

// AllChecksPassed reports whether results is non-empty and every
// result passed.
func AllChecksPassed(results []CheckResult) bool {
	if len(results) == 0 {
		return false
	}
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}
