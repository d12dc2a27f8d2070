package beads

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/ralph-dev/ralph/internal/tracker"
)

// installFakeBD writes a shell script named "bd" onto PATH that
// dispatches on its first argument, mimicking just enough of the real
// CLI's behavior for these tests.
func installFakeBD(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake bd script is a shell script")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "bd")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatalf("write fake bd: %v", err)
	}
	t.Setenv("PATH", dir+":"+os.Getenv("PATH"))
	return dir
}

func TestAdapterCreateIssue(t *testing.T) {
	installFakeBD(t, `
if [ "$1" = "create" ]; then
  echo "bd-42"
  exit 0
fi
exit 1
`)
	a := NewWithWorkDir(".", tracker.Auth{})
	issue, err := a.CreateIssue(context.Background(), tracker.TaskLike{ID: "ralph-1", Title: "Do it", Type: "task"})
	if err != nil {
		t.Fatalf("CreateIssue: %v", err)
	}
	if issue.Key != "bd-42" || issue.ID != "bd-42" {
		t.Fatalf("unexpected issue: %+v", issue)
	}
}

func TestAdapterCreateIssueEmptyOutputIsError(t *testing.T) {
	installFakeBD(t, `
if [ "$1" = "create" ]; then
  echo ""
  exit 0
fi
exit 1
`)
	a := NewWithWorkDir(".", tracker.Auth{})
	if _, err := a.CreateIssue(context.Background(), tracker.TaskLike{Title: "X"}); err == nil {
		t.Fatal("expected error on empty bd output")
	}
}

func TestAdapterGetIssueParsesJSON(t *testing.T) {
	installFakeBD(t, `
if [ "$1" = "show" ]; then
  echo '{"id":"bd-7","title":"Fix bug","status":"open","issue_type":"bug"}'
  exit 0
fi
exit 1
`)
	a := NewWithWorkDir(".", tracker.Auth{})
	issue, err := a.GetIssue(context.Background(), "bd-7")
	if err != nil {
		t.Fatalf("GetIssue: %v", err)
	}
	if issue.Title != "Fix bug" || issue.Status != "open" {
		t.Fatalf("unexpected issue: %+v", issue)
	}
}

func TestAdapterFindIssuesFiltersByTitle(t *testing.T) {
	installFakeBD(t, `
if [ "$1" = "list" ]; then
  echo '[{"id":"bd-1","title":"Fix login bug"},{"id":"bd-2","title":"Add export feature"}]'
  exit 0
fi
exit 1
`)
	a := NewWithWorkDir(".", tracker.Auth{})
	issues, err := a.FindIssues(context.Background(), "bug")
	if err != nil {
		t.Fatalf("FindIssues: %v", err)
	}
	if len(issues) != 1 || issues[0].ID != "bd-1" {
		t.Fatalf("unexpected issues: %+v", issues)
	}
}

func TestAdapterTransitionIssue(t *testing.T) {
	installFakeBD(t, `
if [ "$1" = "update" ]; then
  exit 0
fi
exit 1
`)
	a := NewWithWorkDir(".", tracker.Auth{})
	if err := a.TransitionIssue(context.Background(), "bd-1", "closed"); err != nil {
		t.Fatalf("TransitionIssue: %v", err)
	}
}

func TestAdapterLinkIssuesBlocks(t *testing.T) {
	installFakeBD(t, `
if [ "$1" = "dep" ] && [ "$2" = "add" ]; then
  exit 0
fi
exit 1
`)
	a := NewWithWorkDir(".", tracker.Auth{})
	if err := a.LinkIssues(context.Background(), "bd-1", "bd-2", tracker.LinkBlocks); err != nil {
		t.Fatalf("LinkIssues: %v", err)
	}
}

func TestAdapterLinkIssuesUnsupportedType(t *testing.T) {
	installFakeBD(t, `exit 1`)
	a := NewWithWorkDir(".", tracker.Auth{})
	if err := a.LinkIssues(context.Background(), "bd-1", "bd-2", tracker.LinkType("nonsense")); err == nil {
		t.Fatal("expected error for unsupported link type")
	}
}

func TestAdapterHealthCheck(t *testing.T) {
	installFakeBD(t, `
if [ "$1" = "list" ]; then
  echo '[]'
  exit 0
fi
exit 1
`)
	a := NewWithWorkDir(".", tracker.Auth{})
	health, err := a.HealthCheck(context.Background())
	if err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
	if !health.Healthy {
		t.Fatal("expected healthy")
	}
}

func TestAdapterConnectMissingBinary(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	a := NewWithWorkDir(".", tracker.Auth{})
	if err := a.Connect(context.Background()); err == nil {
		t.Fatal("expected error when bd is not on PATH")
	}
}
