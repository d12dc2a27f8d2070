package git

import "testing"

func TestTruncateDiffUnderLimitReturnsUnchanged(t *testing.T) {
	diff := "diff --git a/foo b/foo\n+hello\n"
	if got := TruncateDiff(diff, 1000); got != diff {
		t.Fatalf("expected unchanged diff, got %q", got)
	}
}

func TestTruncateDiffOverLimitTruncates(t *testing.T) {
	diff := "0123456789"
	got := TruncateDiff(diff, 4)
	want := "0123\n\n[Diff truncated...]"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
