package git

// TruncateDiff truncates a diff string if it exceeds maxBytes, e.g.
// before embedding it in a notification payload.
func TruncateDiff(diff string, maxBytes int) string {
	if len(diff) <= maxBytes {
		return diff
	}
	return diff[:maxBytes] + "\n\n[Diff truncated...]"
}
