package rag

import (
	"strings"
)

// BuildContext renders entries as "title: content" blocks separated by a
// blank line. No entries give an empty context.
func BuildContext(entries []*RankedEntry) string {
	if len(entries) == 0 {
		return ""
	}
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		parts = append(parts, strings.TrimSpace(e.Title)+": "+strings.TrimSpace(e.Content))
	}
	return strings.Join(parts, "\n\n")
}

// TruncateContext cuts s to at most limit runes.
func TruncateContext(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
