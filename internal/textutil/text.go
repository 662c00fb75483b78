package textutil

import (
	"strings"
	"unicode/utf8"
)

// Truncate trims s and cuts it to at most max runes. Multi-byte characters (Armenian,
// Cyrillic) are never split. max <= 0 returns the trimmed input unchanged.
func Truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:max]))
}

// JoinNonBlank joins the trimmed non-blank parts with sep.
func JoinNonBlank(sep string, parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
