package utils

import "strings"

// Truncate shortens s to at most maxLen runes, appending "..." when it cut
// anything. Newlines are folded to spaces so the result fits on one line.
func Truncate(s string, maxLen int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
