package utils

import "unicode/utf8"

// Truncate is a simple string truncate. maxLen counts runes so multi-byte
// characters are never split.
func Truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	return string([]rune(s)[:maxLen]) + "..."
}
