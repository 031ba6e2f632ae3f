package util

import (
	"strings"
	"unicode/utf8"
)

// Truncate returns the first n bytes of s, appending "..." if truncated.
// Used for response bodies in log lines and error messages.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// TruncateRunes limits s to n runes without splitting a multi-byte character.
func TruncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}

	var b strings.Builder
	count := 0
	for _, r := range s {
		if count == n {
			break
		}
		b.WriteRune(r)
		count++
	}
	return b.String()
}

// MaskSecret keeps the last four characters of a secret so log lines stay
// correlatable without leaking the value.
func MaskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return "****"
	}
	return strings.Repeat("*", 4) + secret[len(secret)-4:]
}
