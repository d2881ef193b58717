package util

import (
	"strings"
	"unicode/utf8"
)

// SanitizeText removes NUL and other control characters that database text
// columns reject or that PDF text layers leak. Newlines and tabs survive.
func SanitizeText(s string) string {
	if s == "" {
		return s
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	var b strings.Builder
	b.Grow(len(s))
	for _, ch := range s {
		if ch == utf8.RuneError || (ch < 0x20 && ch != '\n' && ch != '\r' && ch != '\t') || ch == 0x7f {
			continue
		}
		if ch == '\r' {
			ch = '\n'
		}
		b.WriteRune(ch)
	}
	return strings.TrimSpace(b.String())
}

// Tail keeps the last maxBytes of s, cut on a line boundary when one is
// close. Diagnostics usually end with the interesting part.
func Tail(s string, maxBytes int) string {
	if maxBytes <= 0 || len(s) <= maxBytes {
		return s
	}
	cut := len(s) - maxBytes
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	rest := s[cut:]
	if i := strings.IndexByte(rest, '\n'); i >= 0 && i < maxBytes/4 {
		rest = rest[i+1:]
	}
	return "..." + rest
}
