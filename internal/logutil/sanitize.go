package logutil

import "strings"

// SanitizeForLog folds newlines and tabs to spaces and drops other control
// characters, so hostnames, commands and shell output cannot forge log lines.
func SanitizeForLog(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			return ' '
		case r < 32 || r == 127:
			return -1
		}
		return r
	}, s)
}

// Preview sanitizes s and cuts it to at most n runes, marking the cut with "...".
func Preview(s string, n int) string {
	s = SanitizeForLog(s)
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
