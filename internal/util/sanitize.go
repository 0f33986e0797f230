package util

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var controlRuns = regexp.MustCompile(`[\x00-\x1F\x7F]+`)

// SanitizeForLog collapses line breaks and other control characters in
// user-supplied text to single spaces so one value cannot forge log lines.
func SanitizeForLog(s string) string {
	if s == "" {
		return s
	}
	s = strings.ReplaceAll(s, "\r\n", " ")
	return controlRuns.ReplaceAllString(s, " ")
}

// TruncateForLog cuts s to at most max bytes without splitting a rune.
func TruncateForLog(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
