package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeForLog(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"clean", "ban.perm", "ban.perm"},
		{"newline", "login\nforged=entry", "login forged=entry"},
		{"crlf", "a\r\nb", "a b"},
		{"run of control characters", "a\x00\x01\x1Fb", "a b"},
		{"delete character", "a\x7Fb", "a b"},
		{"tab", "a\tb", "a b"},
		{"unicode kept", "modération ✓", "modération ✓"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeForLog(tt.input))
		})
	}
}

func TestTruncateForLog(t *testing.T) {
	assert.Equal(t, "abc", TruncateForLog("abc", 10))
	assert.Equal(t, "ab", TruncateForLog("abc", 2))
	assert.Equal(t, "abc", TruncateForLog("abc", 0))
	// "é" is two bytes; the cut backs off to the rune boundary.
	assert.Equal(t, "a", TruncateForLog("aé", 2))
}
