package util

import (
	"strings"
)

// SanitizeLog strips line breaks from client supplied values before they are logged.
func SanitizeLog(log string) string {
	escapedLog := strings.ReplaceAll(log, "\n", "")
	return strings.ReplaceAll(escapedLog, "\r", "")
}

// TruncateToken shortens an opaque secret so a recognizable prefix can be logged.
func TruncateToken(token string) string {
	const visible = 6
	if len(token) <= visible {
		return strings.Repeat("*", len(token))
	}
	return token[:visible] + "..."
}
