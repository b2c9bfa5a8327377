package logutil

import "strings"

// maxCommandLabel is the longest command text written to a log line.
const maxCommandLabel = 80

// SanitizeForLog removes newlines and control characters from user-provided
// strings so a crafted server id or command cannot forge extra log entries.
func SanitizeForLog(s string) string {
	var result strings.Builder
	result.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			result.WriteByte(' ')
		case r < 32 || r == 0x7f:
		default:
			result.WriteRune(r)
		}
	}
	return result.String()
}

// CommandLabel sanitizes a remote command line and cuts it to a readable length.
func CommandLabel(cmd string) string {
	cmd = SanitizeForLog(cmd)
	r := []rune(cmd)
	if len(r) > maxCommandLabel {
		return string(r[:maxCommandLabel]) + "..."
	}
	return cmd
}
