package shell

import "strings"

// SplitOutputLines splits command output for display. A trailing newline
// does not produce an extra empty line, "\r\n" endings are accepted, and
// empty output yields a single empty line.
func SplitOutputLines(text string) []string {
	var lines []string
	for len(text) > 0 {
		i := strings.IndexByte(text, '\n')
		if i < 0 {
			lines = append(lines, text)
			break
		}
		lines = append(lines, strings.TrimSuffix(text[:i], "\r"))
		text = text[i+1:]
	}
	if n := len(lines); n > 1 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	if len(lines) == 0 {
		return []string{""}
	}
	return lines
}
