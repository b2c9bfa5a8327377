package shell

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Completion is the parsed form of a line being completed.
type Completion struct {
	IsPath bool
	Dir    string // resolved directory to list; empty for command completion
	Prefix string // text typed so far for the last word
	Token  string // the last word as typed
}

// ParseCompletion decides what the last word of input is and where to look
// for candidates. ok is false when there is nothing to complete: empty
// input, trailing whitespace, or a path ending in "/".
//
// A "../" directory is resolved as cwd rather than its parent.
func ParseCompletion(input, cwd string) (c Completion, ok bool) {
	if strings.TrimSpace(input) == "" {
		return Completion{}, false
	}
	if r, _ := utf8.DecodeLastRuneInString(input); unicode.IsSpace(r) {
		return Completion{}, false
	}
	if cwd == "" {
		cwd = HomeDir
	}

	words := strings.Fields(input)
	last := words[len(words)-1]
	c.Token = last
	c.IsPath = strings.Contains(last, "/") ||
		strings.HasPrefix(last, ".") ||
		strings.HasPrefix(last, "~") ||
		(IsFileCommand(words[0]) && len(words) > 1)

	if !c.IsPath {
		c.Prefix = last
		return c, true
	}

	slash := strings.LastIndex(last, "/")
	if slash < 0 {
		c.Dir, c.Prefix = cwd, last
		return c, true
	}
	dirPart, prefix := last[:slash+1], last[slash+1:]
	switch {
	case strings.HasPrefix(dirPart, "./"):
		c.Dir = cwd + "/" + dirPart[2:]
	case strings.HasPrefix(dirPart, "../"):
		c.Dir = cwd
	case !strings.HasPrefix(dirPart, "/") && !strings.HasPrefix(dirPart, "~"):
		c.Dir = cwd + "/" + dirPart
	default:
		c.Dir = dirPart
	}
	c.Prefix = prefix
	return c, prefix != ""
}

// CompletionResult is what the front-end shows after a completion request.
type CompletionResult struct {
	CompletedInput    *string  `json:"completedInput"`
	Matches           []string `json:"matches"`
	ShouldShowMatches bool     `json:"shouldShowMatches"`
}

func noCompletion() *CompletionResult {
	return &CompletionResult{Matches: []string{}}
}

// Completer completes paths and command names using the remote shell.
type Completer struct {
	sessions Sessions
	cfg      Config
}

// NewCompleter creates a Completer that queries servers through sessions.
func NewCompleter(sessions Sessions, cfg Config) *Completer {
	return &Completer{sessions: sessions, cfg: cfg.withDefaults()}
}

// Command returns the enumeration request for c.
func (cp *Completer) Command(c Completion) string {
	if c.IsPath {
		return pathListing(cp.cfg.Shell, c.Dir, c.Prefix, cp.cfg.CompletionLimit)
	}
	return commandListing(cp.cfg.Shell, c.Prefix, cp.cfg.CompletionLimit)
}

// Complete completes the last word of input on serverID. Nothing is cached;
// every call asks the server again.
func (cp *Completer) Complete(ctx context.Context, serverID, input, cwd string) (*CompletionResult, error) {
	c, ok := ParseCompletion(input, cwd)
	if !ok {
		return noCompletion(), nil
	}

	res, err := cp.sessions.Run(ctx, serverID, cp.Command(c))
	if err != nil {
		return nil, fmt.Errorf("complete on %s: %w", serverID, err)
	}
	if res.ExitCode != 0 {
		return noCompletion(), nil
	}

	matches := NormalizeMatches(strings.ToValidUTF8(string(res.Stdout), "�"), c.Prefix, c.IsPath)
	return Reduce(input, c, matches), nil
}

// NormalizeMatches turns raw enumeration output into sorted, unique
// candidates that really start with prefix. Paths are reduced to their
// base names.
func NormalizeMatches(output, prefix string, isPath bool) []string {
	var matches []string
	for _, line := range strings.Split(output, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			matches = append(matches, line)
		}
	}
	slices.Sort(matches)
	matches = slices.Compact(matches)

	if isPath {
		for i, m := range matches {
			matches[i] = m[strings.LastIndex(m, "/")+1:]
		}
		slices.Sort(matches)
		matches = slices.Compact(matches)
	}

	return slices.DeleteFunc(matches, func(m string) bool {
		return !strings.HasPrefix(m, prefix)
	})
}

// Reduce picks between auto-completing input and listing candidates.
func Reduce(input string, c Completion, matches []string) *CompletionResult {
	if len(matches) == 0 {
		return noCompletion()
	}
	common := LongestCommonPrefix(matches)
	if len(matches) == 1 || len(common) > len(c.Prefix) {
		completed := CompletedInput(input, c, common)
		return &CompletionResult{CompletedInput: &completed, Matches: []string{}}
	}
	return &CompletionResult{Matches: matches, ShouldShowMatches: true}
}

// LongestCommonPrefix compares rune by rune, case-sensitively.
func LongestCommonPrefix(items []string) string {
	if len(items) == 0 {
		return ""
	}
	prefix := items[0]
	for _, s := range items[1:] {
		n := 0
		for n < len(prefix) && n < len(s) {
			r1, w1 := utf8.DecodeRuneInString(prefix[n:])
			r2, w2 := utf8.DecodeRuneInString(s[n:])
			if r1 != r2 || w1 != w2 {
				break
			}
			n += w1
		}
		prefix = prefix[:n]
	}
	return prefix
}

// CompletedInput replaces the last word of input with the completion. Words
// are rejoined with single spaces.
func CompletedInput(input string, c Completion, completion string) string {
	words := strings.Fields(input)
	if len(words) == 0 {
		return input
	}
	var last string
	switch {
	case !c.IsPath:
		last = completion
	case strings.Contains(c.Token, "/"):
		last = c.Dir + completion
	case c.Dir == HomeDir:
		last = HomeDir + "/" + completion
	default:
		last = c.Dir + "/" + completion
	}
	words[len(words)-1] = last
	return strings.Join(words, " ")
}
