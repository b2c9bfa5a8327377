// Package shell emulates an interactive shell on top of one-shot SSH exec
// channels: it tracks the working directory, refuses programs that need a
// terminal, and completes paths and command names by asking the remote shell.
package shell

import (
	"fmt"
	"strings"
)

// interactivePrograms need a pseudo-terminal, which exec channels never get.
var interactivePrograms = setOf(
	"vim", "vi", "nano", "emacs", "htop", "top", "less", "more", "man",
	"screen", "tmux", "byobu", "mc", "ranger", "ncdu", "glances",
	"watch", "dialog", "whiptail", "fzf", "ripgrep", "bat", "lesspipe",
)

// fileCommands take paths as arguments, so their later arguments complete
// as paths even without a slash.
var fileCommands = setOf(
	"cd", "ls", "cat", "less", "more", "head", "tail", "grep", "find",
	"rm", "rmdir", "mkdir", "touch", "cp", "mv", "chmod", "chown",
	"vi", "vim", "nano", "pwd", "open", "file", "stat", "readlink",
)

// guidance holds the canned replies for interactive programs, keyed by the
// programs each reply covers.
var guidance = []struct {
	programs []string
	message  string
}{
	{[]string{"vim", "vi"}, "Warning: vim/vi is an interactive program and this terminal does not support interactive sessions.\n" +
		"Alternatives:\n" +
		"  - view a file with cat: cat <file>\n" +
		"  - create or overwrite a file with echo: echo \"content\" > <file>\n" +
		"  - edit in place with sed: sed -i 's/old/new/g' <file>"},
	{[]string{"nano"}, "Warning: nano is an interactive program and this terminal does not support interactive sessions.\n" +
		"Alternatives:\n" +
		"  - view a file with cat: cat <file>\n" +
		"  - create or overwrite a file with echo: echo \"content\" > <file>"},
	{[]string{"htop", "top"}, "Warning: htop/top is an interactive program and this terminal does not support interactive sessions.\n" +
		"Alternatives:\n" +
		"  - list processes with ps: ps aux\n" +
		"  - show the busiest processes: ps aux --sort=-%cpu | head"},
	{[]string{"less", "more"}, "Warning: less/more is an interactive program and this terminal does not support interactive sessions.\n" +
		"Alternatives:\n" +
		"  - print the whole file: cat <file>\n" +
		"  - print part of it: head <file> or tail <file>"},
	{[]string{"man"}, "Warning: man is an interactive program and this terminal does not support interactive sessions.\n" +
		"Alternatives:\n" +
		"  - print the page without a pager: man -P cat <command>\n" +
		"  - use the built-in help: <command> --help"},
	{[]string{"screen", "tmux", "byobu"}, "Warning: screen/tmux/byobu are terminal multiplexers and are not supported by this terminal.\n" +
		"Alternatives:\n" +
		"  - keep a command running after logout: nohup <command> &\n" +
		"  - run it in the background: <command> &"},
}

func setOf(items ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(items))
	for _, s := range items {
		m[s] = struct{}{}
	}
	return m
}

// Kind is how a command line will be handled.
type Kind int

const (
	KindNormal Kind = iota
	KindInteractive
	KindChangeDir
)

func (k Kind) String() string {
	switch k {
	case KindInteractive:
		return "interactive"
	case KindChangeDir:
		return "cd"
	default:
		return "normal"
	}
}

// Classify decides how line is handled. Only the leading token is inspected
// for interactive programs; a directory change is exactly "cd" or "cd ...".
func Classify(line string) Kind {
	line = strings.TrimSpace(line)
	if IsInteractive(line) {
		return KindInteractive
	}
	if line == "cd" || strings.HasPrefix(line, "cd ") {
		return KindChangeDir
	}
	return KindNormal
}

// IsInteractive reports whether the first word of line is a program that
// needs a terminal.
func IsInteractive(line string) bool {
	name := firstWord(line)
	if name == "" {
		return false
	}
	_, ok := interactivePrograms[name]
	return ok
}

// IsFileCommand reports whether name takes path arguments.
func IsFileCommand(name string) bool {
	_, ok := fileCommands[name]
	return ok
}

// InteractiveMessage returns the guidance shown instead of running program.
func InteractiveMessage(program string) string {
	for _, g := range guidance {
		for _, p := range g.programs {
			if p == program {
				return g.message
			}
		}
	}
	return fmt.Sprintf("Warning: %s is an interactive program and this terminal does not support interactive sessions.", program)
}

func firstWord(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
