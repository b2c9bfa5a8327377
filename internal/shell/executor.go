package shell

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gluk-w/termgate/internal/logutil"
	"github.com/gluk-w/termgate/internal/sshproxy"
)

// Sessions runs one command to completion on a connected server.
// *sshproxy.Registry satisfies it.
type Sessions interface {
	Run(ctx context.Context, serverID, cmd string) (sshproxy.RunResult, error)
}

// CommandRecorder is implemented by Sessions that want to hear about every
// executed command line.
type CommandRecorder interface {
	RecordCommand(serverID, label string, exitCode int, took time.Duration)
}

// Config tunes the Executor and Completer. Zero fields take defaults.
type Config struct {
	Shell           string // remote shell used as "<shell> -c"
	CompletionLimit int    // max candidates fetched per completion
}

func (c Config) withDefaults() Config {
	if c.Shell == "" {
		c.Shell = "bash"
	}
	if c.CompletionLimit <= 0 {
		c.CompletionLimit = 50
	}
	return c
}

// Result is what the front-end shows for one executed line.
type Result struct {
	Output             string   `json:"output"`
	Stderr             string   `json:"stderr,omitempty"`
	ExitCode           int      `json:"exitCode"`
	IsInteractive      bool     `json:"isInteractive"`
	InteractiveMessage *string  `json:"interactiveMessage"`
	NewDir             *string  `json:"newDir"`
	OutputLines        []string `json:"outputLines"`
}

// Executor turns typed command lines into remote exec requests.
type Executor struct {
	sessions Sessions
	cfg      Config
}

// NewExecutor creates an Executor running commands through sessions.
func NewExecutor(sessions Sessions, cfg Config) *Executor {
	return &Executor{sessions: sessions, cfg: cfg.withDefaults()}
}

// Command returns the exact exec request Execute would send for line, and
// whether it is a directory change. Interactive lines have no command.
func (e *Executor) Command(line, cwd string) (cmd string, kind Kind) {
	line = strings.TrimSpace(line)
	if cwd == "" {
		cwd = HomeDir
	}
	switch kind = Classify(line); kind {
	case KindInteractive:
		return "", kind
	case KindChangeDir:
		return wrap(e.cfg.Shell, changeDirScript(line, cwd)), kind
	default:
		return wrap(e.cfg.Shell, normalScript(line, cwd)), kind
	}
}

// Execute runs line on serverID from working directory cwd ("" means the
// home directory). Interactive programs are never run; they succeed with a
// guidance message instead.
func (e *Executor) Execute(ctx context.Context, serverID, line, cwd string) (*Result, error) {
	line = strings.TrimSpace(line)
	cmd, kind := e.Command(line, cwd)

	if kind == KindInteractive {
		msg := InteractiveMessage(firstWord(line))
		log.Printf("[shell] refused interactive command on %s: %s",
			logutil.SanitizeForLog(serverID), logutil.CommandLabel(line))
		return &Result{
			ExitCode:           0,
			IsInteractive:      true,
			InteractiveMessage: &msg,
			OutputLines:        SplitOutputLines(msg),
		}, nil
	}

	start := time.Now()
	res, err := e.sessions.Run(ctx, serverID, cmd)
	if err != nil {
		return nil, fmt.Errorf("execute on %s: %w", serverID, err)
	}
	if rec, ok := e.sessions.(CommandRecorder); ok {
		rec.RecordCommand(serverID, logutil.CommandLabel(line), res.ExitCode, time.Since(start))
	}

	output := strings.ToValidUTF8(string(res.Stdout), "�")
	out := &Result{
		Output:      output,
		Stderr:      strings.ToValidUTF8(string(res.Stderr), "�"),
		ExitCode:    res.ExitCode,
		OutputLines: SplitOutputLines(output),
	}
	if kind == KindChangeDir && res.ExitCode == 0 {
		if dir := strings.TrimSpace(output); dir != "" {
			out.NewDir = &dir
		}
	}
	return out, nil
}
