package sshproxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

const (
	// defaultChannelOpenTimeout bounds how long a channel open may block
	// on a transport that has gone silent.
	defaultChannelOpenTimeout = 15 * time.Second

	// probeCommand is the no-op executed by heartbeat probes.
	probeCommand = "echo -n"
)

var (
	errChannelOpenTimeout = errors.New("channel open timed out")
	errProbeInconclusive  = errors.New("no data or exit status within polling budget")
	errProbeClosed        = errors.New("channel closed without exit status")
)

// RunResult is the outcome of one command run to completion.
type RunResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Handle wraps one authenticated SSH client. Channel creation is serialized
// so a foreground command and a heartbeat probe never open channels on the
// same transport at the same time; the lock is released as soon as the exec
// request is issued, never held while waiting for output.
type Handle struct {
	serverID    string
	client      *ssh.Client
	openTimeout time.Duration

	mu        sync.Mutex
	closeOnce sync.Once
	closeErr  error
	gone      chan struct{} // closed when the transport shuts down
}

// NewHandle wraps an already-authenticated client.
func NewHandle(serverID string, client *ssh.Client, openTimeout time.Duration) *Handle {
	if openTimeout <= 0 {
		openTimeout = defaultChannelOpenTimeout
	}
	h := &Handle{serverID: serverID, client: client, openTimeout: openTimeout, gone: make(chan struct{})}
	go func() {
		client.Wait()
		close(h.gone)
	}()
	return h
}

// Done is closed once the underlying transport has shut down, whether by
// Close or because the server went away.
func (h *Handle) Done() <-chan struct{} {
	return h.gone
}

// lost reports whether err, or the transport state, says the session is dead.
func (h *Handle) lost(err error) bool {
	select {
	case <-h.gone:
		return true
	default:
	}
	return transportGone(err)
}

// openChannel opens a session channel, giving up after openTimeout. A
// channel that arrives after the caller gave up is closed.
func (h *Handle) openChannel(ctx context.Context) (*ssh.Session, error) {
	type result struct {
		session *ssh.Session
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		s, err := h.client.NewSession()
		ch <- result{s, err}
	}()

	reap := func() {
		if r := <-ch; r.session != nil {
			r.session.Close()
		}
	}

	timer := time.NewTimer(h.openTimeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		return r.session, r.err
	case <-ctx.Done():
		go reap()
		return nil, ctx.Err()
	case <-timer.C:
		go reap()
		return nil, errChannelOpenTimeout
	}
}

// start opens a channel and issues cmd while holding the serialization lock.
func (h *Handle) start(ctx context.Context, cmd string, stdout, stderr io.Writer) (*ssh.Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	session, err := h.openChannel(ctx)
	if err != nil {
		if h.lost(err) {
			return nil, newError(KindTransportLost, h.serverID, "failed to open channel, the connection appears to be lost", err)
		}
		return nil, newError(KindChannelOpenFailed, h.serverID, "failed to open channel", err)
	}

	session.Stdout = stdout
	session.Stderr = stderr
	if err := session.Start(cmd); err != nil {
		session.Close()
		if h.lost(err) {
			return nil, newError(KindTransportLost, h.serverID, "failed to execute command, the connection appears to be lost", err)
		}
		return nil, newError(KindExecFailed, h.serverID, "failed to execute command", err)
	}
	return session, nil
}

// Run executes cmd on a fresh channel and drains it until the remote side
// closes. A missing exit status is reported as exit code -1.
func (h *Handle) Run(ctx context.Context, cmd string) (RunResult, error) {
	var stdout, stderr bytes.Buffer
	session, err := h.start(ctx, cmd, &stdout, &stderr)
	if err != nil {
		return RunResult{}, err
	}
	defer session.Close()

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	var waitErr error
	select {
	case waitErr = <-done:
	case <-ctx.Done():
		session.Close()
		<-done
		return RunResult{}, newError(KindExecFailed, h.serverID, "command cancelled", ctx.Err())
	}

	res := RunResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	var exitErr *ssh.ExitError
	var missingErr *ssh.ExitMissingError
	switch {
	case waitErr == nil:
		res.ExitCode = 0
	case errors.As(waitErr, &exitErr):
		res.ExitCode = exitErr.ExitStatus()
	case errors.As(waitErr, &missingErr):
		res.ExitCode = -1
	default:
		if h.lost(waitErr) {
			return res, newError(KindTransportLost, h.serverID, "connection lost while reading command output", waitErr)
		}
		return res, newError(KindExecFailed, h.serverID, "failed to read command output", waitErr)
	}
	return res, nil
}

// Probe runs the heartbeat no-op and waits for either output or an exit
// status, polling up to attempts times with delay between polls.
func (h *Handle) Probe(ctx context.Context, attempts int, delay time.Duration) error {
	gotData := make(chan struct{}, 1)
	session, err := h.start(ctx, probeCommand, signalWriter(gotData), io.Discard)
	if err != nil {
		return err
	}
	defer session.Close()

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	for i := 0; i <= attempts; i++ {
		select {
		case <-gotData:
			return nil
		case err := <-done:
			var exitErr *ssh.ExitError
			if err == nil || errors.As(err, &exitErr) {
				return nil
			}
			return fmt.Errorf("%w: %v", errProbeClosed, err)
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return errProbeInconclusive
}

// Close disconnects the transport. It is safe to call more than once and
// does not take the channel lock, so it also unblocks a stuck channel open.
func (h *Handle) Close() error {
	h.closeOnce.Do(func() {
		h.closeErr = h.client.Close()
	})
	return h.closeErr
}

// signalWriter discards data and signals once that data arrived.
type signalWriter chan struct{}

func (w signalWriter) Write(p []byte) (int, error) {
	if len(p) > 0 {
		select {
		case w <- struct{}{}:
		default:
		}
	}
	return len(p), nil
}

// transportGone reports whether err means the underlying connection is dead
// rather than a single channel having been refused.
func transportGone(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, errChannelOpenTimeout) {
		return true
	}
	var openErr *ssh.OpenChannelError
	if errors.As(err, &openErr) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"disconnect", "closed network connection", "broken pipe", "connection reset",
		"connection lost", "unexpected packet in response to channel open",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
