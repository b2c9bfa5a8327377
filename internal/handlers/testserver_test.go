package handlers

import (
	"io"
	"net"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	gssh "github.com/gliderlabs/ssh"

	"github.com/gluk-w/termgate/internal/shell"
	"github.com/gluk-w/termgate/internal/sshkeys"
	"github.com/gluk-w/termgate/internal/sshproxy"
)

const testPassword = "s3cret"

// fakeRemote answers exec requests the way a small Linux box with bash
// would for the scripts the executor and completer send.
func fakeRemote(cmd string) (stdout, stderr string, code int) {
	switch {
	case strings.Contains(cmd, "compgen -c"):
		return "git\ngitk\ngrep\n", "", 0
	case strings.Contains(cmd, "ls -1d"):
		return "/srv/app/README.md\n", "", 0
	case strings.Contains(cmd, `cd "/missing"`):
		return "", "cd: /missing: No such file or directory\n", 1
	case strings.HasSuffix(cmd, "&& pwd'"):
		return "/srv/app\n", "", 0
	case strings.Contains(cmd, "false"):
		return "", "", 1
	default:
		return "hello\nworld\n", "", 0
	}
}

type sshTarget struct {
	host string
	port int

	// commands containing "hold" wait here before answering
	release chan struct{}

	mu       sync.Mutex
	commands []string
}

func (tg *sshTarget) ran() []string {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	return append([]string(nil), tg.commands...)
}

// newSSHTarget starts an in-process SSH server accepting testPassword.
func newSSHTarget(t *testing.T) *sshTarget {
	t.Helper()

	_, hostPEM, err := sshkeys.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	hostSigner, err := sshkeys.ParsePrivateKey(hostPEM)
	if err != nil {
		t.Fatalf("parse host key: %v", err)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	host, portStr, _ := net.SplitHostPort(listener.Addr().String())
	port, _ := strconv.Atoi(portStr)
	tg := &sshTarget{host: host, port: port, release: make(chan struct{})}

	srv := &gssh.Server{
		Handler: tg.handle,
		PasswordHandler: func(_ gssh.Context, pw string) bool {
			return pw == testPassword
		},
	}
	srv.AddHostKey(hostSigner)

	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Serve(listener)
	}()
	t.Cleanup(func() {
		srv.Close()
		<-done
	})
	return tg
}

func (tg *sshTarget) handle(s gssh.Session) {
	cmd := s.RawCommand()
	tg.mu.Lock()
	tg.commands = append(tg.commands, cmd)
	tg.mu.Unlock()

	if strings.Contains(cmd, "hold") {
		select {
		case <-tg.release:
		case <-s.Context().Done():
			return
		}
	}

	stdout, stderr, code := fakeRemote(cmd)
	io.WriteString(s, stdout)
	io.WriteString(s.Stderr(), stderr)
	s.Exit(code)
}

// newTestServer wires a Server around a fresh registry and returns it with
// an HTTP test server running its router.
func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	reg := sshproxy.NewRegistry(sshproxy.RegistryConfig{
		ConnectTimeout: 5 * time.Second,
		HostKeyPolicy:  sshkeys.AcceptAll{},
	})
	t.Cleanup(func() { reg.CloseAll() })

	s := &Server{
		Registry:   reg,
		Executor:   shell.NewExecutor(reg, shell.Config{}),
		Completer:  shell.NewCompleter(reg, shell.Config{}),
		KnownHosts: sshkeys.NewMemoryStore(),
	}
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	return s, ts
}
