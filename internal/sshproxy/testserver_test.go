package sshproxy

import (
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"golang.org/x/crypto/ssh"

	"github.com/gluk-w/termgate/internal/sshkeys"
)

const testPassword = "s3cret"

// execFunc answers one exec request.
type execFunc func(cmd string) (stdout, stderr string, exitCode int)

func echoExec(cmd string) (string, string, int) {
	if cmd == probeCommand {
		return "", "", 0
	}
	return "ran: " + cmd + "\n", "", 0
}

// testServer is an in-process SSH server accepting testPassword and the
// key written to keyPath.
type testServer struct {
	addr    string
	host    string
	port    int
	keyPath string
	hostKey ssh.PublicKey

	mu           sync.Mutex
	exec         execFunc
	rejectOpens  bool
	conns        []net.Conn
	commands     []string
	authAttempts int
}

func newTestServer(t *testing.T, exec execFunc) *testServer {
	t.Helper()

	_, hostPEM, err := sshkeys.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	hostSigner, err := ssh.ParsePrivateKey(hostPEM)
	if err != nil {
		t.Fatalf("parse host key: %v", err)
	}

	clientPub, clientPEM, err := sshkeys.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate client key: %v", err)
	}
	authorized, _, _, _, err := ssh.ParseAuthorizedKey(clientPub)
	if err != nil {
		t.Fatalf("parse client public key: %v", err)
	}
	keyPath := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(keyPath, clientPEM, 0o600); err != nil {
		t.Fatalf("write client key: %v", err)
	}

	if exec == nil {
		exec = echoExec
	}
	s := &testServer{keyPath: keyPath, hostKey: hostSigner.PublicKey(), exec: exec}

	config := &ssh.ServerConfig{
		PasswordCallback: func(_ ssh.ConnMetadata, pw []byte) (*ssh.Permissions, error) {
			s.mu.Lock()
			s.authAttempts++
			s.mu.Unlock()
			if string(pw) == testPassword {
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("wrong password")
		},
		PublicKeyCallback: func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if ssh.FingerprintSHA256(key) == ssh.FingerprintSHA256(authorized) {
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("unknown public key")
		},
	}
	config.AddHostKey(hostSigner)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s.addr = listener.Addr().String()
	host, portStr, _ := net.SplitHostPort(s.addr)
	s.host = host
	s.port, _ = strconv.Atoi(portStr)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			netConn, err := listener.Accept()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.conns = append(s.conns, netConn)
			s.mu.Unlock()
			go s.serveConn(netConn, config)
		}
	}()

	t.Cleanup(func() {
		listener.Close()
		s.dropConnections()
		<-done
	})
	return s
}

// params returns password credentials for this server.
func (s *testServer) params(serverID string) ConnectParams {
	return ConnectParams{ServerID: serverID, Host: s.host, Port: s.port, Username: "tester", Password: testPassword}
}

// dropConnections kills every accepted TCP connection.
func (s *testServer) dropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.Close()
	}
	s.conns = nil
}

func (s *testServer) setRejectOpens(v bool) {
	s.mu.Lock()
	s.rejectOpens = v
	s.mu.Unlock()
}

func (s *testServer) setExec(fn execFunc) {
	s.mu.Lock()
	s.exec = fn
	s.mu.Unlock()
}

// ran returns every non-probe command the server executed.
func (s *testServer) ran() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func (s *testServer) serveConn(netConn net.Conn, config *ssh.ServerConfig) {
	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, config)
	if err != nil {
		netConn.Close()
		return
	}
	defer sshConn.Close()
	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		s.mu.Lock()
		reject := s.rejectOpens
		s.mu.Unlock()
		if newChan.ChannelType() != "session" || reject {
			newChan.Reject(ssh.Prohibited, "channel refused")
			continue
		}
		ch, requests, err := newChan.Accept()
		if err != nil {
			continue
		}
		go s.serveSession(ch, requests)
	}
}

func (s *testServer) serveSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	defer ch.Close()
	for req := range requests {
		if req.Type != "exec" {
			if req.WantReply {
				req.Reply(false, nil)
			}
			continue
		}
		var payload struct{ Command string }
		if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
			req.Reply(false, nil)
			return
		}
		if req.WantReply {
			req.Reply(true, nil)
		}

		s.mu.Lock()
		exec := s.exec
		if payload.Command != probeCommand {
			s.commands = append(s.commands, payload.Command)
		}
		s.mu.Unlock()

		stdout, stderr, code := exec(payload.Command)
		if stdout != "" {
			ch.Write([]byte(stdout))
		}
		if stderr != "" {
			ch.Stderr().Write([]byte(stderr))
		}
		status := make([]byte, 4)
		binary.BigEndian.PutUint32(status, uint32(code))
		ch.SendRequest("exit-status", false, status)
		return
	}
}
