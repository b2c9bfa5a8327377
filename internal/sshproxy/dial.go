package sshproxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kevinburke/ssh_config"
	"golang.org/x/crypto/ssh"

	"github.com/gluk-w/termgate/internal/sshkeys"
)

const (
	// connectTimeout is the default timeout for establishing SSH connections.
	connectTimeout = 30 * time.Second

	defaultSSHPort = 22
)

// ConnectParams describes one connect request. Exactly one of Password and
// KeyPath must be set.
type ConnectParams struct {
	ServerID string `json:"server_id"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"-"`
	KeyPath  string `json:"key_path,omitempty"`
}

// Address returns host:port, defaulting the port to 22.
func (p ConnectParams) Address() string {
	port := p.Port
	if port == 0 {
		port = defaultSSHPort
	}
	return net.JoinHostPort(p.Host, strconv.Itoa(port))
}

// authMethod returns the single auth method the params call for.
func (p ConnectParams) authMethod() (ssh.AuthMethod, error) {
	hasPassword := p.Password != ""
	hasKey := p.KeyPath != ""
	switch {
	case hasPassword && hasKey:
		return nil, newError(KindMissingCredential, p.ServerID, "supply either a password or a private key path, not both", nil)
	case hasKey:
		signer, err := sshkeys.LoadSigner(p.KeyPath)
		if err != nil {
			return nil, newError(KindKeyLoadFailed, p.ServerID, "failed to load private key, check the key file path", err)
		}
		return ssh.PublicKeys(signer), nil
	case hasPassword:
		return ssh.Password(p.Password), nil
	default:
		return nil, newError(KindMissingCredential, p.ServerID, "a password or private key path is required", nil)
	}
}

// HostResolver maps host aliases to real host names and ports using an
// OpenSSH client config file.
type HostResolver struct {
	cfg *ssh_config.Config
}

// LoadHostResolver parses the ssh_config file at path. A missing file
// yields a resolver that leaves every host unchanged.
func LoadHostResolver(path string) (*HostResolver, error) {
	if path == "" {
		path = "~/.ssh/config"
	}
	f, err := os.Open(sshkeys.ExpandHome(path))
	if err != nil {
		if os.IsNotExist(err) {
			return &HostResolver{}, nil
		}
		return nil, fmt.Errorf("open ssh config: %w", err)
	}
	defer f.Close()

	cfg, err := ssh_config.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("parse ssh config %s: %w", path, err)
	}
	return &HostResolver{cfg: cfg}, nil
}

// NewHostResolver wraps an already decoded config.
func NewHostResolver(cfg *ssh_config.Config) *HostResolver {
	return &HostResolver{cfg: cfg}
}

// Resolve returns the HostName and Port configured for host. An explicit
// non-zero port always wins over the config file.
func (r *HostResolver) Resolve(host string, port int) (string, int) {
	if r == nil || r.cfg == nil {
		return host, port
	}
	resolved := host
	if hn, err := r.cfg.Get(host, "HostName"); err == nil && hn != "" {
		resolved = hn
	}
	if port == 0 {
		if ps, err := r.cfg.Get(host, "Port"); err == nil && ps != "" {
			if p, err := strconv.Atoi(ps); err == nil {
				port = p
			}
		}
	}
	return resolved, port
}

// dialer establishes authenticated SSH clients.
type dialer struct {
	timeout     time.Duration
	openTimeout time.Duration
	policy      sshkeys.Policy
	resolver    *HostResolver
}

// dial connects and authenticates, returning a ready Handle or an *Error
// whose kind describes what went wrong.
func (d *dialer) dial(ctx context.Context, p ConnectParams) (*Handle, error) {
	auth, err := p.authMethod()
	if err != nil {
		return nil, err
	}

	p.Host, p.Port = d.resolver.Resolve(p.Host, p.Port)
	addr := p.Address()

	var hostKeyErr error
	policyCB := d.policy.Callback(p.ServerID)
	cfg := &ssh.ClientConfig{
		User: p.Username,
		Auth: []ssh.AuthMethod{auth},
		HostKeyCallback: func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			if err := policyCB(hostname, remote, key); err != nil {
				hostKeyErr = err
				return err
			}
			return nil
		},
		Timeout: d.timeout,
	}

	netDialer := net.Dialer{Timeout: d.timeout}
	netConn, err := netDialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, classifyDialError(p, addr, err)
	}

	// The handshake has no timeout of its own.
	netConn.SetDeadline(time.Now().Add(d.timeout))
	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, cfg)
	if err != nil {
		netConn.Close()
		if hostKeyErr != nil {
			return nil, newError(KindHostKeyRejected, p.ServerID, fmt.Sprintf("host key verification failed for %s", addr), hostKeyErr)
		}
		return nil, classifyHandshakeError(p, addr, err)
	}
	netConn.SetDeadline(time.Time{})

	return NewHandle(p.ServerID, ssh.NewClient(sshConn, chans, reqs), d.openTimeout), nil
}

// classifyDialError turns a TCP dial failure into a user-facing *Error.
// Classification is best-effort and based on the error text.
func classifyDialError(p ConnectParams, addr string, err error) *Error {
	msg := strings.ToLower(err.Error())
	var netErr net.Error
	switch {
	case strings.Contains(msg, "connection refused"):
		return newError(KindUnreachable, p.ServerID,
			fmt.Sprintf("cannot connect to server %s, check the host address and port", addr), err)
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout(),
		strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return newError(KindTimeout, p.ServerID,
			fmt.Sprintf("connection to server %s timed out", addr), err)
	case strings.Contains(msg, "no route to host"), strings.Contains(msg, "network is unreachable"):
		return newError(KindNoRoute, p.ServerID,
			fmt.Sprintf("cannot reach server %s, check the network connection", addr), err)
	default:
		return newError(KindOtherTransport, p.ServerID, "connection failed", err)
	}
}

// classifyHandshakeError separates authentication rejections from other
// handshake failures.
func classifyHandshakeError(p ConnectParams, addr string, err error) *Error {
	msg := strings.ToLower(err.Error())
	var netErr net.Error
	switch {
	case strings.Contains(msg, "unable to authenticate"), strings.Contains(msg, "authentication failed"):
		return newError(KindAuthFailed, p.ServerID,
			"authentication failed, check the username, password or key", err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return newError(KindTimeout, p.ServerID,
			fmt.Sprintf("ssh handshake with %s timed out", addr), err)
	default:
		return newError(KindOtherTransport, p.ServerID,
			fmt.Sprintf("ssh handshake with %s failed", addr), err)
	}
}
