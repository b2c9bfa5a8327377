// Package sshproxy keeps one authenticated SSH session per server id.
//
// The Registry is the entry point: Connect dials and authenticates a server,
// stores its Handle and starts a heartbeat Monitor; Run executes one command
// over a fresh channel; Disconnect tears the connection down. The Registry
// lock only guards map access, never network I/O, so slow servers do not
// block unrelated ids.
//
// Connections leave the Registry in exactly one teardown, whichever comes
// first: an explicit Disconnect, a heartbeat timeout or probe failure, or a
// foreground command discovering the transport is gone.
package sshproxy

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/gluk-w/termgate/internal/crypto"
	"github.com/gluk-w/termgate/internal/logutil"
	"github.com/gluk-w/termgate/internal/sshkeys"
)

// RegistryConfig configures a Registry. Zero fields take defaults.
type RegistryConfig struct {
	ConnectTimeout     time.Duration
	ChannelOpenTimeout time.Duration
	Heartbeat          HeartbeatConfig
	RateLimit          RateLimitConfig

	// HostKeyPolicy decides which server keys are trusted. Defaults to
	// trust-on-first-use with an in-memory store.
	HostKeyPolicy sshkeys.Policy

	// Resolver maps host aliases through an ssh_config file. Optional.
	Resolver *HostResolver

	// Sealer encrypts passwords retained for Reconnect. A process-local
	// key is generated when nil.
	Sealer *crypto.Sealer

	Clock Clock
}

func (c RegistryConfig) withDefaults() RegistryConfig {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = connectTimeout
	}
	if c.ChannelOpenTimeout <= 0 {
		c.ChannelOpenTimeout = defaultChannelOpenTimeout
	}
	if c.HostKeyPolicy == nil {
		c.HostKeyPolicy = &sshkeys.TOFU{Store: sshkeys.NewMemoryStore()}
	}
	if c.Clock == nil {
		c.Clock = realClock{}
	}
	if c.Sealer == nil {
		s, err := crypto.NewSealer()
		if err != nil {
			panic(fmt.Sprintf("sshproxy: %v", err))
		}
		c.Sealer = s
	}
	c.Heartbeat = c.Heartbeat.withDefaults()
	return c
}

// managedConn is one live connection record.
type managedConn struct {
	params  ConnectParams
	handle  *Handle
	live    *Liveness
	metrics *connMetrics
	monitor *Monitor
}

// ConnectionInfo describes a live connection.
type ConnectionInfo struct {
	ServerID string            `json:"server_id"`
	Address  string            `json:"address"`
	Username string            `json:"username"`
	State    ConnectionState   `json:"state"`
	Metrics  ConnectionMetrics `json:"metrics"`
	Monitor  string            `json:"monitor"`
}

// Registry owns every live connection. Create one with NewRegistry and
// share it; the zero value is not usable.
type Registry struct {
	cfg     RegistryConfig
	dialer  *dialer
	limiter *RateLimiter
	states  *stateTracker
	events  *eventLog

	mu      sync.Mutex
	conns   map[string]*managedConn
	pending map[string]struct{}    // ids with a connect in flight
	targets map[string]savedTarget // last successful params, for Reconnect
}

// savedTarget is a ConnectParams with its password sealed.
type savedTarget struct {
	params   ConnectParams
	password string
}

// NewRegistry builds an empty Registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	cfg = cfg.withDefaults()
	limiter := NewRateLimiter(cfg.RateLimit)
	limiter.now = cfg.Clock.Now
	return &Registry{
		cfg: cfg,
		dialer: &dialer{
			timeout:     cfg.ConnectTimeout,
			openTimeout: cfg.ChannelOpenTimeout,
			policy:      cfg.HostKeyPolicy,
			resolver:    cfg.Resolver,
		},
		limiter: limiter,
		states:  newStateTracker(cfg.Clock.Now),
		events:  newEventLog(),
		conns:   make(map[string]*managedConn),
		pending: make(map[string]struct{}),
		targets: make(map[string]savedTarget),
	}
}

// Connect dials, authenticates and registers p.ServerID, then starts its
// heartbeat monitor. A second Connect for an id that is connected, or still
// connecting, fails with KindAlreadyConnected.
func (r *Registry) Connect(ctx context.Context, p ConnectParams) (string, error) {
	if p.ServerID == "" {
		return "", newError(KindUnknown, "", "server id is required", nil)
	}
	if (p.Password == "") == (p.KeyPath == "") {
		_, err := p.authMethod()
		return "", err
	}

	r.mu.Lock()
	_, live := r.conns[p.ServerID]
	_, busy := r.pending[p.ServerID]
	if live || busy {
		r.mu.Unlock()
		return "", newError(KindAlreadyConnected, p.ServerID,
			fmt.Sprintf("server %s is already connected", p.ServerID), nil)
	}
	r.pending[p.ServerID] = struct{}{}
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.pending, p.ServerID)
		r.mu.Unlock()
	}()

	if err := r.limiter.Allow(p.ServerID); err != nil {
		return "", newError(KindRateLimited, p.ServerID, "too many connection attempts", err)
	}

	id := logutil.SanitizeForLog(p.ServerID)
	addr := p.Address()
	r.states.set(p.ServerID, StateConnecting, "connecting to "+addr)
	start := r.cfg.Clock.Now()

	handle, err := r.dialer.dial(ctx, p)
	if err != nil {
		r.limiter.RecordFailure(p.ServerID)
		r.states.set(p.ServerID, StateFailed, err.Error())
		r.events.emit(ConnectionEvent{
			ServerID:  p.ServerID,
			Type:      EventConnectFailed,
			Timestamp: r.cfg.Clock.Now(),
			Address:   addr,
			Username:  p.Username,
			Details:   fmt.Sprintf("%s: %v", KindOf(err), err),
			Duration:  r.cfg.Clock.Now().Sub(start),
		})
		log.Printf("[sshproxy] connect %s (%s) failed: %v", id, logutil.SanitizeForLog(addr), err)
		return "", err
	}
	r.limiter.RecordSuccess(p.ServerID)

	now := r.cfg.Clock.Now()
	c := &managedConn{
		params:  p,
		handle:  handle,
		live:    newLiveness(r.cfg.Clock),
		metrics: &connMetrics{m: ConnectionMetrics{ConnectedAt: now}},
	}
	c.monitor = newMonitor(p.ServerID, r.cfg.Heartbeat, r.cfg.Clock, handle, c.live, c.metrics,
		func(reason StopReason, err error) {
			evType := EventHeartbeatFailed
			if reason == StopTimeout {
				evType = EventHeartbeatTimeout
			}
			r.teardown(p.ServerID, c, evType, fmt.Sprintf("%s: %v", reason, err))
		})

	r.mu.Lock()
	r.conns[p.ServerID] = c
	r.targets[p.ServerID] = r.save(p)
	r.mu.Unlock()
	c.monitor.Start()

	r.states.set(p.ServerID, StateConnected, "connected to "+addr)
	r.events.emit(ConnectionEvent{
		ServerID:  p.ServerID,
		Type:      EventConnected,
		Timestamp: now,
		Address:   addr,
		Username:  p.Username,
		Duration:  now.Sub(start),
	})
	log.Printf("[sshproxy] connected %s to %s@%s", id, logutil.SanitizeForLog(p.Username), logutil.SanitizeForLog(addr))
	return p.ServerID, nil
}

// Disconnect tears down serverID. It always succeeds; the result reports
// whether a live connection was actually closed.
func (r *Registry) Disconnect(serverID string) bool {
	return r.teardown(serverID, nil, EventDisconnected, "disconnected by client")
}

// teardown removes serverID if it is still bound to want (or to anything,
// when want is nil), stops its monitor and closes its transport. Only the
// first of several racing teardowns does any work.
func (r *Registry) teardown(serverID string, want *managedConn, evType ConnectionEventType, details string) bool {
	r.mu.Lock()
	c, ok := r.conns[serverID]
	if !ok || (want != nil && c != want) {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, serverID)
	r.mu.Unlock()

	c.monitor.Stop()
	if err := c.handle.Close(); err != nil {
		log.Printf("[sshproxy] closing %s: %v", logutil.SanitizeForLog(serverID), err)
	}

	state := StateDisconnected
	if evType != EventDisconnected {
		state = StateFailed
	}
	r.states.set(serverID, state, details)
	r.events.emit(ConnectionEvent{
		ServerID:  serverID,
		Type:      evType,
		Timestamp: r.cfg.Clock.Now(),
		Address:   c.params.Address(),
		Username:  c.params.Username,
		Details:   details,
	})
	log.Printf("[sshproxy] %s removed: %s", logutil.SanitizeForLog(serverID), logutil.SanitizeForLog(details))
	return true
}

func (r *Registry) get(serverID string) (*managedConn, error) {
	r.mu.Lock()
	c, ok := r.conns[serverID]
	r.mu.Unlock()
	if !ok {
		return nil, newError(KindNotConnected, serverID,
			fmt.Sprintf("server %s is not connected", serverID), nil)
	}
	return c, nil
}

// Lookup returns the Handle for serverID or a KindNotConnected error.
func (r *Registry) Lookup(serverID string) (*Handle, error) {
	c, err := r.get(serverID)
	if err != nil {
		return nil, err
	}
	return c.handle, nil
}

// Run executes cmd on serverID. Success refreshes the liveness timestamp. A
// KindTransportLost failure removes the connection before returning.
func (r *Registry) Run(ctx context.Context, serverID, cmd string) (RunResult, error) {
	c, err := r.get(serverID)
	if err != nil {
		return RunResult{}, err
	}
	res, err := c.handle.Run(ctx, cmd)
	if err != nil {
		if KindOf(err) == KindTransportLost {
			r.teardown(serverID, c, EventTransportLost, err.Error())
		}
		return res, err
	}
	c.live.Touch()
	c.metrics.commandRan()
	return res, nil
}

// RecordCommand publishes a command_executed event. label is what the user
// typed, already shortened for display.
func (r *Registry) RecordCommand(serverID, label string, exitCode int, took time.Duration) {
	ev := ConnectionEvent{
		ServerID:  serverID,
		Type:      EventCommandExecuted,
		Timestamp: r.cfg.Clock.Now(),
		Details:   fmt.Sprintf("exit=%d %s", exitCode, label),
		Duration:  took,
	}
	if c, err := r.get(serverID); err == nil {
		ev.Address = c.params.Address()
		ev.Username = c.params.Username
	}
	r.events.emit(ev)
}

// Reconnect replaces serverID's connection with a fresh one to the same
// target and credential. Ids never connected in this process fail with
// KindNotConnected. The live connection is closed before dialing, so a
// failed dial leaves serverID disconnected.
func (r *Registry) Reconnect(ctx context.Context, serverID string) (string, error) {
	r.mu.Lock()
	saved, ok := r.targets[serverID]
	r.mu.Unlock()
	if !ok {
		return "", newError(KindNotConnected, serverID,
			fmt.Sprintf("server %s has no previous connection to restore", serverID), nil)
	}
	p := saved.params
	password, err := r.cfg.Sealer.Open(saved.password)
	if err != nil {
		return "", newError(KindMissingCredential, serverID, "stored password could not be recovered, connect again", err)
	}
	p.Password = password
	closed := r.teardown(serverID, nil, EventDisconnected, "reconnecting")
	r.states.set(serverID, StateReconnecting, "reconnect requested")
	id, err := r.Connect(ctx, p)
	if err != nil && closed {
		// the old session is gone either way
		return "", newError(KindOf(err), serverID, "previous session closed, reconnect failed", err)
	}
	return id, err
}

func (r *Registry) save(p ConnectParams) savedTarget {
	sealed, err := r.cfg.Sealer.Seal(p.Password)
	if err != nil {
		log.Printf("[sshproxy] sealing password for %s: %v", logutil.SanitizeForLog(p.ServerID), err)
	}
	t := savedTarget{params: p, password: sealed}
	t.params.Password = ""
	return t
}

// CloseAll tears down every connection. Used at shutdown.
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	n := 0
	for _, id := range ids {
		if r.teardown(id, nil, EventDisconnected, "shutdown") {
			n++
		}
	}
	log.Printf("[sshproxy] closed %d connections", n)
	return n
}

// Info describes serverID if it is connected.
func (r *Registry) Info(serverID string) (ConnectionInfo, bool) {
	c, err := r.get(serverID)
	if err != nil {
		return ConnectionInfo{}, false
	}
	return ConnectionInfo{
		ServerID: serverID,
		Address:  c.params.Address(),
		Username: c.params.Username,
		State:    r.states.get(serverID),
		Metrics:  c.metrics.snapshot(c.live),
		Monitor:  c.monitor.State().String(),
	}, true
}

// List describes every live connection, sorted by server id.
func (r *Registry) List() []ConnectionInfo {
	r.mu.Lock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)

	out := make([]ConnectionInfo, 0, len(ids))
	for _, id := range ids {
		if info, ok := r.Info(id); ok {
			out = append(out, info)
		}
	}
	return out
}

// Metrics returns a snapshot of serverID's counters.
func (r *Registry) Metrics(serverID string) (ConnectionMetrics, bool) {
	c, err := r.get(serverID)
	if err != nil {
		return ConnectionMetrics{}, false
	}
	return c.metrics.snapshot(c.live), true
}

// Known returns every server id the Registry has seen, connected or not.
func (r *Registry) Known() []string {
	return r.states.known()
}
