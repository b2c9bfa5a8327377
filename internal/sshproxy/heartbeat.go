// heartbeat.go implements per-connection liveness monitoring.
//
// The SSH transport offers no keepalive we can rely on across every server,
// so each connection gets a Monitor that periodically runs a no-op command
// over the same Handle foreground commands use. A Monitor is a two-state
// machine (Running, Terminated). It terminates when cancelled, when the
// liveness timestamp goes stale, or when probes fail MaxFailures times in a
// row. The last two report the connection dead so the Registry can tear it
// down.

package sshproxy

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gluk-w/termgate/internal/logutil"
)

// Clock abstracts time for the monitor so tests can drive it by hand.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// HeartbeatConfig tunes a Monitor. Zero fields take defaults.
type HeartbeatConfig struct {
	Interval       time.Duration // time between probes
	Timeout        time.Duration // max age of the liveness timestamp
	MaxFailures    int           // consecutive probe failures before teardown
	ProbeAttempts  int           // polls per probe before it is inconclusive
	ProbePollDelay time.Duration // sleep between polls
}

func (c HeartbeatConfig) withDefaults() HeartbeatConfig {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 300 * time.Second
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = 1
	}
	if c.ProbeAttempts <= 0 {
		c.ProbeAttempts = 10
	}
	if c.ProbePollDelay <= 0 {
		c.ProbePollDelay = 100 * time.Millisecond
	}
	return c
}

// Liveness is the last time the connection proved responsive. Both the
// monitor and foreground commands write it; the last writer wins.
type Liveness struct {
	mu    sync.Mutex
	last  time.Time
	clock Clock
}

func newLiveness(clock Clock) *Liveness {
	return &Liveness{last: clock.Now(), clock: clock}
}

// Touch marks the connection alive now.
func (l *Liveness) Touch() {
	now := l.clock.Now()
	l.mu.Lock()
	l.last = now
	l.mu.Unlock()
}

// Last returns the most recent Touch.
func (l *Liveness) Last() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

// Since returns how long ago the connection last proved alive.
func (l *Liveness) Since() time.Duration {
	return l.clock.Now().Sub(l.Last())
}

// ConnectionMetrics is a point-in-time view of one connection's counters.
type ConnectionMetrics struct {
	ConnectedAt      time.Time `json:"connected_at"`
	LastHeartbeat    time.Time `json:"last_heartbeat"`
	LastActivity     time.Time `json:"last_activity"`
	SuccessfulProbes int64     `json:"successful_probes"`
	FailedProbes     int64     `json:"failed_probes"`
	CommandsExecuted int64     `json:"commands_executed"`
}

// connMetrics is the mutable counter set behind ConnectionMetrics.
type connMetrics struct {
	mu sync.Mutex
	m  ConnectionMetrics
}

func (cm *connMetrics) probeOK(at time.Time) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.m.LastHeartbeat = at
	cm.m.SuccessfulProbes++
}

func (cm *connMetrics) probeFailed(at time.Time) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.m.LastHeartbeat = at
	cm.m.FailedProbes++
}

func (cm *connMetrics) commandRan() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.m.CommandsExecuted++
}

func (cm *connMetrics) snapshot(live *Liveness) ConnectionMetrics {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	s := cm.m
	if live != nil {
		s.LastActivity = live.Last()
	}
	return s
}

// Prober is the part of a Handle the monitor needs.
type Prober interface {
	Probe(ctx context.Context, attempts int, delay time.Duration) error
}

// MonitorState is Running until the monitor stops for any reason.
type MonitorState int

const (
	MonitorRunning MonitorState = iota
	MonitorTerminated
)

func (s MonitorState) String() string {
	if s == MonitorRunning {
		return "running"
	}
	return "terminated"
}

// StopReason says why a monitor terminated.
type StopReason int

const (
	StopNone StopReason = iota
	StopCancelled
	StopTimeout
	StopProbeFailed
)

func (r StopReason) String() string {
	switch r {
	case StopCancelled:
		return "cancelled"
	case StopTimeout:
		return "heartbeat timeout"
	case StopProbeFailed:
		return "probe failed"
	default:
		return "none"
	}
}

// DeadFunc is called once, from the monitor goroutine, when the monitor
// decides the connection is dead. It must not wait for the monitor to exit.
type DeadFunc func(reason StopReason, err error)

// Monitor watches one connection.
type Monitor struct {
	serverID string
	cfg      HeartbeatConfig
	clock    Clock
	probe    Prober
	live     *Liveness
	metrics  *connMetrics
	onDead   DeadFunc

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	state  MonitorState
	reason StopReason
}

func newMonitor(serverID string, cfg HeartbeatConfig, clock Clock, probe Prober, live *Liveness, metrics *connMetrics, onDead DeadFunc) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		serverID: serverID,
		cfg:      cfg.withDefaults(),
		clock:    clock,
		probe:    probe,
		live:     live,
		metrics:  metrics,
		onDead:   onDead,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Start launches the probe loop.
func (m *Monitor) Start() {
	go m.run()
}

// Stop cancels the monitor. It does not wait; use Done for that.
func (m *Monitor) Stop() {
	m.cancel()
}

// Done is closed once the probe loop has exited.
func (m *Monitor) Done() <-chan struct{} {
	return m.done
}

// State returns Running or Terminated.
func (m *Monitor) State() MonitorState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Reason returns why the monitor terminated, or StopNone while running.
func (m *Monitor) Reason() StopReason {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reason
}

func (m *Monitor) terminate(reason StopReason) {
	m.mu.Lock()
	m.state = MonitorTerminated
	m.reason = reason
	m.mu.Unlock()
}

func (m *Monitor) run() {
	defer close(m.done)
	failures := 0
	id := logutil.SanitizeForLog(m.serverID)

	for {
		select {
		case <-m.ctx.Done():
			m.terminate(StopCancelled)
			return
		case <-m.clock.After(m.cfg.Interval):
		}

		if age := m.live.Since(); age > m.cfg.Timeout {
			log.Printf("[sshproxy] heartbeat timeout for %s: no activity for %s", id, age.Round(time.Second))
			m.die(StopTimeout, errors.New("no successful heartbeat within timeout"))
			return
		}

		err := m.probe.Probe(m.ctx, m.cfg.ProbeAttempts, m.cfg.ProbePollDelay)
		if m.ctx.Err() != nil {
			m.terminate(StopCancelled)
			return
		}
		now := m.clock.Now()
		if err == nil {
			failures = 0
			m.live.Touch()
			m.metrics.probeOK(now)
			continue
		}

		failures++
		m.metrics.probeFailed(now)
		log.Printf("[sshproxy] heartbeat probe failed for %s (%d/%d): %v", id, failures, m.cfg.MaxFailures, err)
		if failures >= m.cfg.MaxFailures {
			m.die(StopProbeFailed, err)
			return
		}
	}
}

func (m *Monitor) die(reason StopReason, err error) {
	m.terminate(reason)
	m.cancel()
	if m.onDead != nil {
		m.onDead(reason, err)
	}
}
