// state.go tracks the lifecycle state of each server connection.
//
// The Registry moves a server through Connecting, Connected, Disconnected and
// Failed as it connects and tears down. Transitions are kept in a per-server
// ring buffer (50 entries) and reported to registered callbacks, which the
// HTTP layer uses for the status endpoint.

package sshproxy

import (
	"sort"
	"sync"
	"time"
)

// ConnectionState is the lifecycle state of one server connection.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON.
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

const stateHistorySize = 50

// StateTransition records one state change.
type StateTransition struct {
	From      ConnectionState `json:"from"`
	To        ConnectionState `json:"to"`
	Timestamp time.Time       `json:"timestamp"`
	Reason    string          `json:"reason"`
}

// StateChangeCallback is invoked synchronously after every transition.
type StateChangeCallback func(serverID string, from, to ConnectionState)

type serverState struct {
	current ConnectionState
	history *ring[StateTransition]
}

type stateTracker struct {
	mu        sync.RWMutex
	servers   map[string]*serverState
	callbacks []StateChangeCallback
	now       func() time.Time
}

func newStateTracker(now func() time.Time) *stateTracker {
	if now == nil {
		now = time.Now
	}
	return &stateTracker{servers: make(map[string]*serverState), now: now}
}

// set moves serverID to state. Setting the current state again is a no-op.
func (st *stateTracker) set(serverID string, state ConnectionState, reason string) {
	st.mu.Lock()
	s, ok := st.servers[serverID]
	if !ok {
		s = &serverState{current: StateDisconnected, history: newRing[StateTransition](stateHistorySize)}
		st.servers[serverID] = s
	}
	from := s.current
	if from == state {
		st.mu.Unlock()
		return
	}
	s.current = state
	s.history.push(StateTransition{From: from, To: state, Timestamp: st.now(), Reason: reason})
	cbs := append([]StateChangeCallback(nil), st.callbacks...)
	st.mu.Unlock()

	for _, cb := range cbs {
		cb(serverID, from, state)
	}
}

func (st *stateTracker) get(serverID string) ConnectionState {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if s, ok := st.servers[serverID]; ok {
		return s.current
	}
	return StateDisconnected
}

func (st *stateTracker) transitions(serverID string) []StateTransition {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if s, ok := st.servers[serverID]; ok {
		return s.history.snapshot()
	}
	return nil
}

// known returns every server id that has ever changed state, sorted.
func (st *stateTracker) known() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	ids := make([]string, 0, len(st.servers))
	for id := range st.servers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (st *stateTracker) onChange(cb StateChangeCallback) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.callbacks = append(st.callbacks, cb)
}

// State returns the current state of serverID. Servers never seen report
// StateDisconnected.
func (r *Registry) State(serverID string) ConnectionState {
	return r.states.get(serverID)
}

// StateHistory returns up to the last 50 transitions for serverID, oldest first.
func (r *Registry) StateHistory(serverID string) []StateTransition {
	return r.states.transitions(serverID)
}

// OnStateChange registers cb for every future state transition.
func (r *Registry) OnStateChange(cb StateChangeCallback) {
	r.states.onChange(cb)
}
