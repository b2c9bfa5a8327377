// events.go records what happened to each server connection.
//
// Every event the Registry emits is kept in a per-server ring buffer
// (100 entries) and fanned out to listeners registered with OnEvent. The
// audit log is one such listener.

package sshproxy

import (
	"log"
	"sync"
	"time"

	"github.com/gluk-w/termgate/internal/logutil"
)

// ConnectionEventType names an event.
type ConnectionEventType string

const (
	EventConnected        ConnectionEventType = "connected"
	EventConnectFailed    ConnectionEventType = "connect_failed"
	EventDisconnected     ConnectionEventType = "disconnected"
	EventHeartbeatFailed  ConnectionEventType = "heartbeat_failed"
	EventHeartbeatTimeout ConnectionEventType = "heartbeat_timeout"
	EventTransportLost    ConnectionEventType = "transport_lost"
	EventCommandExecuted  ConnectionEventType = "command_executed"
)

const eventHistorySize = 100

// ConnectionEvent is one entry in a server's event history.
type ConnectionEvent struct {
	ServerID  string              `json:"server_id"`
	Type      ConnectionEventType `json:"type"`
	Timestamp time.Time           `json:"timestamp"`
	Address   string              `json:"address,omitempty"`
	Username  string              `json:"username,omitempty"`
	Details   string              `json:"details,omitempty"`
	Duration  time.Duration       `json:"duration,omitempty"`
}

// EventListener receives events synchronously. Listeners must not call back
// into the Registry for the same server.
type EventListener func(ConnectionEvent)

type eventLog struct {
	mu        sync.RWMutex
	buffers   map[string]*ring[ConnectionEvent]
	listeners []EventListener
}

func newEventLog() *eventLog {
	return &eventLog{buffers: make(map[string]*ring[ConnectionEvent])}
}

func (el *eventLog) addListener(l EventListener) {
	el.mu.Lock()
	defer el.mu.Unlock()
	el.listeners = append(el.listeners, l)
}

// emit records ev and hands it to every listener outside the lock.
func (el *eventLog) emit(ev ConnectionEvent) {
	el.mu.Lock()
	buf, ok := el.buffers[ev.ServerID]
	if !ok {
		buf = newRing[ConnectionEvent](eventHistorySize)
		el.buffers[ev.ServerID] = buf
	}
	buf.push(ev)
	listeners := append([]EventListener(nil), el.listeners...)
	el.mu.Unlock()

	for _, l := range listeners {
		func() {
			defer func() {
				if p := recover(); p != nil {
					log.Printf("[sshproxy] event listener panicked on %s for %s: %v",
						ev.Type, logutil.SanitizeForLog(ev.ServerID), p)
				}
			}()
			l(ev)
		}()
	}
}

func (el *eventLog) history(serverID string) []ConnectionEvent {
	el.mu.RLock()
	defer el.mu.RUnlock()
	if buf, ok := el.buffers[serverID]; ok {
		return buf.snapshot()
	}
	return nil
}

// OnEvent registers l for every future connection event.
func (r *Registry) OnEvent(l EventListener) {
	r.events.addListener(l)
}

// Events returns up to the last 100 events for serverID, oldest first.
func (r *Registry) Events(serverID string) []ConnectionEvent {
	return r.events.history(serverID)
}
