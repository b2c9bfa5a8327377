package sshaudit

import (
	"strings"

	"github.com/gluk-w/termgate/internal/sshproxy"
)

// entryFor maps a registry event onto an audit entry. Events that are not
// audited return ok == false.
func entryFor(ev sshproxy.ConnectionEvent) (AuditEntry, bool) {
	entry := AuditEntry{
		ServerID:   ev.ServerID,
		Username:   ev.Username,
		Address:    ev.Address,
		Details:    ev.Details,
		DurationMs: ev.Duration.Milliseconds(),
	}
	switch ev.Type {
	case sshproxy.EventConnected:
		entry.EventType = EventConnectionEstablished
	case sshproxy.EventDisconnected:
		entry.EventType = EventConnectionTerminated
	case sshproxy.EventConnectFailed:
		entry.EventType = EventConnectionFailed
		if strings.HasPrefix(ev.Details, sshproxy.KindHostKeyRejected.String()) {
			entry.EventType = EventHostKeyRejected
		}
	case sshproxy.EventCommandExecuted:
		entry.EventType = EventCommandExecution
	case sshproxy.EventHeartbeatFailed, sshproxy.EventHeartbeatTimeout:
		entry.EventType = EventHeartbeatFailure
	case sshproxy.EventTransportLost:
		entry.EventType = EventTransportLost
	default:
		return AuditEntry{}, false
	}
	return entry, true
}

// HandleEvent is a sshproxy.EventListener that audits registry events.
// Write failures are logged by Log and otherwise ignored.
func (a *Auditor) HandleEvent(ev sshproxy.ConnectionEvent) {
	if entry, ok := entryFor(ev); ok {
		a.Log(entry)
	}
}
