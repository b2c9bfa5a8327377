package sshproxy

import (
	"errors"
	"fmt"
)

// ErrorKind classifies session-layer failures. Callers branch on the kind,
// never on message text.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindAlreadyConnected
	KindNotConnected
	KindMissingCredential
	KindKeyLoadFailed
	KindUnreachable
	KindTimeout
	KindNoRoute
	KindOtherTransport
	KindHostKeyRejected
	KindAuthFailed
	KindRateLimited
	KindChannelOpenFailed
	KindExecFailed
	KindTransportLost
)

// String returns the snake_case name of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindAlreadyConnected:
		return "already_connected"
	case KindNotConnected:
		return "not_connected"
	case KindMissingCredential:
		return "missing_credential"
	case KindKeyLoadFailed:
		return "key_load_failed"
	case KindUnreachable:
		return "unreachable"
	case KindTimeout:
		return "timeout"
	case KindNoRoute:
		return "no_route"
	case KindOtherTransport:
		return "other_transport"
	case KindHostKeyRejected:
		return "host_key_rejected"
	case KindAuthFailed:
		return "auth_failed"
	case KindRateLimited:
		return "rate_limited"
	case KindChannelOpenFailed:
		return "channel_open_failed"
	case KindExecFailed:
		return "exec_failed"
	case KindTransportLost:
		return "transport_lost"
	default:
		return "unknown"
	}
}

// Error is the error type returned by Registry and Handle operations.
// Msg is a user-facing sentence; Err is the underlying cause, if any.
type Error struct {
	Kind     ErrorKind
	ServerID string
	Msg      string
	Err      error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind, so
// errors.Is(err, ErrNotConnected) works regardless of server id or message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.ServerID == "" && t.Msg == "" && t.Err == nil
}

// Sentinels for errors.Is.
var (
	ErrAlreadyConnected  = &Error{Kind: KindAlreadyConnected}
	ErrNotConnected      = &Error{Kind: KindNotConnected}
	ErrMissingCredential = &Error{Kind: KindMissingCredential}
	ErrAuthFailed        = &Error{Kind: KindAuthFailed}
	ErrTransportLost     = &Error{Kind: KindTransportLost}
	ErrChannelOpenFailed = &Error{Kind: KindChannelOpenFailed}
	ErrExecFailed        = &Error{Kind: KindExecFailed}
)

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsConnectFailure reports whether kind is one of the connect-time transport kinds.
func (k ErrorKind) IsConnectFailure() bool {
	switch k {
	case KindUnreachable, KindTimeout, KindNoRoute, KindOtherTransport, KindHostKeyRejected:
		return true
	}
	return false
}

func newError(kind ErrorKind, serverID, msg string, err error) *Error {
	return &Error{Kind: kind, ServerID: serverID, Msg: msg, Err: err}
}
