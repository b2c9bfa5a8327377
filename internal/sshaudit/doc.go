// Package sshaudit records security-relevant session events.
//
// # Event Types
//
//   - [EventConnectionEstablished]: a server was connected and authenticated.
//   - [EventConnectionTerminated]: a connection was closed by the client or at shutdown.
//   - [EventConnectionFailed]: a connect attempt failed.
//   - [EventHostKeyRejected]: the host-key policy refused a server key.
//   - [EventCommandExecution]: a command line ran (truncated, with exit code).
//   - [EventHeartbeatFailure]: the liveness monitor gave up on a connection.
//   - [EventTransportLost]: a foreground command found the transport dead.
//
// # Architecture
//
// [Auditor] writes rows to the ssh_audit_logs table through GORM and mirrors
// each one to the standard logger. It is constructed once at startup and
// subscribed to the session registry with [Auditor.HandleEvent].
//
// # Retention and Purging
//
// Entries are kept for [DefaultRetentionDays] (90 days) unless configured
// otherwise. [Auditor.StartPurgeJob] deletes older rows on a cron schedule.
package sshaudit
