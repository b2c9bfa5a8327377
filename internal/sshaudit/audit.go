package sshaudit

import (
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/gluk-w/termgate/internal/database"
	"github.com/gluk-w/termgate/internal/logutil"
)

// Event types for SSH audit logging.
const (
	EventConnectionEstablished = "connection_established"
	EventConnectionTerminated  = "connection_terminated"
	EventConnectionFailed      = "connection_failed"
	EventHostKeyRejected       = "host_key_rejected"
	EventCommandExecution      = "command_execution"
	EventHeartbeatFailure      = "heartbeat_failure"
	EventTransportLost         = "transport_lost"
)

// DefaultRetentionDays is the default number of days to keep audit logs.
const DefaultRetentionDays = 90

// AuditEntry contains the fields needed to create an audit log entry.
type AuditEntry struct {
	ServerID   string
	EventType  string
	Username   string
	Address    string
	Details    string
	DurationMs int64
	RequestID  string
}

// Auditor records and queries SSH audit logs.
type Auditor struct {
	db            *gorm.DB
	retentionDays int
	nowFn         func() time.Time
}

// NewAuditor creates an Auditor writing to db. A non-positive
// retentionDays selects DefaultRetentionDays.
func NewAuditor(db *gorm.DB, retentionDays int) *Auditor {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &Auditor{db: db, retentionDays: retentionDays, nowFn: time.Now}
}

// Log records an audit event to the database and standard logger.
func (a *Auditor) Log(entry AuditEntry) error {
	record := database.SSHAuditLog{
		ServerID:  entry.ServerID,
		EventType: entry.EventType,
		Username:  entry.Username,
		Address:   entry.Address,
		Details:   entry.Details,
		Duration:  entry.DurationMs,
		RequestID: entry.RequestID,
		CreatedAt: a.nowFn(),
	}
	if err := a.db.Create(&record).Error; err != nil {
		log.Printf("[ssh-audit] failed to write audit log: %v", err)
		return err
	}

	log.Printf("[ssh-audit] %s server=%s user=%s addr=%s details=%s",
		entry.EventType,
		logutil.SanitizeForLog(entry.ServerID),
		logutil.SanitizeForLog(entry.Username),
		logutil.SanitizeForLog(entry.Address),
		logutil.SanitizeForLog(entry.Details),
	)
	return nil
}

// QueryOptions filters audit log queries. Zero fields match everything.
type QueryOptions struct {
	ServerID  string
	EventType string
	Username  string
	Since     *time.Time
	Until     *time.Time
	Limit     int
	Offset    int
}

// QueryResult contains audit log entries and pagination metadata.
type QueryResult struct {
	Entries []database.SSHAuditLog `json:"entries"`
	Total   int64                  `json:"total"`
	Limit   int                    `json:"limit"`
	Offset  int                    `json:"offset"`
}

// Query returns matching entries, newest first. Limit defaults to 50 and is
// capped at 1000.
func (a *Auditor) Query(opts QueryOptions) (*QueryResult, error) {
	tx := a.db.Model(&database.SSHAuditLog{})
	if opts.ServerID != "" {
		tx = tx.Where("server_id = ?", opts.ServerID)
	}
	if opts.EventType != "" {
		tx = tx.Where("event_type = ?", opts.EventType)
	}
	if opts.Username != "" {
		tx = tx.Where("username = ?", opts.Username)
	}
	if opts.Since != nil {
		tx = tx.Where("created_at >= ?", *opts.Since)
	}
	if opts.Until != nil {
		tx = tx.Where("created_at <= ?", *opts.Until)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, err
	}

	switch {
	case opts.Limit <= 0:
		opts.Limit = 50
	case opts.Limit > 1000:
		opts.Limit = 1000
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}

	entries := []database.SSHAuditLog{}
	if err := tx.Order("created_at DESC, id DESC").Offset(opts.Offset).Limit(opts.Limit).Find(&entries).Error; err != nil {
		return nil, err
	}
	return &QueryResult{Entries: entries, Total: total, Limit: opts.Limit, Offset: opts.Offset}, nil
}

// PurgeOlderThan deletes entries older than days, or older than the
// configured retention when days is not positive.
func (a *Auditor) PurgeOlderThan(days int) (int64, error) {
	if days <= 0 {
		days = a.retentionDays
	}
	cutoff := a.nowFn().AddDate(0, 0, -days)
	result := a.db.Where("created_at < ?", cutoff).Delete(&database.SSHAuditLog{})
	if result.Error != nil {
		log.Printf("[ssh-audit] purge failed: %v", result.Error)
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		log.Printf("[ssh-audit] purged %d audit log entries older than %d days", result.RowsAffected, days)
	}
	return result.RowsAffected, nil
}

// RetentionDays returns the configured retention period.
func (a *Auditor) RetentionDays() int {
	return a.retentionDays
}

// SetNowFunc replaces the clock. Tests only.
func (a *Auditor) SetNowFunc(fn func() time.Time) {
	a.nowFn = fn
}
