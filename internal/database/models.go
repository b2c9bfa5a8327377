package database

import "time"

// KnownHost is a host key accepted on first use for one host:port address.
type KnownHost struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Address     string    `gorm:"uniqueIndex;not null" json:"address"`
	KeyType     string    `gorm:"not null" json:"key_type"`
	Fingerprint string    `gorm:"not null" json:"fingerprint"`
	FirstSeenAt time.Time `gorm:"autoCreateTime" json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

// SSHAuditLog is one audited session-layer event.
type SSHAuditLog struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ServerID  string    `gorm:"index;not null" json:"server_id"`
	EventType string    `gorm:"index;not null" json:"event_type"`
	Username  string    `json:"username"`
	Address   string    `json:"address"`
	Details   string    `gorm:"type:text" json:"details"`
	Duration  int64     `json:"duration_ms"`
	RequestID string    `json:"request_id,omitempty"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}
