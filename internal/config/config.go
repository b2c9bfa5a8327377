package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	ListenAddr     string   `envconfig:"LISTEN_ADDR" default:":8000"`
	AllowedClients string   `envconfig:"ALLOWED_CLIENTS" default:""`
	TrustedProxies string   `envconfig:"TRUSTED_PROXIES" default:""`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:""`
	DataPath       string   `envconfig:"DATA_PATH" default:"/app/data"`
	DatabasePath   string   `envconfig:"DATABASE_PATH" default:"/app/data/termgate.db"`
	LogPath        string   `envconfig:"LOG_PATH" default:""`

	// Heartbeat monitor settings
	HeartbeatInterval    time.Duration `envconfig:"HEARTBEAT_INTERVAL" default:"30s"`
	HeartbeatTimeout     time.Duration `envconfig:"HEARTBEAT_TIMEOUT" default:"300s"`
	HeartbeatMaxFailures int           `envconfig:"HEARTBEAT_MAX_FAILURES" default:"1"`
	ProbeAttempts        int           `envconfig:"PROBE_ATTEMPTS" default:"10"`
	ProbePollDelay       time.Duration `envconfig:"PROBE_POLL_DELAY" default:"100ms"`

	// Transport settings
	ConnectTimeout     time.Duration `envconfig:"CONNECT_TIMEOUT" default:"30s"`
	ChannelOpenTimeout time.Duration `envconfig:"CHANNEL_OPEN_TIMEOUT" default:"15s"`
	HostKeyPolicy      string        `envconfig:"HOST_KEY_POLICY" default:"tofu"`
	KnownHostsPath     string        `envconfig:"KNOWN_HOSTS_PATH" default:""`
	HostFingerprint    string        `envconfig:"HOST_FINGERPRINT" default:""`
	SSHConfigPath      string        `envconfig:"SSH_CONFIG_PATH" default:""`
	CredentialKey      string        `envconfig:"CREDENTIAL_KEY" default:""`

	// Shell emulation settings
	RemoteShell     string `envconfig:"REMOTE_SHELL" default:"bash"`
	CompletionLimit int    `envconfig:"COMPLETION_LIMIT" default:"50"`

	// Audit settings
	AuditRetentionDays int    `envconfig:"AUDIT_RETENTION_DAYS" default:"90"`
	AuditPurgeSchedule string `envconfig:"AUDIT_PURGE_SCHEDULE" default:"@every 1h"`
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("TERMGATE", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
}
