package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	DataPath     string `envconfig:"DATA_PATH" default:"./data"`
	DatabasePath string `envconfig:"DATABASE_PATH" default:"./data/sshdeck.db"`
	LogPath      string `envconfig:"LOG_PATH" default:"./data/sshdeck.log"`
	ListenAddr   string `envconfig:"LISTEN_ADDR" default:"127.0.0.1:8000"`

	// SSH session settings
	SSHReadyTimeout      string `envconfig:"SSH_READY_TIMEOUT" default:"30s"`
	SSHKeepaliveInterval string `envconfig:"SSH_KEEPALIVE_INTERVAL" default:"10s"`

	MetricsInterval    string `envconfig:"METRICS_INTERVAL" default:"5s"`
	AuditRetentionDays int    `envconfig:"AUDIT_RETENTION_DAYS" default:"90"`

	// Terminal input limiting, in websocket messages per second
	TerminalInputRate  int `envconfig:"TERMINAL_INPUT_RATE" default:"200"`
	TerminalInputBurst int `envconfig:"TERMINAL_INPUT_BURST" default:"200"`
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("SSHDECK", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
}

// Duration parses a duration setting. Empty, malformed or non-positive
// values yield def.
func Duration(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		log.Printf("WARNING: invalid duration %q, using %s", value, def)
		return def
	}
	return d
}
