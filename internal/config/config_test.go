package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	Load()
	if Cfg.DatabasePath != "./data/sshdeck.db" {
		t.Errorf("DatabasePath = %q", Cfg.DatabasePath)
	}
	if Cfg.SSHReadyTimeout != "30s" || Cfg.SSHKeepaliveInterval != "10s" {
		t.Errorf("ssh timings = %q/%q", Cfg.SSHReadyTimeout, Cfg.SSHKeepaliveInterval)
	}
	if Cfg.MetricsInterval != "5s" {
		t.Errorf("MetricsInterval = %q", Cfg.MetricsInterval)
	}
	if Cfg.AuditRetentionDays != 90 {
		t.Errorf("AuditRetentionDays = %d", Cfg.AuditRetentionDays)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SSHDECK_METRICS_INTERVAL", "15s")
	t.Setenv("SSHDECK_TERMINAL_INPUT_RATE", "50")
	Load()
	if Cfg.MetricsInterval != "15s" {
		t.Errorf("MetricsInterval = %q", Cfg.MetricsInterval)
	}
	if Cfg.TerminalInputRate != 50 {
		t.Errorf("TerminalInputRate = %d", Cfg.TerminalInputRate)
	}
}

func TestDuration(t *testing.T) {
	def := 10 * time.Second
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", def},
		{"2m", 2 * time.Minute},
		{"bogus", def},
		{"-1s", def},
		{"0s", def},
	}
	for _, tt := range tests {
		if got := Duration(tt.in, def); got != tt.want {
			t.Errorf("Duration(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
