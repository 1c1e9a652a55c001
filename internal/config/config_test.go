package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DBBackend != DatabaseSQLite {
		t.Fatalf("default backend = %q", cfg.DBBackend)
	}
	if cfg.PollTimeout != 30*time.Second {
		t.Fatalf("default poll timeout = %v", cfg.PollTimeout)
	}
	if cfg.PositionGuard != 0 {
		t.Fatalf("position guard should default off, got %v", cfg.PositionGuard)
	}
	if cfg.EventBus != EventBusMemory {
		t.Fatalf("default event bus = %q", cfg.EventBus)
	}
}

func TestLoadReadsEnvKeys(t *testing.T) {
	t.Setenv("MEDIABRIDGE_MEDIA_ROOTS", " /srv/music , ,/srv/chip ")
	t.Setenv("MEDIABRIDGE_POLL_TIMEOUT", "10")
	t.Setenv("MEDIABRIDGE_SSDP_ANNOUNCE_INTERVAL", "45s")
	t.Setenv("MEDIABRIDGE_DISCOVERY_DEBOUNCE_MS", "50")
	t.Setenv("MEDIABRIDGE_EVENTBUS", "NATS")
	t.Setenv("AWS_REGION", "eu-west-1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.MediaRoots) != 2 || cfg.MediaRoots[0] != "/srv/music" || cfg.MediaRoots[1] != "/srv/chip" {
		t.Fatalf("media roots = %q", cfg.MediaRoots)
	}
	if cfg.PollTimeout != 10*time.Second {
		t.Fatalf("poll timeout = %v", cfg.PollTimeout)
	}
	if cfg.SSDPAnnounceInterval != 45*time.Second {
		t.Fatalf("announce interval = %v", cfg.SSDPAnnounceInterval)
	}
	if cfg.DiscoveryDebounce != 50*time.Millisecond {
		t.Fatalf("debounce = %v", cfg.DiscoveryDebounce)
	}
	if cfg.EventBus != EventBusNATS {
		t.Fatalf("event bus = %q", cfg.EventBus)
	}
	if cfg.S3Region != "eu-west-1" {
		t.Fatalf("s3 region = %q", cfg.S3Region)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"backend", "MEDIABRIDGE_DB_BACKEND", "oracle"},
		{"eventbus", "MEDIABRIDGE_EVENTBUS", "kafka"},
		{"guard", "MEDIABRIDGE_AUTO_ADVANCE_POSITION_GUARD", "-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			if _, err := Load(); err == nil {
				t.Fatalf("expected %s=%s to be rejected", tt.key, tt.val)
			}
		})
	}
}

func TestLoadReportsLegacyEnvWarnings(t *testing.T) {
	t.Setenv("MEDIA_ROOTS", "/music")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.LegacyEnvWarnings) == 0 {
		t.Fatal("expected legacy env warnings")
	}
}

func TestPublicBaseURL(t *testing.T) {
	cfg := &Config{HTTPBind: "0.0.0.0", HTTPPort: 8200}
	if got := cfg.PublicBaseURL("192.168.1.5"); got != "http://192.168.1.5:8200" {
		t.Fatalf("derived base url = %q", got)
	}
	cfg.BaseURL = "http://media.lan/"
	if got := cfg.PublicBaseURL("192.168.1.5"); got != "http://media.lan" {
		t.Fatalf("explicit base url = %q", got)
	}
}
