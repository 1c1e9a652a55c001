/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Event bus relay selection.
const (
	EventBusMemory = "memory"
	EventBusRedis  = "redis"
	EventBusNATS   = "nats"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	BaseURL     string // Public base URL advertised in stream and artwork links (e.g., http://192.168.1.20:8200)
	DBBackend   DatabaseBackend
	DBDSN       string
	MetricsBind string

	// Library
	MediaRoots      []string
	CuratedRoot     string // Directory holding persisted curated lists; empty disables them
	GStreamerBin    string
	DiscovererBin   string
	AudioSink       string // GStreamer sink element for local playback
	ScanWorkers     int
	WatchEnabled    bool
	WatchSettle     time.Duration
	ArtworkCacheDir string

	// S3 artwork cache (used instead of ArtworkCacheDir when a bucket is set)
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
	S3Bucket          string
	S3Prefix          string
	S3Endpoint        string // For S3-compatible services (MinIO, Spaces, etc.)
	S3UsePathStyle    bool   // Required for MinIO

	// Media server device
	FriendlyName         string
	SSDPEnabled          bool
	SSDPAnnounceInterval time.Duration
	SSDPInterfaces       []string

	// Control point
	DiscoveryEnabled   bool
	DiscoveryDebounce  time.Duration
	DiscoverySearchGap time.Duration
	PollTimeout        time.Duration
	PositionGuard      float64 // Seconds; a STOPPED report below this elapsed time does not auto-advance. 0 disables.

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Multi-instance configuration
	EventBus      string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	NATSURL       string
	NATSToken     string

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnvAny([]string{"MEDIABRIDGE_ENV"}, "development"),
		HTTPBind:    getEnvAny([]string{"MEDIABRIDGE_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:    getEnvIntAny([]string{"MEDIABRIDGE_HTTP_PORT"}, 8200),
		BaseURL:     getEnvAny([]string{"MEDIABRIDGE_BASE_URL"}, ""),
		DBBackend:   DatabaseBackend(getEnvAny([]string{"MEDIABRIDGE_DB_BACKEND"}, string(DatabaseSQLite))),
		DBDSN:       getEnvAny([]string{"MEDIABRIDGE_DB_DSN"}, "mediabridge.db"),
		MetricsBind: getEnvAny([]string{"MEDIABRIDGE_METRICS_BIND"}, "127.0.0.1:9200"),

		MediaRoots:      getEnvListAny([]string{"MEDIABRIDGE_MEDIA_ROOTS", "MEDIABRIDGE_MEDIA_ROOT"}, []string{"./media"}),
		CuratedRoot:     getEnvAny([]string{"MEDIABRIDGE_CURATED_ROOT"}, ""),
		GStreamerBin:    getEnvAny([]string{"MEDIABRIDGE_GSTREAMER_BIN"}, "gst-launch-1.0"),
		DiscovererBin:   getEnvAny([]string{"MEDIABRIDGE_DISCOVERER_BIN"}, "gst-discoverer-1.0"),
		AudioSink:       getEnvAny([]string{"MEDIABRIDGE_AUDIO_SINK"}, "autoaudiosink"),
		ScanWorkers:     getEnvIntAny([]string{"MEDIABRIDGE_SCAN_WORKERS"}, 4),
		WatchEnabled:    getEnvBoolAny([]string{"MEDIABRIDGE_WATCH_ENABLED"}, true),
		WatchSettle:     getEnvDurationAny([]string{"MEDIABRIDGE_WATCH_SETTLE"}, 2*time.Second),
		ArtworkCacheDir: getEnvAny([]string{"MEDIABRIDGE_ARTWORK_CACHE_DIR"}, "./cache/albumart"),

		S3AccessKeyID:     getEnvAny([]string{"MEDIABRIDGE_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, ""),
		S3SecretAccessKey: getEnvAny([]string{"MEDIABRIDGE_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, ""),
		S3Region:          getEnvAny([]string{"MEDIABRIDGE_S3_REGION", "AWS_REGION"}, "us-east-1"),
		S3Bucket:          getEnvAny([]string{"MEDIABRIDGE_ARTWORK_S3_BUCKET", "MEDIABRIDGE_S3_BUCKET"}, ""),
		S3Prefix:          getEnvAny([]string{"MEDIABRIDGE_S3_PREFIX"}, "albumart/"),
		S3Endpoint:        getEnvAny([]string{"MEDIABRIDGE_S3_ENDPOINT", "S3_ENDPOINT"}, ""),
		S3UsePathStyle:    getEnvBoolAny([]string{"MEDIABRIDGE_S3_USE_PATH_STYLE", "S3_USE_PATH_STYLE"}, false),

		FriendlyName:         getEnvAny([]string{"MEDIABRIDGE_FRIENDLY_NAME"}, ""),
		SSDPEnabled:          getEnvBoolAny([]string{"MEDIABRIDGE_SSDP_ENABLED"}, true),
		SSDPAnnounceInterval: getEnvDurationAny([]string{"MEDIABRIDGE_SSDP_ANNOUNCE_INTERVAL"}, 30*time.Second),
		SSDPInterfaces:       getEnvListAny([]string{"MEDIABRIDGE_SSDP_INTERFACES"}, nil),

		DiscoveryEnabled:   getEnvBoolAny([]string{"MEDIABRIDGE_DISCOVERY_ENABLED"}, true),
		DiscoveryDebounce:  time.Duration(getEnvIntAny([]string{"MEDIABRIDGE_DISCOVERY_DEBOUNCE_MS"}, 200)) * time.Millisecond,
		DiscoverySearchGap: getEnvDurationAny([]string{"MEDIABRIDGE_DISCOVERY_SEARCH_INTERVAL"}, 5*time.Minute),
		PollTimeout:        getEnvDurationAny([]string{"MEDIABRIDGE_POLL_TIMEOUT"}, 30*time.Second),
		PositionGuard:      getEnvFloatAny([]string{"MEDIABRIDGE_AUTO_ADVANCE_POSITION_GUARD"}, 0),

		TracingEnabled:    getEnvBoolAny([]string{"MEDIABRIDGE_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"MEDIABRIDGE_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"MEDIABRIDGE_TRACING_SAMPLE_RATE"}, 1.0),

		EventBus:      strings.ToLower(getEnvAny([]string{"MEDIABRIDGE_EVENTBUS"}, EventBusMemory)),
		RedisAddr:     getEnvAny([]string{"MEDIABRIDGE_REDIS_ADDR"}, "localhost:6379"),
		RedisPassword: getEnvAny([]string{"MEDIABRIDGE_REDIS_PASSWORD"}, ""),
		RedisDB:       getEnvIntAny([]string{"MEDIABRIDGE_REDIS_DB"}, 0),
		NATSURL:       getEnvAny([]string{"MEDIABRIDGE_NATS_URL"}, "nats://localhost:4222"),
		NATSToken:     getEnvAny([]string{"MEDIABRIDGE_NATS_TOKEN"}, ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

// Validate checks values that would otherwise fail later at startup.
func (c *Config) Validate() error {
	if c.DBBackend != DatabasePostgres && c.DBBackend != DatabaseMySQL && c.DBBackend != DatabaseSQLite {
		return fmt.Errorf("unsupported database backend %q", c.DBBackend)
	}
	if c.DBDSN == "" {
		return fmt.Errorf("MEDIABRIDGE_DB_DSN must be provided")
	}
	if len(c.MediaRoots) == 0 {
		return fmt.Errorf("MEDIABRIDGE_MEDIA_ROOTS must list at least one directory")
	}
	switch c.EventBus {
	case EventBusMemory, EventBusRedis, EventBusNATS:
	default:
		return fmt.Errorf("unsupported event bus %q", c.EventBus)
	}
	if c.PositionGuard < 0 {
		return fmt.Errorf("MEDIABRIDGE_AUTO_ADVANCE_POSITION_GUARD must not be negative")
	}
	if c.PollTimeout <= 0 {
		return fmt.Errorf("MEDIABRIDGE_POLL_TIMEOUT must be positive")
	}
	return nil
}

// ListenAddr returns the HTTP listen address.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.HTTPBind, strconv.Itoa(c.HTTPPort))
}

// PublicBaseURL returns BaseURL, or one derived from the listen address
// with host substituted when the bind address is a wildcard.
func (c *Config) PublicBaseURL(host string) string {
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	if c.HTTPBind != "" && c.HTTPBind != "0.0.0.0" && c.HTTPBind != "::" {
		host = c.HTTPBind
	}
	if host == "" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(c.HTTPPort))
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"MEDIA_ROOTS":     "use MEDIABRIDGE_MEDIA_ROOTS",
		"BASE_URL":        "use MEDIABRIDGE_BASE_URL",
		"FRIENDLY_NAME":   "use MEDIABRIDGE_FRIENDLY_NAME",
		"TRACING_ENABLED": "use MEDIABRIDGE_TRACING_ENABLED",
		"OTLP_ENDPOINT":   "use MEDIABRIDGE_OTLP_ENDPOINT",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvDurationAny accepts Go durations ("30s") or whole seconds.
func getEnvDurationAny(keys []string, def time.Duration) time.Duration {
	for _, k := range keys {
		v := strings.TrimSpace(os.Getenv(k))
		if v == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return def
}

// getEnvListAny splits the first set value on commas, dropping blanks.
func getEnvListAny(keys []string, def []string) []string {
	for _, k := range keys {
		v := os.Getenv(k)
		if v == "" {
			continue
		}
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	return def
}
