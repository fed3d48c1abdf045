package config

import (
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

const (
	JournalSQLite   = "sqlite"
	JournalPostgres = "postgres"
)

// Config captures runtime configuration for bankd.
type Config struct {
	ListenAddress string          `yaml:"listen"`
	DataDir       string          `yaml:"data_dir"`
	GenesisPath   string          `yaml:"genesis"`
	Journal       JournalConfig   `yaml:"journal"`
	Admin         AdminConfig     `yaml:"admin"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
	Log           LogConfig       `yaml:"log"`
	Telemetry     TelemetryConfig `yaml:"telemetry"`
	Server        ServerConfig    `yaml:"server"`
	// Paused rejects every bank operation while still serving reads.
	Paused          bool `yaml:"paused"`
	CheckInvariants bool `yaml:"check_invariants"`
}

// JournalConfig selects the event journal backend.
type JournalConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

// AdminConfig configures JWT validation for the operator endpoints.
type AdminConfig struct {
	HMACSecret string   `yaml:"hmac_secret"`
	Issuer     string   `yaml:"issuer"`
	Audience   string   `yaml:"audience"`
	Scope      string   `yaml:"scope"`
	ClockSkew  Duration `yaml:"clock_skew"`
}

// RateLimitConfig bounds per-client transaction submission.
type RateLimitConfig struct {
	RequestsPerMinute float64  `yaml:"requests_per_minute"`
	Burst             int      `yaml:"burst"`
	TrustedProxies    []string `yaml:"trusted_proxies"`
}

// LogConfig enables rotated file output next to stdout.
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// TelemetryConfig points the OTLP exporters at a collector.
type TelemetryConfig struct {
	Endpoint string            `yaml:"endpoint"`
	Insecure bool              `yaml:"insecure"`
	Headers  map[string]string `yaml:"headers"`
	Metrics  bool              `yaml:"metrics"`
	Traces   bool              `yaml:"traces"`
}

// ServerConfig tunes the HTTP listener.
type ServerConfig struct {
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64    `yaml:"max_body_bytes"`
}

// Load reads configuration from the supplied path.
func Load(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7081"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "/var/data/bankd/state"
	}
	cfg.Journal.Driver = strings.ToLower(strings.TrimSpace(cfg.Journal.Driver))
	if cfg.Journal.Driver == "" {
		cfg.Journal.Driver = JournalSQLite
	}
	if cfg.Journal.Driver == JournalSQLite && cfg.Journal.Path == "" {
		cfg.Journal.Path = "/var/data/bankd/journal.sqlite"
	}
	if cfg.Admin.Scope == "" {
		cfg.Admin.Scope = "bank.admin"
	}
	if cfg.Admin.ClockSkew.Duration == 0 {
		cfg.Admin.ClockSkew.Duration = 2 * time.Minute
	}
	if cfg.RateLimit.RequestsPerMinute == 0 {
		cfg.RateLimit.RequestsPerMinute = 120
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 20
	}
	if cfg.Log.File != "" {
		if cfg.Log.MaxSizeMB == 0 {
			cfg.Log.MaxSizeMB = 100
		}
		if cfg.Log.MaxBackups == 0 {
			cfg.Log.MaxBackups = 5
		}
		if cfg.Log.MaxAgeDays == 0 {
			cfg.Log.MaxAgeDays = 28
		}
	}
	if cfg.Server.ReadTimeout.Duration == 0 {
		cfg.Server.ReadTimeout.Duration = 10 * time.Second
	}
	if cfg.Server.WriteTimeout.Duration == 0 {
		cfg.Server.WriteTimeout.Duration = 15 * time.Second
	}
	if cfg.Server.ShutdownTimeout.Duration == 0 {
		cfg.Server.ShutdownTimeout.Duration = 5 * time.Second
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 1 << 16
	}
}

func validate(cfg Config) error {
	if strings.TrimSpace(cfg.GenesisPath) == "" {
		return fmt.Errorf("genesis path must be configured")
	}
	switch cfg.Journal.Driver {
	case JournalSQLite:
		if strings.TrimSpace(cfg.Journal.Path) == "" {
			return fmt.Errorf("journal.path must be configured for sqlite")
		}
	case JournalPostgres:
		if strings.TrimSpace(cfg.Journal.DSN) == "" {
			return fmt.Errorf("journal.dsn must be configured for postgres")
		}
	default:
		return fmt.Errorf("unsupported journal driver %q", cfg.Journal.Driver)
	}
	if strings.TrimSpace(cfg.Admin.HMACSecret) == "" {
		return fmt.Errorf("admin.hmac_secret must be configured")
	}
	if len(strings.TrimSpace(cfg.Admin.HMACSecret)) < 32 {
		return fmt.Errorf("admin.hmac_secret must be at least 32 bytes")
	}
	if cfg.RateLimit.RequestsPerMinute < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit values must not be negative")
	}
	for _, entry := range cfg.RateLimit.TrustedProxies {
		entry = strings.TrimSpace(entry)
		if _, err := netip.ParsePrefix(entry); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(entry); err != nil {
			return fmt.Errorf("rate_limit.trusted_proxies: invalid entry %q", entry)
		}
	}
	if cfg.Server.MaxBodyBytes < 0 {
		return fmt.Errorf("server.max_body_bytes must not be negative")
	}
	return nil
}
