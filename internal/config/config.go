// Package config loads and validates orchestrator configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures every orchestrator tunable (fetch timeouts, adaptive
// pacing, circuit breaking, profiling, caching, evidence retention, cost
// ceilings, compliance) plus the ambient service settings (server port,
// storage/db/queue backends, logging mode) that surround it.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Fetch      FetchConfig      `mapstructure:"fetch"`
	Rate       RateConfig       `mapstructure:"rate"`
	Circuit    CircuitConfig    `mapstructure:"circuit"`
	Profile    ProfileConfig    `mapstructure:"profile"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Evidence   EvidenceConfig   `mapstructure:"evidence"`
	Cost       CostConfig       `mapstructure:"cost"`
	Compliance ComplianceConfig `mapstructure:"compliance"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Database   DatabaseConfig   `mapstructure:"database"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Learner    LearnerConfig    `mapstructure:"learner"`
}

// ServerConfig controls the telemetry HTTP surface (scout serve).
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features and ring buffer sizing.
type LoggingConfig struct {
	Development   bool `mapstructure:"development"`
	RingBufferLen int  `mapstructure:"ring_buffer_len"`
}

// FetchConfig holds per-strategy timeouts and the default user agent.
type FetchConfig struct {
	UserAgent           string        `mapstructure:"user_agent"`
	DefaultTimeout      time.Duration `mapstructure:"default_timeout"`
	LightTimeout        time.Duration `mapstructure:"light_timeout"`
	StealthTimeout      time.Duration `mapstructure:"stealth_timeout"`
	UltraTimeout        time.Duration `mapstructure:"ultra_timeout"`
	SSRFAllowPrivate    bool          `mapstructure:"ssrf_allow_private"`
	ChromedpBinPath     string        `mapstructure:"chromedp_bin_path"`
	UltraMaxConcurrency int           `mapstructure:"ultra_max_concurrency"`
}

// RateConfig sets the adaptive per-domain pacing bounds.
type RateConfig struct {
	DefaultDelaySeconds float64 `mapstructure:"default_delay_seconds"`
	MinDelaySeconds     float64 `mapstructure:"min_delay_seconds"`
	MaxDelaySeconds     float64 `mapstructure:"max_delay_seconds"`
}

// CircuitConfig sets the circuit breaker thresholds.
type CircuitConfig struct {
	FailureThreshold    int           `mapstructure:"failure_threshold"`
	RecoveryTimeout     time.Duration `mapstructure:"recovery_timeout"`
	HalfOpenMax         int           `mapstructure:"half_open_max"`
	BlockedURLWindow    time.Duration `mapstructure:"blocked_url_window"`
	BlockedURLThreshold int           `mapstructure:"blocked_url_threshold"`
}

// ProfileConfig sets the site profiler's cache TTLs and probe limits.
type ProfileConfig struct {
	DefaultTTL    time.Duration `mapstructure:"default_ttl"`
	ExtremeTTL    time.Duration `mapstructure:"extreme_ttl"`
	ProbeMaxBytes int64         `mapstructure:"probe_max_bytes"`
	ProbeWaitMax  time.Duration `mapstructure:"probe_wait_max"`
}

// CacheConfig sets the result cache's TTL.
type CacheConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// EvidenceConfig sets retention and backend selection for captured evidence.
type EvidenceConfig struct {
	RetentionCount int    `mapstructure:"retention_count"`
	Backend        string `mapstructure:"backend"` // memory | local | gcs
	LocalDir       string `mapstructure:"local_dir"`
	GCSBucket      string `mapstructure:"gcs_bucket"`
}

// CostConfig sets rolling-hour spend ceilings.
type CostConfig struct {
	TokenCeiling          int64   `mapstructure:"token_ceiling"`
	BrowserMinutesCeiling float64 `mapstructure:"browser_minutes_ceiling"`
	RequestCeiling        int64   `mapstructure:"request_ceiling"`
	USDCeiling            float64 `mapstructure:"usd_ceiling"`
}

// ComplianceConfig controls robots.txt enforcement and domain blacklisting.
type ComplianceConfig struct {
	RespectRobots    bool     `mapstructure:"respect_robots"`
	BlacklistDomains []string `mapstructure:"blacklist_domains"`
}

// StorageConfig selects the evidence/blob backend's content defaults.
type StorageConfig struct {
	ContentType string `mapstructure:"content_type"`
}

// DatabaseConfig configures the learner's Postgres-backed stat store.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// LearnerConfig controls the adaptive learner's append-only journal.
type LearnerConfig struct {
	JournalPath string `mapstructure:"journal_path"`
}

// PubSubConfig configures scrape-completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Load builds a Config from an optional file, environment variables
// (SCOUT_ prefix, with "." replaced by "_"), and the defaults below.
// path may be empty, in which case only env vars and defaults apply.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)

	v.SetDefault("logging.development", false)
	v.SetDefault("logging.ring_buffer_len", 500)

	v.SetDefault("fetch.user_agent", "UrwaBot/1.0")
	v.SetDefault("fetch.default_timeout", "180s")
	v.SetDefault("fetch.light_timeout", "15s")
	v.SetDefault("fetch.stealth_timeout", "45s")
	v.SetDefault("fetch.ultra_timeout", "120s")
	v.SetDefault("fetch.ssrf_allow_private", false)
	v.SetDefault("fetch.ultra_max_concurrency", 2)

	v.SetDefault("rate.default_delay_seconds", 1.0)
	v.SetDefault("rate.min_delay_seconds", 0.5)
	v.SetDefault("rate.max_delay_seconds", 60.0)

	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.recovery_timeout", "300s")
	v.SetDefault("circuit.half_open_max", 3)
	v.SetDefault("circuit.blocked_url_window", "10m")
	v.SetDefault("circuit.blocked_url_threshold", 3)

	v.SetDefault("profile.default_ttl", "21600s")
	v.SetDefault("profile.extreme_ttl", "900s")
	v.SetDefault("profile.probe_max_bytes", 32*1024)
	v.SetDefault("profile.probe_wait_max", "30s")

	v.SetDefault("cache.ttl", "3600s")

	v.SetDefault("evidence.retention_count", 500)
	v.SetDefault("evidence.backend", "memory")
	v.SetDefault("evidence.local_dir", "data/evidence")

	v.SetDefault("cost.token_ceiling", 100000)
	v.SetDefault("cost.browser_minutes_ceiling", 60.0)
	v.SetDefault("cost.request_ceiling", 1000)
	v.SetDefault("cost.usd_ceiling", 1.0)

	v.SetDefault("compliance.respect_robots", true)
	v.SetDefault("compliance.blacklist_domains", []string{})

	v.SetDefault("learner.journal_path", "data/learner_journal.ndjson")

	v.SetDefault("storage.content_type", "text/html; charset=utf-8")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_conn_lifetime", "30m")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Fetch.UserAgent == "" {
		return fmt.Errorf("fetch.user_agent must be set")
	}
	if c.Rate.MinDelaySeconds <= 0 || c.Rate.MaxDelaySeconds < c.Rate.MinDelaySeconds {
		return fmt.Errorf("rate.min_delay_seconds/max_delay_seconds must form a valid range")
	}
	if c.Circuit.FailureThreshold <= 0 {
		return fmt.Errorf("circuit.failure_threshold must be > 0")
	}
	if c.Circuit.HalfOpenMax <= 0 {
		return fmt.Errorf("circuit.half_open_max must be > 0")
	}
	if c.Evidence.RetentionCount <= 0 {
		return fmt.Errorf("evidence.retention_count must be > 0")
	}
	switch c.Evidence.Backend {
	case "memory", "local", "gcs":
	default:
		return fmt.Errorf("evidence.backend must be one of memory|local|gcs, got %q", c.Evidence.Backend)
	}
	return nil
}
