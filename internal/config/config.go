// Package config loads and validates collector configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/intel-collector/internal/collector"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Fetcher names usable per source kind.
const (
	FetcherHTTP     = "http"
	FetcherHeadless = "headless"
	FetcherStub     = "stub"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig            `mapstructure:"server"`
	Auth       AuthConfig              `mapstructure:"auth"`
	Logging    LoggingConfig           `mapstructure:"logging"`
	Scheduler  SchedulerConfig         `mapstructure:"scheduler"`
	Watchlist  WatchlistConfig         `mapstructure:"watchlist"`
	Workers    WorkersConfig           `mapstructure:"workers"`
	Jobs       JobsConfig              `mapstructure:"jobs"`
	Politeness PolitenessConfig        `mapstructure:"politeness"`
	Status     StatusConfig            `mapstructure:"status"`
	Sources    map[string]SourceConfig `mapstructure:"sources"`
	Headless   HeadlessConfig          `mapstructure:"headless"`
	Storage    StorageConfig           `mapstructure:"storage"`
	DB         DBConfig                `mapstructure:"db"`
	Sinks      SinksConfig             `mapstructure:"sinks"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// SchedulerConfig controls the scheduling tick.
type SchedulerConfig struct {
	TickIntervalSeconds int `mapstructure:"tick_interval_seconds"`
}

// WatchlistConfig holds registry defaults.
type WatchlistConfig struct {
	DefaultPollIntervalSeconds int    `mapstructure:"default_poll_interval_seconds"`
	SeedFile                   string `mapstructure:"seed_file"`
}

// WorkersConfig sizes the worker pool and its queue.
type WorkersConfig struct {
	MaxWorkers           int `mapstructure:"max_workers"`
	QueueDepth           int `mapstructure:"queue_depth"`
	ShutdownGraceSeconds int `mapstructure:"shutdown_grace_seconds"`
}

// JobsConfig governs per-job fetch and retry behavior.
type JobsConfig struct {
	MaxAttempts      int `mapstructure:"max_attempts"`
	RequestTimeoutMs int `mapstructure:"request_timeout_ms"`
	BackoffBaseMs    int `mapstructure:"backoff_base_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// PolitenessConfig configures per-domain spacing and robots handling.
type PolitenessConfig struct {
	RateLimitMsPerDomain  int    `mapstructure:"rate_limit_ms_per_domain"`
	RobotsCacheTTLSeconds int    `mapstructure:"robots_cache_ttl_seconds"`
	RespectRobots         bool   `mapstructure:"respect_robots"`
	UserAgent             string `mapstructure:"user_agent"`
}

// StatusConfig configures the status tracker.
type StatusConfig struct {
	CircuitBreakerThreshold int `mapstructure:"circuit_breaker_threshold"`
}

// SourceConfig overrides fetch behavior for one source kind.
type SourceConfig struct {
	URLTemplate string `mapstructure:"url_template"`
	RateLimitMs int    `mapstructure:"rate_limit_ms"`
	Fetcher     string `mapstructure:"fetcher"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// StorageConfig selects where entries and jobs are kept.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeSeconds int    `mapstructure:"max_conn_lifetime_seconds"`
	ResultsTable           string `mapstructure:"results_table"`
	AutoMigrate            bool   `mapstructure:"auto_migrate"`
}

// SinksConfig enables result sinks. Every enabled sink receives every result.
type SinksConfig struct {
	LocalDir        string `mapstructure:"local_dir"`
	GCSBucket       string `mapstructure:"gcs_bucket"`
	GCSPrefix       string `mapstructure:"gcs_prefix"`
	PubSubProjectID string `mapstructure:"pubsub_project_id"`
	PubSubTopic     string `mapstructure:"pubsub_topic"`
	Postgres        bool   `mapstructure:"postgres"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("COLLECTOR")
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
	v.SetDefault("logging.development", true)
	v.SetDefault("scheduler.tick_interval_seconds", 5)
	v.SetDefault("watchlist.default_poll_interval_seconds", 3600)
	v.SetDefault("workers.max_workers", 4)
	v.SetDefault("workers.queue_depth", 64)
	v.SetDefault("workers.shutdown_grace_seconds", 10)
	v.SetDefault("jobs.max_attempts", 3)
	v.SetDefault("jobs.request_timeout_ms", 15000)
	v.SetDefault("jobs.backoff_base_ms", 500)
	v.SetDefault("jobs.backoff_max_ms", 30000)
	v.SetDefault("politeness.rate_limit_ms_per_domain", 1000)
	v.SetDefault("politeness.robots_cache_ttl_seconds", 3600)
	v.SetDefault("politeness.respect_robots", true)
	v.SetDefault("politeness.user_agent", "intel-collector/0.1")
	v.SetDefault("status.circuit_breaker_threshold", 3)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.results_table", "collection_results")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scheduler.TickIntervalSeconds < 1 {
		return fmt.Errorf("scheduler.tick_interval_seconds must be >= 1")
	}
	if c.Watchlist.DefaultPollIntervalSeconds < 1 {
		return fmt.Errorf("watchlist.default_poll_interval_seconds must be >= 1")
	}
	if c.Workers.MaxWorkers <= 0 {
		return fmt.Errorf("workers.max_workers must be > 0")
	}
	if c.Workers.QueueDepth <= 0 {
		return fmt.Errorf("workers.queue_depth must be > 0")
	}
	if c.Workers.ShutdownGraceSeconds < 0 {
		return fmt.Errorf("workers.shutdown_grace_seconds must be >= 0")
	}
	if c.Jobs.MaxAttempts <= 0 {
		return fmt.Errorf("jobs.max_attempts must be > 0")
	}
	if c.Jobs.RequestTimeoutMs <= 0 {
		return fmt.Errorf("jobs.request_timeout_ms must be > 0")
	}
	if c.Jobs.BackoffBaseMs <= 0 || c.Jobs.BackoffMaxMs < c.Jobs.BackoffBaseMs {
		return fmt.Errorf("jobs.backoff_base_ms must be > 0 and <= jobs.backoff_max_ms")
	}
	if c.Politeness.RateLimitMsPerDomain < 0 {
		return fmt.Errorf("politeness.rate_limit_ms_per_domain must be >= 0")
	}
	if c.Status.CircuitBreakerThreshold <= 0 {
		return fmt.Errorf("status.circuit_breaker_threshold must be > 0")
	}
	for kind, src := range c.Sources {
		if _, err := collector.ParseSourceKind(kind); err != nil {
			return fmt.Errorf("sources.%s: %w", kind, err)
		}
		switch src.Fetcher {
		case "", FetcherHTTP, FetcherStub:
		case FetcherHeadless:
			if !c.Headless.Enabled {
				return fmt.Errorf("sources.%s.fetcher is headless but headless.enabled is false", kind)
			}
		default:
			return fmt.Errorf("sources.%s.fetcher %q is not one of http, headless, stub", kind, src.Fetcher)
		}
		if src.RateLimitMs < 0 {
			return fmt.Errorf("sources.%s.rate_limit_ms must be >= 0", kind)
		}
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of memory, postgres", c.Storage.Backend)
	}
	if c.Sinks.Postgres && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required for the postgres sink")
	}
	if c.Sinks.PubSubTopic != "" && c.Sinks.PubSubProjectID == "" {
		return fmt.Errorf("sinks.pubsub_project_id is required with sinks.pubsub_topic")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// TickInterval returns the scheduler tick as a duration.
func (c Config) TickInterval() time.Duration {
	return time.Duration(c.Scheduler.TickIntervalSeconds) * time.Second
}

// DefaultPollInterval returns the poll interval used for seeds without one.
func (c Config) DefaultPollInterval() time.Duration {
	return time.Duration(c.Watchlist.DefaultPollIntervalSeconds) * time.Second
}

// RequestTimeout returns the per-fetch deadline.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Jobs.RequestTimeoutMs) * time.Millisecond
}

// Backoff returns the retry backoff policy.
func (c Config) Backoff() collector.ExponentialBackoff {
	return collector.NewExponentialBackoff(
		time.Duration(c.Jobs.BackoffBaseMs)*time.Millisecond,
		time.Duration(c.Jobs.BackoffMaxMs)*time.Millisecond,
	)
}

// DomainRateLimit returns the default minimum spacing between requests to a domain.
func (c Config) DomainRateLimit() time.Duration {
	return time.Duration(c.Politeness.RateLimitMsPerDomain) * time.Millisecond
}

// RobotsCacheTTL returns how long a robots decision is cached per domain.
func (c Config) RobotsCacheTTL() time.Duration {
	return time.Duration(c.Politeness.RobotsCacheTTLSeconds) * time.Second
}

// ShutdownGrace returns how long in-flight jobs may finish after shutdown starts.
func (c Config) ShutdownGrace() time.Duration {
	return time.Duration(c.Workers.ShutdownGraceSeconds) * time.Second
}

// FetcherFor returns the fetcher name configured for kind, defaulting to http.
func (c Config) FetcherFor(kind collector.SourceKind) string {
	if src, ok := c.Sources[string(kind)]; ok && src.Fetcher != "" {
		return src.Fetcher
	}
	return FetcherHTTP
}
