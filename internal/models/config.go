// Package models - Service configuration and operational settings.
// This file defines the configuration structures for every edgelimit component.
//
// Configuration Philosophy:
// - Hierarchical configuration with logical grouping (server, store, rate limit, etc.)
// - Defaults that run out of the box with no external services
// - Validation that catches misconfigurations before the first request
package models

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/Masterminds/semver/v3"
)

// Store type constants
const (
	StoreTypeMemory   = "memory"
	StoreTypeNoop     = "noop"
	StoreTypeRedis    = "redis"
	StoreTypePostgres = "postgres"
	StoreTypeSQLite   = "sqlite"
)

// Store failure policies applied by the HTTP layer when the store errors.
const (
	FailureModeError      = "error"
	FailureModeOpen       = "open"
	FailureModeClosed     = "closed"
	FailureModeMemoryless = "memoryless"
)

// Identity extraction strategies for the rate limit middleware.
const (
	IdentityStrategyIP     = "ip"
	IdentityStrategyHeader = "header"
)

// CurrentConfigVersion is written by SaveExample. SupportedConfigVersions is
// the semver constraint a loaded config_version must satisfy.
const (
	CurrentConfigVersion    = "1.0.0"
	SupportedConfigVersions = ">= 1.0.0, < 2.0.0"
)

// Config is the root configuration structure containing all service settings.
//
// Configuration Structure:
// - Server: HTTP server and network settings
// - Store: Bucket storage backend
// - RateLimit: Admission control for proxied traffic and API defaults
// - Proxy: Optional upstream guarded by the rate limiter
// - Logging: Structured logging and output configuration
// - Metrics / Observability: Prometheus endpoint and tracing
type Config struct {
	ConfigVersion string              `yaml:"config_version" json:"config_version"`
	Server        ServerConfig        `yaml:"server" json:"server"`               // HTTP server configuration
	Store         StoreConfig         `yaml:"store" json:"store"`                 // Bucket persistence
	RateLimit     RateLimitConfig     `yaml:"rate_limit" json:"rate_limit"`       // Admission control
	Proxy         ProxyConfig         `yaml:"proxy" json:"proxy"`                 // Guarded upstream
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`             // Logging and output configuration
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`             // Monitoring and metrics
	Observability ObservabilityConfig `yaml:"observability" json:"observability"` // Tracing
}

type ServerConfig struct {
	Port         int           `yaml:"port" json:"port"`
	Host         string        `yaml:"host" json:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	TLSEnabled   bool          `yaml:"tls_enabled" json:"tls_enabled"`
	TLSCertFile  string        `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile   string        `yaml:"tls_key_file" json:"tls_key_file"`
}

type StoreConfig struct {
	Type      string         `yaml:"type" json:"type"`
	KeyPrefix string         `yaml:"key_prefix" json:"key_prefix"`
	Memory    MemoryConfig   `yaml:"memory" json:"memory"`
	Redis     RedisConfig    `yaml:"redis" json:"redis"`
	Database  DatabaseConfig `yaml:"database" json:"database"`
	Breaker   BreakerConfig  `yaml:"breaker" json:"breaker"`
}

type MemoryConfig struct {
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
	PoolSize int    `yaml:"pool_size" json:"pool_size"`
}

type DatabaseConfig struct {
	DSN           string        `yaml:"dsn" json:"dsn"`
	Table         string        `yaml:"table" json:"table"`
	MaxOpenConns  int           `yaml:"max_open_conns" json:"max_open_conns"`
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval"` // expired row cleanup, 0 disables
}

// BreakerConfig controls the circuit breaker placed in front of remote stores.
type BreakerConfig struct {
	Enabled          bool          `yaml:"enabled" json:"enabled"`
	MaxRequests      uint32        `yaml:"max_requests" json:"max_requests"`
	Interval         time.Duration `yaml:"interval" json:"interval"`
	Timeout          time.Duration `yaml:"timeout" json:"timeout"`
	FailureThreshold uint32        `yaml:"failure_threshold" json:"failure_threshold"`
}

type RateLimitConfig struct {
	Enabled         bool           `yaml:"enabled" json:"enabled"`
	Limit           int            `yaml:"limit" json:"limit"`
	Window          time.Duration  `yaml:"window" json:"window"`
	RefillRatePerMs float64        `yaml:"refill_rate_per_ms" json:"refill_rate_per_ms"`
	Identity        IdentityConfig `yaml:"identity" json:"identity"`
	OnStoreError    string         `yaml:"on_store_error" json:"on_store_error"`
	StoreTimeout    time.Duration  `yaml:"store_timeout" json:"store_timeout"`
}

type IdentityConfig struct {
	Strategy string `yaml:"strategy" json:"strategy"`
	Header   string `yaml:"header" json:"header"`
}

type ProxyConfig struct {
	Upstream string `yaml:"upstream" json:"upstream"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Port    int    `yaml:"port" json:"port"`
}

type ObservabilityConfig struct {
	ServiceName string        `yaml:"service_name" json:"service_name"`
	Tracing     TracingConfig `yaml:"tracing" json:"tracing"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Exporter     string  `yaml:"exporter" json:"exporter"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate"`
}

// NewDefaultConfig creates a configuration with defaults that need no
// external services: in-memory buckets, 100 requests per minute per client IP,
// and a memoryless fallback when the store fails.
func NewDefaultConfig() *Config {
	return &Config{
		ConfigVersion: CurrentConfigVersion,
		Server: ServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Store: StoreConfig{
			Type:      StoreTypeMemory,
			KeyPrefix: "rl:",
			Memory: MemoryConfig{
				CleanupInterval: time.Minute,
			},
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				PoolSize: 10,
			},
			Database: DatabaseConfig{
				Table:         "rate_limit_buckets",
				MaxOpenConns:  10,
				SweepInterval: 5 * time.Minute,
			},
			Breaker: BreakerConfig{
				Enabled:          true,
				MaxRequests:      1,
				Interval:         time.Minute,
				Timeout:          30 * time.Second,
				FailureThreshold: 5,
			},
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Limit:   100,
			Window:  time.Minute,
			Identity: IdentityConfig{
				Strategy: IdentityStrategyIP,
			},
			OnStoreError: FailureModeMemoryless,
			StoreTimeout: 250 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9090,
		},
		Observability: ObservabilityConfig{
			ServiceName: "edgelimit",
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "stdout",
				SampleRate: 1.0,
			},
		},
	}
}

func (c *Config) Validate() error {
	if err := validateConfigVersion(c.ConfigVersion); err != nil {
		return err
	}

	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}

	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("invalid store config: %w", err)
	}

	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("invalid rate limit config: %w", err)
	}

	if err := c.Proxy.Validate(); err != nil {
		return fmt.Errorf("invalid proxy config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}

	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("invalid observability config: %w", err)
	}

	return nil
}

// validateConfigVersion accepts an empty version (treated as current) and
// otherwise requires a semver inside SupportedConfigVersions.
func validateConfigVersion(v string) error {
	if v == "" {
		return nil
	}
	ver, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("invalid config_version %q: %w", v, err)
	}
	constraint, err := semver.NewConstraint(SupportedConfigVersions)
	if err != nil {
		return fmt.Errorf("invalid supported version constraint: %w", err)
	}
	if !constraint.Check(ver) {
		return fmt.Errorf("config_version %s is not supported (want %s)", v, SupportedConfigVersions)
	}
	return nil
}

func (sc *ServerConfig) Validate() error {
	if sc.Port <= 0 || sc.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}

	if sc.Host == "" {
		return errors.New("host cannot be empty")
	}

	if sc.ReadTimeout < 0 {
		return errors.New("read timeout cannot be negative")
	}

	if sc.WriteTimeout < 0 {
		return errors.New("write timeout cannot be negative")
	}

	if sc.IdleTimeout < 0 {
		return errors.New("idle timeout cannot be negative")
	}

	if sc.TLSEnabled {
		if sc.TLSCertFile == "" {
			return errors.New("TLS cert file is required when TLS is enabled")
		}
		if sc.TLSKeyFile == "" {
			return errors.New("TLS key file is required when TLS is enabled")
		}
	}

	return nil
}

func (stc *StoreConfig) Validate() error {
	if !contains([]string{StoreTypeMemory, StoreTypeNoop, StoreTypeRedis, StoreTypePostgres, StoreTypeSQLite}, stc.Type) {
		return fmt.Errorf("invalid store type: %s", stc.Type)
	}

	switch stc.Type {
	case StoreTypeMemory:
		if stc.Memory.CleanupInterval < 0 {
			return errors.New("memory cleanup interval cannot be negative")
		}
	case StoreTypeRedis:
		if stc.Redis.Addr == "" {
			return errors.New("redis address is required for redis store")
		}
		if stc.Redis.PoolSize < 0 {
			return errors.New("redis pool size cannot be negative")
		}
	case StoreTypePostgres, StoreTypeSQLite:
		if stc.Database.DSN == "" {
			return fmt.Errorf("database DSN is required for %s store", stc.Type)
		}
		if stc.Database.Table == "" {
			return errors.New("database table cannot be empty")
		}
		if stc.Database.SweepInterval < 0 {
			return errors.New("database sweep interval cannot be negative")
		}
	}

	if stc.Breaker.Enabled {
		if stc.Breaker.FailureThreshold == 0 {
			return errors.New("breaker failure threshold must be positive")
		}
		if stc.Breaker.Timeout < 0 || stc.Breaker.Interval < 0 {
			return errors.New("breaker durations cannot be negative")
		}
	}

	return nil
}

func (rl *RateLimitConfig) Validate() error {
	if !rl.Enabled {
		return nil
	}

	if rl.Limit <= 0 {
		return errors.New("limit must be positive")
	}

	if rl.Window < time.Millisecond {
		return errors.New("window must be at least 1ms")
	}

	if rl.RefillRatePerMs < 0 {
		return errors.New("refill rate cannot be negative")
	}

	if rl.StoreTimeout < 0 {
		return errors.New("store timeout cannot be negative")
	}

	if !contains([]string{FailureModeError, FailureModeOpen, FailureModeClosed, FailureModeMemoryless}, rl.OnStoreError) {
		return fmt.Errorf("invalid on_store_error policy: %s", rl.OnStoreError)
	}

	switch rl.Identity.Strategy {
	case IdentityStrategyIP:
	case IdentityStrategyHeader:
		if rl.Identity.Header == "" {
			return errors.New("identity header is required for header strategy")
		}
	default:
		return fmt.Errorf("invalid identity strategy: %s", rl.Identity.Strategy)
	}

	return nil
}

func (pc *ProxyConfig) Validate() error {
	if pc.Upstream == "" {
		return nil
	}
	u, err := url.Parse(pc.Upstream)
	if err != nil {
		return fmt.Errorf("invalid upstream URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("upstream scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("upstream host cannot be empty")
	}
	return nil
}

func (lc *LoggingConfig) Validate() error {
	if !contains([]string{"debug", "info", "warn", "warning", "error"}, lc.Level) {
		return fmt.Errorf("invalid log level: %s", lc.Level)
	}

	if !contains([]string{"json", "text"}, lc.Format) {
		return fmt.Errorf("invalid log format: %s", lc.Format)
	}

	if !contains([]string{"stdout", "stderr", "file"}, lc.Output) {
		return fmt.Errorf("invalid log output: %s", lc.Output)
	}

	if lc.Output == "file" && lc.FilePath == "" {
		return errors.New("file path is required when output is file")
	}

	return nil
}

func (mc *MetricsConfig) Validate() error {
	if !mc.Enabled {
		return nil
	}

	if mc.Path == "" {
		return errors.New("metrics path cannot be empty")
	}

	if mc.Port <= 0 || mc.Port > 65535 {
		return errors.New("metrics port must be between 1 and 65535")
	}

	return nil
}

func (oc *ObservabilityConfig) Validate() error {
	if oc.ServiceName == "" {
		return errors.New("service name cannot be empty")
	}

	if !oc.Tracing.Enabled {
		return nil
	}

	switch oc.Tracing.Exporter {
	case "stdout":
	case "otlp":
		if oc.Tracing.OTLPEndpoint == "" {
			return errors.New("otlp endpoint is required for otlp exporter")
		}
	default:
		return fmt.Errorf("invalid trace exporter: %s", oc.Tracing.Exporter)
	}

	if oc.Tracing.SampleRate < 0 || oc.Tracing.SampleRate > 1 {
		return errors.New("sample rate must be between 0 and 1")
	}

	return nil
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
