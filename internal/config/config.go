// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Identity      IdentityConfig      `yaml:"identity"`
	Templates     TemplatesConfig     `yaml:"templates"`
	Access        AccessConfig        `yaml:"access"`
	Store         StoreConfig         `yaml:"store"`
	Redis         RedisConfig         `yaml:"redis"`
	Numbering     NumberingConfig     `yaml:"numbering"`
	Idempotency   IdempotencyConfig   `yaml:"idempotency"`
	Notifications NotificationsConfig `yaml:"notifications"`
	SLA           SLAConfig           `yaml:"sla"`
	MCP           MCPConfig           `yaml:"mcp"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	CORS            CORSConfig    `yaml:"cors"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// IdentityConfig describes JWT and identity provider settings.
type IdentityConfig struct {
	Issuer       string            `yaml:"issuer"`
	Audience     string            `yaml:"audience"`
	JWKSURL      string            `yaml:"jwks_url"`
	JWKSCacheTTL time.Duration     `yaml:"jwks_cache_ttl"`
	Algorithms   []string          `yaml:"algorithms"`
	ClaimPaths   map[string]string `yaml:"claim_paths"`
}

// TemplatesConfig describes where to find approval template files.
type TemplatesConfig struct {
	Directories []string `yaml:"directories"`
}

// AccessConfig describes the role policy and approver directory.
type AccessConfig struct {
	PolicyFile string      `yaml:"policy_file"`
	Cache      CacheConfig `yaml:"cache"`
}

// CacheConfig describes cache settings.
type CacheConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// StoreConfig describes request persistence settings.
type StoreConfig struct {
	Driver          string        `yaml:"driver"`
	DSNEnv          string        `yaml:"dsn_env"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

// RedisConfig describes the shared Redis connection used by the sequencer,
// the idempotency store and the event publisher.
type RedisConfig struct {
	AddrEnv     string `yaml:"addr_env"`
	PasswordEnv string `yaml:"password_env"`
	DB          int    `yaml:"db"`
}

// NumberingConfig selects the request number sequencer.
type NumberingConfig struct {
	Driver        string `yaml:"driver"`
	DefaultPrefix string `yaml:"default_prefix"`
}

// IdempotencyConfig describes idempotency store settings.
type IdempotencyConfig struct {
	Enabled bool          `yaml:"enabled"`
	Driver  string        `yaml:"driver"`
	TTL     time.Duration `yaml:"ttl"`
}

// NotificationsConfig selects where lifecycle events are published.
type NotificationsConfig struct {
	Driver  string        `yaml:"driver"`
	Channel string        `yaml:"channel"`
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the circuit breaker in front of a remote notifier.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
}

// SLAConfig describes the overdue monitor. A zero interval disables it.
type SLAConfig struct {
	MonitorInterval time.Duration `yaml:"monitor_interval"`
}

// MCPConfig describes the MCP tool server.
type MCPConfig struct {
	ServerName string `yaml:"server_name"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level"`
	Tracing  TracingConfig `yaml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			HandlerTimeout:  25 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxBodyBytes:    1 << 20,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type",
					"X-Correlation-Id", "X-Idempotency-Key"},
				MaxAge: 86400,
			},
		},
		Identity: IdentityConfig{
			JWKSCacheTTL: 1 * time.Hour,
			Algorithms:   []string{"RS256"},
			ClaimPaths: map[string]string{
				"subject_id": "sub",
				"tenant_id":  "tenant_id",
				"email":      "email",
				"name":       "name",
				"roles":      "roles",
			},
		},
		Templates: TemplatesConfig{
			Directories: []string{"/templates"},
		},
		Access: AccessConfig{
			Cache: CacheConfig{
				TTL:        5 * time.Minute,
				MaxEntries: 10000,
			},
		},
		Store: StoreConfig{
			Driver:          "memory",
			DSNEnv:          "APPROVALS_DATABASE_URL",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			AddrEnv:     "APPROVALS_REDIS_ADDR",
			PasswordEnv: "APPROVALS_REDIS_PASSWORD",
		},
		Numbering: NumberingConfig{
			Driver:        "memory",
			DefaultPrefix: "REQ",
		},
		Idempotency: IdempotencyConfig{
			Driver: "memory",
			TTL:    24 * time.Hour,
		},
		Notifications: NotificationsConfig{
			Driver:  "log",
			Channel: "approvals.events",
			Breaker: BreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 2,
				Cooldown:         30 * time.Second,
			},
		},
		MCP: MCPConfig{
			ServerName: "approvals",
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates required fields.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if c.Identity.Issuer == "" {
		errs = append(errs, "identity.issuer is required")
	}
	if c.Identity.JWKSURL == "" {
		errs = append(errs, "identity.jwks_url is required")
	}
	if c.Identity.Audience == "" {
		errs = append(errs, "identity.audience is required")
	}
	if len(c.Templates.Directories) == 0 {
		errs = append(errs, "templates.directories must not be empty")
	}
	if c.Access.PolicyFile == "" {
		errs = append(errs, "access.policy_file is required")
	}

	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Store.DSNEnv == "" {
			errs = append(errs, "store.dsn_env is required for the postgres driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported (memory, postgres)", c.Store.Driver))
	}

	switch c.Numbering.Driver {
	case "memory", "redis":
	case "postgres":
		if c.Store.Driver != "postgres" {
			errs = append(errs, "numbering.driver postgres requires store.driver postgres")
		}
	default:
		errs = append(errs, fmt.Sprintf("numbering.driver %q is not supported (memory, redis, postgres)", c.Numbering.Driver))
	}

	if c.Idempotency.Enabled {
		switch c.Idempotency.Driver {
		case "memory", "redis":
		default:
			errs = append(errs, fmt.Sprintf("idempotency.driver %q is not supported (memory, redis)", c.Idempotency.Driver))
		}
	}

	switch c.Notifications.Driver {
	case "log", "none":
	case "redis":
		if c.Notifications.Channel == "" {
			errs = append(errs, "notifications.channel is required for the redis driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("notifications.driver %q is not supported (log, redis, none)", c.Notifications.Driver))
	}

	if b := c.Notifications.Breaker; b.FailureThreshold < 0 || b.SuccessThreshold < 0 || b.Cooldown < 0 {
		errs = append(errs, "notifications.breaker settings must not be negative")
	}

	if c.SLA.MonitorInterval < 0 {
		errs = append(errs, "sla.monitor_interval must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// UsesRedis reports whether any configured component needs a Redis client.
func (c *Config) UsesRedis() bool {
	return c.Numbering.Driver == "redis" ||
		(c.Idempotency.Enabled && c.Idempotency.Driver == "redis") ||
		c.Notifications.Driver == "redis"
}

// applyEnvOverrides reads APPROVALS_* environment variables and overrides
// config values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("APPROVALS_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("APPROVALS_IDENTITY_ISSUER"); v != "" {
		cfg.Identity.Issuer = v
	}
	if v := os.Getenv("APPROVALS_IDENTITY_JWKS_URL"); v != "" {
		cfg.Identity.JWKSURL = v
	}
	if v := os.Getenv("APPROVALS_IDENTITY_AUDIENCE"); v != "" {
		cfg.Identity.Audience = v
	}
	if v := os.Getenv("APPROVALS_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("APPROVALS_NUMBERING_DRIVER"); v != "" {
		cfg.Numbering.Driver = v
	}
	if v := os.Getenv("APPROVALS_SLA_MONITOR_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.SLA.MonitorInterval = d
		}
	}
	if v := os.Getenv("APPROVALS_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
}
