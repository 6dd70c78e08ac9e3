// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Session store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Identity      IdentityConfig      `yaml:"identity"`
	Capability    CapabilityConfig    `yaml:"capability"`
	Sessions      SessionsConfig      `yaml:"sessions"`
	RuleSets      RuleSetsConfig      `yaml:"rulesets"`
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
	Issuer       string        `yaml:"issuer"`
	Audience     string        `yaml:"audience"`
	JWKSURL      string        `yaml:"jwks_url"`
	JWKSCacheTTL time.Duration `yaml:"jwks_cache_ttl"`
	// Algorithms lists the accepted RSA signing methods.
	Algorithms []string `yaml:"algorithms"`

	// TenantClaim and RolesClaim are claim names; a dotted path such as
	// "realm_access.roles" reaches into nested claims.
	TenantClaim string `yaml:"tenant_claim"`
	RolesClaim  string `yaml:"roles_claim"`

	// PublisherRole guards publishing. Tokens whose scope claim contains
	// PublishScope are granted it as well.
	PublisherRole string `yaml:"publisher_role"`
	PublishScope  string `yaml:"publish_scope"`
}

// CapabilityConfig describes where the profile capability table and metric
// catalog live.
type CapabilityConfig struct {
	CatalogFile       string      `yaml:"catalog_file"`
	MetricCatalogFile string      `yaml:"metric_catalog_file"`
	Cache             CacheConfig `yaml:"cache"`
}

// CacheConfig describes cache settings.
type CacheConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// SessionsConfig describes draft session persistence.
type SessionsConfig struct {
	Driver          string        `yaml:"driver"`
	DSNEnv          string        `yaml:"dsn_env"`
	AddrEnv         string        `yaml:"addr_env"`
	DB              int           `yaml:"db"`
	TTL             time.Duration `yaml:"ttl"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RuleSetsConfig describes where published rule sets are read from.
type RuleSetsConfig struct {
	Directories []string `yaml:"directories"`
	// FailOnInvalid stops startup when a published rule set does not
	// validate. Otherwise the file is skipped with a warning.
	FailOnInvalid bool `yaml:"fail_on_invalid"`
	// PublishDir receives rule sets published over the API. Empty keeps
	// them in memory only.
	PublishDir string `yaml:"publish_dir"`
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
			MaxBodyBytes:    4 << 20,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type", "Accept-Language",
					"X-Correlation-Id", "If-Match"},
				MaxAge: 86400,
			},
		},
		Identity: IdentityConfig{
			JWKSCacheTTL: 1 * time.Hour,
			Algorithms:   []string{"RS256"},
			TenantClaim:   "tenant_id",
			RolesClaim:    "roles",
			PublisherRole: "publisher",
			PublishScope:  "rulesets:publish",
		},
		Capability: CapabilityConfig{
			Cache: CacheConfig{TTL: 5 * time.Minute},
		},
		Sessions: SessionsConfig{
			Driver:          DriverMemory,
			TTL:             24 * time.Hour,
			SweepInterval:   5 * time.Minute,
			MaxOpenConns:    25,
			ConnMaxLifetime: 5 * time.Minute,
		},
		RuleSets: RuleSetsConfig{
			Directories: []string{"/rulesets"},
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

var rsaAlgorithms = map[string]bool{"RS256": true, "RS384": true, "RS512": true}

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
	if len(c.Identity.Algorithms) == 0 {
		errs = append(errs, "identity.algorithms must list at least one algorithm")
	}
	for _, alg := range c.Identity.Algorithms {
		if !rsaAlgorithms[alg] {
			errs = append(errs, fmt.Sprintf("identity.algorithms: %q is not one of RS256, RS384, RS512", alg))
		}
	}
	if c.Identity.TenantClaim == "" {
		errs = append(errs, "identity.tenant_claim is required")
	}
	if c.Capability.CatalogFile == "" {
		errs = append(errs, "capability.catalog_file is required")
	}

	switch c.Sessions.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Sessions.DSNEnv == "" {
			errs = append(errs, "sessions.dsn_env is required for the postgres driver")
		}
	case DriverRedis:
		if c.Sessions.AddrEnv == "" {
			errs = append(errs, "sessions.addr_env is required for the redis driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("sessions.driver %q is not one of memory, postgres, redis", c.Sessions.Driver))
	}
	if c.Sessions.TTL < 0 {
		errs = append(errs, "sessions.ttl must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads COACHBUILDER_* environment variables and overrides
// config values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("COACHBUILDER_SERVER_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("COACHBUILDER_IDENTITY_ISSUER"); v != "" {
		cfg.Identity.Issuer = v
	}
	if v := os.Getenv("COACHBUILDER_IDENTITY_JWKS_URL"); v != "" {
		cfg.Identity.JWKSURL = v
	}
	if v := os.Getenv("COACHBUILDER_IDENTITY_AUDIENCE"); v != "" {
		cfg.Identity.Audience = v
	}
	if v := os.Getenv("COACHBUILDER_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("COACHBUILDER_CAPABILITY_FILE"); v != "" {
		cfg.Capability.CatalogFile = v
	}
	if v := os.Getenv("COACHBUILDER_SESSION_DRIVER"); v != "" {
		cfg.Sessions.Driver = v
	}
}
