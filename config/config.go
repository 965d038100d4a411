// Package config defines the ensemble configuration tree and its loader.
// Precedence: defaults, then YAML file, then ENSEMBLE_* environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the complete ensemble configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server" env:"SERVER"`
	Log          LogConfig          `yaml:"log" env:"LOG"`
	Backend      BackendConfig      `yaml:"backend" env:"BACKEND"`
	Coordination CoordinationConfig `yaml:"coordination" env:"COORDINATION"`
	Resilience   ResilienceConfig   `yaml:"resilience" env:"RESILIENCE"`
	Synthesis    SynthesisConfig    `yaml:"synthesis" env:"SYNTHESIS"`
	Redis        RedisConfig        `yaml:"redis" env:"REDIS"`
	Store        StoreConfig        `yaml:"store" env:"STORE"`
	Auth         AuthConfig         `yaml:"auth" env:"AUTH"`
	Telemetry    TelemetryConfig    `yaml:"telemetry" env:"TELEMETRY"`
	Metrics      MetricsConfig      `yaml:"metrics" env:"METRICS"`
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port" env:"HTTP_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	RateLimitRPS    float64       `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst  int           `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// Format: json, console
	Format       string `yaml:"format" env:"FORMAT"`
	EnableCaller bool   `yaml:"enable_caller" env:"ENABLE_CALLER"`
}

// BackendConfig selects the upstream inference backend. Model routing is
// per-request: workflow steps and strategy targets name the model, one
// backend serves them all.
type BackendConfig struct {
	// Kind: scripted, remote
	Kind string `yaml:"kind" env:"KIND"`
	// Name labels the backend in logs, metrics and circuit breakers.
	Name string `yaml:"name" env:"NAME"`
	// BaseURL of the remote upstream, e.g. "https://inference.internal:8443".
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// APIKey is sent as a bearer token when set.
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// Timeout bounds one upstream HTTP call.
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// CoordinationConfig holds the distribution strategy engine settings.
type CoordinationConfig struct {
	// MaxConcurrentUnits bounds how many units run at once across a batch.
	MaxConcurrentUnits int `yaml:"max_concurrent_units" env:"MAX_CONCURRENT_UNITS"`
	// MaxUnitTimeout bounds one backend call.
	MaxUnitTimeout time.Duration `yaml:"max_unit_timeout" env:"MAX_UNIT_TIMEOUT"`
	// DefaultStrategy: parallel, sequential, hierarchical, adaptive, grouped.
	DefaultStrategy string `yaml:"default_strategy" env:"DEFAULT_STRATEGY"`
	// DefaultConfidence is assigned to contributions whose backend reports
	// no confidence and whose target declares no affinity.
	DefaultConfidence float64 `yaml:"default_confidence" env:"DEFAULT_CONFIDENCE"`
	// AffinityMaximum and AffinityHigh are the grouped-strategy tier cutoffs.
	AffinityMaximum float64 `yaml:"affinity_maximum" env:"AFFINITY_MAXIMUM"`
	AffinityHigh    float64 `yaml:"affinity_high" env:"AFFINITY_HIGH"`
	// AmplificationWeight is applied to maximum-tier contributions.
	AmplificationWeight float64 `yaml:"amplification_weight" env:"AMPLIFICATION_WEIGHT"`
}

// ResilienceConfig groups the cache, circuit breaker and retry settings.
type ResilienceConfig struct {
	Cache   CacheConfig   `yaml:"cache" env:"CACHE"`
	Circuit CircuitConfig `yaml:"circuit" env:"CIRCUIT"`
	Retry   RetryConfig   `yaml:"retry" env:"RETRY"`
}

// CacheConfig holds bounded response cache settings.
type CacheConfig struct {
	Capacity int           `yaml:"capacity" env:"CAPACITY"`
	TTL      time.Duration `yaml:"ttl" env:"TTL"`
}

// CircuitConfig holds circuit breaker settings.
type CircuitConfig struct {
	Threshold       int           `yaml:"threshold" env:"THRESHOLD"`
	RecoveryTimeout time.Duration `yaml:"recovery_timeout" env:"RECOVERY_TIMEOUT"`
}

// RetryConfig holds retry policy settings. MaxAttempts counts the first try,
// so 4 means one call plus three retries.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	BaseDelay   time.Duration `yaml:"base_delay" env:"BASE_DELAY"`
	MaxDelay    time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
}

// SynthesisConfig holds the result synthesizer policy knobs. The thresholds
// are policy, not validated science; they default to the classic values.
type SynthesisConfig struct {
	// EmergenceThreshold: aggregate confidence must exceed this.
	EmergenceThreshold float64 `yaml:"emergence_threshold" env:"EMERGENCE_THRESHOLD"`
	// CoherenceThreshold: derived coherence above this counts as high.
	CoherenceThreshold float64 `yaml:"coherence_threshold" env:"COHERENCE_THRESHOLD"`
	// MinContributions: strictly more than this many contributions required.
	MinContributions int `yaml:"min_contributions" env:"MIN_CONTRIBUTIONS"`
}

// RedisConfig enables the remote cache tier.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled" env:"ENABLED"`
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
	PoolSize int    `yaml:"pool_size" env:"POOL_SIZE"`
}

// StoreConfig selects and tunes the run repository backend.
type StoreConfig struct {
	// Driver: memory, sqlite, mysql, postgres
	Driver   string `yaml:"driver" env:"DRIVER"`
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	User     string `yaml:"user" env:"USER"`
	Password string `yaml:"password" env:"PASSWORD"`
	Name     string `yaml:"name" env:"NAME"`
	SSLMode  string `yaml:"ssl_mode" env:"SSL_MODE"`
	// Path is the SQLite database file.
	Path            string        `yaml:"path" env:"PATH"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	AutoMigrate     bool          `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
}

// AuthConfig holds bearer-token auth settings for the HTTP surface.
type AuthConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
	Issuer    string `yaml:"issuer" env:"ISSUER"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// MetricsConfig holds Prometheus exposure settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Path    string `yaml:"path" env:"PATH"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server:       DefaultServerConfig(),
		Log:          DefaultLogConfig(),
		Backend:      DefaultBackendConfig(),
		Coordination: DefaultCoordinationConfig(),
		Resilience:   DefaultResilienceConfig(),
		Synthesis:    DefaultSynthesisConfig(),
		Redis:        DefaultRedisConfig(),
		Store:        DefaultStoreConfig(),
		Auth:         AuthConfig{Issuer: "ensemble"},
		Telemetry:    DefaultTelemetryConfig(),
		Metrics:      MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// DefaultServerConfig returns the default server settings.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    60 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultLogConfig returns the default logging settings.
func DefaultLogConfig() LogConfig {
	return LogConfig{Level: "info", Format: "json"}
}

// DefaultBackendConfig returns the default backend settings. The scripted
// backend serves deterministic replies in-process, so a default deployment
// runs without an upstream.
func DefaultBackendConfig() BackendConfig {
	return BackendConfig{
		Kind:    "scripted",
		Name:    "scripted",
		Timeout: 60 * time.Second,
	}
}

// DefaultCoordinationConfig returns the default strategy engine settings.
func DefaultCoordinationConfig() CoordinationConfig {
	return CoordinationConfig{
		MaxConcurrentUnits:  8,
		MaxUnitTimeout:      30 * time.Second,
		DefaultStrategy:     "adaptive",
		DefaultConfidence:   0.75,
		AffinityMaximum:     0.9,
		AffinityHigh:        0.7,
		AmplificationWeight: 1.2,
	}
}

// DefaultResilienceConfig returns the default resilience settings.
func DefaultResilienceConfig() ResilienceConfig {
	return ResilienceConfig{
		Cache:   CacheConfig{Capacity: 100, TTL: 5 * time.Minute},
		Circuit: CircuitConfig{Threshold: 5, RecoveryTimeout: 60 * time.Second},
		Retry:   RetryConfig{MaxAttempts: 4, BaseDelay: time.Second, MaxDelay: 30 * time.Second},
	}
}

// DefaultSynthesisConfig returns the default synthesizer policy.
func DefaultSynthesisConfig() SynthesisConfig {
	return SynthesisConfig{
		EmergenceThreshold: 0.8,
		CoherenceThreshold: 0.9,
		MinContributions:   3,
	}
}

// DefaultRedisConfig returns the default (disabled) Redis tier settings.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{Addr: "localhost:6379", PoolSize: 10}
}

// DefaultStoreConfig returns the default repository settings.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Driver:          "memory",
		Host:            "localhost",
		Port:            5432,
		User:            "ensemble",
		Name:            "ensemble",
		SSLMode:         "disable",
		Path:            "ensemble.db",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		AutoMigrate:     true,
	}
}

// DefaultTelemetryConfig returns the default (disabled) telemetry settings.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "ensemble",
		SampleRate:   1.0,
	}
}

// Validate checks value ranges that would break components at runtime.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Coordination.MaxConcurrentUnits <= 0 {
		errs = append(errs, "max_concurrent_units must be positive")
	}
	if c.Coordination.MaxUnitTimeout <= 0 {
		errs = append(errs, "max_unit_timeout must be positive")
	}
	if c.Resilience.Cache.Capacity <= 0 {
		errs = append(errs, "cache capacity must be positive")
	}
	if c.Resilience.Circuit.Threshold <= 0 {
		errs = append(errs, "circuit threshold must be positive")
	}
	if c.Resilience.Retry.MaxAttempts < 1 {
		errs = append(errs, "retry max_attempts must be at least 1")
	}
	if t := c.Synthesis.EmergenceThreshold; t < 0 || t > 1 {
		errs = append(errs, "emergence_threshold must be within [0,1]")
	}
	if t := c.Synthesis.CoherenceThreshold; t < 0 || t > 1 {
		errs = append(errs, "coherence_threshold must be within [0,1]")
	}
	if c.Coordination.AffinityHigh > c.Coordination.AffinityMaximum {
		errs = append(errs, "affinity_high must not exceed affinity_maximum")
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		errs = append(errs, "auth enabled without jwt_secret")
	}
	switch c.Backend.Kind {
	case "scripted":
	case "remote":
		if c.Backend.BaseURL == "" {
			errs = append(errs, "remote backend without base_url")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown backend kind %q", c.Backend.Kind))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// DSN returns the repository connection string for the configured driver.
func (s *StoreConfig) DSN() string {
	switch s.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.Host, s.Port, s.User, s.Password, s.Name, s.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			s.User, s.Password, s.Host, s.Port, s.Name,
		)
	case "sqlite":
		return s.Path
	default:
		return ""
	}
}
