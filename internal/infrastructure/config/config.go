package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the real-time value gateway.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Engine   EngineConfig   `yaml:"engine"`
	API      APIConfig      `yaml:"api"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Logging  LoggingConfig  `yaml:"logging"`
	Security SecurityConfig `yaml:"security"`
}

// DatabaseConfig contains SQLite settings for the persistent tier.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// RedisConfig contains connection settings for the ephemeral cache tier.
type RedisConfig struct {
	Addr           string `yaml:"addr"`
	Password       string `yaml:"password"`
	DB             int    `yaml:"db"`
	PoolSize       int    `yaml:"pool_size"`
	DialTimeoutMs  int    `yaml:"dial_timeout_ms"`
	ReadTimeoutMs  int    `yaml:"read_timeout_ms"`
	WriteTimeoutMs int    `yaml:"write_timeout_ms"`
}

// MQTTConfig contains MQTT broker connection settings.
// The broker carries point value batches published by the collector.
type MQTTConfig struct {
	Enabled    bool                `yaml:"enabled"`
	Broker     MQTTBrokerConfig    `yaml:"broker"`
	Auth       MQTTAuthConfig      `yaml:"auth"`
	QoS        int                 `yaml:"qos"`
	Reconnect  MQTTReconnectConfig `yaml:"reconnect"`
	ValueTopic string              `yaml:"value_topic"`

	// StatusInterval is the period of the retained status heartbeat in
	// seconds. 0 announces only online/offline transitions.
	StatusInterval int `yaml:"status_interval"`
}

// StatusIntervalDuration returns StatusInterval as a duration.
func (m MQTTConfig) StatusIntervalDuration() time.Duration {
	return time.Duration(m.StatusInterval) * time.Second
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`

	// TrendWindow is how far back trend queries look (minutes).
	TrendWindow int `yaml:"trend_window"`
}

// EngineConfig points at the external device-control engine.
// Only its health endpoint is consumed.
type EngineConfig struct {
	Enabled   bool   `yaml:"enabled"`
	URL       string `yaml:"url"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// GatewayConfig tunes the retrieval cascade, subscriptions and polling.
type GatewayConfig struct {
	// BatchLimit caps the number of keys per retrieval round trip.
	BatchLimit int `yaml:"batch_limit"`

	// TierTimeoutMs bounds every single tier call.
	TierTimeoutMs int `yaml:"tier_timeout_ms"`

	// StaleAfter marks cache hits older than this many seconds as candidates
	// for a store re-check. 0 disables the re-check.
	StaleAfter int `yaml:"stale_after"`

	// ValueTTL is the cache expiry applied by ingest to point values (seconds).
	ValueTTL int `yaml:"value_ttl"`

	Synthetic     SyntheticConfig     `yaml:"synthetic"`
	Subscriptions SubscriptionsConfig `yaml:"subscriptions"`
	Poll          PollConfig          `yaml:"poll"`
	Breaker       BreakerConfig       `yaml:"breaker"`
}

// SyntheticConfig controls the synthesis provider at the end of the cascade.
type SyntheticConfig struct {
	Enabled bool `yaml:"enabled"`
}

// SubscriptionsConfig controls subscription lifetime.
type SubscriptionsConfig struct {
	// TTL is the subscription lifetime in seconds. Default 24h.
	TTL int `yaml:"ttl"`

	// RenewOnPoll resets the TTL on every poll. Default false.
	RenewOnPoll bool `yaml:"renew_on_poll"`

	DefaultIntervalMs int `yaml:"default_interval_ms"`
}

// PollConfig controls the poll engine.
type PollConfig struct {
	// BackfillSize is how many fresh values an otherwise empty poll may carry.
	// 0 disables backfill.
	BackfillSize int `yaml:"backfill_size"`
}

// BreakerConfig configures the per-tier circuit breakers.
type BreakerConfig struct {
	FailureThreshold uint32 `yaml:"failure_threshold"`
	OpenTimeout      int    `yaml:"open_timeout"`
	HalfOpenRequests uint32 `yaml:"half_open_requests"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains tenant identity and rate limit settings.
type SecurityConfig struct {
	JWT          JWTConfig       `yaml:"jwt"`
	TenantHeader string          `yaml:"tenant_header"`
	RateLimit    RateLimitConfig `yaml:"rate_limit"`
}

// JWTConfig contains the shared secret used to verify tenant claims.
// An empty secret means tenant identity is taken from the tenant header.
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// RateLimitConfig contains per-client request limits.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: PULSEGW_SECTION_KEY
// For example: PULSEGW_DATABASE_PATH, PULSEGW_REDIS_ADDR
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "./data/pulse.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Redis: RedisConfig{
			Addr:           "localhost:6379",
			PoolSize:       20,
			DialTimeoutMs:  1000,
			ReadTimeoutMs:  300,
			WriteTimeoutMs: 300,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "pulse-gateway",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			ValueTopic:     "pulseone/+/values/+",
			StatusInterval: 30,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
			TrendWindow:   60,
		},
		Engine: EngineConfig{
			TimeoutMs: 500,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 3000,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Gateway: GatewayConfig{
			BatchLimit:    500,
			TierTimeoutMs: 300,
			StaleAfter:    7200,
			ValueTTL:      7200,
			Synthetic:     SyntheticConfig{Enabled: true},
			Subscriptions: SubscriptionsConfig{
				TTL:               86400,
				DefaultIntervalMs: 1000,
			},
			Poll: PollConfig{BackfillSize: 3},
			Breaker: BreakerConfig{
				FailureThreshold: 5,
				OpenTimeout:      10,
				HalfOpenRequests: 1,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			TenantHeader: "X-Tenant-ID",
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 600,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PULSEGW_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("PULSEGW_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("PULSEGW_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}

	if v := os.Getenv("PULSEGW_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("PULSEGW_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("PULSEGW_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("PULSEGW_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("PULSEGW_ENGINE_URL"); v != "" {
		cfg.Engine.URL = v
	}

	if v := os.Getenv("PULSEGW_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("PULSEGW_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	if v := os.Getenv("PULSEGW_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// headerNamePattern matches a valid HTTP header field name.
var headerNamePattern = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis.addr is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.ValueTopic == "" {
		errs = append(errs, "mqtt.value_topic is required when mqtt is enabled")
	}
	if c.MQTT.StatusInterval < 0 {
		errs = append(errs, "mqtt.status_interval must not be negative")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}
	if c.Engine.Enabled && c.Engine.URL == "" {
		errs = append(errs, "engine.url is required when engine is enabled")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Gateway.BatchLimit < 1 {
		errs = append(errs, "gateway.batch_limit must be positive")
	}
	if c.Gateway.TierTimeoutMs < 1 {
		errs = append(errs, "gateway.tier_timeout_ms must be positive")
	}
	if c.Gateway.Subscriptions.TTL < 1 {
		errs = append(errs, "gateway.subscriptions.ttl must be positive")
	}
	if c.Gateway.Poll.BackfillSize < 0 {
		errs = append(errs, "gateway.poll.backfill_size cannot be negative")
	}

	// An empty secret is allowed: tenancy then comes from the trusted header.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret != "" && len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}
	if !headerNamePattern.MatchString(c.Security.TenantHeader) {
		errs = append(errs, "security.tenant_header must be a valid header name")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// TierTimeout returns the per-tier call timeout.
func (g GatewayConfig) TierTimeout() time.Duration {
	return time.Duration(g.TierTimeoutMs) * time.Millisecond
}

// StaleAfterDuration returns the cache staleness threshold (0 = disabled).
func (g GatewayConfig) StaleAfterDuration() time.Duration {
	return time.Duration(g.StaleAfter) * time.Second
}

// ValueTTLDuration returns the cache expiry for ingested point values.
func (g GatewayConfig) ValueTTLDuration() time.Duration {
	return time.Duration(g.ValueTTL) * time.Second
}

// SubscriptionTTL returns the subscription lifetime.
func (g GatewayConfig) SubscriptionTTL() time.Duration {
	return time.Duration(g.Subscriptions.TTL) * time.Second
}

// OpenTimeoutDuration returns how long an open breaker waits before probing.
func (b BreakerConfig) OpenTimeoutDuration() time.Duration {
	return time.Duration(b.OpenTimeout) * time.Second
}
