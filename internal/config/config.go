// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultTokenTTL      = 60 * time.Second
	defaultCodeTTL       = 10 * time.Minute
	defaultRedeemMaxWait = 25 * time.Second
	minPepperLength      = 16
	minBcryptCost        = 10
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the handshake HTTP API listens on (e.g. :8000).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address the gRPC health service listens on. Empty disables it.
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN holding the authentication table.
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// RedisAddr is host:port of the TTL store holding ephemeral tokens.
	RedisAddr string `mapstructure:"REDIS_ADDR"`
	// RedisPassword is optional.
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	// RedisDB selects the logical Redis database.
	RedisDB int `mapstructure:"REDIS_DB"`

	// TokenPepper is the deployment-wide secret mixed into every token before hashing.
	// Must come from the deployment environment, never from source.
	TokenPepper string `mapstructure:"TOKEN_PEPPER"`
	// TokenTTL is how long an approved token waits in the TTL store for redemption (e.g. "60s").
	TokenTTL string `mapstructure:"TOKEN_TTL"`
	// CodeTTL is how long an issued login code can be approved (e.g. "10m").
	CodeTTL string `mapstructure:"CODE_TTL"`
	// BcryptCost is the bcrypt cost factor (10–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`
	// IssueMaxAttempts bounds how many fresh codes issuance tries on a uniqueness collision.
	IssueMaxAttempts int `mapstructure:"ISSUE_MAX_ATTEMPTS"`
	// RedeemMaxWait caps the long-poll wait a requester may ask for on redeem (e.g. "25s").
	RedeemMaxWait string `mapstructure:"REDEEM_MAX_WAIT"`

	// RateLimitRPS is the per-client-IP request rate on handshake routes. 0 disables limiting.
	RateLimitRPS float64 `mapstructure:"RATE_LIMIT_RPS"`
	// RateLimitBurst is the per-client-IP burst size.
	RateLimitBurst int `mapstructure:"RATE_LIMIT_BURST"`
	// AuditToken is the operator bearer token for GET /audit/:recordId. Empty disables the route.
	AuditToken string `mapstructure:"AUDIT_TOKEN"`
	// CORSAllowedOrigins is a comma-separated origin allow-list; empty allows any origin.
	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`

	// LogLevel is debug, info, warn or error.
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// LogFormat is json or text.
	LogFormat string `mapstructure:"LOG_FORMAT"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	// OTLPEndpoint is the OTLP gRPC collector endpoint; empty uses no-op providers.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces a plaintext connection to the collector.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// ServiceName is reported as service.name on traces, metrics and logs.
	ServiceName string `mapstructure:"OTEL_SERVICE_NAME"`

	// Telemetry (optional). When Kafka brokers are set, the server publishes handshake events to Kafka.
	// TelemetryKafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	TelemetryKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// TelemetryKafkaTopic is the Kafka topic for handshake events.
	TelemetryKafkaTopic string `mapstructure:"TELEMETRY_KAFKA_TOPIC"`

	// Worker-only: Loki URL for the telemetry worker to push logs (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
	// KafkaGroupID is the consumer group ID for the telemetry worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8000")
	v.SetDefault("GRPC_ADDR", ":8081")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("TOKEN_PEPPER", "")
	v.SetDefault("TOKEN_TTL", "60s")
	v.SetDefault("CODE_TTL", "10m")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("ISSUE_MAX_ATTEMPTS", 5)
	v.SetDefault("REDEEM_MAX_WAIT", "25s")
	v.SetDefault("RATE_LIMIT_RPS", 5)
	v.SetDefault("RATE_LIMIT_BURST", 10)
	v.SetDefault("AUDIT_TOKEN", "")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "codelink")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("TELEMETRY_KAFKA_TOPIC", "codelink-handshake")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("KAFKA_GROUP_ID", "codelink-telemetry-worker")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < minBcryptCost || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 10 and 31")
	}

	if cfg.IssueMaxAttempts <= 0 {
		cfg.IssueMaxAttempts = 5
	}
	if cfg.RateLimitRPS < 0 {
		return nil, errors.New("config: RATE_LIMIT_RPS must not be negative")
	}

	return &cfg, nil
}

// ValidateSecrets checks the settings only the server needs (the pepper and, when set, the audit
// token). The migrate and worker commands load the same Config without them, so this is not part of Load.
func (c *Config) ValidateSecrets() error {
	if len(c.TokenPepper) < minPepperLength {
		return errors.New("config: TOKEN_PEPPER must be set to at least 16 characters")
	}
	if c.AuditToken != "" && len(c.AuditToken) < minPepperLength {
		return errors.New("config: AUDIT_TOKEN must be empty or at least 16 characters")
	}
	return nil
}

// TokenLifetime parses TokenTTL as a time.Duration. Returns 60s if unset or invalid.
func (c *Config) TokenLifetime() time.Duration {
	return parseDuration(c.TokenTTL, defaultTokenTTL)
}

// CodeLifetime parses CodeTTL as a time.Duration. Returns 10m if unset or invalid.
func (c *Config) CodeLifetime() time.Duration {
	return parseDuration(c.CodeTTL, defaultCodeTTL)
}

// RedeemWaitLimit parses RedeemMaxWait as a time.Duration. Returns 25s if unset or invalid.
func (c *Config) RedeemWaitLimit() time.Duration {
	return parseDuration(c.RedeemMaxWait, defaultRedeemMaxWait)
}

// TelemetryKafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if event publishing is enabled (non-empty list) and to create the producer.
func (c *Config) TelemetryKafkaBrokersList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.TelemetryKafkaBrokers)
}

// CORSOrigins returns the configured CORS allow-list; nil means any origin.
func (c *Config) CORSOrigins() []string {
	if c == nil {
		return nil
	}
	return splitList(c.CORSAllowedOrigins)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
