package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	EventBusNone  = "none"
	EventBusRedis = "redis"
	EventBusAMQP  = "amqp"
)

type Config struct {
	Port          string   `mapstructure:"PORT"`
	Env           string   `mapstructure:"ENV"`
	DatabaseURL   string   `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32    `mapstructure:"DB_MIN_CONNS"`
	DefaultTenant string   `mapstructure:"DEFAULT_TENANT"`
	CORSOrigins   []string `mapstructure:"CORS_ORIGINS"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`

	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL    string `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`

	RedisURL     string `mapstructure:"REDIS_URL"`
	AMQPURL      string `mapstructure:"AMQP_URL"`
	EventBus     string `mapstructure:"EVENT_BUS"`
	EventChannel string `mapstructure:"EVENT_CHANNEL"`

	S3Bucket          string `mapstructure:"S3_BUCKET"`
	S3Region          string `mapstructure:"S3_REGION"`
	S3Endpoint        string `mapstructure:"S3_ENDPOINT"`
	S3AccessKeyID     string `mapstructure:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `mapstructure:"S3_SECRET_ACCESS_KEY"`

	OTLPEndpoint string `mapstructure:"OTLP_ENDPOINT"`

	BreachSweepInterval time.Duration `mapstructure:"BREACH_SWEEP_INTERVAL"`
	AtRiskDays          int           `mapstructure:"AT_RISK_DAYS"`
	ReportCacheTTL      time.Duration `mapstructure:"REPORT_CACHE_TTL"`
	MigrationsDir       string        `mapstructure:"MIGRATIONS_DIR"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DEFAULT_TENANT", "CORS_ORIGINS",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL", "AUTH_SIGNING_KEY",
	"REDIS_URL", "AMQP_URL", "EVENT_BUS", "EVENT_CHANNEL",
	"S3_BUCKET", "S3_REGION", "S3_ENDPOINT", "S3_ACCESS_KEY_ID", "S3_SECRET_ACCESS_KEY",
	"OTLP_ENDPOINT",
	"BREACH_SWEEP_INTERVAL", "AT_RISK_DAYS", "REPORT_CACHE_TTL", "MIGRATIONS_DIR",
}

// Load reads configuration from the environment and an optional .env file
// in the working directory.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("EVENT_BUS", EventBusNone)
	v.SetDefault("EVENT_CHANNEL", "rtt.events")
	v.SetDefault("S3_REGION", "eu-west-2")
	v.SetDefault("BREACH_SWEEP_INTERVAL", "1h")
	v.SetDefault("AT_RISK_DAYS", 14)
	v.SetDefault("REPORT_CACHE_TTL", "5m")

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// The .env file is optional.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	for i := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(cfg.CORSOrigins[i])
	}
	cfg.EventBus = strings.ToLower(strings.TrimSpace(cfg.EventBus))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// AuthMode is "development" (no token checks), "hs256" when a shared
// signing key is configured, or "jwks".
func (c *Config) AuthMode() string {
	switch {
	case c.IsDev() && c.AuthSigningKey == "" && c.AuthJWKSURL == "":
		return "development"
	case c.AuthSigningKey != "":
		return "hs256"
	default:
		return "jwks"
	}
}

// S3Enabled reports whether report exports go to S3 rather than memory.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != ""
}

// Validate checks the configuration is coherent before the server starts.
func (c *Config) Validate() error {
	if c.AuthMode() == "jwks" && c.AuthJWKSURL == "" {
		return fmt.Errorf("AUTH_JWKS_URL or AUTH_SIGNING_KEY must be set when ENV=%q", c.Env)
	}
	if c.IsProduction() && c.AuthSigningKey != "" && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 characters in production")
	}

	switch c.EventBus {
	case EventBusNone:
	case EventBusRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when EVENT_BUS is %q", c.EventBus)
		}
	case EventBusAMQP:
		if c.AMQPURL == "" {
			return fmt.Errorf("AMQP_URL is required when EVENT_BUS is %q", c.EventBus)
		}
	default:
		return fmt.Errorf("EVENT_BUS must be \"none\", \"redis\", or \"amqp\", got %q", c.EventBus)
	}

	if (c.S3AccessKeyID == "") != (c.S3SecretAccessKey == "") {
		return fmt.Errorf("S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY must be set together")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.BreachSweepInterval < 0 {
		return fmt.Errorf("BREACH_SWEEP_INTERVAL must not be negative")
	}
	if c.AtRiskDays < 0 {
		return fmt.Errorf("AT_RISK_DAYS must not be negative")
	}
	return nil
}
