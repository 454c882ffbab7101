package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file, overridden by EXCHANGE_CONFIG.
const ConfigPath = "config.yaml"

const (
	defaultDatabaseDriver     = "postgres"
	defaultProposalRateLimit  = 20
	defaultAuthFailureLimit   = 30
	defaultEventStream        = "livre2main:exchange-events"
	defaultEventStreamMaxLen  = 10000
	defaultEventConsumerGroup = "exchange-notifier"
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                       string   `yaml:"port"`
	LogLevel                   string   `yaml:"logLevel"`
	DatabaseURL                string   `yaml:"databaseURL"`
	DatabaseDriver             string   `yaml:"databaseDriver"`
	RedisAddr                  string   `yaml:"redisAddr"`
	RedisPassword              string   `yaml:"redisPassword"`
	JWTSecret                  string   `yaml:"jwtSecret"`
	JWTIssuer                  string   `yaml:"jwtIssuer"`
	JWTAudience                string   `yaml:"jwtAudience"`
	JWTLeeway                  string   `yaml:"jwtLeeway"`
	TrustedProxyCIDRs          []string `yaml:"trustedProxyCidrs"`
	ProposalRateLimitPerMinute int      `yaml:"proposalRateLimitPerMinute"`
	AuthFailureLimitPerMinute  int      `yaml:"authFailureLimitPerMinute"`
	PaymentTokenTTL            string   `yaml:"paymentTokenTTL"`
	EventStream                string   `yaml:"eventStream"`
	EventStreamMaxLen          int64    `yaml:"eventStreamMaxLen"`
	EventConsumerGroup         string   `yaml:"eventConsumerGroup"`
	EventConsumerEnabled       bool     `yaml:"eventConsumerEnabled"`
}

// ResolvePath returns EXCHANGE_CONFIG when set, else ConfigPath.
func ResolvePath() string {
	if v := strings.TrimSpace(os.Getenv("EXCHANGE_CONFIG")); v != "" {
		return v
	}
	return ConfigPath
}

// Load reads config from path (defaults to config.yaml).
// A .env file in the working directory is loaded first when present.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}
	if path == "" {
		path = ResolvePath()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	if v := os.Getenv("EXCHANGE_PORT"); v != "" {
		cfg.Port = strings.TrimSpace(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.TrimSpace(v)
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("DATABASE_DRIVER"); v != "" {
		cfg.DatabaseDriver = strings.TrimSpace(v)
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("JWT_ISSUER"); v != "" {
		cfg.JWTIssuer = v
	}
	if v := os.Getenv("JWT_AUDIENCE"); v != "" {
		cfg.JWTAudience = v
	}
	if v := os.Getenv("JWT_LEEWAY"); v != "" {
		cfg.JWTLeeway = v
	}
	if v := os.Getenv("EXCHANGE_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	if v := os.Getenv("EXCHANGE_PROPOSAL_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.ProposalRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("EXCHANGE_AUTH_FAILURE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.AuthFailureLimitPerMinute = n
		}
	}
	if v := os.Getenv("EXCHANGE_PAYMENT_TOKEN_TTL"); v != "" {
		cfg.PaymentTokenTTL = strings.TrimSpace(v)
	}
	if v := os.Getenv("EXCHANGE_EVENT_CONSUMER_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.EventConsumerEnabled = b
		}
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.DatabaseDriver == "" {
		cfg.DatabaseDriver = defaultDatabaseDriver
	}
	if cfg.ProposalRateLimitPerMinute == 0 {
		cfg.ProposalRateLimitPerMinute = defaultProposalRateLimit
	}
	if cfg.AuthFailureLimitPerMinute == 0 {
		cfg.AuthFailureLimitPerMinute = defaultAuthFailureLimit
	}
	if cfg.EventStream == "" {
		cfg.EventStream = defaultEventStream
	}
	if cfg.EventStreamMaxLen == 0 {
		cfg.EventStreamMaxLen = defaultEventStreamMaxLen
	}
	if cfg.EventConsumerGroup == "" {
		cfg.EventConsumerGroup = defaultEventConsumerGroup
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or EXCHANGE_PORT)")
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	switch cfg.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("config: databaseDriver %q is not supported (postgres or sqlite)", cfg.DatabaseDriver)
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required for rate limiting, payment tokens and events")
	}
	if len(strings.TrimSpace(cfg.JWTSecret)) < 32 {
		return errors.New("config: jwtSecret must be at least 32 characters (set in config.yaml or JWT_SECRET)")
	}
	if cfg.ProposalRateLimitPerMinute < 0 {
		return errors.New("config: proposalRateLimitPerMinute must be >= 0")
	}
	if cfg.AuthFailureLimitPerMinute < 0 {
		return errors.New("config: authFailureLimitPerMinute must be >= 0")
	}
	if _, err := ParseDuration(cfg.JWTLeeway); err != nil {
		return fmt.Errorf("config: jwtLeeway: %w", err)
	}
	if _, err := ParseDuration(cfg.PaymentTokenTTL); err != nil {
		return fmt.Errorf("config: paymentTokenTTL: %w", err)
	}
	return nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

// ParseDuration parses an optional duration string; empty means zero.
func ParseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	if dur < 0 {
		return 0, fmt.Errorf("duration %q must not be negative", raw)
	}
	return dur, nil
}
