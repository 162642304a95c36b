// Package config provides the runtime defaults, validation and environment
// loading for the dmchat service.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ErrMissingSecret is returned when production runs without JWT_SECRET.
var ErrMissingSecret = errors.New("JWT_SECRET is required in production")

// RateLimitConfig defines the per-user message send budget.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port           string
	Env            string
	AllowedOrigins []string
	MaxMessageSize int64
	RateLimit      RateLimitConfig

	JWTSecret string
	TokenTTL  time.Duration

	SQLitePath    string
	DatabaseURL   string
	MongoURI      string
	MongoDatabase string
	RedisURL      string
}

const defaultTokenTTL = 7 * 24 * time.Hour

// developmentSecret signs tokens when JWT_SECRET is unset outside production.
const developmentSecret = "dmchat-development-secret"

func defaultConfig() Config {
	return Config{
		Port: ":5001",
		Env:  "development",
		AllowedOrigins: []string{
			"http://localhost:5173",
		},
		MaxMessageSize: 512,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		JWTSecret:     developmentSecret,
		TokenTTL:      defaultTokenTTL,
		SQLitePath:    "./data/dmchat.db",
		MongoDatabase: "dmchat",
	}
}

// Sanitize fills zero values with defaults and returns the result.
func Sanitize(cfg Config) Config {
	def := defaultConfig()

	if cfg.Port == "" {
		cfg.Port = def.Port
	}
	if !strings.HasPrefix(cfg.Port, ":") && !strings.Contains(cfg.Port, ":") {
		cfg.Port = ":" + cfg.Port
	}

	if cfg.Env == "" {
		cfg.Env = def.Env
	}

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}

	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = def.RateLimit.Burst
	}

	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}

	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = def.TokenTTL
	}

	if cfg.JWTSecret == "" && !cfg.IsProduction() {
		cfg.JWTSecret = def.JWTSecret
	}

	if cfg.SQLitePath == "" {
		cfg.SQLitePath = def.SQLitePath
	}

	if cfg.MongoDatabase == "" {
		cfg.MongoDatabase = def.MongoDatabase
	}

	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// Load reads a .env file when present and then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return NewConfigFromEnv()
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
// In production a missing JWT_SECRET is ErrMissingSecret.
func NewConfigFromEnv() (*Config, error) {
	cfg := defaultConfig()

	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}

	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}

	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseSeconds(interval, cfg.RateLimit.RefillInterval)
	}

	if hours := os.Getenv("TOKEN_TTL_HOURS"); hours != "" {
		cfg.TokenTTL = time.Duration(parseIntValue(hours, int(defaultTokenTTL/time.Hour))) * time.Hour
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.MongoURI = os.Getenv("MONGO_URI")
	cfg.RedisURL = os.Getenv("REDIS_URL")

	if path := os.Getenv("SQLITE_PATH"); path != "" {
		cfg.SQLitePath = path
	}

	if db := os.Getenv("MONGO_DATABASE"); db != "" {
		cfg.MongoDatabase = db
	}

	if cfg.IsProduction() && cfg.JWTSecret == "" {
		return nil, ErrMissingSecret
	}

	sanitized := Sanitize(cfg)
	return &sanitized, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseSeconds(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
