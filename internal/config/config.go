// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port            string
	DBPath          string
	DatabaseURL     string // postgres:// URL; replaces DBPath when set
	KeyPath         string
	KeyAutogen      bool
	QuestionSetPath string // empty selects the embedded default set
	Issuer          string // empty uses the request Host
	SingleUse       bool
	ChallengeTTL    time.Duration
	TokenTTL        time.Duration
	VerifyLeeway    time.Duration
	Retention       time.Duration
	SweepInterval   time.Duration
	AllowedOrigins  []string
	LogLevel        slog.Level
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	level, err := parseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg := &Config{
		Port:            getEnv("PORT", "8001"),
		DBPath:          getEnv("DB_PATH", "./captcha_data/captcha.sqlite"),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		KeyPath:         getEnv("KEY_PATH", "./captcha_data"),
		KeyAutogen:      getEnvBool("KEY_AUTOGEN", true),
		QuestionSetPath: getEnv("QUESTION_SET_PATH", ""),
		Issuer:          getEnv("ISSUER", ""),
		SingleUse:       getEnvBool("SINGLE_USE", true),
		ChallengeTTL:    getEnvDuration("CHALLENGE_TTL", time.Hour),
		TokenTTL:        getEnvDuration("TOKEN_TTL", 600*time.Second),
		VerifyLeeway:    getEnvDuration("VERIFY_LEEWAY", 5*time.Second),
		Retention:       getEnvDuration("RETENTION", 24*time.Hour),
		SweepInterval:   getEnvDuration("SWEEP_INTERVAL", 5*time.Minute),
		AllowedOrigins:  splitList(getEnv("ALLOWED_ORIGINS", "*")),
		LogLevel:        level,
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" && c.DatabaseURL == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.DatabaseURL != "" && !strings.HasPrefix(c.DatabaseURL, "postgres://") && !strings.HasPrefix(c.DatabaseURL, "postgresql://") {
		return fmt.Errorf("DATABASE_URL must be a postgres:// or postgresql:// URL")
	}
	if c.KeyPath == "" {
		return fmt.Errorf("KEY_PATH cannot be empty")
	}
	if c.ChallengeTTL <= 0 {
		return fmt.Errorf("CHALLENGE_TTL must be > 0")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be > 0")
	}
	if c.VerifyLeeway < 0 {
		return fmt.Errorf("VERIFY_LEEWAY cannot be negative")
	}
	if c.Retention < 0 {
		return fmt.Errorf("RETENTION cannot be negative")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be > 0")
	}
	if len(c.AllowedOrigins) == 0 {
		return fmt.Errorf("ALLOWED_ORIGINS cannot be empty")
	}
	return nil
}

// StoreDSN returns the Postgres URL when configured, otherwise the SQLite path.
func (c *Config) StoreDSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return c.DBPath
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// getEnvDuration accepts Go durations ("90s", "1h") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseLevel(value string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return level, nil
}
