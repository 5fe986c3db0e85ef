// Package config provides the runtime settings for pushgate: defaults, an
// optional YAML file, environment overrides and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `yaml:"burst"`
	RefillInterval time.Duration `yaml:"refill_interval"`
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Addr            string          `yaml:"addr"`
	AllowedOrigins  []string        `yaml:"allowed_origins"`
	MaxMessageSize  int64           `yaml:"max_message_size"`
	SendBuffer      int             `yaml:"send_buffer"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
	StoreDSN        string          `yaml:"store_dsn"`
	SecretKey       string          `yaml:"secret_key"`
	TokenTTL        time.Duration   `yaml:"token_ttl"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
	LogLevel        string          `yaml:"log_level"`
	LogFormat       string          `yaml:"log_format"`
}

const (
	defaultAddr            = ":8080"
	defaultMaxMessageSize  = 512
	defaultSendBuffer      = 256
	defaultBurst           = 5
	defaultRefillInterval  = time.Second
	defaultTokenTTL        = 24 * time.Hour
	defaultShutdownTimeout = 10 * time.Second
)

// Default returns a Config populated with development defaults.
// SecretKey is a placeholder and must be overridden outside development.
func Default() *Config {
	return &Config{
		Addr: defaultAddr,
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: defaultMaxMessageSize,
		SendBuffer:     defaultSendBuffer,
		RateLimit: RateLimitConfig{
			Burst:          defaultBurst,
			RefillInterval: defaultRefillInterval,
		},
		StoreDSN:        "memory://",
		SecretKey:       "change-me",
		TokenTTL:        defaultTokenTTL,
		ShutdownTimeout: defaultShutdownTimeout,
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

// Load builds a Config from defaults, then the YAML file at path (skipped when
// path is empty), then environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv(os.Getenv)
	cfg.Sanitize()
	return cfg, nil
}

// LoadFile overlays the YAML document at path onto c. Keys missing from the
// file keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from environment variables looked up through
// getenv. Unparseable numeric values are ignored.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if port := getenv("SERVER_PORT"); port != "" {
		c.Addr = port
	}

	if origins := getenv("ALLOWED_ORIGINS"); origins != "" {
		c.AllowedOrigins = parseOrigins(origins)
	}

	if maxSize := getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		c.MaxMessageSize = parseInt64Value(maxSize, c.MaxMessageSize)
	}

	if burst := getenv("RATE_LIMIT_BURST"); burst != "" {
		c.RateLimit.Burst = parseIntValue(burst, c.RateLimit.Burst)
	}

	// RATE_LIMIT_REFILL_INTERVAL is whole seconds
	if interval := getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		c.RateLimit.RefillInterval = parseSeconds(interval, c.RateLimit.RefillInterval)
	}

	if dsn := getenv("STORE_DSN"); dsn != "" {
		c.StoreDSN = dsn
	}

	if secret := getenv("SECRET_KEY"); secret != "" {
		c.SecretKey = secret
	}

	if ttl := getenv("TOKEN_TTL"); ttl != "" {
		if d, err := time.ParseDuration(ttl); err == nil && d > 0 {
			c.TokenTTL = d
		}
	}

	if level := getenv("LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}

	if format := getenv("LOG_FORMAT"); format != "" {
		c.LogFormat = format
	}
}

// Sanitize replaces missing or invalid values with defaults.
func (c *Config) Sanitize() {
	if c.Addr == "" {
		c.Addr = defaultAddr
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = defaultMaxMessageSize
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = defaultSendBuffer
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = defaultBurst
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = defaultRefillInterval
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = defaultTokenTTL
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseInt64Value(value string, defaultValue int64) int64 {
	if v, err := strconv.ParseInt(value, 10, 64); err == nil && v > 0 {
		return v
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
