// Package config defines the relay's runtime settings: defaults, a YAML file,
// environment overrides and validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RateLimitConfig defines per-session message rate limiting. A Burst of zero
// disables it.
type RateLimitConfig struct {
	Burst          int           `yaml:"burst"`
	RefillInterval time.Duration `yaml:"refill_interval"`
}

// SessionConfig tunes each client session.
type SessionConfig struct {
	SendBuffer       int           `yaml:"send_buffer"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	PongTimeout      time.Duration `yaml:"pong_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

// LoggingConfig selects the log level and output format. File, when set,
// also writes to a size-rotated log file.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// AuditConfig selects the membership audit store. An empty Driver disables it.
type AuditConfig struct {
	Driver string `yaml:"driver"` // "" | sqlite3 | mysql | postgres
	DSN    string `yaml:"dsn"`
}

// Config holds the relay configuration.
type Config struct {
	Address         string          `yaml:"address"`
	AllowedOrigins  []string        `yaml:"allowed_origins"`
	MaxMessageSize  int64           `yaml:"max_message_size"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
	Session         SessionConfig   `yaml:"session"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
	Logging         LoggingConfig   `yaml:"logging"`
	Audit           AuditConfig     `yaml:"audit"`
}

// Default returns a Config populated with default values for all settings.
func Default() *Config {
	return &Config{
		Address: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: 4096,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		Session: SessionConfig{
			SendBuffer:       256,
			PingInterval:     54 * time.Second,
			PongTimeout:      60 * time.Second,
			WriteTimeout:     10 * time.Second,
			HandshakeTimeout: 10 * time.Second,
		},
		ShutdownTimeout: 10 * time.Second,
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (if any) and the
// environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	ApplyEnv(cfg)
	cfg.Sanitize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// ApplyEnv overrides cfg with any environment variables that are set.
// Unparseable numeric values keep the current setting.
func ApplyEnv(cfg *Config) {
	// SERVER_PORT is kept for existing deployments; SERVER_ADDR wins.
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Address = normalizePort(port)
	}
	if addr := os.Getenv("SERVER_ADDR"); addr != "" {
		cfg.Address = addr
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
		cfg.RateLimit.RefillInterval = parseRefillInterval(interval, cfg.RateLimit.RefillInterval)
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}

	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}

	if file := os.Getenv("LOG_FILE"); file != "" {
		cfg.Logging.File = file
	}

	if driver := os.Getenv("AUDIT_DRIVER"); driver != "" {
		cfg.Audit.Driver = driver
	}

	if dsn := os.Getenv("AUDIT_DSN"); dsn != "" {
		cfg.Audit.DSN = dsn
	}
}

// Sanitize replaces out-of-range values with defaults.
func (c *Config) Sanitize() {
	def := Default()

	if c.Address == "" {
		c.Address = def.Address
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.RateLimit.Burst < 0 {
		c.RateLimit.Burst = 0
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if c.Session.SendBuffer <= 0 {
		c.Session.SendBuffer = def.Session.SendBuffer
	}
	if c.Session.PongTimeout <= 0 {
		c.Session.PongTimeout = def.Session.PongTimeout
	}
	if c.Session.PingInterval <= 0 || c.Session.PingInterval >= c.Session.PongTimeout {
		c.Session.PingInterval = c.Session.PongTimeout * 9 / 10
	}
	if c.Session.WriteTimeout <= 0 {
		c.Session.WriteTimeout = def.Session.WriteTimeout
	}
	if c.Session.HandshakeTimeout < 0 {
		c.Session.HandshakeTimeout = 0
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = def.Logging.Format
	}
	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = def.Logging.MaxSizeMB
	}
	if c.Logging.MaxBackups < 0 {
		c.Logging.MaxBackups = 0
	}
	if c.Logging.MaxAgeDays < 0 {
		c.Logging.MaxAgeDays = 0
	}

	cleaned := make([]string, 0, len(c.AllowedOrigins))
	for _, origin := range c.AllowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	c.AllowedOrigins = cleaned
	c.Audit.Driver = strings.ToLower(strings.TrimSpace(c.Audit.Driver))
}

// Validate checks the settings that cannot be defaulted.
func (c *Config) Validate() error {
	if c.Address == "" {
		return errors.New("server address cannot be empty")
	}

	if !isValidLogLevel(c.Logging.Level) {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	switch c.Audit.Driver {
	case "":
	case "sqlite3", "sqlite", "mysql", "postgres":
		if c.Audit.DSN == "" {
			return fmt.Errorf("audit driver %s requires a DSN", c.Audit.Driver)
		}
	default:
		return fmt.Errorf("unsupported audit driver: %s", c.Audit.Driver)
	}

	return nil
}

// String returns a summary of the configuration for logging. The audit DSN
// is left out since it may carry credentials.
func (c *Config) String() string {
	return fmt.Sprintf("Config{Address: %s, Origins: %v, MaxMessageSize: %d, RateLimit: %d/%s, Audit: %q, LogLevel: %s}",
		c.Address, c.AllowedOrigins, c.MaxMessageSize, c.RateLimit.Burst, c.RateLimit.RefillInterval,
		c.Audit.Driver, c.Logging.Level)
}

func isValidLogLevel(level string) bool {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}

func normalizePort(port string) string {
	if strings.Contains(port, ":") {
		return port
	}
	return ":" + port
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
	if parsed, err := strconv.Atoi(value); err == nil && parsed >= 0 {
		return parsed
	}
	return defaultValue
}

// parseRefillInterval accepts whole seconds or a Go duration string.
func parseRefillInterval(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return defaultValue
}
