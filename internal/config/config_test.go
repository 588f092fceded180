package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv blanks every variable ApplyEnv reads so the host environment cannot
// leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"SERVER_PORT", "SERVER_ADDR", "ALLOWED_ORIGINS", "MAX_MESSAGE_SIZE",
		"RATE_LIMIT_BURST", "RATE_LIMIT_REFILL_INTERVAL", "LOG_LEVEL",
		"LOG_FORMAT", "LOG_FILE", "AUDIT_DRIVER", "AUDIT_DSN",
	} {
		t.Setenv(key, "")
	}
}

// TestLoadDefaults verifies that loading with no file and no environment
// yields the defaults.
func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Failed to load default config: %v", err)
	}

	if cfg.Address != ":8080" {
		t.Errorf("Expected address :8080, got %s", cfg.Address)
	}
	if cfg.MaxMessageSize != 4096 {
		t.Errorf("Expected max message size 4096, got %d", cfg.MaxMessageSize)
	}
	if cfg.RateLimit.Burst != 5 || cfg.RateLimit.RefillInterval != time.Second {
		t.Errorf("Unexpected rate limit defaults: %+v", cfg.RateLimit)
	}
	if cfg.Session.PingInterval >= cfg.Session.PongTimeout {
		t.Errorf("Ping interval %s must be shorter than pong timeout %s",
			cfg.Session.PingInterval, cfg.Session.PongTimeout)
	}
	if cfg.Audit.Driver != "" {
		t.Errorf("Audit should be disabled by default, got %q", cfg.Audit.Driver)
	}
	if cfg.Logging.File != "" || cfg.Logging.MaxSizeMB != 100 {
		t.Errorf("Unexpected logging defaults: %+v", cfg.Logging)
	}
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "relay.yaml")
	content := `
address: "127.0.0.1:9000"
allowed_origins:
  - https://chat.example.com
max_message_size: 1024
rate_limit:
  burst: 10
  refill_interval: 2s
session:
  handshake_timeout: 3s
logging:
  level: debug
  format: json
audit:
  driver: sqlite3
  dsn: "file:audit.db"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Address != "127.0.0.1:9000" {
		t.Errorf("Expected address from file, got %s", cfg.Address)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "https://chat.example.com" {
		t.Errorf("Unexpected origins: %v", cfg.AllowedOrigins)
	}
	if cfg.MaxMessageSize != 1024 {
		t.Errorf("Expected max message size 1024, got %d", cfg.MaxMessageSize)
	}
	if cfg.RateLimit.Burst != 10 || cfg.RateLimit.RefillInterval != 2*time.Second {
		t.Errorf("Unexpected rate limit: %+v", cfg.RateLimit)
	}
	if cfg.Session.HandshakeTimeout != 3*time.Second {
		t.Errorf("Expected handshake timeout 3s, got %s", cfg.Session.HandshakeTimeout)
	}
	if cfg.Session.SendBuffer != 256 {
		t.Errorf("Unset fields should keep defaults, got send buffer %d", cfg.Session.SendBuffer)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Expected json format, got %s", cfg.Logging.Format)
	}
	if cfg.Audit.Driver != "sqlite3" {
		t.Errorf("Expected sqlite3 audit driver, got %s", cfg.Audit.Driver)
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing config file")
	}
}

// TestApplyEnv checks every environment override, including the fallbacks
// for unparseable values.
func TestApplyEnv(t *testing.T) {
	t.Run("Overrides", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("SERVER_PORT", "9090")
		t.Setenv("ALLOWED_ORIGINS", " http://a.example , http://b.example ")
		t.Setenv("MAX_MESSAGE_SIZE", "2048")
		t.Setenv("RATE_LIMIT_BURST", "7")
		t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "3")
		t.Setenv("LOG_LEVEL", "warn")
		t.Setenv("LOG_FILE", "/var/log/relay.log")
		t.Setenv("AUDIT_DRIVER", "mysql")
		t.Setenv("AUDIT_DSN", "user:pass@tcp(localhost:3306)/relay")

		cfg := Default()
		ApplyEnv(cfg)

		if cfg.Address != ":9090" {
			t.Errorf("Expected :9090, got %s", cfg.Address)
		}
		if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "http://b.example" {
			t.Errorf("Unexpected origins: %v", cfg.AllowedOrigins)
		}
		if cfg.MaxMessageSize != 2048 {
			t.Errorf("Expected 2048, got %d", cfg.MaxMessageSize)
		}
		if cfg.RateLimit.Burst != 7 {
			t.Errorf("Expected burst 7, got %d", cfg.RateLimit.Burst)
		}
		if cfg.RateLimit.RefillInterval != 3*time.Second {
			t.Errorf("Expected 3s, got %s", cfg.RateLimit.RefillInterval)
		}
		if cfg.Logging.Level != "warn" {
			t.Errorf("Expected warn, got %s", cfg.Logging.Level)
		}
		if cfg.Logging.File != "/var/log/relay.log" {
			t.Errorf("Expected log file from env, got %q", cfg.Logging.File)
		}
		if cfg.Audit.Driver != "mysql" || cfg.Audit.DSN == "" {
			t.Errorf("Unexpected audit config: %+v", cfg.Audit)
		}
	})

	t.Run("SERVER_ADDR wins over SERVER_PORT", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("SERVER_PORT", "9090")
		t.Setenv("SERVER_ADDR", "0.0.0.0:7000")

		cfg := Default()
		ApplyEnv(cfg)
		if cfg.Address != "0.0.0.0:7000" {
			t.Errorf("Expected 0.0.0.0:7000, got %s", cfg.Address)
		}
	})

	t.Run("Invalid values keep defaults", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("MAX_MESSAGE_SIZE", "huge")
		t.Setenv("RATE_LIMIT_BURST", "-1")
		t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "soon")

		cfg := Default()
		ApplyEnv(cfg)
		def := Default()
		if cfg.MaxMessageSize != def.MaxMessageSize {
			t.Errorf("Expected %d, got %d", def.MaxMessageSize, cfg.MaxMessageSize)
		}
		if cfg.RateLimit.Burst != def.RateLimit.Burst {
			t.Errorf("Expected %d, got %d", def.RateLimit.Burst, cfg.RateLimit.Burst)
		}
		if cfg.RateLimit.RefillInterval != def.RateLimit.RefillInterval {
			t.Errorf("Expected %s, got %s", def.RateLimit.RefillInterval, cfg.RateLimit.RefillInterval)
		}
	})

	t.Run("Duration refill interval", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "250ms")

		cfg := Default()
		ApplyEnv(cfg)
		if cfg.RateLimit.RefillInterval != 250*time.Millisecond {
			t.Errorf("Expected 250ms, got %s", cfg.RateLimit.RefillInterval)
		}
	})
}

func TestSanitize(t *testing.T) {
	cfg := &Config{
		AllowedOrigins: []string{"", "  http://localhost:3000  "},
		RateLimit:      RateLimitConfig{Burst: -4},
		Session:        SessionConfig{PingInterval: time.Minute, PongTimeout: 30 * time.Second},
		Audit:          AuditConfig{Driver: " SQLite3 "},
	}
	cfg.Sanitize()

	if cfg.Address != ":8080" {
		t.Errorf("Expected default address, got %s", cfg.Address)
	}
	if cfg.MaxMessageSize != 4096 {
		t.Errorf("Expected default max message size, got %d", cfg.MaxMessageSize)
	}
	if cfg.RateLimit.Burst != 0 {
		t.Errorf("Negative burst should disable limiting, got %d", cfg.RateLimit.Burst)
	}
	if cfg.Session.PingInterval >= cfg.Session.PongTimeout {
		t.Errorf("Ping interval %s should be clamped below pong timeout %s",
			cfg.Session.PingInterval, cfg.Session.PongTimeout)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "http://localhost:3000" {
		t.Errorf("Unexpected origins: %v", cfg.AllowedOrigins)
	}
	if cfg.Audit.Driver != "sqlite3" {
		t.Errorf("Expected normalized driver, got %q", cfg.Audit.Driver)
	}
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"Defaults", func(*Config) {}, ""},
		{"Empty address", func(c *Config) { c.Address = "" }, "address"},
		{"Bad log level", func(c *Config) { c.Logging.Level = "loud" }, "log level"},
		{"Bad log format", func(c *Config) { c.Logging.Format = "xml" }, "log format"},
		{"Audit without DSN", func(c *Config) { c.Audit.Driver = "mysql" }, "requires a DSN"},
		{"Postgres audit driver", func(c *Config) { c.Audit = AuditConfig{Driver: "postgres", DSN: "postgres://relay@db/relay"} }, ""},
		{"Unknown audit driver", func(c *Config) { c.Audit = AuditConfig{Driver: "oracle", DSN: "x"} }, "unsupported"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Errorf("Expected no error, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestStringOmitsDSN(t *testing.T) {
	cfg := Default()
	cfg.Audit = AuditConfig{Driver: "mysql", DSN: "user:secret@tcp(db:3306)/relay"}

	if s := cfg.String(); strings.Contains(s, "secret") {
		t.Errorf("String should not include the DSN, got %s", s)
	}
}
