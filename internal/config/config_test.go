package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "appserver.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Run("file values override defaults", func(t *testing.T) {
		t.Chdir(t.TempDir())
		path := writeConfig(t, `
server:
  listen_addr: ":9999"
  read_timeout: 2s
admin:
  username: root
  token_secret: "`+testSecret+`"
metrics:
  enabled: true
log:
  level: debug
`)
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.Server.ListenAddr != ":9999" {
			t.Errorf("ListenAddr = %q, want %q", cfg.Server.ListenAddr, ":9999")
		}
		if cfg.Server.ReadTimeout != 2*time.Second {
			t.Errorf("ReadTimeout = %v, want 2s", cfg.Server.ReadTimeout)
		}
		if cfg.Server.WriteTimeout != 10*time.Second {
			t.Errorf("WriteTimeout = %v, want default 10s", cfg.Server.WriteTimeout)
		}
		if cfg.Admin.Prefix != "/admin/" {
			t.Errorf("Admin.Prefix = %q, want /admin/", cfg.Admin.Prefix)
		}
		if !cfg.Metrics.Enabled || cfg.Metrics.ListenAddr != ":9091" {
			t.Errorf("Metrics = %+v, want enabled on :9091", cfg.Metrics)
		}
	})

	t.Run("env overrides file", func(t *testing.T) {
		t.Chdir(t.TempDir())
		path := writeConfig(t, "server:\n  listen_addr: \":9999\"\n")
		t.Setenv("APP_LISTEN_ADDR", ":7000")
		t.Setenv("APP_LOG_LEVEL", "warn")

		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.Server.ListenAddr != ":7000" {
			t.Errorf("ListenAddr = %q, want %q", cfg.Server.ListenAddr, ":7000")
		}
		if cfg.Log.Level != "warn" {
			t.Errorf("Log.Level = %q, want warn", cfg.Log.Level)
		}
	})

	t.Run("dotenv file is loaded", func(t *testing.T) {
		dir := t.TempDir()
		t.Chdir(dir)
		if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("APP_ADMIN_USER=dotenv-admin\n"), 0600); err != nil {
			t.Fatalf("write .env: %v", err)
		}
		t.Setenv("APP_ADMIN_USER", "")
		os.Unsetenv("APP_ADMIN_USER")
		t.Setenv("APP_ADMIN_TOKEN_SECRET", testSecret)

		cfg, err := Load(writeConfig(t, ""))
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.Admin.Username != "dotenv-admin" {
			t.Errorf("Admin.Username = %q, want dotenv-admin", cfg.Admin.Username)
		}
	})

	t.Run("missing default path falls back to defaults", func(t *testing.T) {
		t.Chdir(t.TempDir())
		cfg, err := Load(DefaultPath)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.Server.ListenAddr != Defaults().Server.ListenAddr {
			t.Errorf("ListenAddr = %q, want default", cfg.Server.ListenAddr)
		}
	})

	t.Run("missing explicit path is an error", func(t *testing.T) {
		t.Chdir(t.TempDir())
		if _, err := Load("/nonexistent/appserver.yaml"); err == nil {
			t.Fatal("expected error for missing config file, got nil")
		}
	})

	t.Run("malformed yaml is an error", func(t *testing.T) {
		t.Chdir(t.TempDir())
		if _, err := Load(writeConfig(t, "server: [unterminated")); err == nil {
			t.Fatal("expected parse error, got nil")
		}
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "tls cert without key",
			mutate:  func(c *Config) { c.TLS.Cert = "cert.pem" },
			wantErr: "tls.cert and tls.key",
		},
		{
			name:    "non-positive rate limit",
			mutate:  func(c *Config) { c.RateLimit.RequestsPerInterval = 0 },
			wantErr: "requests_per_interval",
		},
		{
			name:    "admin prefix without trailing slash",
			mutate:  func(c *Config) { c.Admin.Prefix = "/admin" },
			wantErr: "admin.prefix",
		},
		{
			name:    "root admin prefix",
			mutate:  func(c *Config) { c.Admin.Prefix = "/" },
			wantErr: "admin.prefix",
		},
		{
			name: "short token secret",
			mutate: func(c *Config) {
				c.Admin.Username = "root"
				c.Admin.TokenSecret = "short"
			},
			wantErr: "token_secret",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.Log.Level = "chatty" },
			wantErr: "log.level",
		},
		{
			name: "short token secret with password only",
			mutate: func(c *Config) {
				c.Admin.Password = "hunter2"
				c.Admin.TokenSecret = "short"
			},
			wantErr: "token_secret",
		},
		{
			name: "short token secret without username or password",
			mutate: func(c *Config) {
				c.Admin.TokenSecret = "short"
			},
			wantErr: "token_secret",
		},
		{
			name: "disabled admin skips credential checks",
			mutate: func(c *Config) {
				c.Admin.Enabled = false
				c.Admin.Username = "root"
				c.Admin.TokenSecret = "short"
				c.Admin.TokenTTL = 0
			},
		},
		{
			name: "disabled admin still needs a prefix",
			mutate: func(c *Config) {
				c.Admin.Enabled = false
				c.Admin.Prefix = ""
			},
			wantErr: "admin.prefix",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestRedacted(t *testing.T) {
	cfg := Defaults()
	cfg.Admin.Password = "hunter2"
	cfg.Admin.TokenSecret = testSecret

	red := cfg.Redacted()
	if red.Admin.Password == "hunter2" || red.Admin.TokenSecret == testSecret {
		t.Fatalf("secrets not redacted: %+v", red.Admin)
	}
	if cfg.Admin.Password != "hunter2" {
		t.Fatal("Redacted mutated the original config")
	}
}
