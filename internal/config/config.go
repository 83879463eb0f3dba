package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file used when no -config flag is given. A
// missing file at this path is not an error.
const DefaultPath = "configs/appserver.yaml"

// Config holds all configuration for the application server process.
type Config struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	TLS       TLSConfig       `yaml:"tls" json:"tls"`
	Admin     AdminConfig     `yaml:"admin" json:"admin"`
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
	Metrics   MetricsConfig   `yaml:"metrics" json:"metrics"`
	GRPC      GRPCConfig      `yaml:"grpc" json:"grpc"`
	Log       LogConfig       `yaml:"log" json:"log"`
}

type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr" json:"listen_addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

type TLSConfig struct {
	Cert string `yaml:"cert" json:"cert"`
	Key  string `yaml:"key" json:"key"`
}

// Enabled reports whether both halves of the key pair are configured.
func (t TLSConfig) Enabled() bool {
	return t.Cert != "" && t.Key != ""
}

type AdminConfig struct {
	Enabled     bool          `yaml:"enabled" json:"enabled"`
	Prefix      string        `yaml:"prefix" json:"prefix"`
	Username    string        `yaml:"username" json:"username"`
	Password    string        `yaml:"password" json:"password"`
	TokenSecret string        `yaml:"token_secret" json:"token_secret"`
	TokenTTL    time.Duration `yaml:"token_ttl" json:"token_ttl"`
}

func (a AdminConfig) hasCredentials() bool {
	return a.Username != "" || a.Password != "" || a.TokenSecret != ""
}

type RateLimitConfig struct {
	RequestsPerInterval int           `yaml:"requests_per_interval" json:"requests_per_interval"`
	Interval            time.Duration `yaml:"interval" json:"interval"`
	CleanupInterval     time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
	StaleAfter          time.Duration `yaml:"stale_after" json:"stale_after"`
	TrustedProxies      []string      `yaml:"trusted_proxies" json:"trusted_proxies"`
}

type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`
}

type GRPCConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`
}

type LogConfig struct {
	Level string `yaml:"level" json:"level"`
}

// Load reads the configuration from a YAML file and applies environment
// variable overrides. Variables from a .env file in the working directory
// are loaded first; variables already set in the environment win.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env file: %w", err)
	}

	cfg := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist) && path == DefaultPath:
		slog.Warn("config file not found, using defaults", "path", path)
	default:
		return nil, fmt.Errorf("read config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("APP_LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("APP_TLS_CERT"); v != "" {
		cfg.TLS.Cert = v
	}
	if v := os.Getenv("APP_TLS_KEY"); v != "" {
		cfg.TLS.Key = v
	}
	if v := os.Getenv("APP_ADMIN_USER"); v != "" {
		cfg.Admin.Username = v
	}
	if v := os.Getenv("APP_ADMIN_PASSWORD"); v != "" {
		cfg.Admin.Password = v
	}
	if v := os.Getenv("APP_ADMIN_TOKEN_SECRET"); v != "" {
		cfg.Admin.TokenSecret = v
	}
	if v := os.Getenv("APP_METRICS_ADDR"); v != "" {
		cfg.Metrics.ListenAddr = v
	}
	if v := os.Getenv("APP_GRPC_ADDR"); v != "" {
		cfg.GRPC.ListenAddr = v
	}
	if v := os.Getenv("APP_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// Validate checks for settings that cannot work together.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr must be set"))
	}
	if (c.TLS.Cert == "") != (c.TLS.Key == "") {
		errs = append(errs, errors.New("tls.cert and tls.key must be set together"))
	}
	if c.RateLimit.RequestsPerInterval <= 0 {
		errs = append(errs, errors.New("rate_limit.requests_per_interval must be positive"))
	}
	if c.RateLimit.Interval <= 0 {
		errs = append(errs, errors.New("rate_limit.interval must be positive"))
	}
	if c.RateLimit.CleanupInterval <= 0 || c.RateLimit.StaleAfter <= 0 {
		errs = append(errs, errors.New("rate_limit.cleanup_interval and rate_limit.stale_after must be positive"))
	}
	// The prefix is mounted even when admin is disabled; it then refuses every request.
	if p := c.Admin.Prefix; len(p) < 3 || !strings.HasPrefix(p, "/") || !strings.HasSuffix(p, "/") || strings.Contains(p, "{") {
		errs = append(errs, fmt.Errorf("admin.prefix %q must be a non-root path starting and ending with /", p))
	}
	if c.Admin.Enabled {
		if c.Admin.TokenTTL <= 0 {
			errs = append(errs, errors.New("admin.token_ttl must be positive"))
		}
		if c.Admin.hasCredentials() && len(c.Admin.TokenSecret) < 32 {
			errs = append(errs, errors.New("admin.token_secret must be at least 32 bytes"))
		}
	}
	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		errs = append(errs, errors.New("metrics.listen_addr must be set when metrics are enabled"))
	}
	if c.GRPC.Enabled && c.GRPC.ListenAddr == "" {
		errs = append(errs, errors.New("grpc.listen_addr must be set when grpc is enabled"))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// SlogLevel maps the configured level name to a slog.Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level %q: %w", l.Level, err)
	}
	return level, nil
}

// Redacted returns a copy with secrets masked, suitable for display.
func (c *Config) Redacted() Config {
	out := *c
	out.RateLimit.TrustedProxies = append([]string(nil), c.RateLimit.TrustedProxies...)
	if out.Admin.Password != "" {
		out.Admin.Password = "********"
	}
	if out.Admin.TokenSecret != "" {
		out.Admin.TokenSecret = "********"
	}
	return out
}

// Defaults returns a Config with default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      ":8000",
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Admin: AdminConfig{
			Enabled:  true,
			Prefix:   "/admin/",
			TokenTTL: 2 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			RequestsPerInterval: 5,
			Interval:            time.Minute,
			CleanupInterval:     time.Minute,
			StaleAfter:          5 * time.Minute,
		},
		Metrics: MetricsConfig{
			Enabled:    false,
			ListenAddr: ":9091",
		},
		GRPC: GRPCConfig{
			Enabled:    false,
			ListenAddr: ":9090",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
