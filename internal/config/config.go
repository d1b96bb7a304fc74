// Package config handles TOML configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"intercept-proxy-go/internal/filter"
	"intercept-proxy-go/internal/model"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/intercept-proxy/config.toml",
	"configs/config.toml",
}

// Policy transport modes.
const (
	ModeAsync    = "async"
	ModeBlocking = "blocking"
)

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config     string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host       string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port       int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	Entrypoint string `kong:"help='Policy service base URL (overrides config).',env='API_ENTRYPOINT_URL'"`
	Pattern    string `kong:"help='Regex selecting URLs sent to the policy service (overrides config).',env='REQUEST_URL_REGEX_PATTERN'"`
	Mode       string `kong:"help='Policy transport mode: async|blocking (overrides config).',env='POLICY_MODE'"`
	LogLevel   string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Policy   PolicyConfig   `toml:"policy"`
	Upstream UpstreamConfig `toml:"upstream"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8080); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// PolicyConfig describes the remote decision service.
type PolicyConfig struct {
	EntrypointURL   string `toml:"entrypoint_url"`
	URLPattern      string `toml:"url_pattern"`
	Mode            string `toml:"mode"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	IdleConnections int    `toml:"idle_connections"`
	MaxReplyBytes   int64  `toml:"max_reply_bytes"`
}

// Timeout bounds one consultation of the policy service.
func (p *PolicyConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// Blocking reports whether consultations run on the dedicated worker.
func (p *PolicyConfig) Blocking() bool {
	return p.Mode == ModeBlocking
}

// UpstreamConfig holds origin connection settings.
type UpstreamConfig struct {
	TimeoutSeconds  int   `toml:"timeout_seconds"`
	IdleConnections int   `toml:"idle_connections"`
	BodyMaxBytes    int64 `toml:"body_max_bytes"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/intercept-proxy/config.toml then configs/config.toml.
// Validation failures are *model.ConfigurationError.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file found (searched %v)", configSearchPaths)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.filePath = path
	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.Entrypoint != "" {
		c.Policy.EntrypointURL = cli.Entrypoint
	}
	if cli.Pattern != "" {
		c.Policy.URLPattern = cli.Pattern
	}
	if cli.Mode != "" {
		c.Policy.Mode = cli.Mode
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func invalid(option, format string, args ...any) error {
	return &model.ConfigurationError{Option: option, Err: fmt.Errorf(format, args...)}
}

func (c *Config) validate() error {
	// Policy entrypoint: required, absolute http(s).
	if c.Policy.EntrypointURL == "" {
		return &model.ConfigurationError{Option: "policy.entrypoint_url", Err: errors.New("is required")}
	}
	u, err := url.Parse(c.Policy.EntrypointURL)
	if err != nil {
		return &model.ConfigurationError{Option: "policy.entrypoint_url", Err: err}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return invalid("policy.entrypoint_url", "must use http or https; got %q", c.Policy.EntrypointURL)
	}
	if u.Host == "" {
		return invalid("policy.entrypoint_url", "has no host; got %q", c.Policy.EntrypointURL)
	}
	if u.Fragment != "" {
		return invalid("policy.entrypoint_url", "must not carry a fragment; got %q", model.RedactURL(c.Policy.EntrypointURL))
	}

	if _, err := filter.New(c.Policy.URLPattern); err != nil {
		return err
	}

	switch strings.ToLower(c.Policy.Mode) {
	case ModeAsync, ModeBlocking, "":
		c.Policy.Mode = strings.ToLower(c.Policy.Mode)
	default:
		return invalid("policy.mode", "must be one of: async, blocking; got %q", c.Policy.Mode)
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return invalid("server.port", "must be 0-65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return invalid("server.body_max_bytes", "must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Policy.TimeoutSeconds < 0 {
		return invalid("policy.timeout_seconds", "must be non-negative; got %d", c.Policy.TimeoutSeconds)
	}
	if c.Policy.IdleConnections < 0 {
		return invalid("policy.idle_connections", "must be non-negative; got %d", c.Policy.IdleConnections)
	}
	if c.Policy.MaxReplyBytes < 0 {
		return invalid("policy.max_reply_bytes", "must be non-negative; got %d", c.Policy.MaxReplyBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return invalid("upstream.timeout_seconds", "must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return invalid("upstream.idle_connections", "must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Upstream.BodyMaxBytes < 0 {
		return invalid("upstream.body_max_bytes", "must be non-negative; got %d", c.Upstream.BodyMaxBytes)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return invalid("server.rate_limit.requests_per_second", "must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
	default:
		return invalid("log.level", "must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
	default:
		return invalid("log.format", "must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return invalid("metrics.path", "must start with '/'; got %q", p)
		}
		for _, reserved := range []string{"/healthz", "/proxy/status"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return invalid("metrics.path", "%q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Policy.Mode == "" {
		c.Policy.Mode = ModeAsync
	}
	if c.Policy.TimeoutSeconds == 0 {
		c.Policy.TimeoutSeconds = 10
	}
	if c.Policy.IdleConnections == 0 {
		c.Policy.IdleConnections = 100
	}
	if c.Policy.MaxReplyBytes == 0 {
		c.Policy.MaxReplyBytes = 10 * 1024 * 1024
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 120
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Upstream.BodyMaxBytes == 0 {
		c.Upstream.BodyMaxBytes = 10 * 1024 * 1024
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
