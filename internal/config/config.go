// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/posters-gateway/config.toml",
	"configs/config.toml",
}

// Gateway modes. Exactly one forwarding mechanism is installed per process.
const (
	ModeDispatch = "dispatch"
	ModeRewrite  = "rewrite"
)

// Header profiles.
const (
	ProfileAllowList     = "allowlist"
	ProfileAuthorization = "authorization"
)

// Relay modes for successful upstream bodies.
const (
	RelayJSON = "json"
	RelayRaw  = "raw"
)

// MountPrefix is the inbound path prefix served by the gateway and the
// upstream path prefix requests are forwarded to.
const MountPrefix = "/api"

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config     string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host       string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port       int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	BackendURL string `kong:"name='backend-url',help='Upstream API base URL (overrides config).',env='BACKEND_URL'"`
	Mode       string `kong:"help='Forwarding mode: dispatch|rewrite (overrides config).',env='GATEWAY_MODE'"`
	LogLevel   string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Backend BackendConfig `toml:"backend"`
	Gateway GatewayConfig `toml:"gateway"`
	Log     LogConfig     `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"` // 0 means "use default" (3000)
	BodyMaxBytes int64  `toml:"body_max_bytes"`
}

// BackendConfig holds upstream connection settings.
type BackendConfig struct {
	BaseURL         string `toml:"base_url"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	IdleConnections int    `toml:"idle_connections"`
}

// GatewayConfig selects how requests under MountPrefix are forwarded.
type GatewayConfig struct {
	Mode             string   `toml:"mode"`
	Profile          string   `toml:"profile"`
	Relay            string   `toml:"relay"`
	ReservedPrefixes []string `toml:"reserved_prefixes"`
}

// LogConfig holds logging settings. File output is optional and rotated.
type LogConfig struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file (if any) and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/posters-gateway/config.toml then configs/config.toml. Running without
// a config file is allowed: every setting has a default.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

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
	if strings.TrimSpace(cli.BackendURL) != "" {
		c.Backend.BaseURL = cli.BackendURL
	}
	if cli.Mode != "" {
		c.Gateway.Mode = cli.Mode
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	// An empty base URL falls back to the default origin; a non-empty one must be usable.
	if raw := strings.TrimSpace(c.Backend.BaseURL); raw != "" {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("backend.base_url is not a valid URL: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("backend.base_url must use http or https; got %q", c.Backend.BaseURL)
		}
		if u.Host == "" {
			return fmt.Errorf("backend.base_url must include a host; got %q", c.Backend.BaseURL)
		}
		if u.RawQuery != "" || u.Fragment != "" {
			return fmt.Errorf("backend.base_url must not carry a query or fragment; got %q", c.Backend.BaseURL)
		}
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Backend.TimeoutSeconds < 0 {
		return fmt.Errorf("backend.timeout_seconds must be non-negative; got %d", c.Backend.TimeoutSeconds)
	}
	if c.Backend.IdleConnections < 0 {
		return fmt.Errorf("backend.idle_connections must be non-negative; got %d", c.Backend.IdleConnections)
	}
	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 || c.Log.MaxAgeDays < 0 {
		return fmt.Errorf("log rotation settings must be non-negative")
	}

	// Gateway enums.
	switch strings.ToLower(c.Gateway.Mode) {
	case ModeDispatch, ModeRewrite, "":
	default:
		return fmt.Errorf("gateway.mode must be one of: dispatch, rewrite; got %q", c.Gateway.Mode)
	}
	switch strings.ToLower(c.Gateway.Profile) {
	case ProfileAllowList, ProfileAuthorization, "":
	default:
		return fmt.Errorf("gateway.profile must be one of: allowlist, authorization; got %q", c.Gateway.Profile)
	}
	switch strings.ToLower(c.Gateway.Relay) {
	case RelayJSON, RelayRaw, "":
	default:
		return fmt.Errorf("gateway.relay must be one of: json, raw; got %q", c.Gateway.Relay)
	}
	for _, p := range c.Gateway.ReservedPrefixes {
		if !strings.HasPrefix(p, MountPrefix+"/") {
			return fmt.Errorf("gateway.reserved_prefixes entries must start with %q; got %q", MountPrefix+"/", p)
		}
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range []string{MountPrefix, "/healthz", "/gateway/status"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with defaults and normalizes enums.
// For integer fields zero means "unset" because TOML cannot distinguish
// between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	c.Backend.BaseURL = ResolveBackendURL(c.Backend.BaseURL)

	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Backend.TimeoutSeconds == 0 {
		c.Backend.TimeoutSeconds = 5
	}
	if c.Backend.IdleConnections == 0 {
		c.Backend.IdleConnections = 100
	}

	c.Gateway.Mode = strings.ToLower(c.Gateway.Mode)
	if c.Gateway.Mode == "" {
		c.Gateway.Mode = ModeDispatch
	}
	c.Gateway.Profile = strings.ToLower(c.Gateway.Profile)
	if c.Gateway.Profile == "" {
		c.Gateway.Profile = ProfileAllowList
	}
	c.Gateway.Relay = strings.ToLower(c.Gateway.Relay)
	if c.Gateway.Relay == "" {
		c.Gateway.Relay = RelayJSON
	}
	if c.Gateway.ReservedPrefixes == nil {
		c.Gateway.ReservedPrefixes = []string{"/api/_next", "/api/next"}
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Log.File != "" {
		if c.Log.MaxSizeMB == 0 {
			c.Log.MaxSizeMB = 100
		}
		if c.Log.MaxBackups == 0 {
			c.Log.MaxBackups = 3
		}
		if c.Log.MaxAgeDays == 0 {
			c.Log.MaxAgeDays = 28
		}
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

// FilePath returns the config file the configuration was loaded from, if any.
func (c *Config) FilePath() string {
	return c.filePath
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
