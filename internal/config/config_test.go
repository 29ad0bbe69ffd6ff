package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// cliWithPath returns a CLI struct pointing at the given config file.
func cliWithPath(path string) *CLI {
	return &CLI{Config: path}
}

// writeConfig writes data to a config.toml in a temp dir and returns its path.
func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "127.0.0.1"
port = 9000
body_max_bytes = 5242880

[backend]
base_url = "https://api.example.com"
timeout_seconds = 3
idle_connections = 50

[gateway]
mode = "rewrite"
profile = "authorization"
relay = "raw"
reserved_prefixes = ["/api/internal"]

[log]
level = "debug"
format = "text"
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9000)
	}
	if cfg.Backend.BaseURL != "https://api.example.com" {
		t.Errorf("Backend.BaseURL = %q, want %q", cfg.Backend.BaseURL, "https://api.example.com")
	}
	if cfg.Backend.TimeoutSeconds != 3 {
		t.Errorf("Backend.TimeoutSeconds = %d, want %d", cfg.Backend.TimeoutSeconds, 3)
	}
	if cfg.Gateway.Mode != ModeRewrite {
		t.Errorf("Gateway.Mode = %q, want %q", cfg.Gateway.Mode, ModeRewrite)
	}
	if cfg.Gateway.Profile != ProfileAuthorization {
		t.Errorf("Gateway.Profile = %q, want %q", cfg.Gateway.Profile, ProfileAuthorization)
	}
	if cfg.Gateway.Relay != RelayRaw {
		t.Errorf("Gateway.Relay = %q, want %q", cfg.Gateway.Relay, RelayRaw)
	}
	if len(cfg.Gateway.ReservedPrefixes) != 1 || cfg.Gateway.ReservedPrefixes[0] != "/api/internal" {
		t.Errorf("Gateway.ReservedPrefixes = %v, want [/api/internal]", cfg.Gateway.ReservedPrefixes)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}
	if cfg.FilePath() != path {
		t.Errorf("FilePath() = %q, want %q", cfg.FilePath(), path)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	// Run from an empty directory so configs/config.toml is not picked up.
	t.Chdir(t.TempDir())

	cfg, err := Load(&CLI{})
	if err != nil {
		t.Skipf("a system-wide config exists on this machine: %v", err)
	}
	if cfg.FilePath() != "" {
		t.Skipf("a system-wide config exists on this machine: %s", cfg.FilePath())
	}
	if cfg.Backend.BaseURL != DefaultBackendURL {
		t.Errorf("Backend.BaseURL = %q, want default %q", cfg.Backend.BaseURL, DefaultBackendURL)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "# empty\n")

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("default Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("default Server.Port = %d, want %d", cfg.Server.Port, 3000)
	}
	if cfg.Server.BodyMaxBytes != 10*1024*1024 {
		t.Errorf("default Server.BodyMaxBytes = %d, want %d", cfg.Server.BodyMaxBytes, 10*1024*1024)
	}
	if cfg.Backend.BaseURL != DefaultBackendURL {
		t.Errorf("default Backend.BaseURL = %q, want %q", cfg.Backend.BaseURL, DefaultBackendURL)
	}
	if cfg.Backend.TimeoutSeconds != 5 {
		t.Errorf("default Backend.TimeoutSeconds = %d, want %d", cfg.Backend.TimeoutSeconds, 5)
	}
	if cfg.Gateway.Mode != ModeDispatch {
		t.Errorf("default Gateway.Mode = %q, want %q", cfg.Gateway.Mode, ModeDispatch)
	}
	if cfg.Gateway.Profile != ProfileAllowList {
		t.Errorf("default Gateway.Profile = %q, want %q", cfg.Gateway.Profile, ProfileAllowList)
	}
	if cfg.Gateway.Relay != RelayJSON {
		t.Errorf("default Gateway.Relay = %q, want %q", cfg.Gateway.Relay, RelayJSON)
	}
	if got := strings.Join(cfg.Gateway.ReservedPrefixes, ","); got != "/api/_next,/api/next" {
		t.Errorf("default Gateway.ReservedPrefixes = %q, want %q", got, "/api/_next,/api/next")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("default Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("default Log.Format = %q, want %q", cfg.Log.Format, "json")
	}
	if cfg.Log.MaxSizeMB != 0 {
		t.Errorf("Log.MaxSizeMB = %d, want 0 when no log file is set", cfg.Log.MaxSizeMB)
	}
}

func TestLoad_LogFileRotationDefaults(t *testing.T) {
	path := writeConfig(t, `
[log]
file = "/var/log/posters-gateway.log"
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Log.MaxSizeMB != 100 || cfg.Log.MaxBackups != 3 || cfg.Log.MaxAgeDays != 28 {
		t.Errorf("rotation = %d/%d/%d, want 100/3/28", cfg.Log.MaxSizeMB, cfg.Log.MaxBackups, cfg.Log.MaxAgeDays)
	}
}

func TestLoad_EmptyBaseURLFallsBack(t *testing.T) {
	path := writeConfig(t, `
[backend]
base_url = ""
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Backend.BaseURL != DefaultBackendURL {
		t.Errorf("Backend.BaseURL = %q, want %q", cfg.Backend.BaseURL, DefaultBackendURL)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{"ftp backend", "[backend]\nbase_url = \"ftp://api.example.com\"\n", "backend.base_url"},
		{"backend without host", "[backend]\nbase_url = \"https://\"\n", "backend.base_url"},
		{"backend with query", "[backend]\nbase_url = \"https://api.example.com/?a=1\"\n", "backend.base_url"},
		{"negative port", "[server]\nport = -1\n", "server.port"},
		{"negative body limit", "[server]\nbody_max_bytes = -1\n", "server.body_max_bytes"},
		{"negative timeout", "[backend]\ntimeout_seconds = -5\n", "backend.timeout_seconds"},
		{"negative idle connections", "[backend]\nidle_connections = -1\n", "backend.idle_connections"},
		{"unknown mode", "[gateway]\nmode = \"both\"\n", "gateway.mode"},
		{"unknown profile", "[gateway]\nprofile = \"everything\"\n", "gateway.profile"},
		{"unknown relay", "[gateway]\nrelay = \"xml\"\n", "gateway.relay"},
		{"reserved prefix outside mount", "[gateway]\nreserved_prefixes = [\"/_next\"]\n", "gateway.reserved_prefixes"},
		{"invalid log level", "[log]\nlevel = \"verbose\"\n", "log.level"},
		{"invalid log format", "[log]\nformat = \"xml\"\n", "log.format"},
		{"negative rotation", "[log]\nmax_backups = -1\n", "rotation"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(cliWithPath(writeConfig(t, tt.data)))
			if err == nil {
				t.Fatal("Load() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(cliWithPath("/nonexistent/config.toml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file, got nil")
	}
}

func TestLoad_MalformedTOML(t *testing.T) {
	_, err := Load(cliWithPath(writeConfig(t, "[server\nport = ")))
	if err == nil {
		t.Fatal("Load() expected error for malformed TOML, got nil")
	}
	if !strings.Contains(err.Error(), "parse") {
		t.Errorf("error = %q, want parse error", err)
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "0.0.0.0"
port = 8000

[backend]
base_url = "https://toml.example.com"

[gateway]
mode = "dispatch"

[log]
level = "info"
`)

	cli := &CLI{
		Config:     path,
		Host:       "127.0.0.1",
		Port:       3001,
		BackendURL: "http://localhost:8080",
		Mode:       "REWRITE",
		LogLevel:   "debug",
	}

	cfg, err := Load(cli)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q (CLI override)", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 3001 {
		t.Errorf("Server.Port = %d, want %d (CLI override)", cfg.Server.Port, 3001)
	}
	if cfg.Backend.BaseURL != "http://localhost:8080" {
		t.Errorf("Backend.BaseURL = %q, want %q (CLI override)", cfg.Backend.BaseURL, "http://localhost:8080")
	}
	if cfg.Gateway.Mode != ModeRewrite {
		t.Errorf("Gateway.Mode = %q, want %q (CLI override, lowercased)", cfg.Gateway.Mode, ModeRewrite)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (CLI override)", cfg.Log.Level, "debug")
	}
}

func TestLoad_BlankCLIBackendKeepsTOML(t *testing.T) {
	path := writeConfig(t, `
[backend]
base_url = "https://toml.example.com"
`)

	cfg, err := Load(&CLI{Config: path, BackendURL: "  "})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Backend.BaseURL != "https://toml.example.com" {
		t.Errorf("Backend.BaseURL = %q, want %q", cfg.Backend.BaseURL, "https://toml.example.com")
	}
}

func TestWarnPermissions_Loose(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("# test"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if !strings.Contains(buf.String(), "readable by group/others") {
		t.Errorf("expected permission warning, got: %q", buf.String())
	}
}

func TestWarnPermissions_Strict(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("# test"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if buf.Len() != 0 {
		t.Errorf("expected no warning for 0600 file, got: %q", buf.String())
	}
}

func TestWarnPermissions_NoFile(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	(&Config{}).WarnPermissions(logger)

	if buf.Len() != 0 {
		t.Errorf("expected no output without a config file, got: %q", buf.String())
	}
}

func TestFindConfigInPaths_Priority(t *testing.T) {
	dir1 := t.TempDir()
	dir2 := t.TempDir()
	path1 := filepath.Join(dir1, "config.toml")
	path2 := filepath.Join(dir2, "config.toml")
	for _, p := range []string{path1, path2} {
		if err := os.WriteFile(p, []byte("[backend]\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	if got := findConfigInPaths([]string{"/nonexistent/a.toml", path1, path2}); got != path1 {
		t.Errorf("findConfigInPaths() = %q, want first match %q", got, path1)
	}
	if got := findConfigInPaths([]string{"/nonexistent/a.toml"}); got != "" {
		t.Errorf("findConfigInPaths() = %q, want empty", got)
	}
}

func TestLoad_MetricsPathDefault(t *testing.T) {
	path := writeConfig(t, `
[metrics]
enabled = true
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}
}

func TestLoad_MetricsPathConflicts(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"api exact", "/api"},
		{"api sub", "/api/metrics"},
		{"healthz", "/healthz"},
		{"gateway/status", "/gateway/status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfgPath := writeConfig(t, `
[metrics]
enabled = true
path = "`+tt.path+`"
`)

			_, err := Load(cliWithPath(cfgPath))
			if err == nil {
				t.Fatalf("Load() expected error for metrics.path=%q conflicting with route, got nil", tt.path)
			}
			if !strings.Contains(err.Error(), "conflicts") {
				t.Errorf("error = %q, want mention of conflict", err)
			}
		})
	}
}

func TestLoad_MetricsPathNoLeadingSlash(t *testing.T) {
	path := writeConfig(t, `
[metrics]
enabled = true
path = "metrics"
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for metrics.path without leading slash, got nil")
	}
	if !strings.Contains(err.Error(), "metrics.path") {
		t.Errorf("error = %q, want mention of metrics.path", err)
	}
}

func TestLoad_MetricsDisabledSkipsPathValidation(t *testing.T) {
	path := writeConfig(t, `
[metrics]
enabled = false
path = "bad-no-slash"
`)

	if _, err := Load(cliWithPath(path)); err != nil {
		t.Fatalf("Load() error = %v; disabled metrics should skip path validation", err)
	}
}

func TestServerConfig_Addr(t *testing.T) {
	sc := &ServerConfig{Host: "127.0.0.1", Port: 3000}
	want := "127.0.0.1:3000"
	if got := sc.Addr(); got != want {
		t.Errorf("Addr() = %q, want %q", got, want)
	}
}
