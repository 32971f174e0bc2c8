package config

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// cliWithPath returns a CLI struct pointing at the given config file.
func cliWithPath(path string) *CLI {
	return &CLI{Config: path}
}

// writeConfig writes data to a config.toml in a fresh temp dir and returns its path.
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

[carapi]
api_key = "test-key-12345"

[upstream]
base_url = "https://carapi.app/api"
timeout_seconds = 60
idle_connections = 50

[log]
level = "debug"
format = "text"

[compression]
min_size = 2048
brotli_quality = 5
gzip_level = 4

[stats]
slow_threshold_ms = 250
summary_every = 10
error_summary_every = 5
memory_sample_rate = 0.5
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
	if cfg.CarAPI.APIKey != "test-key-12345" {
		t.Errorf("CarAPI.APIKey = %q, want %q", cfg.CarAPI.APIKey, "test-key-12345")
	}
	if cfg.Upstream.TimeoutSeconds != 60 {
		t.Errorf("Upstream.TimeoutSeconds = %d, want %d", cfg.Upstream.TimeoutSeconds, 60)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}
	if cfg.Compression.MinSize != 2048 {
		t.Errorf("Compression.MinSize = %d, want %d", cfg.Compression.MinSize, 2048)
	}
	if cfg.Compression.BrotliQuality != 5 {
		t.Errorf("Compression.BrotliQuality = %d, want %d", cfg.Compression.BrotliQuality, 5)
	}
	if cfg.Stats.SlowThreshold() != 250*time.Millisecond {
		t.Errorf("Stats.SlowThreshold() = %v, want %v", cfg.Stats.SlowThreshold(), 250*time.Millisecond)
	}
	if cfg.Stats.SummaryEvery != 10 {
		t.Errorf("Stats.SummaryEvery = %d, want %d", cfg.Stats.SummaryEvery, 10)
	}
	if cfg.Stats.SampleRate() != 0.5 {
		t.Errorf("Stats.SampleRate() = %v, want %v", cfg.Stats.SampleRate(), 0.5)
	}
}

func TestLoad_MissingAPIKey(t *testing.T) {
	path := writeConfig(t, `
[carapi]
api_key = ""
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for empty api_key, got nil")
	}
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("Load() error = %v, want ErrMissingAPIKey", err)
	}
}

func TestLoad_WhitespaceAPIKey(t *testing.T) {
	path := writeConfig(t, `
[carapi]
api_key = "   "
`)

	_, err := Load(cliWithPath(path))
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("Load() error = %v, want ErrMissingAPIKey", err)
	}
}

func TestLoad_PlaceholderAPIKey(t *testing.T) {
	path := writeConfig(t, `
[carapi]
api_key = "YOUR_API_KEY_HERE"
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for placeholder api_key, got nil")
	}
}

func TestLoad_NoFileUsesCLI(t *testing.T) {
	// Run from an empty directory so the relative search path does not match.
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	if findConfig() != "" {
		t.Skip("a system-wide config file is present")
	}

	cfg, err := Load(&CLI{APIKey: "env-key"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CarAPI.APIKey != "env-key" {
		t.Errorf("CarAPI.APIKey = %q, want %q", cfg.CarAPI.APIKey, "env-key")
	}
	if cfg.Upstream.BaseURL != DefaultBaseURL {
		t.Errorf("Upstream.BaseURL = %q, want %q", cfg.Upstream.BaseURL, DefaultBaseURL)
	}
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	path := writeConfig(t, `
[carapi]
api_key = "test-key-12345"

[log]
level = "verbose"
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for invalid log level, got nil")
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
[carapi]
api_key = "test-key-12345"
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("default Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("default Server.Port = %d, want %d", cfg.Server.Port, 8000)
	}
	if cfg.Server.BodyMaxBytes != 10*1024*1024 {
		t.Errorf("default Server.BodyMaxBytes = %d, want %d", cfg.Server.BodyMaxBytes, 10*1024*1024)
	}
	if cfg.Upstream.BaseURL != "https://carapi.app/api" {
		t.Errorf("default Upstream.BaseURL = %q, want %q", cfg.Upstream.BaseURL, "https://carapi.app/api")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("default Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("default Log.Format = %q, want %q", cfg.Log.Format, "json")
	}
	if cfg.Compression.Disabled {
		t.Error("default Compression.Disabled = true, want false")
	}
	if cfg.Compression.MinSize != 1024 {
		t.Errorf("default Compression.MinSize = %d, want %d", cfg.Compression.MinSize, 1024)
	}
	if cfg.Compression.BrotliQuality != 4 {
		t.Errorf("default Compression.BrotliQuality = %d, want %d", cfg.Compression.BrotliQuality, 4)
	}
	if cfg.Compression.GzipLevel != 6 {
		t.Errorf("default Compression.GzipLevel = %d, want %d", cfg.Compression.GzipLevel, 6)
	}
	if cfg.Stats.SlowThreshold() != time.Second {
		t.Errorf("default Stats.SlowThreshold() = %v, want %v", cfg.Stats.SlowThreshold(), time.Second)
	}
	if cfg.Stats.SummaryEvery != 1000 {
		t.Errorf("default Stats.SummaryEvery = %d, want %d", cfg.Stats.SummaryEvery, 1000)
	}
	if cfg.Stats.ErrorSummaryEvery != 50 {
		t.Errorf("default Stats.ErrorSummaryEvery = %d, want %d", cfg.Stats.ErrorSummaryEvery, 50)
	}
	if cfg.Stats.SampleRate() != 0.0001 {
		t.Errorf("default Stats.SampleRate() = %v, want %v", cfg.Stats.SampleRate(), 0.0001)
	}
}

func TestLoad_ZeroSampleRateDisablesSampling(t *testing.T) {
	path := writeConfig(t, "[carapi]\napi_key = \"k\"\n\n[stats]\nmemory_sample_rate = 0\n")

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Stats.MemorySampleRate == nil {
		t.Fatal("Stats.MemorySampleRate = nil, want explicit 0")
	}
	if got := cfg.Stats.SampleRate(); got != 0 {
		t.Errorf("Stats.SampleRate() = %v, want 0", got)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(cliWithPath("/nonexistent/config.toml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file, got nil")
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "0.0.0.0"
port = 8000

[carapi]
api_key = "toml-key"

[log]
level = "info"
`)

	cli := &CLI{
		Config:   path,
		Host:     "127.0.0.1",
		Port:     3000,
		APIKey:   "cli-key",
		LogLevel: "debug",
	}

	cfg, err := Load(cli)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q (CLI override)", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want %d (CLI override)", cfg.Server.Port, 3000)
	}
	if cfg.CarAPI.APIKey != "cli-key" {
		t.Errorf("CarAPI.APIKey = %q, want %q (CLI override)", cfg.CarAPI.APIKey, "cli-key")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (CLI override)", cfg.Log.Level, "debug")
	}
}

func TestLoad_CLIKeyFillsMissingKey(t *testing.T) {
	path := writeConfig(t, `
[server]
port = 8080
`)

	cfg, err := Load(&CLI{Config: path, APIKey: "from-env"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CarAPI.APIKey != "from-env" {
		t.Errorf("CarAPI.APIKey = %q, want %q", cfg.CarAPI.APIKey, "from-env")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{"http upstream", "[upstream]\nbase_url = \"http://carapi.app/api\"\n", "HTTPS"},
		{"negative port", "[server]\nport = -1\n", "server.port"},
		{"negative body max", "[server]\nbody_max_bytes = -1\n", "body_max_bytes"},
		{"negative timeout", "[upstream]\ntimeout_seconds = -5\n", "timeout_seconds"},
		{"negative min size", "[compression]\nmin_size = -1\n", "min_size"},
		{"brotli quality", "[compression]\nbrotli_quality = 12\n", "brotli_quality"},
		{"gzip level", "[compression]\ngzip_level = 10\n", "gzip_level"},
		{"negative slow threshold", "[stats]\nslow_threshold_ms = -1\n", "slow_threshold_ms"},
		{"sample rate", "[stats]\nmemory_sample_rate = 1.5\n", "memory_sample_rate"},
		{"log format", "[log]\nformat = \"xml\"\n", "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "[carapi]\napi_key = \"k\"\n"+tt.data)
			_, err := Load(cliWithPath(path))
			if err == nil {
				t.Fatal("Load() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_RateLimitConfig_Enabled(t *testing.T) {
	path := writeConfig(t, `
[carapi]
api_key = "k"

[server.rate_limit]
enabled = true
requests_per_second = 50.0
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Server.RateLimit.Enabled {
		t.Error("expected RateLimit.Enabled = true")
	}
	if cfg.Server.RateLimit.RequestsPerSecond != 50.0 {
		t.Errorf("RateLimit.RequestsPerSecond = %v, want 50.0", cfg.Server.RateLimit.RequestsPerSecond)
	}
}

func TestLoad_RateLimitConfig_BadValue(t *testing.T) {
	path := writeConfig(t, `
[carapi]
api_key = "k"

[server.rate_limit]
enabled = true
requests_per_second = 0
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for rate limit enabled with requests_per_second=0, got nil")
	}
	if !strings.Contains(err.Error(), "requests_per_second") {
		t.Errorf("error = %q, want mention of requests_per_second", err)
	}
}

func TestWarnPermissions_Loose(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	path := writeConfig(t, "# test")

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
	path := filepath.Join(t.TempDir(), "config.toml")
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

func TestFindConfigInPaths(t *testing.T) {
	path1 := writeConfig(t, "")
	path2 := writeConfig(t, "")

	if got := findConfigInPaths([]string{path1, path2}); got != path1 {
		t.Errorf("findConfigInPaths() = %q, want first match %q", got, path1)
	}
	if got := findConfigInPaths([]string{"/nonexistent/a.toml", path2}); got != path2 {
		t.Errorf("findConfigInPaths() = %q, want %q", got, path2)
	}
	if got := findConfigInPaths([]string{"/nonexistent/a.toml"}); got != "" {
		t.Errorf("findConfigInPaths() = %q, want empty", got)
	}
}

func TestLoad_MetricsPathDefault(t *testing.T) {
	path := writeConfig(t, `
[carapi]
api_key = "k"

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
		{"no leading slash", "metrics"},
		{"api exact", "/api"},
		{"api sub", "/api/cars/metrics"},
		{"health", "/health"},
		{"stats", "/stats"},
		{"status", "/status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, `
[carapi]
api_key = "k"

[metrics]
enabled = true
path = "`+tt.path+`"
`)
			_, err := Load(cliWithPath(path))
			if err == nil {
				t.Fatalf("Load() expected error for metrics.path %q, got nil", tt.path)
			}
			if !strings.Contains(err.Error(), "metrics.path") {
				t.Errorf("error = %q, want mention of metrics.path", err)
			}
		})
	}
}
