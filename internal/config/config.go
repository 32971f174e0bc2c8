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
)

// ErrMissingAPIKey is returned by Load when no car API key is configured.
// The process must not start without one.
var ErrMissingAPIKey = errors.New("carapi.api_key is required (set it in the config file, --api-key or CARAPI_API_KEY)")

// DefaultBaseURL is the upstream car-data API.
const DefaultBaseURL = "https://carapi.app/api"

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/carlisting-api/config.toml",
	"configs/config.toml",
}

// reservedRoutes are the fixed application routes the metrics path may not shadow.
var reservedRoutes = []string{"/api", "/health", "/stats", "/status"}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config   string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host     string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port     int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	APIKey   string `kong:"help='Car API key (overrides config).',env='CARAPI_API_KEY'"`
	LogLevel string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server      ServerConfig      `toml:"server"`
	CarAPI      CarAPIConfig      `toml:"carapi"`
	Upstream    UpstreamConfig    `toml:"upstream"`
	Log         LogConfig         `toml:"log"`
	Metrics     MetricsConfig     `toml:"metrics"`
	Compression CompressionConfig `toml:"compression"`
	Stats       StatsConfig       `toml:"stats"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8000); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// CarAPIConfig holds the car API credentials.
type CarAPIConfig struct {
	APIKey string `toml:"api_key"`
}

// UpstreamConfig holds upstream connection settings.
type UpstreamConfig struct {
	BaseURL         string `toml:"base_url"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	IdleConnections int    `toml:"idle_connections"`
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

// CompressionConfig controls response compression.
// Disabled is inverted so that an omitted section keeps compression on.
type CompressionConfig struct {
	Disabled      bool `toml:"disabled"`
	MinSize       int  `toml:"min_size"`
	BrotliQuality int  `toml:"brotli_quality"`
	GzipLevel     int  `toml:"gzip_level"`
}

// StatsConfig holds the request/error aggregation policy.
// MemorySampleRate is nil when unset; an explicit 0 disables sampling.
type StatsConfig struct {
	SlowThresholdMS   int      `toml:"slow_threshold_ms"`
	SummaryEvery      int64    `toml:"summary_every"`
	ErrorSummaryEvery int64    `toml:"error_summary_every"`
	MemorySampleRate  *float64 `toml:"memory_sample_rate"`
}

// SampleRate returns the memory sampling probability, 0 when unset.
func (s StatsConfig) SampleRate() float64 {
	if s.MemorySampleRate == nil {
		return 0
	}
	return *s.MemorySampleRate
}

// SlowThreshold returns the slow-request threshold as a duration.
func (s StatsConfig) SlowThreshold() time.Duration {
	return time.Duration(s.SlowThresholdMS) * time.Millisecond
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/carlisting-api/config.toml then configs/config.toml. If nothing is
// found, defaults plus CLI/env values are used.
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
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

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
	if cli.APIKey != "" {
		c.CarAPI.APIKey = cli.APIKey
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	key := strings.TrimSpace(c.CarAPI.APIKey)
	if key == "" {
		return ErrMissingAPIKey
	}
	if key == "YOUR_API_KEY_HERE" {
		return fmt.Errorf("carapi.api_key contains placeholder value; set a real key")
	}

	u, err := url.Parse(c.Upstream.BaseURL)
	if err != nil {
		return fmt.Errorf("upstream.base_url is not a valid URL: %w", err)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("upstream.base_url must use HTTPS; got %q", c.Upstream.BaseURL)
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	if c.Compression.MinSize < 0 {
		return fmt.Errorf("compression.min_size must be non-negative; got %d", c.Compression.MinSize)
	}
	if q := c.Compression.BrotliQuality; q < 0 || q > 11 {
		return fmt.Errorf("compression.brotli_quality must be 0–11; got %d", q)
	}
	if l := c.Compression.GzipLevel; l < 0 || l > 9 {
		return fmt.Errorf("compression.gzip_level must be 0–9; got %d", l)
	}

	if c.Stats.SlowThresholdMS < 0 {
		return fmt.Errorf("stats.slow_threshold_ms must be non-negative; got %d", c.Stats.SlowThresholdMS)
	}
	if c.Stats.SummaryEvery < 0 || c.Stats.ErrorSummaryEvery < 0 {
		return fmt.Errorf("stats.summary_every and stats.error_summary_every must be non-negative")
	}
	if r := c.Stats.SampleRate(); r < 0 || r > 1 {
		return fmt.Errorf("stats.memory_sample_rate must be within [0, 1]; got %v", r)
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	if c.Metrics.Enabled {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range reservedRoutes {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
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
		c.Server.Port = 8000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = DefaultBaseURL
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 30
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
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
	if c.Compression.MinSize == 0 {
		c.Compression.MinSize = 1024
	}
	if c.Compression.BrotliQuality == 0 {
		c.Compression.BrotliQuality = 4
	}
	if c.Compression.GzipLevel == 0 {
		c.Compression.GzipLevel = 6
	}
	if c.Stats.SlowThresholdMS == 0 {
		c.Stats.SlowThresholdMS = 1000
	}
	if c.Stats.SummaryEvery == 0 {
		c.Stats.SummaryEvery = 1000
	}
	if c.Stats.ErrorSummaryEvery == 0 {
		c.Stats.ErrorSummaryEvery = 50
	}
	if c.Stats.MemorySampleRate == nil {
		rate := 0.0001
		c.Stats.MemorySampleRate = &rate
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
// The file may hold the car API key.
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
