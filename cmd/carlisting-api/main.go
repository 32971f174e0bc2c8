package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"
	"golang.org/x/time/rate"

	"carlisting-api/internal/client"
	"carlisting-api/internal/config"
	"carlisting-api/internal/handler"
	"carlisting-api/internal/metrics"
	"carlisting-api/internal/middleware"
	"carlisting-api/internal/response"
	"carlisting-api/internal/service"
	"carlisting-api/internal/stats"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("carlisting-api"),
		kong.Description("Backend API for the car rental listing application."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			newMetrics,
			newAccumulator,
			newEcho,
			client.NewCarAPIClient,
			func(c *client.CarAPIClient) service.Upstream { return c },
			service.NewCatalogService,
			handler.NewCarsHandler,
			handler.NewHealthHandler,
		),
		fx.Invoke(handler.RegisterRoutes, warnConfigPermissions, startServer),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

func newMetrics(cfg *config.Config) *metrics.Metrics {
	return metrics.New(cfg.Metrics.Path)
}

func newAccumulator(cfg *config.Config, logger *slog.Logger) *stats.Accumulator {
	return stats.New(stats.Options{
		SlowThreshold:     cfg.Stats.SlowThreshold(),
		SummaryEvery:      cfg.Stats.SummaryEvery,
		ErrorSummaryEvery: cfg.Stats.ErrorSummaryEvery,
		MemorySampleRate:  cfg.Stats.SampleRate(),
	}, logger)
}

// finalizeStages builds the response pipeline: timing outermost, then
// compression unless disabled.
func finalizeStages(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, acc *stats.Accumulator) []response.Stage {
	stages := []response.Stage{middleware.Timing(acc)}
	if cfg.Compression.Disabled {
		logger.Info("response compression disabled")
		return stages
	}
	return append(stages, middleware.Compression(middleware.CompressionConfig{
		MinSize:       cfg.Compression.MinSize,
		BrotliQuality: cfg.Compression.BrotliQuality,
		Level:         cfg.Compression.GzipLevel,
	}, logger, m))
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, acc *stats.Accumulator) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = handler.JSONSerializer{}

	// Inbound timeouts to mitigate slow-client attacks.
	e.Server.ReadTimeout = 30 * time.Second
	e.Server.WriteTimeout = 60 * time.Second
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger))
	e.Use(middleware.SecurityHeaders())
	if cfg.Metrics.Enabled {
		e.Use(middleware.MetricsMiddleware(m))
	}

	// Responses from here down, including limiter rejections and recovered
	// panics, are buffered and finalized once through the stages.
	e.Use(middleware.Intercept(finalizeStages(cfg, logger, m, acc)...))
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))

	if cfg.Server.RateLimit.Enabled {
		store := echomw.NewRateLimiterMemoryStore(rate.Limit(cfg.Server.RateLimit.RequestsPerSecond))
		e.Use(echomw.RateLimiter(store))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	return e
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server", "addr", addr, "version", version)
			go func() {
				if err := e.Server.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			return e.Shutdown(ctx)
		},
	})
}
