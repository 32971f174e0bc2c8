package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"carlisting-api/internal/config"
	"carlisting-api/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, cars *CarsHandler, health *HealthHandler, m *metrics.Metrics) {
	e.GET("/health", health.Health)
	e.GET("/stats", health.Stats)
	e.GET("/status", health.Status)

	api := e.Group("/api/cars")
	api.GET("/makes", cars.Makes)
	api.GET("/models", cars.Models)
	api.GET("/years", cars.Years)

	if cfg.Metrics.Enabled && m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{
			DisableCompression: true,
		})))
	}
}
