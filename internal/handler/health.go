package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"carlisting-api/internal/config"
	"carlisting-api/internal/stats"
)

// Version is a string type for dependency injection of the build version.
type Version string

type healthResponse struct {
	Status string         `json:"status"`
	Uptime float64        `json:"uptime"`
	Memory stats.MemoryMB `json:"memory"`
}

// HealthHandler serves the health, status and stats endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
	acc     *stats.Accumulator
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version, acc *stats.Accumulator) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v, acc: acc}
}

// Health reports liveness together with uptime and process memory in MB.
func (h *HealthHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{
		Status: "ok",
		Uptime: h.acc.Uptime().Seconds(),
		Memory: h.acc.Memory(),
	})
}

// Stats returns the request aggregates snapshot.
func (h *HealthHandler) Stats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.acc.Snapshot())
}

// Status returns build and upstream information.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":       "ok",
		"version":      string(h.version),
		"upstream_url": h.cfg.Upstream.BaseURL,
	})
}
