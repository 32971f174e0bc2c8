package handler

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/labstack/echo/v4"

	"carlisting-api/internal/client"
	"carlisting-api/internal/model"
	"carlisting-api/internal/service"
)

// CarsHandler serves the car catalog lookups under /api/cars.
type CarsHandler struct {
	service *service.CatalogService
	logger  *slog.Logger
}

// NewCarsHandler creates a CarsHandler.
func NewCarsHandler(svc *service.CatalogService, logger *slog.Logger) *CarsHandler {
	return &CarsHandler{
		service: svc,
		logger:  logger.With("component", "cars_handler"),
	}
}

// Makes returns one page of vehicle makes.
func (h *CarsHandler) Makes(c echo.Context) error {
	var q model.MakesQuery
	if err := echo.QueryParamsBinder(c).
		Int("page", &q.Page).
		Int("limit", &q.Limit).
		BindError(); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "page and limit must be integers",
		})
	}

	payload, err := h.service.Makes(c.Request().Context(), q)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSONBlob(http.StatusOK, payload)
}

// Models returns the models of the make query parameter.
func (h *CarsHandler) Models(c echo.Context) error {
	payload, err := h.service.Models(c.Request().Context(), model.ModelsQuery{
		Make: c.QueryParam("make"),
	})
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSONBlob(http.StatusOK, payload)
}

// Years returns the model years of the make and model query parameters.
func (h *CarsHandler) Years(c echo.Context) error {
	payload, err := h.service.Years(c.Request().Context(), model.YearsQuery{
		Make:  c.QueryParam("make"),
		Model: c.QueryParam("model"),
	})
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSONBlob(http.StatusOK, payload)
}

// mapError turns catalog errors into JSON error responses. Upstream detail
// has already been logged by the client and is never echoed.
func (h *CarsHandler) mapError(c echo.Context, err error) error {
	path := c.Request().URL.Path

	if errors.Is(err, client.ErrValidation) {
		h.logger.Debug("invalid catalog query", "err", err, "path", path)
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
	}

	h.logger.Warn("catalog lookup failed", "err", err, "path", path)

	if errors.Is(err, context.Canceled) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "client disconnected",
		})
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return c.JSON(http.StatusGatewayTimeout, map[string]string{
			"error": "upstream request timed out",
		})
	}

	if errors.Is(err, client.ErrUpstream) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": err.Error(),
		})
	}

	return c.JSON(http.StatusInternalServerError, map[string]string{
		"error": "internal server error",
	})
}
