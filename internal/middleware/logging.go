// Package middleware provides the Echo middleware and finalize stages of the
// listing API: request logging, security headers, Prometheus metrics, and
// the response interceptor with its timing and compression stages.
package middleware

import (
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestLogger returns an Echo middleware that logs each request with slog.
// 2xx responses log at debug, everything else at info.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			level := slog.LevelDebug
			if res.Status >= 300 || err != nil {
				level = slog.LevelInfo
			}

			logger.Log(req.Context(), level, "request",
				"method", req.Method,
				"path", req.URL.Path,
				"status", res.Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"remote_ip", c.RealIP(),
				"content_encoding", res.Header().Get(echo.HeaderContentEncoding),
			)

			return err
		}
	}
}
