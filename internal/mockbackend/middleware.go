// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package mockbackend

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/jeranaias/memchat/internal/metrics"
)

// InternalErrorDetail is the detail of unexpected 500 responses.
const InternalErrorDetail = "Internal server error. Try again."

// ============================================================================
// CORS
// ============================================================================

// CORSConfig lists the browser origins allowed to call the backend.
type CORSConfig struct {
	AllowedOrigins []string
}

// DefaultCORSConfig allows a local web frontend on port 3000.
func DefaultCORSConfig() *CORSConfig {
	return &CORSConfig{
		AllowedOrigins: []string{"http://localhost:3000", "http://127.0.0.1:3000"},
	}
}

// CORSMiddleware returns echo middleware for the configured origins.
func CORSMiddleware(config *CORSConfig) echo.MiddlewareFunc {
	return middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     config.AllowedOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderContentType, echo.HeaderAccept, "Cache-Control"},
		AllowCredentials: true,
	})
}

// ============================================================================
// Request Logging Middleware
// ============================================================================

// LoggingMiddleware logs every request and counts it in
// memchat_mockbackend_requests_total. Handler errors are rendered here so
// the logged status is the one sent.
func LoggingMiddleware(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			if err := next(c); err != nil {
				c.Error(err)
			}

			req := c.Request()
			res := c.Response()
			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			metrics.MockRequestsTotal.WithLabelValues(req.Method, path, strconv.Itoa(res.Status)).Inc()

			logger.Info().
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", res.Status).
				Dur("latency", time.Since(start)).
				Str("request_id", res.Header().Get(echo.HeaderXRequestID)).
				Str("remote_addr", c.RealIP()).
				Msg("REQUEST_COMPLETE")
			return nil
		}
	}
}

// ============================================================================
// Error Rendering
// ============================================================================

// detailError renders errors as {"detail": ...}. Unexpected errors become a
// generic 500.
func detailError(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		var detail any = InternalErrorDetail

		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
			detail = he.Message
			if he.Internal != nil {
				logger.Warn().Err(he.Internal).Int("status", status).Msg("REQUEST_ERROR")
			}
		} else {
			logger.Error().Err(err).Str("path", c.Request().URL.Path).Msg("REQUEST_FAILED")
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, map[string]any{"detail": detail})
		}
		if err != nil {
			logger.Error().Err(err).Msg("ERROR_RESPONSE_FAILED")
		}
	}
}
