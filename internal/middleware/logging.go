// Package middleware provides Echo middleware for proxy dispatch, logging,
// metrics and security headers.
package middleware

import (
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"

	"intercept-proxy-go/internal/model"
)

// Context keys the proxy handler sets on every proxied exchange.
const (
	ExchangeIDKey     = "exchange_id"
	ResponseSourceKey = "response_source"
)

// RequestLogger logs one line per inbound request. Proxied exchanges are
// logged as "exchange" with their id and the source of the response the
// client received. Exchanges that failed at the origin are logged at Warn.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()
			attrs := []any{
				"method", req.Method,
				"host", req.URL.Host,
				"path", req.URL.Path,
				"status", statusOf(c, err),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"remote_ip", c.RealIP(),
				"bytes_out", res.Size,
			}

			id, ok := c.Get(ExchangeIDKey).(string)
			if !ok {
				logger.Info("request", attrs...)
				return err
			}

			level := slog.LevelInfo
			attrs = append(attrs, "exchange_id", id)
			if src, ok := c.Get(ResponseSourceKey).(model.ResponseSource); ok {
				attrs = append(attrs, "response_source", string(src))
				if src == model.SourceError {
					level = slog.LevelWarn
				}
			}
			logger.Log(req.Context(), level, "exchange", attrs...)

			return err
		}
	}
}
