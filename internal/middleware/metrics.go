package middleware

import (
	"errors"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"intercept-proxy-go/internal/metrics"
	"intercept-proxy-go/internal/model"
)

// MetricsMiddleware records request counts and latency for every inbound
// request, and counts proxied exchanges by response source. Register it with
// Pre so proxied requests are seen.
func MetricsMiddleware(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()
			err := next(c)

			req := c.Request()
			status := strconv.Itoa(statusOf(c, err))
			method := metrics.NormalizeMethod(req.Method)
			target := metrics.NormalizeTarget(req.URL)

			m.RequestsTotal.WithLabelValues(method, status, target).Inc()
			m.RequestDuration.WithLabelValues(method, status, target).Observe(time.Since(start).Seconds())

			if src, ok := c.Get(ResponseSourceKey).(model.ResponseSource); ok {
				m.ExchangeSources.WithLabelValues(string(src)).Inc()
			}

			return err
		}
	}
}

// statusOf returns the status the client will see. An *echo.HTTPError is
// written by the central error handler after the middleware chain returns.
func statusOf(c echo.Context, err error) int {
	var he *echo.HTTPError
	if err != nil && errors.As(err, &he) {
		return he.Code
	}
	return c.Response().Status
}
