package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// ForwardProxy returns a pre-router middleware that hands absolute-form
// requests to proxy and lets origin-form requests reach the local routes.
// CONNECT tunnels are refused with 405.
func ForwardProxy(proxy echo.HandlerFunc) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Method == http.MethodConnect {
				c.Response().Header().Set(echo.HeaderAllow, "GET, HEAD, POST, PUT, PATCH, DELETE, OPTIONS")
				return c.JSON(http.StatusMethodNotAllowed, map[string]string{
					"error": "CONNECT tunnelling is not supported",
				})
			}
			if req.URL.IsAbs() {
				return proxy(c)
			}
			return next(c)
		}
	}
}

// SecurityHeaders returns an Echo middleware that adds security headers to
// responses served by the local endpoints. Register it with Use so proxied
// responses, which never reach the router, are relayed untouched.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Response().Header().Set("X-Content-Type-Options", "nosniff")
			c.Response().Header().Set("X-Frame-Options", "DENY")
			return next(c)
		}
	}
}
