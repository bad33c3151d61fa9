package middleware

import (
	"github.com/labstack/echo/v4"
)

// SecurityHeaders sets the response headers of a JSON API that serves
// patient results. HTML reports are served from the same origin, so the CSP
// allows their inline styles.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "SAMEORIGIN")
			h.Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'; frame-ancestors 'self'")
			h.Set("Referrer-Policy", "no-referrer")
			// Results must not linger in shared caches.
			h.Set("Cache-Control", "no-store")
			return next(c)
		}
	}
}
