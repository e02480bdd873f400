package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// apiHeaders apply to every response. Worklists carry resident names and
// care notes, so nothing is cached or embedded.
var apiHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	{"Cross-Origin-Resource-Policy", "same-origin"},
	{"Referrer-Policy", "no-referrer"},
	{"Cache-Control", "no-store"},
}

const hstsValue = "max-age=31536000; includeSubDomains"

// SecurityHeaders sets the response headers expected of a JSON-only API.
// Strict-Transport-Security is only sent on HTTPS, including HTTPS
// terminated at a proxy that sets X-Forwarded-Proto.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			for _, kv := range apiHeaders {
				h.Set(kv[0], kv[1])
			}
			if overHTTPS(c) {
				h.Set("Strict-Transport-Security", hstsValue)
			}
			return next(c)
		}
	}
}

func overHTTPS(c echo.Context) bool {
	if c.Request().TLS != nil {
		return true
	}
	return strings.EqualFold(c.Request().Header.Get(echo.HeaderXForwardedProto), "https")
}
