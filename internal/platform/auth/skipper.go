package auth

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// publicPaths are reachable without a bearer token.
var publicPaths = []string{
	"/health",
	"/api/v1/auth/register",
	"/api/v1/auth/login",
}

// PublicPathSkipper returns true for endpoints that do not require
// authentication.
func PublicPathSkipper(c echo.Context) bool {
	path := c.Request().URL.Path
	for _, p := range publicPaths {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}
