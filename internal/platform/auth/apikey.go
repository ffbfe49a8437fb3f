package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"
)

// APIKeyHeader carries the caller's key for machine-to-machine access.
const APIKeyHeader = "X-API-Key"

// APIKeyMiddleware accepts requests presenting one of the configured keys.
// Keys are compared by SHA-256 digest so the comparison is constant time
// regardless of key length.
func APIKeyMiddleware(keys []string) echo.MiddlewareFunc {
	hashes := make([][32]byte, len(keys))
	for i, k := range keys {
		hashes[i] = sha256.Sum256([]byte(k))
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			presented := c.Request().Header.Get(APIKeyHeader)
			if presented == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing api key")
			}
			digest := sha256.Sum256([]byte(presented))
			for _, h := range hashes {
				if subtle.ConstantTimeCompare(h[:], digest[:]) == 1 {
					c.Set(string(UserIDKey), "api-key")
					c.Set(string(UserRolesKey), []string{"service"})
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid api key")
		}
	}
}
