package auth

import (
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// ExpectRole notes requests whose identity holds none of roles. The
// request always proceeds; front-desk terminals are shared and roles are
// only used to audit who did what.
func ExpectRole(logger zerolog.Logger, roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := IdentityFromContext(c.Request().Context())
			for _, role := range roles {
				if id.HasRole(role) {
					return next(c)
				}
			}
			logger.Warn().
				Str("staff_id", id.StaffID).
				Strs("roles", id.Roles).
				Str("expected", strings.Join(roles, "|")).
				Str("method", c.Request().Method).
				Str("path", c.Path()).
				Msg("request outside expected staff role")
			return next(c)
		}
	}
}
