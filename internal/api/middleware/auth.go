package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/opsdash/authgate/internal/core/ports"
)

// PrincipalKey is the echo context key holding the *domain.Principal.
const PrincipalKey = "principal"

// Auth resolves the bearer token through the gateway and injects the
// principal into the context. Failures are returned to the error handler.
func Auth(authService ports.AuthService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, err := authService.AuthenticateRequest(c.Request().Context(), c.Request().Header.Get(echo.HeaderAuthorization))
			if err != nil {
				return err
			}
			c.Set(PrincipalKey, p)
			return next(c)
		}
	}
}
