package handler

import (
	"github.com/labstack/echo/v4"

	"github.com/opsdash/authgate/internal/api/middleware"
	"github.com/opsdash/authgate/internal/core/domain"
)

// ctxPrincipal returns the principal injected by the Auth middleware. A
// missing principal means the route was mounted without it.
func ctxPrincipal(c echo.Context) (*domain.Principal, error) {
	p, ok := c.Get(middleware.PrincipalKey).(*domain.Principal)
	if !ok || p == nil {
		return nil, domain.ErrUnauthenticated
	}
	return p, nil
}
