package middleware

import (
	"github.com/labstack/echo/v4"

	"dealroom/internal/domain/entity"
	"dealroom/pkg/errors"
	"dealroom/pkg/response"
)

// RequireRole rejects sessions whose role is not role. It must run after
// Authenticate.
func RequireRole(role entity.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			session := GetSession(c)
			if session == nil {
				return response.Error(c, errors.Unauthenticated("Authentication required", nil))
			}
			if session.Role != role {
				return response.Error(c, errors.Forbidden(string(role)+" role required", nil))
			}
			return next(c)
		}
	}
}
