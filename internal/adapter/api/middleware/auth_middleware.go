package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"

	"dealroom/internal/domain/entity"
	"dealroom/internal/usecase"
	"dealroom/pkg/errors"
	"dealroom/pkg/response"
)

const (
	ContextUserID  = "uid"
	ContextRole    = "role"
	ContextSession = "session"
)

type AuthMiddleware struct {
	verifier usecase.SessionVerifier
}

func NewAuthMiddleware(verifier usecase.SessionVerifier) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
	}
}

// Authenticate requires a Bearer session credential and binds the verified
// identity to the request.
func (m *AuthMiddleware) Authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
		if token == "" {
			return response.Error(c, errors.Unauthenticated("Authorization header is required", nil))
		}

		session, err := m.verifier.Verify(c.Request().Context(), token)
		if err != nil {
			return response.Error(c, err)
		}

		SetSession(c, session)
		return next(c)
	}
}

// BearerToken extracts the credential from an "Authorization: Bearer <token>"
// header value. It returns "" for any other format.
func BearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func SetSession(c echo.Context, session *entity.Session) {
	c.Set(ContextUserID, session.UserID)
	c.Set(ContextRole, session.Role)
	c.Set(ContextSession, session)
}

func GetSession(c echo.Context) *entity.Session {
	session, _ := c.Get(ContextSession).(*entity.Session)
	return session
}
