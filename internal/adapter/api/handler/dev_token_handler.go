package handler

import (
	"github.com/labstack/echo/v4"

	"dealroom/internal/domain/repository"
	"dealroom/internal/usecase"
	"dealroom/pkg/logger"
	"dealroom/pkg/response"
)

// DevTokenHandler issues session credentials for existing users. It is only
// routed in development.
type DevTokenHandler struct {
	issuer   usecase.SessionIssuer
	userRepo repository.UserRepository
}

func NewDevTokenHandler(issuer usecase.SessionIssuer, userRepo repository.UserRepository) *DevTokenHandler {
	return &DevTokenHandler{
		issuer:   issuer,
		userRepo: userRepo,
	}
}

type devSessionRequest struct {
	UserID string `json:"userId" validate:"required"`
}

func (h *DevTokenHandler) IssueSession(c echo.Context) error {
	var req devSessionRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	user, err := h.userRepo.GetByID(c.Request().Context(), req.UserID)
	if err != nil {
		return response.Error(c, err)
	}

	token, expiresAt, err := h.issuer.Issue(user.ID, user.Role)
	if err != nil {
		return response.Error(c, err)
	}
	logger.Debug("Issued development session for %s (%s)", user.ID, user.Role)

	return response.Created(c, map[string]interface{}{
		"token":     token,
		"expiresAt": expiresAt,
		"user": map[string]interface{}{
			"id":       user.ID,
			"username": user.Username,
			"role":     user.Role,
		},
	})
}
