package handler

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"dealroom/internal/usecase"
	"dealroom/pkg/response"
	"dealroom/pkg/utils"
)

type UserHandler struct {
	chatUseCase *usecase.ChatUseCase
}

func NewUserHandler(chatUseCase *usecase.ChatUseCase) *UserHandler {
	return &UserHandler{
		chatUseCase: chatUseCase,
	}
}

// ListCounterparts lists sellers to buyers and buyers to sellers, with online status
func (h *UserHandler) ListCounterparts(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 || limit > utils.MaxPageSize {
		limit = utils.MaxPageSize
	}

	users, err := h.chatUseCase.ListCounterparts(c.Request().Context(), session(c), limit)
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, users)
}
