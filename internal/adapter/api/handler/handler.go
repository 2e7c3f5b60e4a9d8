package handler

import (
	"github.com/labstack/echo/v4"

	"dealroom/internal/adapter/api/middleware"
	"dealroom/internal/domain/entity"
)

func userID(c echo.Context) string {
	uid, _ := c.Get(middleware.ContextUserID).(string)
	return uid
}

func session(c echo.Context) *entity.Session {
	return middleware.GetSession(c)
}
