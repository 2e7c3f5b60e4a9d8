package router

import (
	"github.com/labstack/echo/v4"

	"dealroom/internal/adapter/api/handler"
)

func SetupDevRouter(e *echo.Echo, devTokenHandler *handler.DevTokenHandler, environment string) {
	if environment != "development" || devTokenHandler == nil {
		return
	}

	e.POST("/v1/dev/session", devTokenHandler.IssueSession)
}
