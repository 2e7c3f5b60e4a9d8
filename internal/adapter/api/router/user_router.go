package router

import (
	"github.com/labstack/echo/v4"

	"dealroom/internal/adapter/api/handler"
	"dealroom/internal/adapter/api/middleware"
	"dealroom/internal/usecase"
)

func SetupUserRouter(e *echo.Echo, userHandler *handler.UserHandler, authMiddleware *middleware.AuthMiddleware, limiter usecase.RateLimiter) {
	counterparts := e.Group("/v1/counterparts")
	counterparts.Use(authMiddleware.Authenticate)
	if limiter != nil {
		counterparts.Use(middleware.RateLimit(limiter))
	}

	counterparts.GET("", userHandler.ListCounterparts)
}
