package router

import (
	"github.com/labstack/echo/v4"

	"dealroom/internal/adapter/api/handler"
	"dealroom/internal/adapter/api/middleware"
	"dealroom/internal/usecase"
)

// Handlers groups everything the routes dispatch to.
type Handlers struct {
	Chat        *handler.ChatHandler
	Negotiation *handler.NegotiationHandler
	User        *handler.UserHandler
	WebSocket   *handler.WebSocketHandler
	Health      *handler.HealthHandler
	DevToken    *handler.DevTokenHandler
}

func Setup(e *echo.Echo, h Handlers, authMiddleware *middleware.AuthMiddleware, limiter usecase.RateLimiter, environment string) {
	SetupHealthRouter(e, h.Health)
	SetupWebSocketRouter(e, h.WebSocket)
	SetupChatRouter(e, h.Chat, h.Negotiation, authMiddleware, limiter)
	SetupUserRouter(e, h.User, authMiddleware, limiter)
	SetupDevRouter(e, h.DevToken, environment)
}
