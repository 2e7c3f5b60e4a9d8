package router

import (
	"github.com/labstack/echo/v4"

	"dealroom/internal/adapter/api/handler"
	"dealroom/internal/adapter/api/middleware"
	"dealroom/internal/domain/entity"
	"dealroom/internal/usecase"
)

// SetupChatRouter sets up conversation, message and negotiation routes
func SetupChatRouter(e *echo.Echo, chatHandler *handler.ChatHandler, negotiationHandler *handler.NegotiationHandler, authMiddleware *middleware.AuthMiddleware, limiter usecase.RateLimiter) {
	conversations := e.Group("/v1/conversations")
	conversations.Use(authMiddleware.Authenticate)
	if limiter != nil {
		conversations.Use(middleware.RateLimit(limiter))
	}

	conversations.GET("", chatHandler.ListConversations)
	conversations.POST("", chatHandler.StartConversation)
	conversations.GET("/:id", chatHandler.GetConversation)
	conversations.DELETE("/:id", chatHandler.DeactivateConversation)

	conversations.GET("/:id/messages", chatHandler.GetMessages)
	conversations.POST("/:id/messages", chatHandler.SendMessage)

	conversations.POST("/:id/negotiate", negotiationHandler.Negotiate)
	conversations.POST("/:id/cancel", negotiationHandler.Cancel)
	conversations.POST("/:id/commit", negotiationHandler.CommitNegotiatedPrice, middleware.RequireRole(entity.RoleSeller))
}
