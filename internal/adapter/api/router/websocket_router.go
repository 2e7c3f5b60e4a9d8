package router

import (
	"github.com/labstack/echo/v4"

	"dealroom/internal/adapter/api/handler"
)

// SetupWebSocketRouter sets up the realtime gateway route
func SetupWebSocketRouter(e *echo.Echo, wsHandler *handler.WebSocketHandler) {
	// the handler authenticates before upgrading
	e.GET("/ws", wsHandler.HandleWebSocket)
}
