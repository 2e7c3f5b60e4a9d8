package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// PingFunc checks a dependency, typically the store.
type PingFunc func(ctx context.Context) error

type HealthHandler struct {
	storageBackend string
	ping           PingFunc
}

func NewHealthHandler(storageBackend string, ping PingFunc) *HealthHandler {
	return &HealthHandler{
		storageBackend: storageBackend,
		ping:           ping,
	}
}

func (h *HealthHandler) CheckHealth(c echo.Context) error {
	status := map[string]string{
		"status":  "ok",
		"storage": h.storageBackend,
		"time":    time.Now().Format(time.RFC3339),
	}

	if h.ping != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := h.ping(ctx); err != nil {
			status["status"] = "degraded"
			status["error"] = err.Error()
			return c.JSON(http.StatusServiceUnavailable, status)
		}
	}

	return c.JSON(http.StatusOK, status)
}
