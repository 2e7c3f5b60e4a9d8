package middleware

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"dealroom/internal/infrastructure/ratelimit"
	"dealroom/internal/usecase"
	"dealroom/pkg/errors"
	"dealroom/pkg/logger"
	"dealroom/pkg/response"
)

// RateLimit throttles HTTP requests per authenticated user, or per client IP
// before authentication has run.
func RateLimit(limiter usecase.RateLimiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key, ok := c.Get(ContextUserID).(string)
			if !ok || key == "" {
				key = "ip:" + c.RealIP()
			}

			allowed, wait := limiter.Allow(key, ratelimit.ActionHTTP)
			if !allowed {
				logger.Warn("RATE LIMIT: Blocked request from %s to %s (retry in %v)", key, c.Path(), wait)
				retry := int(math.Ceil(wait.Seconds()))
				c.Response().Header().Set("Retry-After", strconv.Itoa(retry))
				return response.Error(c, errors.TooManyRequests(fmt.Sprintf("Rate limit exceeded, retry in %v", wait.Round(time.Second))))
			}
			return next(c)
		}
	}
}
