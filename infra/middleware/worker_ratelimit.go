package middleware

import (
	"math"
	"strconv"

	"inbox_worker/pkg/apperr"
	"inbox_worker/pkg/ratelimit"

	"github.com/gofiber/fiber/v2"
)

// RateLimit rejects requests over the limiter's budget with 429. Requests
// are keyed by client IP under prefix.
func RateLimit(limiter ratelimit.Limiter, prefix string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ok, wait := limiter.Allow(c.UserContext(), prefix+":"+c.IP())
		if ok {
			return c.Next()
		}

		retryAfter := int(math.Ceil(wait.Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfter))
		return apperr.New("RATE_LIMITED", "too many requests", fiber.StatusTooManyRequests).
			WithDetail("retry_after", retryAfter)
	}
}
