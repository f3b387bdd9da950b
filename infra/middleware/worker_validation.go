package middleware

import (
	"inbox_worker/pkg/apperr"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// ValidateUUID validates that a route parameter is a UUID and stores the
// parsed value in Locals under the parameter name.
func ValidateUUID(paramName string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		value := c.Params(paramName)
		if value == "" {
			return apperr.InvalidInput(paramName, "missing required parameter")
		}

		id, err := uuid.Parse(value)
		if err != nil {
			return apperr.InvalidInput(paramName, "invalid UUID format")
		}

		c.Locals(paramName, id)
		return c.Next()
	}
}
