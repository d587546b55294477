package middleware

import (
	"log"

	"github.com/gofiber/fiber/v2"
)

// UserContextMiddleware extracts the identity the gateway injected. Requests
// reaching this service without a user context were not routed through the
// gateway and are rejected outright.
func UserContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Get("X-User-ID")
		role := c.Get("X-User-Role")

		if userID == "" {
			log.Printf("[USER_CTX] missing X-User-ID on %s", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-User-ID; request must come through gateway with auth context",
			})
		}

		c.Locals("user_id", userID)
		c.Locals("user_role", role)

		return c.Next()
	}
}

// RequireRole gates a route on the gateway-asserted role.
func RequireRole(role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		got, _ := c.Locals("user_role").(string)
		if got != role {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "insufficient role for this operation",
			})
		}
		return c.Next()
	}
}
