package middleware

import (
	"log"
	"strings"

	"stylo-battle-system/services"

	"github.com/gofiber/fiber/v2"
)

// SSEAuthMiddleware validates the `token` query param via the auth service.
// EventSource cannot set headers, so SSE routes authenticate from the query
// string instead of the Gateway headers.
func SSEAuthMiddleware(authClient *services.AuthServiceClient) func(*fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		accessToken := strings.TrimSpace(c.Query("token"))
		if accessToken == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "missing token in query",
			})
		}

		resp, err := authClient.ValidateToken(accessToken)
		if err != nil {
			log.Printf("[SSEAuth] ❌ validation failed for %s: %v", c.Path(), err)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "unauthorized",
			})
		}

		c.Locals("user_id", resp.UserID)
		c.Locals("user_roles", resp.Roles)
		return c.Next()
	}
}
