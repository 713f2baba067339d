package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/roamsquad/roamsquad-go-api/internal/utils"
)

// RequireRole ensures the authenticated user holds one of the allowed roles.
// Admin moderation surfaces (ticket listing, message deletion) sit behind it.
func RequireRole(roles ...string) fiber.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		normalized := strings.ToLower(strings.TrimSpace(role))
		if normalized != "" {
			allowed[normalized] = struct{}{}
		}
	}

	return func(c *fiber.Ctx) error {
		if _, ok := allowed[UserRole(c)]; !ok {
			return utils.SendError(c, fiber.StatusForbidden, "insufficient permissions")
		}
		return c.Next()
	}
}
