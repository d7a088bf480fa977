// middleware/auth.go
package middleware

import (
	"strings"

	"rewards-ledger/logger"
	"rewards-ledger/services"

	"github.com/gofiber/fiber/v2"
)

// CallerLocalsKey is where the resolved services.Caller is stored.
const CallerLocalsKey = "caller"

// UserContextMiddleware resolves the caller from the identity headers set by
// the gateway. Secured paths (/s/...) require X-User-ID.
func UserContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := strings.TrimSpace(c.Get("X-User-ID"))

		if strings.HasPrefix(c.Path(), "/s/") && userID == "" {
			logger.Warnf("[USER_CTX] X-User-ID required but missing on secured route: %s", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-User-ID, request must come through gateway with auth context",
				"code":  "unauthorized",
			})
		}

		var roles []string
		for _, r := range strings.Split(c.Get("X-User-Roles"), ",") {
			if r = strings.TrimSpace(r); r != "" {
				roles = append(roles, r)
			}
		}

		c.Locals(CallerLocalsKey, services.NewCaller(userID, roles))
		return c.Next()
	}
}

// AdminOnly rejects callers without the admin capability before the handler runs.
func AdminOnly() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !CallerFrom(c).IsAdmin {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "admin capability required",
				"code":  "unauthorized",
			})
		}
		return c.Next()
	}
}

// CallerFrom returns the caller stored by UserContextMiddleware or
// SSEAuthMiddleware, or the zero Caller.
func CallerFrom(c *fiber.Ctx) services.Caller {
	caller, _ := c.Locals(CallerLocalsKey).(services.Caller)
	return caller
}
