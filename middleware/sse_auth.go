// middleware/sse_auth.go
package middleware

import (
	"context"
	"strings"

	"rewards-ledger/logger"
	"rewards-ledger/services"

	"github.com/gofiber/fiber/v2"
)

// TokenValidator authenticates a member's own access token.
type TokenValidator interface {
	ValidateToken(ctx context.Context, accessToken, deviceID string) (*services.Identity, error)
}

// SSEAuthMiddleware validates `token` and `device_id` query params through
// the identity provider. EventSource clients cannot set headers, so the
// stream cannot go through UserContextMiddleware.
func SSEAuthMiddleware(validator TokenValidator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		accessToken := strings.TrimSpace(c.Query("token"))
		deviceID := strings.TrimSpace(c.Query("device_id"))

		if accessToken == "" || deviceID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "missing token or device_id in query",
				"code":  "validation",
			})
		}

		identity, err := validator.ValidateToken(c.UserContext(), accessToken, deviceID)
		if err != nil {
			logger.Warnf("[SSEAuth] Validation failed for device %s: %v", deviceID, err)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "unauthorized",
				"code":  "unauthorized",
			})
		}

		c.Locals(CallerLocalsKey, identity.Caller())
		logger.Debugf("[SSEAuth] Authenticated member %s (device %s)", identity.UserID, identity.DeviceID)
		return c.Next()
	}
}
