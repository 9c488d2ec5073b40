package middleware

import (
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// AccountIDKey is the fiber local holding the caller's account id.
const AccountIDKey = "account_id"

// AccountHeader carries the opaque account id set by the authenticating proxy.
const AccountHeader = "X-Account-ID"

// AccountScope requires an account id and stores it in the request locals.
func AccountScope(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		accountID := strings.TrimSpace(c.Get(AccountHeader))
		if accountID == "" {
			logger.Debug("Rejected request without account", slog.String("path", c.Path()))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"message": "Unauthorized",
			})
		}

		c.Locals(AccountIDKey, accountID)
		return c.Next()
	}
}

// AccountID returns the account set by AccountScope, or "".
func AccountID(c *fiber.Ctx) string {
	accountID, _ := c.Locals(AccountIDKey).(string)
	return accountID
}
