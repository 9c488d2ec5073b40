package middleware

import (
	"crypto/subtle"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge/crypto"
)

// APIKeyAuth guards the management API with a shared key.
// Expects: Authorization: Bearer <api_key>. An empty key disables the check.
// apiKey may be the key itself or a bcrypt hash of it, as printed by
// `webtrackctl hash-api-key`.
func APIKeyAuth(apiKey string, logger *slog.Logger) fiber.Handler {
	verify := secureCompare
	if IsHashedAPIKey(apiKey) {
		verify = func(provided, hash string) bool {
			return crypto.VerifyPassword(hash, provided)
		}
	}

	return func(c *fiber.Ctx) error {
		if apiKey == "" {
			return c.Next()
		}

		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing Authorization header",
			})
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid Authorization header format. Expected: Bearer <api_key>",
			})
		}

		providedKey := strings.TrimPrefix(authHeader, "Bearer ")
		if providedKey == "" || !verify(providedKey, apiKey) {
			logger.Debug("Rejected request with invalid API key", slog.String("path", c.Path()))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid API key",
			})
		}

		return c.Next()
	}
}

// IsHashedAPIKey reports whether a configured key is a bcrypt hash.
func IsHashedAPIKey(apiKey string) bool {
	return strings.HasPrefix(apiKey, "$2a$") || strings.HasPrefix(apiKey, "$2b$") || strings.HasPrefix(apiKey, "$2y$")
}

// secureCompare performs constant-time string comparison
func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
