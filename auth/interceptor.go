package auth

import (
	"strings"

	"chat-relay/contract"
	"chat-relay/errors"

	"github.com/gofiber/fiber/v2"
)

// UserIDKey is a plain string so the value survives the websocket upgrade,
// which only copies string keyed locals.
const UserIDKey = "user_id"

// Middleware rejects requests without a valid bearer token and stores the
// user id in the request locals for the handlers.
func Middleware(verifier contract.IdentityVerifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := BearerToken(c.Get(fiber.HeaderAuthorization))
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": errors.ErrAuth.Error()})
		}

		userID, err := verifier.VerifyIdentity(token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "invalid or expired token"})
		}

		c.Locals(UserIDKey, userID)
		return c.Next()
	}
}

// UserID reads back what Middleware stored.
func UserID(c *fiber.Ctx) (string, bool) {
	userID, ok := c.Locals(UserIDKey).(string)
	return userID, ok && userID != ""
}

// BearerToken expects the standard "Bearer <token>" format.
func BearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
