package middleware

import (
	"crypto/subtle"
	"strings"

	"finanzas/pkg/apperr"

	"github.com/gofiber/fiber/v2"
)

// BearerAuth guards the API with a static bearer token. With no token
// configured the API is open, which is only acceptable in development.
func BearerAuth(token string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if token == "" {
			return c.Next()
		}

		header := c.Get(fiber.HeaderAuthorization)
		provided, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			return apperr.New(apperr.CodeAuthFailed, "missing bearer token", fiber.StatusUnauthorized)
		}

		if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
			return apperr.New(apperr.CodeAuthFailed, "invalid token", fiber.StatusUnauthorized)
		}
		return c.Next()
	}
}
