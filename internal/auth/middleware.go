package auth

import (
	"strings"

	"github.com/fathima-sithara/chat-sync/internal/domain"
	"github.com/gofiber/fiber/v2"
)

// LocalPrincipal is the fiber local holding the authenticated *domain.Principal.
const LocalPrincipal = "principal"

// JWTMiddleware accepts "Authorization: Bearer <token>", or a "token" query parameter for
// websocket upgrades where browsers cannot set headers.
func JWTMiddleware(validator *JWTValidator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := c.Query("token")
		if h := c.Get(fiber.HeaderAuthorization); h != "" {
			if !strings.HasPrefix(h, "Bearer ") {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid auth"})
			}
			token = strings.TrimPrefix(h, "Bearer ")
		}
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing token"})
		}

		p, err := validator.Validate(token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid token"})
		}
		c.Locals(LocalPrincipal, p)
		return c.Next()
	}
}

// PrincipalFrom returns the principal stored by JWTMiddleware.
func PrincipalFrom(c *fiber.Ctx) *domain.Principal {
	p, _ := c.Locals(LocalPrincipal).(*domain.Principal)
	return p
}
