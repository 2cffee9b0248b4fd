package middleware

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/gradearena/arena-api/internal/utils"
)

// Locals keys populated by JWTProtected.
const (
	LocalsUsername = "username"
	LocalsUserID   = "user_id"
)

// JWTProtected returns a middleware that validates JWT bearer tokens and
// binds the caller's identity to the request. Submissions are attributed to
// the token identity, never to anything in the request body.
func JWTProtected(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authorization := c.Get("Authorization")
		if authorization == "" {
			return utils.SendError(c, fiber.StatusUnauthorized, "authorization header missing")
		}

		const bearer = "Bearer "
		if !strings.HasPrefix(strings.ToLower(authorization), strings.ToLower(bearer)) {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid authorization header")
		}

		tokenString := strings.TrimSpace(authorization[len(bearer):])
		if tokenString == "" {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid token")
		}

		token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method")
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid token")
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid token claims")
		}

		username := extractUsernameFromClaims(claims)
		if username == "" {
			return utils.SendError(c, fiber.StatusUnauthorized, "token carries no identity")
		}
		c.Locals(LocalsUsername, username)

		if subject, err := claims.GetSubject(); err == nil && subject != "" {
			c.Locals(LocalsUserID, subject)
		}

		return c.Next()
	}
}

func extractUsernameFromClaims(claims jwt.MapClaims) string {
	keys := []string{"username", "preferred_username", "email", "sub"}
	for _, key := range keys {
		if value, ok := claims[key]; ok {
			if str, ok := value.(string); ok {
				if trimmed := strings.TrimSpace(str); trimmed != "" {
					return trimmed
				}
			}
		}
	}
	return ""
}

// GetUsername returns the identity bound by JWTProtected, or "".
func GetUsername(c *fiber.Ctx) string {
	if value := c.Locals(LocalsUsername); value != nil {
		if username, ok := value.(string); ok {
			return username
		}
	}
	return ""
}
