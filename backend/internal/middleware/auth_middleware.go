package middleware

import (
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/user/papertrade/backend/internal/auth"
	"github.com/user/papertrade/backend/internal/errs"
	"github.com/user/papertrade/backend/internal/models"
)

// Locals keys set by Protected.
const (
	LocalUserID   = "userID"
	LocalUsername = "username"
	LocalRole     = "role"
)

// Abort writes the standard error body for code.
func Abort(c *fiber.Ctx, code errs.Code, message string) error {
	return c.Status(errs.HTTPStatus(code)).JSON(fiber.Map{"error": code, "message": message})
}

// Protected is a middleware function to verify JWT authentication.
func Protected(tokens *auth.Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return Abort(c, errs.CodeUnauthorized, "missing authorization header")
		}

		// Expecting "Bearer <token>"
		parts := strings.Fields(authHeader)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			return Abort(c, errs.CodeUnauthorized, "invalid authorization header format")
		}

		claims, err := tokens.Validate(parts[1])
		if err != nil {
			log.Printf("WARN: rejected token from %s: %v", c.IP(), err)
			return Abort(c, errs.CodeUnauthorized, "invalid or expired token")
		}

		c.Locals(LocalUserID, claims.UserID)
		c.Locals(LocalUsername, claims.Username)
		c.Locals(LocalRole, claims.Role)
		return c.Next()
	}
}

// RequireRole allows the request only when the verified role matches.
// A missing role is treated as no access.
func RequireRole(role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		got, _ := c.Locals(LocalRole).(string)
		if got == "" || got != role {
			return Abort(c, errs.CodeForbidden, "insufficient role")
		}
		return c.Next()
	}
}

// UserID returns the authenticated user set by Protected.
func UserID(c *fiber.Ctx) (uuid.UUID, bool) {
	id, ok := c.Locals(LocalUserID).(uuid.UUID)
	return id, ok && id != uuid.Nil
}

// Identity returns the username and role set by Protected. Role defaults to
// the least privileged one.
func Identity(c *fiber.Ctx) (string, string) {
	username, _ := c.Locals(LocalUsername).(string)
	role, _ := c.Locals(LocalRole).(string)
	if role == "" {
		role = models.RoleUser
	}
	return username, role
}
