package handlers

import (
	"errors"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/user/papertrade/backend/internal/auth"
	"github.com/user/papertrade/backend/internal/errs"
	"github.com/user/papertrade/backend/internal/ledger"
	"github.com/user/papertrade/backend/internal/middleware"
	"github.com/user/papertrade/backend/internal/models"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,32}$`)

// Credentials is the JSON body for signup and login.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthResponse defines the JSON response for successful auth
type AuthResponse struct {
	Token     string       `json:"token"`
	User      *models.User `json:"user"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// Signup handles user registration.
func (h *Handler) Signup(c *fiber.Ctx) error {
	req := new(Credentials)
	if err := c.BodyParser(req); err != nil {
		return badRequest(c, "cannot parse request body")
	}
	req.Username = strings.TrimSpace(req.Username)
	if !usernamePattern.MatchString(req.Username) {
		return badRequest(c, "username must be 3-32 letters, digits, '.', '_' or '-'")
	}
	if len(req.Password) < auth.MinPasswordLength {
		return badRequest(c, "password is too short")
	}

	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		return fail(c, err)
	}

	user := &models.User{Username: req.Username, Password: hashed, Role: models.RoleUser}
	if h.isAdmin(req.Username) {
		user.Role = models.RoleAdmin
	}
	if err := h.users.CreateUser(c.UserContext(), user); err != nil {
		if errors.Is(err, ledger.ErrDuplicate) {
			return middleware.Abort(c, errs.CodeConflict, "username already taken")
		}
		return fail(c, errs.Wrap(errs.CodeStoreUnavailable, err, "could not create user"))
	}
	log.Printf("Registered user %s (%s, role %s)", user.Username, user.ID, user.Role)

	return h.issue(c, fiber.StatusCreated, user)
}

// Login handles user authentication.
func (h *Handler) Login(c *fiber.Ctx) error {
	req := new(Credentials)
	if err := c.BodyParser(req); err != nil {
		return badRequest(c, "cannot parse request body")
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		return badRequest(c, "username and password are required")
	}

	user, err := h.users.UserByUsername(c.UserContext(), strings.TrimSpace(req.Username))
	if err != nil && !errors.Is(err, ledger.ErrNotFound) {
		return fail(c, errs.Wrap(errs.CodeStoreUnavailable, err, "could not look up user"))
	}
	if user == nil || !auth.CheckPassword(req.Password, user.Password) {
		return middleware.Abort(c, errs.CodeUnauthorized, "invalid username or password")
	}

	return h.issue(c, fiber.StatusOK, user)
}

func (h *Handler) issue(c *fiber.Ctx, status int, user *models.User) error {
	token, expires, err := h.tokens.Generate(user.ID, user.Username, user.Role)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(status).JSON(AuthResponse{Token: token, User: user, ExpiresAt: expires})
}

// Me returns the identity carried by the verified token.
func (h *Handler) Me(c *fiber.Ctx) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return middleware.Abort(c, errs.CodeUnauthorized, "authentication required")
	}
	user, err := h.users.UserByID(c.UserContext(), userID)
	if errors.Is(err, ledger.ErrNotFound) {
		return middleware.Abort(c, errs.CodeUnauthorized, "user no longer exists")
	}
	if err != nil {
		return fail(c, errs.Wrap(errs.CodeStoreUnavailable, err, "could not look up user"))
	}
	_, role := middleware.Identity(c)
	return c.JSON(fiber.Map{
		"user_id":    user.ID,
		"username":   user.Username,
		"role":       role,
		"created_at": user.CreatedAt,
	})
}

// Health is the liveness probe.
func (h *Handler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok", "time": time.Now().UTC()})
}
