// Package handlers exposes the trading engine over HTTP and WebSocket.
package handlers

import (
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/user/papertrade/backend/internal/auth"
	"github.com/user/papertrade/backend/internal/errs"
	"github.com/user/papertrade/backend/internal/ledger"
	"github.com/user/papertrade/backend/internal/logger"
	"github.com/user/papertrade/backend/internal/middleware"
	"github.com/user/papertrade/backend/internal/quotes"
	"github.com/user/papertrade/backend/internal/trading"
	ws "github.com/user/papertrade/backend/internal/websocket"
)

// Deps are the collaborators a Handler serves.
type Deps struct {
	Engine    *trading.Engine
	Portfolio *trading.Portfolio
	Users     ledger.Users
	Tokens    *auth.Manager
	Quotes    quotes.Provider
	Logs      *logger.Ring
	Hub       *ws.Hub
	Limiter   *middleware.Limiter
	Admins    []string
}

type Handler struct {
	engine    *trading.Engine
	portfolio *trading.Portfolio
	users     ledger.Users
	tokens    *auth.Manager
	quotes    quotes.Provider
	logs      *logger.Ring
	hub       *ws.Hub
	limiter   *middleware.Limiter
	admins    []string
}

func New(d Deps) *Handler {
	return &Handler{
		engine:    d.Engine,
		portfolio: d.Portfolio,
		users:     d.Users,
		tokens:    d.Tokens,
		quotes:    d.Quotes,
		logs:      d.Logs,
		hub:       d.Hub,
		limiter:   d.Limiter,
		admins:    d.Admins,
	}
}

// fail writes the error body for err. Causes are logged, never returned.
func fail(c *fiber.Ctx, err error) error {
	code := errs.CodeOf(err)
	if code == errs.CodeInternal || code == errs.CodeStoreUnavailable {
		log.Printf("ERROR: %s %s: %v", c.Method(), c.Path(), err)
	}
	return middleware.Abort(c, code, errs.MessageOf(err))
}

func badRequest(c *fiber.Ctx, message string) error {
	return middleware.Abort(c, errs.CodeValidation, message)
}

func (h *Handler) isAdmin(username string) bool {
	for _, a := range h.admins {
		if strings.EqualFold(a, username) {
			return true
		}
	}
	return false
}
