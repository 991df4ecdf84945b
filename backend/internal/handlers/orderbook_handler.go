package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/user/papertrade/backend/internal/errs"
	"github.com/user/papertrade/backend/internal/trading"
)

// GetBookDepth aggregates resting limit orders for a symbol by price.
// This endpoint is public.
func (h *Handler) GetBookDepth(c *fiber.Ctx) error {
	depth, err := h.portfolio.PendingDepth(c.UserContext(), c.Params("symbol"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(depth)
}

// GetQuote returns the current quote for a symbol.
func (h *Handler) GetQuote(c *fiber.Ctx) error {
	sym, err := trading.NormalizeSymbol(c.Params("symbol"))
	if err != nil {
		return fail(c, err)
	}
	q, err := h.quotes.GetQuote(c.UserContext(), sym)
	if err != nil {
		return fail(c, errs.Wrap(errs.CodePriceUnavailable, err, "no price available for "+sym))
	}
	return c.JSON(q)
}
