package handlers

import (
	"github.com/gofiber/fiber/v2"
)

// GetPortfolio values the caller's holdings at current quotes.
func (h *Handler) GetPortfolio(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return fail(c, err)
	}
	snap, err := h.portfolio.GetPortfolio(c.UserContext(), userID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(snap)
}

func (h *Handler) GetBalance(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return fail(c, err)
	}
	acct, err := h.engine.Balance(c.UserContext(), userID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(acct)
}

func (h *Handler) GetSummary(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return fail(c, err)
	}
	sum, err := h.portfolio.Summary(c.UserContext(), userID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(sum)
}

// ResetAccount restores the starting balance and wipes positions and orders.
func (h *Handler) ResetAccount(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return fail(c, err)
	}
	acct, err := h.engine.ResetAccount(c.UserContext(), userID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(acct)
}
