package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/user/papertrade/backend/internal/errs"
	"github.com/user/papertrade/backend/internal/middleware"
	"github.com/user/papertrade/backend/internal/trading"
)

func currentUser(c *fiber.Ctx) (uuid.UUID, error) {
	id, ok := middleware.UserID(c)
	if !ok {
		return uuid.Nil, errs.New(errs.CodeUnauthorized, "authentication required")
	}
	return id, nil
}

func orderIDParam(c *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, errs.New(errs.CodeValidation, "invalid order id format")
	}
	return id, nil
}

// PlaceOrder executes a market order or records a limit order.
func (h *Handler) PlaceOrder(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return fail(c, err)
	}

	req := new(trading.OrderRequest)
	if err := c.BodyParser(req); err != nil {
		return badRequest(c, "cannot parse request body")
	}

	placed, err := h.engine.PlaceOrder(c.UserContext(), userID, *req)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(placed)
}

// CancelOrder cancels one of the caller's pending orders.
func (h *Handler) CancelOrder(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return fail(c, err)
	}
	orderID, err := orderIDParam(c)
	if err != nil {
		return fail(c, err)
	}

	order, err := h.engine.CancelOrder(c.UserContext(), userID, orderID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(order)
}

// ListOrders returns the caller's order history, newest first.
func (h *Handler) ListOrders(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return fail(c, err)
	}

	q := trading.HistoryQuery{
		Status: c.Query("status"),
		Symbol: c.Query("symbol"),
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return badRequest(c, "limit must be an integer")
		}
		q.Limit = n
	}

	orders, err := h.engine.OrderHistory(c.UserContext(), userID, q)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"orders": orders, "count": len(orders)})
}

// GetOrder retrieves a specific order by its ID.
func (h *Handler) GetOrder(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return fail(c, err)
	}
	orderID, err := orderIDParam(c)
	if err != nil {
		return fail(c, err)
	}

	order, err := h.engine.GetOrder(c.UserContext(), userID, orderID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(order)
}
