package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/user/papertrade/backend/internal/logger"
)

const (
	defaultLogLimit = 100
	maxLogLimit     = 1000
)

// GetLogs returns recent log lines, newest first. Admin only.
func (h *Handler) GetLogs(c *fiber.Ctx) error {
	limit := defaultLogLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return badRequest(c, "limit must be a positive integer")
		}
		limit = min(n, maxLogLimit)
	}
	level := logger.ParseLevel(c.Query("level"))

	entries := h.logs.Query(limit, level, c.Query("contains"))
	return c.JSON(fiber.Map{"entries": entries, "count": len(entries)})
}
