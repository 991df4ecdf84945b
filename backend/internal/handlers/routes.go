package handlers

import (
	"errors"

	"github.com/goccy/go-json"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/user/papertrade/backend/internal/middleware"
	"github.com/user/papertrade/backend/internal/models"
)

// NewApp builds the fiber app with every route mounted.
func NewApp(h *Handler) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "papertrade",
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
		ErrorHandler: errorHandler,
	})
	h.Mount(app)
	return app
}

// errorHandler keeps framework errors (unknown route, bad upgrade) in the
// same body shape as everything else.
func errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(fiber.Map{"error": "request_error", "message": fe.Message})
	}
	return fail(c, err)
}

// Mount registers every route on app.
func (h *Handler) Mount(app *fiber.App) {
	if h.hub != nil {
		wsGroup := app.Group("/ws")
		wsGroup.Use("/", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		wsGroup.Get("/prices", websocket.New(h.PriceStream))
	}

	api := app.Group("/api")

	// Public
	api.Get("/health", h.Health)
	api.Get("/quotes/:symbol", h.GetQuote)
	api.Get("/book/:symbol", h.GetBookDepth)

	authGroup := api.Group("/auth")
	authGroup.Post("/signup", h.Signup)
	authGroup.Post("/login", h.Login)

	// Protected
	api.Use(middleware.Protected(h.tokens))

	api.Get("/me", h.Me)

	trade := api.Group("/trade")
	orderChain := []fiber.Handler{}
	if h.limiter != nil {
		orderChain = append(orderChain, h.limiter.Handler())
	}
	trade.Post("/order", append(orderChain, h.PlaceOrder)...)
	trade.Delete("/order/:id", h.CancelOrder)
	trade.Get("/orders", h.ListOrders)
	trade.Get("/orders/:id", h.GetOrder)
	trade.Get("/portfolio", h.GetPortfolio)
	trade.Get("/balance", h.GetBalance)
	trade.Get("/summary", h.GetSummary)
	trade.Post("/reset", h.ResetAccount)

	admin := api.Group("/admin", middleware.RequireRole(models.RoleAdmin))
	admin.Get("/logs", h.GetLogs)
}
