package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/housecrystal-18/shopscanner/app/controllers"
	"github.com/housecrystal-18/shopscanner/internal/pkg/constants"
)

type HttpRouter struct {
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// Liveness endpoint for probes and the upstream connectivity watcher.
	app.Get(constants.HealthRoute, func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	})
	app.Head(constants.HealthRoute, func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	// Provider webhooks are unauthenticated; the signature check happens in
	// the handler.
	app.Post(constants.StripeWebhookRoute, controllers.HandleStripeWebhook)
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
