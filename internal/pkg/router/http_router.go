package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/keyforge-shop/keyforge/app/controllers"
)

type HttpRouter struct {
}

// InstallRouter registers the non-API surface: health checks and the
// provider webhook endpoint. The webhook route is deliberately outside the
// /api group so the IPN callback URL never changes with API versioning.
func (h HttpRouter) InstallRouter(app *fiber.App) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Post("/webhooks/payments", controllers.HandlePaymentWebhook)
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
