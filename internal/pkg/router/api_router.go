package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/keyforge-shop/keyforge/app/controllers"
	"github.com/keyforge-shop/keyforge/internal/pkg/env"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "keyforge api",
		})
	})

	v1 := api.Group("/v1")
	v1.Post("/checkout", controllers.HandleCheckout)
	v1.Get("/orders/:publicID", controllers.HandleOrderStatus)

	admin := v1.Group("/admin", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("ADMIN_USER", "admin"): env.GetEnv("ADMIN_PASSWORD", "admin"),
		},
	}))

	admin.Get("/webhooks", controllers.HandleAdminWebhookList)
	admin.Get("/webhooks/export", controllers.HandleAdminWebhookExport)
	admin.Get("/webhooks/:id", controllers.HandleAdminWebhookShow)
	admin.Post("/webhooks/:id/replay", controllers.HandleAdminWebhookReplay)
	admin.Post("/webhooks/replay", controllers.HandleAdminWebhookBulkReplay)

	admin.Get("/orders", controllers.HandleAdminOrderList)
	admin.Get("/orders/:id", controllers.HandleAdminOrderShow)
	admin.Post("/orders/:id/refund", controllers.HandleAdminOrderRefund)
	admin.Post("/orders/:id/cancel", controllers.HandleAdminOrderCancel)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
