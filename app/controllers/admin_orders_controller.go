package controllers

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/keyforge-shop/keyforge/app/repository"
	"github.com/keyforge-shop/keyforge/internal/pkg/payments"
)

// HandleAdminOrderList returns the most recent orders.
func HandleAdminOrderList(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 100)
	orders, err := repository.GetGlobalRepositories().Order.ListRecent(limit)
	if err != nil {
		log.Errorf("[AdminOrders] Failed to list orders: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_error"})
	}
	return c.JSON(fiber.Map{"orders": orders})
}

// HandleAdminOrderShow returns one order with items and payments. When the
// order has a payment, the provider's live view of it is fetched as well so
// an operator can spot drift between local and provider state. A provider
// outage degrades the response instead of failing it.
func HandleAdminOrderShow(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_id"})
	}

	order, err := repository.GetGlobalRepositories().Order.GetByID(uint(id))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "order_not_found"})
	}

	response := fiber.Map{"order": order}
	if len(order.Payments) > 0 {
		latest := order.Payments[len(order.Payments)-1]

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		providerPayment, err := payments.NewProviderClientFromEnv().GetPayment(ctx, latest.ExternalID)
		if err != nil {
			log.Warnf("[AdminOrders] Provider lookup for payment %s failed: %v", latest.ExternalID, err)
			response["provider_payment_error"] = err.Error()
		} else {
			response["provider_payment"] = providerPayment
		}
	}
	return c.JSON(response)
}

// HandleAdminOrderRefund marks an order refunded. The actual money movement
// happens at the provider; this only records the decision and blocks further
// automatic transitions.
func HandleAdminOrderRefund(c *fiber.Ctx) error {
	return adminOrderTransition(c, "refund")
}

// HandleAdminOrderCancel cancels a not-yet-paid order.
func HandleAdminOrderCancel(c *fiber.Ctx) error {
	return adminOrderTransition(c, "cancel")
}

func adminOrderTransition(c *fiber.Ctx, action string) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_id"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	svc := getPaymentService()
	switch action {
	case "refund":
		err = svc.MarkOrderRefunded(ctx, uint(id))
	case "cancel":
		err = svc.MarkOrderCancelled(ctx, uint(id))
	}
	if err != nil {
		log.Warnf("[AdminOrders] %s of order %d rejected: %v", action, id, err)
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "transition_rejected", "detail": err.Error()})
	}
	return c.JSON(fiber.Map{"ok": true, "order_id": id})
}
