package controllers

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/keyforge-shop/keyforge/app/models"
	"github.com/keyforge-shop/keyforge/app/repository"
	"github.com/keyforge-shop/keyforge/internal/pkg/env"
	"github.com/keyforge-shop/keyforge/internal/pkg/payments"
)

var validate = validator.New()

// CheckoutRequest is the public checkout payload.
type CheckoutRequest struct {
	Email       string         `json:"email" validate:"required,email"`
	PayCurrency string         `json:"pay_currency" validate:"required,alphanum,max=10"`
	Items       []CheckoutItem `json:"items" validate:"required,min=1,max=20,dive"`
}

// CheckoutItem is one requested product line.
type CheckoutItem struct {
	Slug     string `json:"slug" validate:"required,max=255"`
	Quantity int    `json:"quantity" validate:"required,min=1,max=10"`
}

// HandleCheckout creates an order, registers a payment at the provider and
// returns the pay-in details. The order starts in created and is driven
// forward exclusively by provider webhooks from here on.
func HandleCheckout(c *fiber.Ctx) error {
	var req CheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "validation_failed", "detail": err.Error()})
	}

	repos := repository.GetGlobalRepositories()

	total := decimal.Zero
	currency := ""
	items := make([]models.OrderItem, 0, len(req.Items))
	for _, line := range req.Items {
		product, err := repos.Product.GetActiveBySlug(line.Slug)
		if err != nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown_product", "slug": line.Slug})
		}
		if currency == "" {
			currency = product.Currency
		}
		available, err := repos.Product.AvailableKeyCount(product.ID)
		if err != nil {
			log.Errorf("[Checkout] Failed to count keys for product %d: %v", product.ID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_error"})
		}
		if available < int64(line.Quantity) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "out_of_stock", "slug": line.Slug})
		}
		items = append(items, models.OrderItem{
			ProductID: product.ID,
			Quantity:  line.Quantity,
			UnitPrice: product.Price,
		})
		total = total.Add(product.Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}

	order := &models.Order{
		PublicID:    uuid.New().String(),
		Email:       req.Email,
		Status:      models.OrderStatusCreated,
		TotalAmount: total,
		Currency:    currency,
		Items:       items,
	}
	if err := repos.Order.Create(order); err != nil {
		log.Errorf("[Checkout] Failed to create order: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_error"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	client := payments.NewProviderClientFromEnv()
	providerPayment, err := client.CreatePayment(ctx, payments.CreatePaymentRequest{
		PriceAmount:      total,
		PriceCurrency:    currency,
		PayCurrency:      req.PayCurrency,
		OrderID:          order.PublicID,
		OrderDescription: fmt.Sprintf("Order %s", order.PublicID),
		IPNCallbackURL:   env.GetEnv("PUBLIC_DOMAIN", "") + "/webhooks/payments",
	})
	if err != nil {
		log.Errorf("[Checkout] Provider payment creation failed for order %s: %v", order.PublicID, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "payment_provider_unavailable"})
	}

	payment := &models.Payment{
		OrderID:       order.ID,
		ExternalID:    providerPayment.PaymentID.String(),
		Status:        models.PaymentStatusCreated,
		PriceAmount:   total,
		PriceCurrency: currency,
		PayCurrency:   providerPayment.PayCurrency,
		PayAddress:    providerPayment.PayAddress,
	}
	if err := getPaymentService().RegisterPayment(ctx, payment); err != nil {
		log.Errorf("[Checkout] Failed to store payment %s: %v", payment.ExternalID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_error"})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"order_id": order.PublicID,
		"status":   order.Status,
		"payment": fiber.Map{
			"external_id":  payment.ExternalID,
			"pay_address":  providerPayment.PayAddress,
			"pay_amount":   providerPayment.PayAmount,
			"pay_currency": providerPayment.PayCurrency,
		},
	})
}

// HandleOrderStatus is the public order status poll endpoint, addressed by
// the order's public id so internal ids never leak.
func HandleOrderStatus(c *fiber.Ctx) error {
	publicID := c.Params("publicID")
	if _, err := uuid.Parse(publicID); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_order_id"})
	}

	order, err := repository.GetGlobalRepositories().Order.GetByPublicID(publicID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "order_not_found"})
	}

	items := make([]fiber.Map, 0, len(order.Items))
	for _, item := range order.Items {
		entry := fiber.Map{
			"title":     item.Product.Title,
			"quantity":  item.Quantity,
			"delivered": item.DeliveredAt != nil,
		}
		items = append(items, entry)
	}

	return c.JSON(fiber.Map{
		"order_id":     order.PublicID,
		"status":       order.Status,
		"total_amount": order.TotalAmount,
		"currency":     order.Currency,
		"fulfilled_at": order.FulfilledAt,
		"items":        items,
	})
}
