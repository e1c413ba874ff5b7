package controllers

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/keyforge-shop/keyforge/app/models"
	"github.com/keyforge-shop/keyforge/internal/pkg/database"
	"github.com/keyforge-shop/keyforge/internal/pkg/env"
	"github.com/keyforge-shop/keyforge/internal/pkg/jobqueue"
	"github.com/keyforge-shop/keyforge/internal/pkg/payments"
)

// getPaymentService wires the pipeline service with the queue-backed
// dispatcher and the SMTP notifier.
func getPaymentService() *payments.Service {
	dispatcher := jobqueue.NewDispatcher(jobqueue.GetManager().GetQueue())
	return payments.NewServiceFromDB(database.GetDB(), dispatcher, payments.NewSMTPNotifier())
}

// HandlePaymentWebhook is the provider's IPN endpoint. The body bytes are
// captured before any parsing because the signature covers the exact bytes
// sent. Non-2xx is reserved for unparseable requests; every recorded
// delivery, including duplicates and signature failures, answers 200 so the
// provider's retry logic and outside observers learn nothing from the status
// code.
func HandlePaymentWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)

	webhookType := models.WebhookTypePayment
	if strings.EqualFold(strings.TrimSpace(c.Get("x-notification-type")), "fulfillment") {
		webhookType = models.WebhookTypeFulfillment
	}

	externalID, err := payments.ExtractExternalID(rawBody, webhookType)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}

	signature := strings.TrimSpace(c.Get("x-nowpayments-sig"))
	secret := env.GetEnv("PAYMENT_IPN_SECRET", "")
	signatureValid := payments.VerifyIPNSignature(rawBody, signature, secret)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	res, err := getPaymentService().Ingest(ctx, payments.WebhookEventInput{
		ExternalID:     externalID,
		WebhookType:    webhookType,
		RawPayload:     rawBody,
		SignatureValid: signatureValid,
		SourceIP:       c.IP(),
	})
	if err != nil {
		if res == nil || res.Event == nil || res.Event.ID == 0 {
			// Nothing was recorded, so there is nothing to deduplicate on;
			// a 5xx makes the provider deliver again.
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_persist_failed"})
		}
		// The ledger row exists and is marked failed; the provider retry or
		// an admin replay recovers it.
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
	}
	if res.Duplicate {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}
