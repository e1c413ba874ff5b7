package controllers

import (
	"context"
	"encoding/csv"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/keyforge-shop/keyforge/app/models"
	"github.com/keyforge-shop/keyforge/app/repository"
)

// HandleAdminWebhookList lists ledger rows, newest first, with optional
// status/type/external-id filters.
func HandleAdminWebhookList(c *fiber.Ctx) error {
	filter := repository.WebhookEventFilter{
		Status: models.WebhookProcessingStatus(c.Query("status")),
		Type:   models.WebhookType(c.Query("type")),
		Query:  c.Query("q"),
	}
	page := c.QueryInt("page", 1)
	perPage := c.QueryInt("per_page", 50)

	events, total, err := repository.GetGlobalRepositories().WebhookEvent.List(filter, page, perPage)
	if err != nil {
		log.Errorf("[AdminWebhooks] Failed to list webhook events: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_error"})
	}

	return c.JSON(fiber.Map{
		"events": events,
		"total":  total,
		"page":   page,
	})
}

// HandleAdminWebhookShow returns a single ledger row with its raw payload and
// prev/next ids for ledger navigation.
func HandleAdminWebhookShow(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_id"})
	}

	repos := repository.GetGlobalRepositories()
	event, err := repos.WebhookEvent.GetByID(uint(id))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "event_not_found"})
	}
	prevID, nextID, err := repos.WebhookEvent.AdjacentIDs(event.ID)
	if err != nil {
		log.Errorf("[AdminWebhooks] Failed to resolve adjacent events for %d: %v", event.ID, err)
	}

	return c.JSON(fiber.Map{
		"event":   event,
		"prev_id": prevID,
		"next_id": nextID,
	})
}

// HandleAdminWebhookReplay re-runs the processing pipeline for one ledger
// row. The pipeline's own idempotency applies, so replaying an already
// processed delivery is harmless.
func HandleAdminWebhookReplay(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_id"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := getPaymentService().Replay(ctx, uint(id)); err != nil {
		log.Warnf("[AdminWebhooks] Replay of event %d failed: %v", id, err)
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "replay_failed", "detail": err.Error()})
	}
	return c.JSON(fiber.Map{"ok": true, "event_id": id})
}

// BulkReplayRequest selects ledger rows for bulk replay.
type BulkReplayRequest struct {
	IDs []uint `json:"ids" validate:"required,min=1,max=200"`
}

// HandleAdminWebhookBulkReplay replays a batch of ledger rows. Failures are
// reported per row and never abort the batch.
func HandleAdminWebhookBulkReplay(c *fiber.Ctx) error {
	var req BulkReplayRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "validation_failed", "detail": err.Error()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	results := getPaymentService().ReplayMany(ctx, req.IDs)
	out := make([]fiber.Map, 0, len(results))
	failed := 0
	for _, res := range results {
		entry := fiber.Map{"event_id": res.EventID, "ok": res.Err == nil}
		if res.Err != nil {
			failed++
			entry["error"] = res.Err.Error()
		}
		out = append(out, entry)
	}

	return c.JSON(fiber.Map{
		"results": out,
		"total":   len(results),
		"failed":  failed,
	})
}

// HandleAdminWebhookExport streams the filtered ledger as CSV.
func HandleAdminWebhookExport(c *fiber.Ctx) error {
	filter := repository.WebhookEventFilter{
		Status: models.WebhookProcessingStatus(c.Query("status")),
		Type:   models.WebhookType(c.Query("type")),
		Query:  c.Query("q"),
	}

	c.Set(fiber.HeaderContentType, "text/csv; charset=utf-8")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="webhook-events.csv"`)

	writer := csv.NewWriter(c)
	if err := writer.Write([]string{
		"id", "external_id", "type", "status", "signature_valid",
		"attempt_count", "payment_id", "order_id", "source_ip",
		"last_error", "created_at", "updated_at",
	}); err != nil {
		return err
	}

	err := repository.GetGlobalRepositories().WebhookEvent.ForEach(filter, func(event models.PaymentWebhookEvent) error {
		paymentID := ""
		if event.PaymentID != nil {
			paymentID = strconv.FormatUint(uint64(*event.PaymentID), 10)
		}
		orderID := ""
		if event.OrderID != nil {
			orderID = strconv.FormatUint(uint64(*event.OrderID), 10)
		}
		return writer.Write([]string{
			strconv.FormatUint(uint64(event.ID), 10),
			event.ExternalID,
			string(event.WebhookType),
			string(event.ProcessingStatus),
			strconv.FormatBool(event.SignatureValid),
			strconv.Itoa(event.AttemptCount),
			paymentID,
			orderID,
			event.SourceIP,
			event.LastError,
			event.CreatedAt.Format(time.RFC3339),
			event.UpdatedAt.Format(time.RFC3339),
		})
	})
	if err != nil {
		log.Errorf("[AdminWebhooks] CSV export failed: %v", err)
		return err
	}

	writer.Flush()
	return writer.Error()
}
