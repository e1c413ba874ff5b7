package jobqueue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/keyforge-shop/keyforge/app/models"
	"github.com/keyforge-shop/keyforge/internal/pkg/database"
	"github.com/keyforge-shop/keyforge/internal/pkg/mail"
	"github.com/keyforge-shop/keyforge/internal/pkg/payments"
)

// processFulfillOrderJob delivers the purchased keys for a paid order: it
// claims one unreserved key per unit from each product's pool, marks the
// items delivered, flips the order to fulfilled and emails the keys to the
// customer. Every step is idempotent so job retries and queue-level replays
// cannot deliver twice.
func (q *Queue) processFulfillOrderJob(ctx context.Context, job *Job) error {
	payload, err := FulfillOrderJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid fulfill payload: %w", err)
	}

	db := database.GetDB()

	var order models.Order
	var deliveries []keyDelivery

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&order, payload.OrderID).Error; err != nil {
			return fmt.Errorf("load order %d: %w", payload.OrderID, err)
		}

		if order.Status == models.OrderStatusFulfilled {
			log.Infof("[JobQueue] Order %d already fulfilled, nothing to do", order.ID)
			return nil
		}
		if !payments.CanTransitionOrder(order.Status, models.OrderStatusFulfilled) {
			// Refunded or cancelled since the job was enqueued. Do not
			// deliver and do not fail the job.
			log.Warnf("[JobQueue] Order %d is %s, skipping fulfillment", order.ID, order.Status)
			return nil
		}

		var items []models.OrderItem
		if err := tx.Preload("Product").Where("order_id = ?", order.ID).Find(&items).Error; err != nil {
			return fmt.Errorf("load items for order %d: %w", order.ID, err)
		}
		if len(items) == 0 {
			return fmt.Errorf("order %d has no items", order.ID)
		}

		now := time.Now()
		for i := range items {
			item := &items[i]
			claimed, err := claimKeysForItem(tx, item, now)
			if err != nil {
				return err
			}
			deliveries = append(deliveries, keyDelivery{
				ProductTitle: item.Product.Title,
				KeyCodes:     claimed,
			})
			if item.DeliveredAt == nil {
				item.DeliveredAt = &now
				if err := tx.Model(&models.OrderItem{}).Where("id = ?", item.ID).
					Update("delivered_at", now).Error; err != nil {
					return fmt.Errorf("mark item %d delivered: %w", item.ID, err)
				}
			}
		}

		// The paid -> fulfilled flip goes through the payments service so
		// the order state machine is enforced in one place.
		return payments.NewServiceFromDB(tx, nil, nil).CompleteFulfillment(ctx, order.ID)
	})
	if err != nil {
		return err
	}
	if len(deliveries) == 0 {
		// Skipped (already fulfilled / refunded / cancelled).
		return nil
	}

	sendKeyDeliveryMail(order, deliveries)
	return nil
}

type keyDelivery struct {
	ProductTitle string
	KeyCodes     []string
}

// claimKeysForItem reserves Quantity keys for the item, reusing any keys a
// previous partial attempt already claimed.
func claimKeysForItem(tx *gorm.DB, item *models.OrderItem, now time.Time) ([]string, error) {
	var existing []models.ProductKey
	if err := tx.Where("order_item_id = ?", item.ID).Find(&existing).Error; err != nil {
		return nil, fmt.Errorf("load claimed keys for item %d: %w", item.ID, err)
	}

	codes := make([]string, 0, item.Quantity)
	for _, k := range existing {
		codes = append(codes, k.KeyCode)
	}

	missing := item.Quantity - len(existing)
	if missing <= 0 {
		return codes, nil
	}

	var free []models.ProductKey
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("product_id = ? AND order_item_id IS NULL", item.ProductID).
		Limit(missing).
		Find(&free).Error; err != nil {
		return nil, fmt.Errorf("lock free keys for product %d: %w", item.ProductID, err)
	}
	if len(free) < missing {
		return nil, fmt.Errorf(
			"key pool for product %d exhausted: need %d more, have %d", item.ProductID, missing, len(free))
	}

	for _, k := range free {
		if err := tx.Model(&models.ProductKey{}).Where("id = ?", k.ID).
			Updates(map[string]interface{}{"order_item_id": item.ID, "reserved_at": now}).Error; err != nil {
			return nil, fmt.Errorf("claim key %d: %w", k.ID, err)
		}
		codes = append(codes, k.KeyCode)
	}
	return codes, nil
}

func sendKeyDeliveryMail(order models.Order, deliveries []keyDelivery) {
	var b strings.Builder
	b.WriteString("<p>Thank you for your purchase. Here are your keys:</p>")
	for _, d := range deliveries {
		b.WriteString(fmt.Sprintf("<p><strong>%s</strong></p><ul>", d.ProductTitle))
		for _, code := range d.KeyCodes {
			b.WriteString(fmt.Sprintf("<li><code>%s</code></li>", code))
		}
		b.WriteString("</ul>")
	}

	subject := fmt.Sprintf("Order %s: your keys", order.PublicID)
	if err := mail.SendMail(order.Email, subject, b.String()); err != nil {
		log.Errorf("[JobQueue] Key delivery email for order %d failed: %v", order.ID, err)
	}
}
