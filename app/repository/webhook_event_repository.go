package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/keyforge-shop/keyforge/app/models"
)

type webhookEventRepository struct {
	db *gorm.DB
}

// NewWebhookEventRepository creates a GORM-backed webhook event repository
func NewWebhookEventRepository(db *gorm.DB) WebhookEventRepository {
	return &webhookEventRepository{db: db}
}

func (r *webhookEventRepository) GetByID(id uint) (*models.PaymentWebhookEvent, error) {
	var event models.PaymentWebhookEvent
	if err := r.db.First(&event, id).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *webhookEventRepository) filtered(filter WebhookEventFilter) *gorm.DB {
	q := r.db.Model(&models.PaymentWebhookEvent{})
	if filter.Status != "" {
		q = q.Where("processing_status = ?", filter.Status)
	}
	if filter.Type != "" {
		q = q.Where("webhook_type = ?", filter.Type)
	}
	if filter.Query != "" {
		q = q.Where("external_id LIKE ?", "%"+filter.Query+"%")
	}
	return q
}

func (r *webhookEventRepository) List(filter WebhookEventFilter, page, perPage int) ([]models.PaymentWebhookEvent, int64, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 200 {
		perPage = 50
	}

	var total int64
	if err := r.filtered(filter).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var events []models.PaymentWebhookEvent
	err := r.filtered(filter).
		Order("id DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&events).Error
	return events, total, err
}

// AdjacentIDs returns the neighbouring ledger row ids for detail-page
// navigation. Zero means no neighbour on that side.
func (r *webhookEventRepository) AdjacentIDs(id uint) (uint, uint, error) {
	var prevID, nextID uint

	row := r.db.Model(&models.PaymentWebhookEvent{}).
		Where("id < ?", id).
		Select("COALESCE(MAX(id), 0)").
		Row()
	if err := row.Scan(&prevID); err != nil {
		return 0, 0, err
	}

	row = r.db.Model(&models.PaymentWebhookEvent{}).
		Where("id > ?", id).
		Select("COALESCE(MIN(id), 0)").
		Row()
	if err := row.Scan(&nextID); err != nil {
		return 0, 0, err
	}

	return prevID, nextID, nil
}

func (r *webhookEventRepository) ListFailedRetryable(maxAttempts int, minAge time.Duration, limit int) ([]uint, error) {
	var ids []uint
	err := r.db.Model(&models.PaymentWebhookEvent{}).
		Where("processing_status = ?", models.WebhookStatusFailed).
		Where("signature_valid = ?", true).
		Where("attempt_count < ?", maxAttempts).
		Where("updated_at < ?", time.Now().Add(-minAge)).
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

// ForEach streams filtered rows in id order, for CSV export without loading
// the whole ledger into memory.
func (r *webhookEventRepository) ForEach(filter WebhookEventFilter, fn func(models.PaymentWebhookEvent) error) error {
	rows, err := r.filtered(filter).Order("id ASC").Rows()
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var event models.PaymentWebhookEvent
		if err := r.db.ScanRows(rows, &event); err != nil {
			return err
		}
		if err := fn(event); err != nil {
			return err
		}
	}
	return rows.Err()
}
