package payments

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/keyforge-shop/keyforge/app/models"
)

// ClaimOutcome is the result of attempting to claim a webhook delivery.
type ClaimOutcome int

const (
	// ClaimNew means this external id was never seen before.
	ClaimNew ClaimOutcome = iota
	// ClaimRetry means the row exists but is not processed; the attempt
	// counter was bumped and processing may re-enter.
	ClaimRetry
	// ClaimDuplicate means the row is already processed; nothing to do.
	ClaimDuplicate
)

// ErrPaymentNotFound is returned when no payment matches an external id.
var ErrPaymentNotFound = errors.New("no payment for external id")

// Repository provides the DB operations used by the webhook pipeline. All
// mutating calls are expected to run inside WithTransaction so a crash
// between claiming a webhook and updating the payment rolls back together.
type Repository interface {
	WithTransaction(ctx context.Context, fn func(tx Repository) error) error

	ClaimWebhookEvent(ctx context.Context, event *models.PaymentWebhookEvent) (ClaimOutcome, *models.PaymentWebhookEvent, error)
	GetWebhookEventByID(ctx context.Context, id uint) (*models.PaymentWebhookEvent, error)
	BumpWebhookAttempt(ctx context.Context, id uint) error
	MarkWebhookOutcome(ctx context.Context, id uint, status models.WebhookProcessingStatus, paymentID, orderID *uint, lastError string) error

	GetPaymentByExternalIDForUpdate(ctx context.Context, externalID string) (*models.Payment, error)
	SavePayment(ctx context.Context, p *models.Payment) error
	CreatePayment(ctx context.Context, p *models.Payment) error

	GetOrderForUpdate(ctx context.Context, id uint) (*models.Order, error)
	SaveOrder(ctx context.Context, o *models.Order) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a payments repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) WithTransaction(ctx context.Context, fn func(tx Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}

// ClaimWebhookEvent inserts the ledger row for a delivery, using the unique
// key on external_id as the concurrency primitive. A concurrent second
// delivery loses the insert, locks the winner's row and either observes its
// terminal outcome (duplicate) or serializes behind it (retry).
func (r *gormRepository) ClaimWebhookEvent(ctx context.Context, event *models.PaymentWebhookEvent) (ClaimOutcome, *models.PaymentWebhookEvent, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_id"}},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return 0, nil, tx.Error
	}
	if tx.RowsAffected > 0 {
		return ClaimNew, event, nil
	}

	var stored models.PaymentWebhookEvent
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("external_id = ?", event.ExternalID).
		First(&stored).Error; err != nil {
		return 0, nil, err
	}

	if stored.ProcessingStatus == models.WebhookStatusProcessed {
		return ClaimDuplicate, &stored, nil
	}

	stored.AttemptCount++
	stored.ProcessingStatus = models.WebhookStatusPending
	if err := r.db.WithContext(ctx).Model(&models.PaymentWebhookEvent{}).
		Where("id = ?", stored.ID).
		Updates(map[string]interface{}{
			"attempt_count":     stored.AttemptCount,
			"processing_status": stored.ProcessingStatus,
			"updated_at":        time.Now(),
		}).Error; err != nil {
		return 0, nil, err
	}
	return ClaimRetry, &stored, nil
}

// GetWebhookEventByID loads and locks a ledger row. Replay runs inside a
// transaction, so the lock serializes it against a concurrent provider
// re-delivery of the same external id.
func (r *gormRepository) GetWebhookEventByID(ctx context.Context, id uint) (*models.PaymentWebhookEvent, error) {
	var event models.PaymentWebhookEvent
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&event, id).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *gormRepository) BumpWebhookAttempt(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Model(&models.PaymentWebhookEvent{}).
		Where("id = ?", id).
		UpdateColumn("attempt_count", gorm.Expr("attempt_count + 1")).Error
}

func (r *gormRepository) MarkWebhookOutcome(ctx context.Context, id uint, status models.WebhookProcessingStatus, paymentID, orderID *uint, lastError string) error {
	updates := map[string]interface{}{
		"processing_status": status,
		"last_error":        lastError,
		"updated_at":        time.Now(),
	}
	if paymentID != nil {
		updates["payment_id"] = *paymentID
	}
	if orderID != nil {
		updates["order_id"] = *orderID
	}
	return r.db.WithContext(ctx).Model(&models.PaymentWebhookEvent{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *gormRepository) GetPaymentByExternalIDForUpdate(ctx context.Context, externalID string) (*models.Payment, error) {
	var p models.Payment
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("external_id = ?", externalID).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) SavePayment(ctx context.Context, p *models.Payment) error {
	return r.db.WithContext(ctx).Save(p).Error
}

func (r *gormRepository) CreatePayment(ctx context.Context, p *models.Payment) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *gormRepository) GetOrderForUpdate(ctx context.Context, id uint) (*models.Order, error) {
	var o models.Order
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&o, id).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *gormRepository) SaveOrder(ctx context.Context, o *models.Order) error {
	return r.db.WithContext(ctx).Save(o).Error
}
