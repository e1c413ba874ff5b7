package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/keyforge-shop/keyforge/app/models"
)

// WebhookEventFilter narrows ledger listings.
type WebhookEventFilter struct {
	Status models.WebhookProcessingStatus
	Type   models.WebhookType
	Query  string // matched against external_id
}

// WebhookEventRepository is the read/administrative surface over the
// idempotency ledger. All pipeline writes go through the payments package;
// this repository never mutates processing state.
type WebhookEventRepository interface {
	GetByID(id uint) (*models.PaymentWebhookEvent, error)
	List(filter WebhookEventFilter, page, perPage int) ([]models.PaymentWebhookEvent, int64, error)
	AdjacentIDs(id uint) (prevID, nextID uint, err error)
	ListFailedRetryable(maxAttempts int, minAge time.Duration, limit int) ([]uint, error)
	ForEach(filter WebhookEventFilter, fn func(models.PaymentWebhookEvent) error) error
}

// OrderRepository provides order access for checkout and admin surfaces.
type OrderRepository interface {
	GetByID(id uint) (*models.Order, error)
	GetByPublicID(publicID string) (*models.Order, error)
	Create(order *models.Order) error
	ListRecent(limit int) ([]models.Order, error)
}

// ProductRepository provides catalog lookups for checkout.
type ProductRepository interface {
	GetActiveBySlug(slug string) (*models.Product, error)
	AvailableKeyCount(productID uint) (int64, error)
}

// Repositories bundles all repository instances
type Repositories struct {
	WebhookEvent WebhookEventRepository
	Order        OrderRepository
	Product      ProductRepository
}

// NewRepositories creates all repositories with the given database connection
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		WebhookEvent: NewWebhookEventRepository(db),
		Order:        NewOrderRepository(db),
		Product:      NewProductRepository(db),
	}
}
