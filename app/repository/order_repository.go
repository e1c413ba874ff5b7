package repository

import (
	"gorm.io/gorm"

	"github.com/keyforge-shop/keyforge/app/models"
)

type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates a GORM-backed order repository
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

func (r *orderRepository) GetByID(id uint) (*models.Order, error) {
	var order models.Order
	err := r.db.
		Preload("Items").
		Preload("Items.Product").
		Preload("Payments").
		First(&order, id).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *orderRepository) GetByPublicID(publicID string) (*models.Order, error) {
	var order models.Order
	err := r.db.
		Preload("Items").
		Preload("Items.Product").
		Preload("Payments").
		Where("public_id = ?", publicID).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *orderRepository) Create(order *models.Order) error {
	return r.db.Create(order).Error
}

func (r *orderRepository) ListRecent(limit int) ([]models.Order, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}
	var orders []models.Order
	err := r.db.Order("id DESC").Limit(limit).Find(&orders).Error
	return orders, err
}
