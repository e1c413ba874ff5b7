package repository

import (
	"gorm.io/gorm"

	"github.com/keyforge-shop/keyforge/app/models"
)

type productRepository struct {
	db *gorm.DB
}

// NewProductRepository creates a GORM-backed product repository
func NewProductRepository(db *gorm.DB) ProductRepository {
	return &productRepository{db: db}
}

func (r *productRepository) GetActiveBySlug(slug string) (*models.Product, error) {
	return models.FindActiveProductBySlug(r.db, slug)
}

func (r *productRepository) AvailableKeyCount(productID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.ProductKey{}).
		Where("product_id = ? AND order_item_id IS NULL", productID).
		Count(&count).Error
	return count, err
}
