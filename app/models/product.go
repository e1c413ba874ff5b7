package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Product is a purchasable digital good. Catalog management lives in the
// admin CRUD surface; the pipeline only reads these rows.
type Product struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	Title     string          `gorm:"type:varchar(255);not null" json:"title"`
	Slug      string          `gorm:"type:varchar(255);not null;uniqueIndex" json:"slug"`
	Price     decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"price"`
	Currency  string          `gorm:"type:varchar(10);not null;default:'usd'" json:"currency"`
	IsActive  bool            `gorm:"default:true;index" json:"is_active"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt  `gorm:"index" json:"-"`
}

// FindActiveProductBySlug loads an active product by its slug.
func FindActiveProductBySlug(db *gorm.DB, slug string) (*Product, error) {
	var p Product
	if err := db.Where("slug = ? AND is_active = ?", slug, true).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}
