package models

import "time"

// ProductKey is one deliverable key from a product's key pool. A key is
// claimed by setting OrderItemID; claimed keys are never released back
// automatically (refunds are handled manually by an admin).
type ProductKey struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	ProductID   uint       `gorm:"not null;index:idx_product_keys_claim,priority:1" json:"product_id"`
	KeyCode     string     `gorm:"type:varchar(255);not null" json:"-"`
	OrderItemID *uint      `gorm:"index:idx_product_keys_claim,priority:2" json:"order_item_id,omitempty"`
	ReservedAt  *time.Time `gorm:"type:timestamp;default:null" json:"reserved_at,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
