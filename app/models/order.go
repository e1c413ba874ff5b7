package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the customer-facing lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusCreated    OrderStatus = "created"
	OrderStatusWaiting    OrderStatus = "waiting"
	OrderStatusConfirming OrderStatus = "confirming"
	OrderStatusPaid       OrderStatus = "paid"
	OrderStatusUnderpaid  OrderStatus = "underpaid"
	OrderStatusFailed     OrderStatus = "failed"
	OrderStatusFulfilled  OrderStatus = "fulfilled"
	OrderStatusRefunded   OrderStatus = "refunded"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// Order is one checkout session. Its status follows the linked payment via
// the webhook pipeline, except for the admin-only refund/cancel overrides and
// the paid->fulfilled edge which only the fulfillment job may take.
type Order struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	PublicID    string          `gorm:"type:varchar(36);not null;uniqueIndex" json:"public_id"`
	Email       string          `gorm:"type:varchar(255);not null;index" json:"email"`
	Status      OrderStatus     `gorm:"type:varchar(20);not null;default:'created';index" json:"status"`
	TotalAmount decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"total_amount"`
	Currency    string          `gorm:"type:varchar(10);not null" json:"currency"`
	Items       []OrderItem     `gorm:"foreignKey:OrderID" json:"items,omitempty"`
	Payments    []Payment       `gorm:"foreignKey:OrderID" json:"payments,omitempty"`
	FulfilledAt *time.Time      `gorm:"type:timestamp;default:null" json:"fulfilled_at,omitempty"`
	CreatedAt   time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsTerminal reports whether no further automatic transition is possible.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFulfilled, OrderStatusRefunded, OrderStatusCancelled,
		OrderStatusUnderpaid, OrderStatusFailed:
		return true
	default:
		return false
	}
}
