package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the provider-facing lifecycle state of a payment.
type PaymentStatus string

const (
	PaymentStatusCreated    PaymentStatus = "created"
	PaymentStatusWaiting    PaymentStatus = "waiting"
	PaymentStatusConfirming PaymentStatus = "confirming"
	PaymentStatusConfirmed  PaymentStatus = "confirmed"
	PaymentStatusFinished   PaymentStatus = "finished"
	PaymentStatusUnderpaid  PaymentStatus = "underpaid"
	PaymentStatusFailed     PaymentStatus = "failed"
)

// Payment is one payment attempt at the crypto payment provider. It is
// created at checkout time and afterwards mutated exclusively by the webhook
// pipeline. Rows are never deleted; they are the financial audit record.
type Payment struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	OrderID        uint            `gorm:"not null;index" json:"order_id"`
	Order          Order           `gorm:"foreignKey:OrderID" json:"order,omitempty"`
	ExternalID     string          `gorm:"type:varchar(64);not null;uniqueIndex" json:"external_id"`
	Status         PaymentStatus   `gorm:"type:varchar(20);not null;default:'created';index" json:"status"`
	PriceAmount    decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"price_amount"`
	PriceCurrency  string          `gorm:"type:varchar(10);not null" json:"price_currency"`
	PayCurrency    string          `gorm:"type:varchar(10);not null" json:"pay_currency"`
	PayAddress     string          `gorm:"type:varchar(128)" json:"pay_address"`
	ActuallyPaid   decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"actually_paid"`
	Confirmations  int             `gorm:"not null;default:0" json:"confirmations"`
	RawPayloadJSON string          `gorm:"type:longtext" json:"-"`
	CreatedAt      time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsTerminal reports whether the payment has reached a final state.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusFinished, PaymentStatusUnderpaid, PaymentStatusFailed:
		return true
	default:
		return false
	}
}

// IsKnown reports whether s is a status this system understands. Provider
// payloads are case-sensitive, unknown values are rejected upstream.
func (s PaymentStatus) IsKnown() bool {
	switch s {
	case PaymentStatusCreated, PaymentStatusWaiting, PaymentStatusConfirming,
		PaymentStatusConfirmed, PaymentStatusFinished, PaymentStatusUnderpaid,
		PaymentStatusFailed:
		return true
	default:
		return false
	}
}
