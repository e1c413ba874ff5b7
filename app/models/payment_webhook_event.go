package models

import "time"

// WebhookType classifies inbound provider notifications.
type WebhookType string

const (
	WebhookTypePayment     WebhookType = "payment-notification"
	WebhookTypeFulfillment WebhookType = "fulfillment-notification"
)

// WebhookProcessingStatus is the ledger state of a delivery group.
type WebhookProcessingStatus string

const (
	WebhookStatusPending   WebhookProcessingStatus = "pending"
	WebhookStatusProcessed WebhookProcessingStatus = "processed"
	WebhookStatusFailed    WebhookProcessingStatus = "failed"
)

// PaymentWebhookEvent is the idempotency ledger: exactly one row per distinct
// provider event id, holding the raw payload verbatim for replay and audit.
// Rows are never deleted. Re-delivery of a known external id bumps
// AttemptCount and re-enters processing only while the row is not processed.
type PaymentWebhookEvent struct {
	ID               uint                    `gorm:"primaryKey" json:"id"`
	ExternalID       string                  `gorm:"type:varchar(191);not null;uniqueIndex" json:"external_id"`
	WebhookType      WebhookType             `gorm:"type:varchar(32);not null;index" json:"webhook_type"`
	PayloadJSON      string                  `gorm:"type:longtext;not null" json:"payload_json"`
	SignatureValid   bool                    `gorm:"default:false;index" json:"signature_valid"`
	ProcessingStatus WebhookProcessingStatus `gorm:"type:varchar(16);not null;default:'pending';index" json:"processing_status"`
	AttemptCount     int                     `gorm:"not null;default:1" json:"attempt_count"`
	PaymentID        *uint                   `gorm:"index" json:"payment_id,omitempty"`
	OrderID          *uint                   `gorm:"index" json:"order_id,omitempty"`
	LastError        string                  `gorm:"type:text" json:"last_error"`
	SourceIP         string                  `gorm:"type:varchar(45)" json:"source_ip"`
	CreatedAt        time.Time               `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt        time.Time               `gorm:"autoUpdateTime" json:"updated_at"`
}
