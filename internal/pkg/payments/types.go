package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/keyforge-shop/keyforge/app/models"
)

// IPNPayload is the parsed body of a provider payment notification. Only the
// fields the pipeline acts on are mapped; the raw bytes are preserved in the
// ledger regardless.
type IPNPayload struct {
	PaymentID     json.Number     `json:"payment_id"`
	PaymentStatus string          `json:"payment_status"`
	OrderID       string          `json:"order_id"`
	PriceAmount   decimal.Decimal `json:"price_amount"`
	PriceCurrency string          `json:"price_currency"`
	PayCurrency   string          `json:"pay_currency"`
	ActuallyPaid  decimal.Decimal `json:"actually_paid"`
	Confirmations int             `json:"confirmations"`
}

// ParseIPNPayload decodes and minimally validates a notification body.
// A failure here is a transport-level error: no ledger row exists yet, so the
// HTTP handler may answer non-2xx.
func ParseIPNPayload(raw []byte) (*IPNPayload, error) {
	var p IPNPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("unparseable notification body: %w", err)
	}
	if strings.TrimSpace(p.PaymentID.String()) == "" {
		return nil, errors.New("notification is missing payment_id")
	}
	if strings.TrimSpace(p.PaymentStatus) == "" {
		return nil, errors.New("notification is missing payment_status")
	}
	return &p, nil
}

// ExtractExternalID pulls the dedupe key out of a raw delivery before the
// full parse. Payment notifications carry the full IPN shape; fulfillment
// notifications only need an id to be recorded, their body is audit-only.
func ExtractExternalID(raw []byte, webhookType models.WebhookType) (string, error) {
	if webhookType == models.WebhookTypePayment {
		p, err := ParseIPNPayload(raw)
		if err != nil {
			return "", err
		}
		return p.PaymentID.String(), nil
	}

	var probe struct {
		ID        json.Number `json:"id"`
		PaymentID json.Number `json:"payment_id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return "", fmt.Errorf("unparseable notification body: %w", err)
	}
	if id := strings.TrimSpace(probe.ID.String()); id != "" {
		return id, nil
	}
	if id := strings.TrimSpace(probe.PaymentID.String()); id != "" {
		return id, nil
	}
	return "", errors.New("notification is missing an id")
}

// WebhookEventInput is the normalized input for ledger ingestion.
type WebhookEventInput struct {
	ExternalID     string
	WebhookType    models.WebhookType
	RawPayload     []byte
	SignatureValid bool
	SourceIP       string
}

// IngestResult reports what a single delivery did.
type IngestResult struct {
	Duplicate bool
	Event     *models.PaymentWebhookEvent
}

// ReplayResult reports the outcome of replaying one ledger row.
type ReplayResult struct {
	EventID uint
	Err     error
}
