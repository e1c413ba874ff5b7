package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/keyforge-shop/keyforge/internal/pkg/env"
)

const defaultProviderAPIBaseURL = "https://api.nowpayments.io/v1"

// ProviderClient talks to the crypto payment provider's REST API. It is used
// at checkout time to create payments; the pipeline itself only consumes the
// provider's webhooks.
type ProviderClient struct {
	APIKey     string
	APIBaseURL string

	HTTPClient *http.Client
}

// CreatePaymentRequest is the outbound payment creation call.
type CreatePaymentRequest struct {
	PriceAmount      decimal.Decimal `json:"price_amount"`
	PriceCurrency    string          `json:"price_currency"`
	PayCurrency      string          `json:"pay_currency"`
	OrderID          string          `json:"order_id"`
	OrderDescription string          `json:"order_description,omitempty"`
	IPNCallbackURL   string          `json:"ipn_callback_url,omitempty"`
}

// ProviderPayment is the provider's view of a payment, shared by the create
// and status endpoints.
type ProviderPayment struct {
	PaymentID     json.Number     `json:"payment_id"`
	PaymentStatus string          `json:"payment_status"`
	PayAddress    string          `json:"pay_address"`
	PayAmount     decimal.Decimal `json:"pay_amount"`
	PayCurrency   string          `json:"pay_currency"`
	PriceAmount   decimal.Decimal `json:"price_amount"`
	PriceCurrency string          `json:"price_currency"`
	ActuallyPaid  decimal.Decimal `json:"actually_paid"`
	OrderID       string          `json:"order_id"`
}

// NewProviderClientFromEnv builds a client from PAYMENT_* env settings.
func NewProviderClientFromEnv() *ProviderClient {
	return &ProviderClient{
		APIKey:     strings.TrimSpace(env.GetEnv("PAYMENT_API_KEY", "")),
		APIBaseURL: strings.TrimRight(env.GetEnv("PAYMENT_API_BASE_URL", defaultProviderAPIBaseURL), "/"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// CreatePayment registers a new payment with the provider.
func (c *ProviderClient) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*ProviderPayment, error) {
	if strings.TrimSpace(c.APIKey) == "" {
		return nil, errors.New("PAYMENT_API_KEY is not configured")
	}
	if req.PriceAmount.IsZero() || strings.TrimSpace(req.OrderID) == "" {
		return nil, errors.New("price_amount and order_id are required")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal create payment request: %w", err)
	}

	var payment ProviderPayment
	if err := c.doJSON(ctx, http.MethodPost, "/payment", bytes.NewReader(body), &payment); err != nil {
		return nil, err
	}
	if strings.TrimSpace(payment.PaymentID.String()) == "" {
		return nil, errors.New("provider returned no payment_id")
	}
	return &payment, nil
}

// GetPayment fetches the provider's current view of a payment. Used by the
// admin surface to compare provider state against the local record; it never
// feeds the state machines directly.
func (c *ProviderClient) GetPayment(ctx context.Context, externalID string) (*ProviderPayment, error) {
	if strings.TrimSpace(externalID) == "" {
		return nil, errors.New("external payment id is required")
	}

	var payment ProviderPayment
	if err := c.doJSON(ctx, http.MethodGet, "/payment/"+externalID, nil, &payment); err != nil {
		return nil, err
	}
	return &payment, nil
}

func (c *ProviderClient) doJSON(ctx context.Context, method, path string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.APIBaseURL+path, body)
	if err != nil {
		return fmt.Errorf("build provider request: %w", err)
	}
	req.Header.Set("x-api-key", c.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("provider request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read provider response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("provider responded %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode provider response: %w", err)
	}
	return nil
}
