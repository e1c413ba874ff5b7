package payments

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/keyforge-shop/keyforge/app/models"
	"github.com/keyforge-shop/keyforge/internal/pkg/mail"
)

// SMTPNotifier sends the three semantic outcome emails (paid, underpaid,
// failed) through the SMTP mailer. At-most-once delivery is guaranteed by the
// caller's first-terminal gate, not by any bookkeeping here.
type SMTPNotifier struct{}

// NewSMTPNotifier creates the default notifier.
func NewSMTPNotifier() *SMTPNotifier {
	return &SMTPNotifier{}
}

func (n *SMTPNotifier) NotifyPaymentOutcome(ctx context.Context, order models.Order, payment models.Payment, previous models.PaymentStatus) {
	_ = ctx
	var subject, body string
	switch payment.Status {
	case models.PaymentStatusFinished:
		subject = fmt.Sprintf("Order %s: payment received", order.PublicID)
		body = fmt.Sprintf(
			"<p>Your payment of %s %s has been confirmed.</p>"+
				"<p>Your keys are being prepared and will arrive in a separate email shortly.</p>",
			payment.ActuallyPaid.String(), payment.PayCurrency)
	case models.PaymentStatusUnderpaid:
		subject = fmt.Sprintf("Order %s: incomplete payment", order.PublicID)
		body = fmt.Sprintf(
			"<p>We received %s %s, which is less than the amount due for your order.</p>"+
				"<p>Please contact support to resolve this payment.</p>",
			payment.ActuallyPaid.String(), payment.PayCurrency)
	case models.PaymentStatusFailed:
		subject = fmt.Sprintf("Order %s: payment failed", order.PublicID)
		body = "<p>Your payment could not be completed. No funds were captured.</p>" +
			"<p>You can retry the checkout at any time.</p>"
	default:
		return
	}

	if err := mail.SendMail(order.Email, subject, body); err != nil {
		log.Errorf("[Payments] outcome email for order %d failed: %v", order.ID, err)
	}
}
