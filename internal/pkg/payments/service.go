package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/keyforge-shop/keyforge/app/models"
)

// nowFunc is swapped out in tests.
var nowFunc = time.Now

// FulfillmentDispatcher enqueues the deliver-keys job for an order. The
// implementation must deduplicate on the order id so re-invocation is a
// no-op.
type FulfillmentDispatcher interface {
	EnqueueFulfillment(ctx context.Context, orderID uint) error
}

// Notifier sends the customer email for a payment outcome. Failures are
// logged by the implementation, never retried from the pipeline.
type Notifier interface {
	NotifyPaymentOutcome(ctx context.Context, order models.Order, payment models.Payment, previous models.PaymentStatus)
}

// Service runs the webhook pipeline: ledger claim, signature gate, payment
// and order transitions, side-effect dispatch, outcome bookkeeping.
type Service struct {
	repo       Repository
	dispatcher FulfillmentDispatcher
	notifier   Notifier
}

// NewService creates a pipeline service from injected collaborators.
func NewService(repo Repository, dispatcher FulfillmentDispatcher, notifier Notifier) *Service {
	return &Service{repo: repo, dispatcher: dispatcher, notifier: notifier}
}

// NewServiceFromDB creates a pipeline service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, dispatcher FulfillmentDispatcher, notifier Notifier) *Service {
	return NewService(NewRepository(db), dispatcher, notifier)
}

// sideEffects is collected inside the transaction and fired after commit, so
// a rollback never leaves an email sent or a job enqueued for state that was
// undone.
type sideEffects struct {
	enqueueOrderID uint
	notifyOrder    *models.Order
	notifyPayment  *models.Payment
	previous       models.PaymentStatus
}

// Ingest records one inbound delivery and, unless it is a duplicate or fails
// signature verification, drives it through the state machines. Everything up
// to and including the outcome mark runs in a single transaction; the unique
// key on external_id plus the row lock taken during the claim serialize
// concurrent deliveries of the same id.
func (s *Service) Ingest(ctx context.Context, in WebhookEventInput) (*IngestResult, error) {
	event := &models.PaymentWebhookEvent{
		ExternalID:       in.ExternalID,
		WebhookType:      in.WebhookType,
		PayloadJSON:      string(in.RawPayload),
		SignatureValid:   in.SignatureValid,
		ProcessingStatus: models.WebhookStatusPending,
		AttemptCount:     1,
		SourceIP:         in.SourceIP,
	}

	res := &IngestResult{}
	var effects sideEffects
	err := s.repo.WithTransaction(ctx, func(tx Repository) error {
		outcome, stored, err := tx.ClaimWebhookEvent(ctx, event)
		if err != nil {
			return err
		}
		res.Event = stored

		switch outcome {
		case ClaimDuplicate:
			res.Duplicate = true
			return nil
		case ClaimRetry:
			log.Infof("[Payments] re-attempting webhook %s (attempt %d)", stored.ExternalID, stored.AttemptCount)
		}

		if !stored.SignatureValid {
			// Recorded for audit, but no state mutation happens on an
			// unverified payload.
			return tx.MarkWebhookOutcome(ctx, stored.ID, models.WebhookStatusFailed, nil, nil, "invalid webhook signature")
		}

		effects, err = s.runPipeline(ctx, tx, stored)
		return err
	})
	if err != nil {
		// Best effort: if the ledger row survived (retry of an existing
		// record), leave it failed so the provider retry or an admin replay
		// can pick it up.
		if res.Event != nil && res.Event.ID != 0 {
			_ = s.repo.MarkWebhookOutcome(ctx, res.Event.ID, models.WebhookStatusFailed, nil, nil, err.Error())
		}
		return res, err
	}

	s.fireSideEffects(ctx, effects)
	return res, nil
}

// runPipeline applies one recorded delivery to the payment and order state
// machines. The caller holds the ledger row claim; this function marks the
// row's outcome before returning. Business-level rejections (unparseable
// payload, unknown payment, illegal transition) are recorded on the row and
// do not surface as errors.
func (s *Service) runPipeline(ctx context.Context, tx Repository, event *models.PaymentWebhookEvent) (sideEffects, error) {
	var eff sideEffects

	if event.WebhookType != models.WebhookTypePayment {
		// Non-payment notifications are kept for audit only.
		return eff, tx.MarkWebhookOutcome(ctx, event.ID, models.WebhookStatusProcessed, nil, nil, "")
	}

	payload, perr := ParseIPNPayload([]byte(event.PayloadJSON))
	if perr != nil {
		return eff, tx.MarkWebhookOutcome(ctx, event.ID, models.WebhookStatusFailed, nil, nil, perr.Error())
	}

	payment, err := tx.GetPaymentByExternalIDForUpdate(ctx, event.ExternalID)
	if errors.Is(err, ErrPaymentNotFound) {
		return eff, tx.MarkWebhookOutcome(ctx, event.ID, models.WebhookStatusFailed, nil, nil,
			fmt.Sprintf("no payment with external id %s", event.ExternalID))
	}
	if err != nil {
		return eff, err
	}

	proposed := models.PaymentStatus(payload.PaymentStatus)
	if !proposed.IsKnown() {
		return eff, tx.MarkWebhookOutcome(ctx, event.ID, models.WebhookStatusFailed, &payment.ID, &payment.OrderID,
			fmt.Sprintf("unknown payment_status %q", payload.PaymentStatus))
	}

	tr := ApplyTransition(payment, proposed, TransitionUpdate{
		Confirmations: payload.Confirmations,
		ActuallyPaid:  payload.ActuallyPaid,
		RawPayload:    event.PayloadJSON,
	})
	if tr.Rejected {
		if IsStalePaymentStatus(payment.Status, proposed) {
			// Late delivery of a state the payment already moved past.
			log.Infof("[Payments] stale status %s for payment %d already %s (webhook %s)",
				proposed, payment.ID, payment.Status, event.ExternalID)
		} else {
			log.Warnf("[Payments] rejected transition %s -> %s for payment %d (webhook %s)",
				payment.Status, proposed, payment.ID, event.ExternalID)
		}
		// No state mutation happened, so the record stays inspectable and
		// replayable instead of advancing to processed.
		return eff, tx.MarkWebhookOutcome(ctx, event.ID, models.WebhookStatusFailed, &payment.ID, &payment.OrderID,
			fmt.Sprintf("illegal transition %s -> %s", payment.Status, proposed))
	}

	if tr.Changed {
		if err := tx.SavePayment(ctx, payment); err != nil {
			return eff, err
		}
	}

	order, err := tx.GetOrderForUpdate(ctx, payment.OrderID)
	if err != nil {
		return eff, err
	}
	sync := SyncOrderToPayment(order, payment.Status)
	if sync.Dropped {
		log.Warnf("[Payments] dropped order sync %s -> %s for order %d (webhook %s)",
			sync.Previous, sync.Target, order.ID, event.ExternalID)
	}
	if sync.Changed {
		if err := tx.SaveOrder(ctx, order); err != nil {
			return eff, err
		}
	}

	if err := tx.MarkWebhookOutcome(ctx, event.ID, models.WebhookStatusProcessed, &payment.ID, &order.ID, ""); err != nil {
		return eff, err
	}

	if tr.FirstTerminal {
		orderCopy := *order
		paymentCopy := *payment
		eff.notifyOrder = &orderCopy
		eff.notifyPayment = &paymentCopy
		eff.previous = tr.Previous
		if payment.Status == models.PaymentStatusFinished && sync.Changed && order.Status == models.OrderStatusPaid {
			eff.enqueueOrderID = order.ID
		}
	}
	return eff, nil
}

// fireSideEffects runs after the pipeline transaction committed. The queue's
// dedupe key makes the enqueue idempotent; the email is fire-and-forget.
func (s *Service) fireSideEffects(ctx context.Context, eff sideEffects) {
	if eff.enqueueOrderID != 0 {
		if err := s.dispatcher.EnqueueFulfillment(ctx, eff.enqueueOrderID); err != nil {
			log.Errorf("[Payments] failed to enqueue fulfillment for order %d: %v", eff.enqueueOrderID, err)
		}
	}
	if eff.notifyOrder != nil && eff.notifyPayment != nil {
		s.notifier.NotifyPaymentOutcome(ctx, *eff.notifyOrder, *eff.notifyPayment, eff.previous)
	}
}

// RegisterPayment stores the provider payment created at checkout.
func (s *Service) RegisterPayment(ctx context.Context, p *models.Payment) error {
	if p.Status == "" {
		p.Status = models.PaymentStatusCreated
	}
	return s.repo.CreatePayment(ctx, p)
}

// CompleteFulfillment advances an order paid -> fulfilled once the delivery
// job succeeded. Already-fulfilled orders are a no-op so job retries and
// replays stay safe.
func (s *Service) CompleteFulfillment(ctx context.Context, orderID uint) error {
	return s.repo.WithTransaction(ctx, func(tx Repository) error {
		order, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status == models.OrderStatusFulfilled {
			return nil
		}
		if !CanTransitionOrder(order.Status, models.OrderStatusFulfilled) {
			return fmt.Errorf("order %d cannot move %s -> fulfilled", orderID, order.Status)
		}
		order.Status = models.OrderStatusFulfilled
		now := nowFunc()
		order.FulfilledAt = &now
		return tx.SaveOrder(ctx, order)
	})
}

// MarkOrderRefunded is the admin-only refund override.
func (s *Service) MarkOrderRefunded(ctx context.Context, orderID uint) error {
	return s.adminTransition(ctx, orderID, models.OrderStatusRefunded)
}

// MarkOrderCancelled is the admin-only cancel override.
func (s *Service) MarkOrderCancelled(ctx context.Context, orderID uint) error {
	return s.adminTransition(ctx, orderID, models.OrderStatusCancelled)
}

func (s *Service) adminTransition(ctx context.Context, orderID uint, target models.OrderStatus) error {
	return s.repo.WithTransaction(ctx, func(tx Repository) error {
		order, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !CanTransitionOrder(order.Status, target) {
			return fmt.Errorf("order %d cannot move %s -> %s", orderID, order.Status, target)
		}
		order.Status = target
		return tx.SaveOrder(ctx, order)
	})
}
