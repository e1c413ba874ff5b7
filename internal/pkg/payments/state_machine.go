package payments

import (
	"github.com/shopspring/decimal"

	"github.com/keyforge-shop/keyforge/app/models"
)

// paymentTransitions maps each payment status to its allowed successors.
// Provider notifications are not guaranteed ordered, so every forward edge is
// allowed (a delayed "confirming" must not block an earlier-arriving
// "finished"). Terminal states allow nothing.
var paymentTransitions = map[models.PaymentStatus][]models.PaymentStatus{
	models.PaymentStatusCreated: {
		models.PaymentStatusWaiting, models.PaymentStatusConfirming,
		models.PaymentStatusConfirmed, models.PaymentStatusFinished,
		models.PaymentStatusUnderpaid, models.PaymentStatusFailed,
	},
	models.PaymentStatusWaiting: {
		models.PaymentStatusConfirming, models.PaymentStatusConfirmed,
		models.PaymentStatusFinished, models.PaymentStatusUnderpaid,
		models.PaymentStatusFailed,
	},
	models.PaymentStatusConfirming: {
		models.PaymentStatusConfirmed, models.PaymentStatusFinished,
		models.PaymentStatusUnderpaid, models.PaymentStatusFailed,
	},
	models.PaymentStatusConfirmed: {
		models.PaymentStatusFinished,
	},
	models.PaymentStatusFinished:  {},
	models.PaymentStatusUnderpaid: {},
	models.PaymentStatusFailed:    {},
}

// paymentStatusRank orders payment statuses along the lifecycle. Terminal
// states share the top rank; a rejected transition whose target does not
// outrank the current status is a stale re-delivery, not an anomaly.
var paymentStatusRank = map[models.PaymentStatus]int{
	models.PaymentStatusCreated:    0,
	models.PaymentStatusWaiting:    1,
	models.PaymentStatusConfirming: 2,
	models.PaymentStatusConfirmed:  3,
	models.PaymentStatusFinished:   4,
	models.PaymentStatusUnderpaid:  4,
	models.PaymentStatusFailed:     4,
}

// orderStatusForPayment is the fixed payment->order status mapping.
var orderStatusForPayment = map[models.PaymentStatus]models.OrderStatus{
	models.PaymentStatusCreated:    models.OrderStatusCreated,
	models.PaymentStatusWaiting:    models.OrderStatusWaiting,
	models.PaymentStatusConfirming: models.OrderStatusConfirming,
	models.PaymentStatusConfirmed:  models.OrderStatusConfirming,
	models.PaymentStatusFinished:   models.OrderStatusPaid,
	models.PaymentStatusUnderpaid:  models.OrderStatusUnderpaid,
	models.PaymentStatusFailed:     models.OrderStatusFailed,
}

// orderTransitions maps each order status to its allowed successors,
// including the two admin-only overrides (refund, cancel) and the
// paid->fulfilled edge owned by the fulfillment job.
var orderTransitions = map[models.OrderStatus][]models.OrderStatus{
	models.OrderStatusCreated: {
		models.OrderStatusWaiting, models.OrderStatusConfirming,
		models.OrderStatusPaid, models.OrderStatusUnderpaid,
		models.OrderStatusFailed, models.OrderStatusCancelled,
	},
	models.OrderStatusWaiting: {
		models.OrderStatusConfirming, models.OrderStatusPaid,
		models.OrderStatusUnderpaid, models.OrderStatusFailed,
		models.OrderStatusCancelled,
	},
	models.OrderStatusConfirming: {
		models.OrderStatusPaid, models.OrderStatusUnderpaid,
		models.OrderStatusFailed, models.OrderStatusCancelled,
	},
	models.OrderStatusPaid: {
		models.OrderStatusFulfilled, models.OrderStatusRefunded,
	},
	models.OrderStatusUnderpaid: {models.OrderStatusRefunded},
	models.OrderStatusFailed:    {models.OrderStatusRefunded},
	models.OrderStatusFulfilled: {models.OrderStatusRefunded},
	models.OrderStatusRefunded:  {},
	models.OrderStatusCancelled: {},
}

// CanTransitionPayment reports whether from -> to is in the transition table.
func CanTransitionPayment(from, to models.PaymentStatus) bool {
	for _, allowed := range paymentTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// CanTransitionOrder reports whether from -> to is in the order table.
func CanTransitionOrder(from, to models.OrderStatus) bool {
	for _, allowed := range orderTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsStalePaymentStatus reports whether proposed does not advance past the
// current status, i.e. a late or duplicate notification.
func IsStalePaymentStatus(current, proposed models.PaymentStatus) bool {
	return paymentStatusRank[proposed] <= paymentStatusRank[current]
}

// TransitionUpdate carries the payload fields applied together with a status
// change.
type TransitionUpdate struct {
	Confirmations int
	ActuallyPaid  decimal.Decimal
	RawPayload    string
}

// TransitionResult describes the outcome of ApplyTransition.
type TransitionResult struct {
	Changed       bool
	Rejected      bool
	FirstTerminal bool
	Previous      models.PaymentStatus
}

// ApplyTransition advances the payment to proposed if the transition table
// allows it. Re-delivery of the current status is a no-op; an illegal
// transition leaves the payment untouched and is reported via Rejected so the
// caller can log the anomaly instead of crashing. FirstTerminal is set on the
// payment's first entry into a terminal state and is the single gate for
// fulfillment and notification side effects.
func ApplyTransition(p *models.Payment, proposed models.PaymentStatus, upd TransitionUpdate) TransitionResult {
	res := TransitionResult{Previous: p.Status}

	if proposed == p.Status {
		return res
	}
	if !CanTransitionPayment(p.Status, proposed) {
		res.Rejected = true
		return res
	}

	p.Status = proposed
	if upd.Confirmations > p.Confirmations {
		p.Confirmations = upd.Confirmations
	}
	if upd.ActuallyPaid.IsPositive() {
		p.ActuallyPaid = upd.ActuallyPaid
	}
	if upd.RawPayload != "" {
		p.RawPayloadJSON = upd.RawPayload
	}

	res.Changed = true
	res.FirstTerminal = proposed.IsTerminal()
	return res
}

// OrderSyncResult describes the outcome of SyncOrderToPayment.
type OrderSyncResult struct {
	Changed  bool
	Dropped  bool
	Previous models.OrderStatus
	Target   models.OrderStatus
}

// SyncOrderToPayment derives the order status from the payment status and
// applies it when the order transition table allows the move. A target that
// would regress a further-progressed order (e.g. a stale "confirming" hitting
// a fulfilled order) is dropped, never applied.
func SyncOrderToPayment(o *models.Order, paymentStatus models.PaymentStatus) OrderSyncResult {
	target := orderStatusForPayment[paymentStatus]
	res := OrderSyncResult{Previous: o.Status, Target: target}

	if target == o.Status {
		return res
	}
	if !CanTransitionOrder(o.Status, target) {
		res.Dropped = true
		return res
	}

	o.Status = target
	res.Changed = true
	return res
}
