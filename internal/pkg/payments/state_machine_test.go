package payments

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/keyforge-shop/keyforge/app/models"
)

func TestCanTransitionPayment(t *testing.T) {
	tests := []struct {
		from models.PaymentStatus
		to   models.PaymentStatus
		want bool
	}{
		{models.PaymentStatusCreated, models.PaymentStatusWaiting, true},
		{models.PaymentStatusCreated, models.PaymentStatusFinished, true},
		{models.PaymentStatusWaiting, models.PaymentStatusConfirming, true},
		// out-of-order delivery: later state arrives first
		{models.PaymentStatusWaiting, models.PaymentStatusFinished, true},
		{models.PaymentStatusConfirming, models.PaymentStatusConfirmed, true},
		{models.PaymentStatusConfirmed, models.PaymentStatusFinished, true},
		{models.PaymentStatusWaiting, models.PaymentStatusUnderpaid, true},
		{models.PaymentStatusConfirming, models.PaymentStatusFailed, true},
		// no regressions
		{models.PaymentStatusConfirming, models.PaymentStatusWaiting, false},
		{models.PaymentStatusConfirmed, models.PaymentStatusConfirming, false},
		{models.PaymentStatusConfirmed, models.PaymentStatusUnderpaid, false},
		// terminal states allow nothing
		{models.PaymentStatusFinished, models.PaymentStatusFailed, false},
		{models.PaymentStatusUnderpaid, models.PaymentStatusFinished, false},
		{models.PaymentStatusFailed, models.PaymentStatusWaiting, false},
	}

	for _, tt := range tests {
		if got := CanTransitionPayment(tt.from, tt.to); got != tt.want {
			t.Fatalf("CanTransitionPayment(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestCanTransitionPayment_TerminalsAreImmutable(t *testing.T) {
	all := []models.PaymentStatus{
		models.PaymentStatusCreated, models.PaymentStatusWaiting,
		models.PaymentStatusConfirming, models.PaymentStatusConfirmed,
		models.PaymentStatusFinished, models.PaymentStatusUnderpaid,
		models.PaymentStatusFailed,
	}
	for _, terminal := range []models.PaymentStatus{
		models.PaymentStatusFinished, models.PaymentStatusUnderpaid, models.PaymentStatusFailed,
	} {
		for _, to := range all {
			if CanTransitionPayment(terminal, to) {
				t.Fatalf("terminal %s must not allow transition to %s", terminal, to)
			}
		}
	}
}

func TestCanTransitionOrder(t *testing.T) {
	tests := []struct {
		from models.OrderStatus
		to   models.OrderStatus
		want bool
	}{
		{models.OrderStatusCreated, models.OrderStatusWaiting, true},
		{models.OrderStatusWaiting, models.OrderStatusPaid, true},
		{models.OrderStatusPaid, models.OrderStatusFulfilled, true},
		{models.OrderStatusPaid, models.OrderStatusRefunded, true},
		{models.OrderStatusFulfilled, models.OrderStatusRefunded, true},
		{models.OrderStatusUnderpaid, models.OrderStatusRefunded, true},
		{models.OrderStatusCreated, models.OrderStatusCancelled, true},
		{models.OrderStatusConfirming, models.OrderStatusCancelled, true},
		// paid orders cannot be cancelled, only refunded
		{models.OrderStatusPaid, models.OrderStatusCancelled, false},
		// only the fulfillment job's edge reaches fulfilled
		{models.OrderStatusWaiting, models.OrderStatusFulfilled, false},
		{models.OrderStatusRefunded, models.OrderStatusPaid, false},
		{models.OrderStatusCancelled, models.OrderStatusWaiting, false},
		{models.OrderStatusFulfilled, models.OrderStatusPaid, false},
	}

	for _, tt := range tests {
		if got := CanTransitionOrder(tt.from, tt.to); got != tt.want {
			t.Fatalf("CanTransitionOrder(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestIsStalePaymentStatus(t *testing.T) {
	if !IsStalePaymentStatus(models.PaymentStatusConfirming, models.PaymentStatusWaiting) {
		t.Fatalf("waiting after confirming should be stale")
	}
	if !IsStalePaymentStatus(models.PaymentStatusFinished, models.PaymentStatusConfirming) {
		t.Fatalf("confirming after finished should be stale")
	}
	if !IsStalePaymentStatus(models.PaymentStatusFinished, models.PaymentStatusFailed) {
		t.Fatalf("terminal statuses share rank, failed after finished is stale")
	}
	if IsStalePaymentStatus(models.PaymentStatusWaiting, models.PaymentStatusConfirmed) {
		t.Fatalf("confirmed after waiting is progress, not stale")
	}
}

func TestApplyTransition_SameStatusIsNoOp(t *testing.T) {
	p := &models.Payment{Status: models.PaymentStatusWaiting, Confirmations: 2}

	res := ApplyTransition(p, models.PaymentStatusWaiting, TransitionUpdate{Confirmations: 5})
	if res.Changed || res.Rejected || res.FirstTerminal {
		t.Fatalf("same-status delivery must be a pure no-op, got %+v", res)
	}
	if p.Confirmations != 2 {
		t.Fatalf("no-op must not touch the payment, confirmations = %d", p.Confirmations)
	}
}

func TestApplyTransition_RejectedLeavesPaymentUntouched(t *testing.T) {
	p := &models.Payment{Status: models.PaymentStatusConfirmed, Confirmations: 3}

	res := ApplyTransition(p, models.PaymentStatusWaiting, TransitionUpdate{Confirmations: 9})
	if !res.Rejected {
		t.Fatalf("expected rejection for confirmed -> waiting")
	}
	if res.Changed || res.FirstTerminal {
		t.Fatalf("rejected transition must not report changes, got %+v", res)
	}
	if p.Status != models.PaymentStatusConfirmed || p.Confirmations != 3 {
		t.Fatalf("rejected transition mutated the payment: %+v", p)
	}
}

func TestApplyTransition_AppliesPayloadFields(t *testing.T) {
	p := &models.Payment{Status: models.PaymentStatusWaiting, Confirmations: 4}

	res := ApplyTransition(p, models.PaymentStatusConfirming, TransitionUpdate{
		Confirmations: 6,
		ActuallyPaid:  decimal.RequireFromString("0.5"),
		RawPayload:    `{"payment_status":"confirming"}`,
	})
	if !res.Changed || res.Rejected {
		t.Fatalf("expected applied transition, got %+v", res)
	}
	if res.FirstTerminal {
		t.Fatalf("confirming is not terminal")
	}
	if res.Previous != models.PaymentStatusWaiting {
		t.Fatalf("previous = %s, want waiting", res.Previous)
	}
	if p.Status != models.PaymentStatusConfirming {
		t.Fatalf("status = %s, want confirming", p.Status)
	}
	if p.Confirmations != 6 {
		t.Fatalf("confirmations = %d, want 6", p.Confirmations)
	}
	if !p.ActuallyPaid.Equal(decimal.RequireFromString("0.5")) {
		t.Fatalf("actually_paid = %s, want 0.5", p.ActuallyPaid)
	}
	if p.RawPayloadJSON == "" {
		t.Fatalf("raw payload not stored")
	}
}

func TestApplyTransition_ConfirmationsAreMonotonic(t *testing.T) {
	p := &models.Payment{Status: models.PaymentStatusWaiting, Confirmations: 8}

	ApplyTransition(p, models.PaymentStatusConfirming, TransitionUpdate{Confirmations: 3})
	if p.Confirmations != 8 {
		t.Fatalf("confirmations regressed to %d", p.Confirmations)
	}
}

func TestApplyTransition_FirstTerminal(t *testing.T) {
	p := &models.Payment{Status: models.PaymentStatusConfirmed}

	res := ApplyTransition(p, models.PaymentStatusFinished, TransitionUpdate{})
	if !res.FirstTerminal {
		t.Fatalf("first entry into finished must set FirstTerminal")
	}

	// terminal state; result of a replayed delivery
	res = ApplyTransition(p, models.PaymentStatusFinished, TransitionUpdate{})
	if res.FirstTerminal || res.Changed {
		t.Fatalf("re-delivery of finished must not re-fire, got %+v", res)
	}
}

func TestSyncOrderToPayment(t *testing.T) {
	tests := []struct {
		order       models.OrderStatus
		payment     models.PaymentStatus
		wantStatus  models.OrderStatus
		wantChanged bool
		wantDropped bool
	}{
		{models.OrderStatusCreated, models.PaymentStatusWaiting, models.OrderStatusWaiting, true, false},
		{models.OrderStatusWaiting, models.PaymentStatusConfirming, models.OrderStatusConfirming, true, false},
		// confirmed maps onto confirming
		{models.OrderStatusWaiting, models.PaymentStatusConfirmed, models.OrderStatusConfirming, true, false},
		{models.OrderStatusConfirming, models.PaymentStatusFinished, models.OrderStatusPaid, true, false},
		{models.OrderStatusWaiting, models.PaymentStatusUnderpaid, models.OrderStatusUnderpaid, true, false},
		// same status, nothing to do
		{models.OrderStatusConfirming, models.PaymentStatusConfirming, models.OrderStatusConfirming, false, false},
		// stale confirming against a fulfilled order is dropped
		{models.OrderStatusFulfilled, models.PaymentStatusConfirming, models.OrderStatusFulfilled, false, true},
		// refunded orders never move again
		{models.OrderStatusRefunded, models.PaymentStatusFinished, models.OrderStatusRefunded, false, true},
	}

	for _, tt := range tests {
		o := &models.Order{Status: tt.order}
		res := SyncOrderToPayment(o, tt.payment)
		if res.Changed != tt.wantChanged || res.Dropped != tt.wantDropped {
			t.Fatalf("SyncOrderToPayment(%s, %s) = %+v, want changed=%v dropped=%v",
				tt.order, tt.payment, res, tt.wantChanged, tt.wantDropped)
		}
		if o.Status != tt.wantStatus {
			t.Fatalf("order status after sync(%s, %s) = %s, want %s",
				tt.order, tt.payment, o.Status, tt.wantStatus)
		}
	}
}
