package payments

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyforge-shop/keyforge/app/models"
)

// fakeRepository is an in-memory Repository. It is good enough for pipeline
// semantics; txMu stands in for the unique-key claim and FOR UPDATE row locks
// by serializing whole transactions.
type fakeRepository struct {
	txMu sync.Mutex
	mu   sync.Mutex

	nextEventID uint
	events      map[string]*models.PaymentWebhookEvent // by external id
	payments    map[string]*models.Payment             // by external id
	orders      map[uint]*models.Order
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		events:   make(map[string]*models.PaymentWebhookEvent),
		payments: make(map[string]*models.Payment),
		orders:   make(map[uint]*models.Order),
	}
}

func (f *fakeRepository) WithTransaction(_ context.Context, fn func(tx Repository) error) error {
	f.txMu.Lock()
	defer f.txMu.Unlock()
	return fn(f)
}

func (f *fakeRepository) ClaimWebhookEvent(_ context.Context, event *models.PaymentWebhookEvent) (ClaimOutcome, *models.PaymentWebhookEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if stored, ok := f.events[event.ExternalID]; ok {
		if stored.ProcessingStatus == models.WebhookStatusProcessed {
			return ClaimDuplicate, stored, nil
		}
		stored.AttemptCount++
		stored.ProcessingStatus = models.WebhookStatusPending
		return ClaimRetry, stored, nil
	}

	f.nextEventID++
	event.ID = f.nextEventID
	f.events[event.ExternalID] = event
	return ClaimNew, event, nil
}

func (f *fakeRepository) GetWebhookEventByID(_ context.Context, id uint) (*models.PaymentWebhookEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.events {
		if e.ID == id {
			// fresh copy, like a row read
			loaded := *e
			return &loaded, nil
		}
	}
	return nil, fmt.Errorf("webhook event %d not found", id)
}

func (f *fakeRepository) BumpWebhookAttempt(_ context.Context, id uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.events {
		if e.ID == id {
			e.AttemptCount++
			return nil
		}
	}
	return fmt.Errorf("webhook event %d not found", id)
}

func (f *fakeRepository) MarkWebhookOutcome(_ context.Context, id uint, status models.WebhookProcessingStatus, paymentID, orderID *uint, lastError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.events {
		if e.ID == id {
			e.ProcessingStatus = status
			e.LastError = lastError
			if paymentID != nil {
				e.PaymentID = paymentID
			}
			if orderID != nil {
				e.OrderID = orderID
			}
			return nil
		}
	}
	return fmt.Errorf("webhook event %d not found", id)
}

func (f *fakeRepository) GetPaymentByExternalIDForUpdate(_ context.Context, externalID string) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[externalID]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	return p, nil
}

func (f *fakeRepository) SavePayment(_ context.Context, p *models.Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payments[p.ExternalID] = p
	return nil
}

func (f *fakeRepository) CreatePayment(_ context.Context, p *models.Payment) error {
	return f.SavePayment(context.Background(), p)
}

func (f *fakeRepository) GetOrderForUpdate(_ context.Context, id uint) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d not found", id)
	}
	return o, nil
}

func (f *fakeRepository) SaveOrder(_ context.Context, o *models.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[o.ID] = o
	return nil
}

type fakeDispatcher struct {
	mu       sync.Mutex
	enqueued []uint
}

func (d *fakeDispatcher) EnqueueFulfillment(_ context.Context, orderID uint) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enqueued = append(d.enqueued, orderID)
	return nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	notified []models.PaymentStatus
}

func (n *fakeNotifier) NotifyPaymentOutcome(_ context.Context, _ models.Order, payment models.Payment, _ models.PaymentStatus) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notified = append(n.notified, payment.Status)
}

type pipelineFixture struct {
	repo       *fakeRepository
	dispatcher *fakeDispatcher
	notifier   *fakeNotifier
	svc        *Service
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()

	repo := newFakeRepository()
	dispatcher := &fakeDispatcher{}
	notifier := &fakeNotifier{}

	repo.orders[1] = &models.Order{ID: 1, PublicID: "ord-1", Email: "buyer@example.com", Status: models.OrderStatusCreated}
	repo.payments["5001"] = &models.Payment{ID: 10, OrderID: 1, ExternalID: "5001", Status: models.PaymentStatusCreated}

	return &pipelineFixture{
		repo:       repo,
		dispatcher: dispatcher,
		notifier:   notifier,
		svc:        NewService(repo, dispatcher, notifier),
	}
}

func (fx *pipelineFixture) deliver(t *testing.T, status string, extra string) *IngestResult {
	t.Helper()

	body := fmt.Sprintf(`{"payment_id":5001,"payment_status":%q%s}`, status, extra)
	res, err := fx.svc.Ingest(context.Background(), WebhookEventInput{
		ExternalID:     "evt-" + status,
		WebhookType:    models.WebhookTypePayment,
		RawPayload:     []byte(body),
		SignatureValid: true,
		SourceIP:       "203.0.113.7",
	})
	require.NoError(t, err)
	return res
}

func TestIngest_HappyPath(t *testing.T) {
	fx := newPipelineFixture(t)

	fx.deliver(t, "waiting", "")
	fx.deliver(t, "confirming", `,"confirmations":1`)
	fx.deliver(t, "confirmed", `,"confirmations":6`)
	fx.deliver(t, "finished", `,"actually_paid":0.0005`)

	payment := fx.repo.payments["5001"]
	assert.Equal(t, models.PaymentStatusFinished, payment.Status)
	assert.Equal(t, 6, payment.Confirmations)

	order := fx.repo.orders[1]
	assert.Equal(t, models.OrderStatusPaid, order.Status)

	require.Len(t, fx.dispatcher.enqueued, 1)
	assert.Equal(t, uint(1), fx.dispatcher.enqueued[0])
	require.Len(t, fx.notifier.notified, 1)
	assert.Equal(t, models.PaymentStatusFinished, fx.notifier.notified[0])

	for _, event := range fx.repo.events {
		assert.Equal(t, models.WebhookStatusProcessed, event.ProcessingStatus)
	}
}

func TestIngest_Underpaid(t *testing.T) {
	fx := newPipelineFixture(t)

	fx.deliver(t, "waiting", "")
	fx.deliver(t, "underpaid", `,"actually_paid":0.0001`)

	assert.Equal(t, models.PaymentStatusUnderpaid, fx.repo.payments["5001"].Status)
	assert.Equal(t, models.OrderStatusUnderpaid, fx.repo.orders[1].Status)

	// terminal outcome notifies the customer but never enqueues fulfillment
	assert.Empty(t, fx.dispatcher.enqueued)
	require.Len(t, fx.notifier.notified, 1)
	assert.Equal(t, models.PaymentStatusUnderpaid, fx.notifier.notified[0])
}

func TestIngest_ExactDuplicateIsNoOp(t *testing.T) {
	fx := newPipelineFixture(t)

	first := fx.deliver(t, "finished", "")
	assert.False(t, first.Duplicate)

	second := fx.deliver(t, "finished", "")
	assert.True(t, second.Duplicate)

	// one enqueue, one email, regardless of delivery count
	assert.Len(t, fx.dispatcher.enqueued, 1)
	assert.Len(t, fx.notifier.notified, 1)
	assert.Equal(t, 1, second.Event.AttemptCount)
}

func TestIngest_ConcurrentDuplicateDelivery(t *testing.T) {
	fx := newPipelineFixture(t)

	// the provider retries aggressively, so the same notification can land
	// on several handlers at once
	const deliveries = 8
	errs := make(chan error, deliveries)
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := fx.svc.Ingest(context.Background(), WebhookEventInput{
				ExternalID:     "evt-finished",
				WebhookType:    models.WebhookTypePayment,
				RawPayload:     []byte(`{"payment_id":5001,"payment_status":"finished"}`),
				SignatureValid: true,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, models.PaymentStatusFinished, fx.repo.payments["5001"].Status)
	assert.Equal(t, models.OrderStatusPaid, fx.repo.orders[1].Status)

	event := fx.repo.events["evt-finished"]
	require.NotNil(t, event)
	assert.Equal(t, models.WebhookStatusProcessed, event.ProcessingStatus)
	assert.Equal(t, 1, event.AttemptCount)

	// exactly one winner produced side effects
	assert.Len(t, fx.dispatcher.enqueued, 1)
	assert.Len(t, fx.notifier.notified, 1)
}

func TestIngest_OutOfOrderDelivery(t *testing.T) {
	fx := newPipelineFixture(t)

	fx.deliver(t, "waiting", "")
	// "finished" overtakes "confirming" in transit
	fx.deliver(t, "finished", "")

	assert.Equal(t, models.PaymentStatusFinished, fx.repo.payments["5001"].Status)
	assert.Equal(t, models.OrderStatusPaid, fx.repo.orders[1].Status)
	assert.Len(t, fx.dispatcher.enqueued, 1)

	// the late "confirming" now arrives; rejected and recorded, no effects
	res := fx.deliver(t, "confirming", "")
	assert.False(t, res.Duplicate)
	assert.Equal(t, models.WebhookStatusFailed, res.Event.ProcessingStatus)
	assert.Contains(t, res.Event.LastError, "illegal transition finished -> confirming")

	assert.Equal(t, models.PaymentStatusFinished, fx.repo.payments["5001"].Status)
	assert.Equal(t, models.OrderStatusPaid, fx.repo.orders[1].Status)
	assert.Len(t, fx.dispatcher.enqueued, 1)
	assert.Len(t, fx.notifier.notified, 1)
}

func TestIngest_InvalidSignatureRecordsAndStops(t *testing.T) {
	fx := newPipelineFixture(t)

	res, err := fx.svc.Ingest(context.Background(), WebhookEventInput{
		ExternalID:     "evt-bad-sig",
		WebhookType:    models.WebhookTypePayment,
		RawPayload:     []byte(`{"payment_id":5001,"payment_status":"finished"}`),
		SignatureValid: false,
	})
	require.NoError(t, err)
	assert.False(t, res.Duplicate)

	assert.Equal(t, models.WebhookStatusFailed, res.Event.ProcessingStatus)
	assert.Contains(t, res.Event.LastError, "signature")

	// no state mutation happened
	assert.Equal(t, models.PaymentStatusCreated, fx.repo.payments["5001"].Status)
	assert.Equal(t, models.OrderStatusCreated, fx.repo.orders[1].Status)
	assert.Empty(t, fx.dispatcher.enqueued)
	assert.Empty(t, fx.notifier.notified)
}

func TestIngest_UnknownPayment(t *testing.T) {
	fx := newPipelineFixture(t)

	res, err := fx.svc.Ingest(context.Background(), WebhookEventInput{
		ExternalID:     "9999",
		WebhookType:    models.WebhookTypePayment,
		RawPayload:     []byte(`{"payment_id":9999,"payment_status":"finished"}`),
		SignatureValid: true,
	})
	require.NoError(t, err)
	assert.Equal(t, models.WebhookStatusFailed, res.Event.ProcessingStatus)
	assert.Contains(t, res.Event.LastError, "no payment")
}

func TestIngest_UnknownStatus(t *testing.T) {
	fx := newPipelineFixture(t)

	res, err := fx.svc.Ingest(context.Background(), WebhookEventInput{
		ExternalID:     "evt-weird",
		WebhookType:    models.WebhookTypePayment,
		RawPayload:     []byte(`{"payment_id":5001,"payment_status":"galactic"}`),
		SignatureValid: true,
	})
	require.NoError(t, err)
	assert.Equal(t, models.WebhookStatusFailed, res.Event.ProcessingStatus)
	assert.Contains(t, res.Event.LastError, "unknown payment_status")
	assert.Equal(t, models.PaymentStatusCreated, fx.repo.payments["5001"].Status)
}

func TestIngest_NonPaymentTypeIsAuditOnly(t *testing.T) {
	fx := newPipelineFixture(t)

	res, err := fx.svc.Ingest(context.Background(), WebhookEventInput{
		ExternalID:     "evt-fulfillment",
		WebhookType:    models.WebhookTypeFulfillment,
		RawPayload:     []byte(`{"payment_id":5001,"payment_status":"finished"}`),
		SignatureValid: true,
	})
	require.NoError(t, err)
	assert.Equal(t, models.WebhookStatusProcessed, res.Event.ProcessingStatus)
	assert.Equal(t, models.PaymentStatusCreated, fx.repo.payments["5001"].Status)
}

func TestReplay_ProcessedRecordIsIdempotent(t *testing.T) {
	fx := newPipelineFixture(t)

	res := fx.deliver(t, "finished", "")
	require.Len(t, fx.dispatcher.enqueued, 1)
	require.Len(t, fx.notifier.notified, 1)

	err := fx.svc.Replay(context.Background(), res.Event.ID)
	require.NoError(t, err)

	// replay re-ran the pipeline but the stale re-application fired nothing
	assert.Equal(t, models.PaymentStatusFinished, fx.repo.payments["5001"].Status)
	assert.Len(t, fx.dispatcher.enqueued, 1)
	assert.Len(t, fx.notifier.notified, 1)
	assert.Equal(t, 2, res.Event.AttemptCount)
	assert.Equal(t, models.WebhookStatusProcessed, res.Event.ProcessingStatus)
}

func TestReplay_RecoversFailedRecord(t *testing.T) {
	fx := newPipelineFixture(t)

	// delivery arrives before checkout stored the payment
	delete(fx.repo.payments, "5001")
	res, err := fx.svc.Ingest(context.Background(), WebhookEventInput{
		ExternalID:     "5001",
		WebhookType:    models.WebhookTypePayment,
		RawPayload:     []byte(`{"payment_id":5001,"payment_status":"finished"}`),
		SignatureValid: true,
	})
	require.NoError(t, err)
	require.Equal(t, models.WebhookStatusFailed, res.Event.ProcessingStatus)

	// checkout catches up, then an admin replays the record
	fx.repo.payments["5001"] = &models.Payment{ID: 10, OrderID: 1, ExternalID: "5001", Status: models.PaymentStatusCreated}
	require.NoError(t, fx.svc.Replay(context.Background(), res.Event.ID))

	assert.Equal(t, models.PaymentStatusFinished, fx.repo.payments["5001"].Status)
	assert.Equal(t, models.OrderStatusPaid, fx.repo.orders[1].Status)
	assert.Equal(t, models.WebhookStatusProcessed, res.Event.ProcessingStatus)
	assert.Len(t, fx.dispatcher.enqueued, 1)
}

func TestReplay_RefusesUnverifiedRecord(t *testing.T) {
	fx := newPipelineFixture(t)

	// a forged "finished" payload recorded with an invalid signature
	res, err := fx.svc.Ingest(context.Background(), WebhookEventInput{
		ExternalID:     "evt-forged",
		WebhookType:    models.WebhookTypePayment,
		RawPayload:     []byte(`{"payment_id":5001,"payment_status":"finished"}`),
		SignatureValid: false,
	})
	require.NoError(t, err)
	require.Equal(t, models.WebhookStatusFailed, res.Event.ProcessingStatus)

	err = fx.svc.Replay(context.Background(), res.Event.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signature")

	results := fx.svc.ReplayMany(context.Background(), []uint{res.Event.ID})
	require.Len(t, results, 1)
	assert.Error(t, results[0].Err)

	// the forged payload never reached the state machines
	assert.Equal(t, models.PaymentStatusCreated, fx.repo.payments["5001"].Status)
	assert.Equal(t, models.OrderStatusCreated, fx.repo.orders[1].Status)
	assert.Empty(t, fx.dispatcher.enqueued)
	assert.Empty(t, fx.notifier.notified)
	assert.Equal(t, 1, fx.repo.events["evt-forged"].AttemptCount)
}

func TestReplayMany_IsolatesFailures(t *testing.T) {
	fx := newPipelineFixture(t)

	ok := fx.deliver(t, "waiting", "")

	results := fx.svc.ReplayMany(context.Background(), []uint{ok.Event.ID, 424242})
	require.Len(t, results, 2)
	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
}

func TestCompleteFulfillment(t *testing.T) {
	fx := newPipelineFixture(t)
	ctx := context.Background()

	fx.repo.orders[1].Status = models.OrderStatusPaid
	require.NoError(t, fx.svc.CompleteFulfillment(ctx, 1))
	assert.Equal(t, models.OrderStatusFulfilled, fx.repo.orders[1].Status)
	require.NotNil(t, fx.repo.orders[1].FulfilledAt)

	// retried job, already fulfilled
	require.NoError(t, fx.svc.CompleteFulfillment(ctx, 1))

	fx.repo.orders[1].Status = models.OrderStatusWaiting
	fx.repo.orders[1].FulfilledAt = nil
	assert.Error(t, fx.svc.CompleteFulfillment(ctx, 1))
}

func TestAdminTransitions(t *testing.T) {
	fx := newPipelineFixture(t)
	ctx := context.Background()

	fx.repo.orders[1].Status = models.OrderStatusPaid
	require.NoError(t, fx.svc.MarkOrderRefunded(ctx, 1))
	assert.Equal(t, models.OrderStatusRefunded, fx.repo.orders[1].Status)

	// refunded is final, even against a late admin action
	assert.Error(t, fx.svc.MarkOrderCancelled(ctx, 1))

	fx.repo.orders[1].Status = models.OrderStatusWaiting
	require.NoError(t, fx.svc.MarkOrderCancelled(ctx, 1))
	assert.Equal(t, models.OrderStatusCancelled, fx.repo.orders[1].Status)

	fx.repo.orders[1].Status = models.OrderStatusPaid
	assert.Error(t, fx.svc.MarkOrderCancelled(ctx, 1))
}
