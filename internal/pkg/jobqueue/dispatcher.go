package jobqueue

import (
	"context"
	"fmt"
)

// Dispatcher submits fulfillment work to the queue. It satisfies the webhook
// pipeline's dispatcher contract: the dedupe key is the order id, so at most
// one deliver-keys job ever exists per order.
type Dispatcher struct {
	queue *Queue
}

// NewDispatcher creates a dispatcher on top of a queue.
func NewDispatcher(q *Queue) *Dispatcher {
	return &Dispatcher{queue: q}
}

// EnqueueFulfillment enqueues the deliver-keys job for an order. Re-invoking
// for an order that already has (or had) a job is a no-op.
func (d *Dispatcher) EnqueueFulfillment(ctx context.Context, orderID uint) error {
	_ = ctx
	payload := FulfillOrderJobPayload{OrderID: orderID}
	_, _, err := d.queue.EnqueueUnique(JobTypeFulfillOrder, fmt.Sprintf("order:%d", orderID), payload.ToMap())
	return err
}
