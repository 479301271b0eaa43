package broker

import (
	"context"
	"errors"
	"sync/atomic"
)

// Queue and exchange names are an operator-facing contract: monitoring and
// tooling address queues by these names.
const (
	// MainQueue receives fresh and retried purchase attempts.
	MainQueue = "flashsale.queue"

	// RetryQueue holds attempts for a fixed delay, then routes them back
	// to MainQueue. The queue is the timer; no scheduler process exists.
	RetryQueue = "flashsale.queue.retry.5s"

	// DeadLetterQueue is the terminal sink for non-retryable failures.
	DeadLetterQueue = "flashsale.queue.dlq"

	// ParkingLotQueue is the terminal sink for retry-exhausted attempts.
	ParkingLotQueue = "flashsale.queue.parking"

	// DeadLetterExchange is the direct exchange MainQueue dead-letters to.
	DeadLetterExchange = "flashsale.dlx"

	// DeadLetterKey routes from DeadLetterExchange into DeadLetterQueue.
	DeadLetterKey = "flashsale.dlq"

	// RetryHeader carries the retry count as message metadata, never in
	// the body. Absent means zero.
	RetryHeader = "x-retry"
)

// Common errors
var (
	ErrBrokerClosed   = errors.New("broker is closed")
	ErrAlreadySettled = errors.New("delivery already acknowledged")
	ErrNotConfirmed   = errors.New("publish was not confirmed")
	ErrConfirmTimeout = errors.New("publish confirmation timeout")
)

// Publisher publishes a message to a named queue. Publish returns only after
// the broker has durably confirmed the message; callers rely on this to
// order "publish copy, then ack original" without a loss window.
type Publisher interface {
	Publish(ctx context.Context, queue string, body []byte, retryCount int) error
}

// Broker is a durable queue transport with confirmed publishing.
type Broker interface {
	Publisher

	// Consume returns a channel of in-flight deliveries from the queue.
	// The channel closes when the broker shuts down.
	Consume(ctx context.Context, queue string) (<-chan *Delivery, error)

	// Close closes the broker connections.
	Close() error
}

// Delivery is one claimed, in-flight message owned by exactly one worker
// until settled. Exactly one of Ack or Nack must be called; a second call is
// a protocol violation and reports ErrAlreadySettled.
type Delivery struct {
	Body       []byte
	Queue      string
	RetryCount int

	settled int32
	ackFn   func() error
	nackFn  func() error
}

// NewDelivery builds a delivery from transport callbacks. ack marks the
// message processed; nack rejects it without requeue, which on the main
// queue routes the message to the dead-letter queue.
func NewDelivery(body []byte, queue string, retryCount int, ack, nack func() error) *Delivery {
	return &Delivery{
		Body:       body,
		Queue:      queue,
		RetryCount: retryCount,
		ackFn:      ack,
		nackFn:     nack,
	}
}

// Ack acknowledges the delivery as processed.
func (d *Delivery) Ack() error {
	if !atomic.CompareAndSwapInt32(&d.settled, 0, 1) {
		return ErrAlreadySettled
	}
	if d.ackFn == nil {
		return nil
	}
	return d.ackFn()
}

// Nack rejects the delivery without requeue. Requeue-on-nack is never used:
// it would cause immediate redelivery storms instead of delayed, bounded
// retry through the retry queue.
func (d *Delivery) Nack() error {
	if !atomic.CompareAndSwapInt32(&d.settled, 0, 1) {
		return ErrAlreadySettled
	}
	if d.nackFn == nil {
		return nil
	}
	return d.nackFn()
}

// Settled reports whether a terminal acknowledgment action was issued.
func (d *Delivery) Settled() bool {
	return atomic.LoadInt32(&d.settled) == 1
}
