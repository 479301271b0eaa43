package broker

import (
	"context"
	"sync"
	"time"

	"flashsale/pkg/log"
)

// MemoryBrokerConfig memory broker configuration
type MemoryBrokerConfig struct {
	// RetryDelay is how long a message rests in the retry queue before it
	// is routed back to the main queue.
	RetryDelay time.Duration

	// BufferSize bounds each queue's in-flight backlog.
	BufferSize int
}

type queuedMessage struct {
	body       []byte
	retryCount int
}

// MemoryBroker implements Broker in process memory with the same observable
// contract as the RabbitMQ topology: reject-without-requeue on the main
// queue routes to the dead-letter queue, and the retry queue delays each
// message for a fixed interval before routing it back to the main queue
// using an explicit timer in place of a TTL.
//
// It backs tests and broker-less development; it is not durable.
type MemoryBroker struct {
	config MemoryBrokerConfig

	mu     sync.Mutex
	queues map[string]chan *queuedMessage
	timers map[*time.Timer]struct{}
	closed bool
	done   chan struct{}
}

// NewMemoryBroker creates a new in-memory broker
func NewMemoryBroker(cfg MemoryBrokerConfig) *MemoryBroker {
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = 1024
	}

	return &MemoryBroker{
		config: cfg,
		queues: make(map[string]chan *queuedMessage),
		timers: make(map[*time.Timer]struct{}),
		done:   make(chan struct{}),
	}
}

func (b *MemoryBroker) getQueue(name string) (chan *queuedMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBrokerClosed
	}

	q, ok := b.queues[name]
	if !ok {
		q = make(chan *queuedMessage, b.config.BufferSize)
		b.queues[name] = q
	}
	return q, nil
}

// Publish enqueues a message. A publish to the retry queue schedules the
// message back onto the main queue after the retry delay; everything else
// lands on the named queue directly. Enqueueing is the confirmation: once
// Publish returns nil the message is owned by the broker.
func (b *MemoryBroker) Publish(ctx context.Context, queue string, body []byte, retryCount int) error {
	if queue == RetryQueue {
		return b.scheduleRetry(body, retryCount)
	}
	return b.enqueue(ctx, queue, &queuedMessage{body: body, retryCount: retryCount})
}

func (b *MemoryBroker) enqueue(ctx context.Context, queue string, msg *queuedMessage) error {
	q, err := b.getQueue(queue)
	if err != nil {
		return err
	}

	select {
	case q <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return ErrBrokerClosed
	}
}

// scheduleRetry is the timer standing in for the TTL queue: after the retry
// delay the message reappears on the main queue with its retry count intact.
func (b *MemoryBroker) scheduleRetry(body []byte, retryCount int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBrokerClosed
	}

	var timer *time.Timer
	timer = time.AfterFunc(b.config.RetryDelay, func() {
		b.mu.Lock()
		delete(b.timers, timer)
		closed := b.closed
		b.mu.Unlock()
		if closed {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := b.enqueue(ctx, MainQueue, &queuedMessage{body: body, retryCount: retryCount}); err != nil {
			log.WithError(err).Error("Failed to route retried message back to main queue")
		}
	})
	b.timers[timer] = struct{}{}
	return nil
}

// Consume returns a channel of deliveries from the queue. Nack on the main
// queue routes the message to the dead-letter queue; nack on a terminal
// queue drops the message.
func (b *MemoryBroker) Consume(ctx context.Context, queue string) (<-chan *Delivery, error) {
	q, err := b.getQueue(queue)
	if err != nil {
		return nil, err
	}

	out := make(chan *Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-b.done:
				return
			case msg := <-q:
				d := b.wrap(queue, msg)
				select {
				case out <- d:
				case <-ctx.Done():
					return
				case <-b.done:
					return
				}
			}
		}
	}()

	return out, nil
}

func (b *MemoryBroker) wrap(queue string, msg *queuedMessage) *Delivery {
	nack := func() error {
		if queue != MainQueue {
			return nil // terminal queues drop on reject
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return b.enqueue(ctx, DeadLetterQueue, msg)
	}
	return NewDelivery(msg.body, queue, msg.retryCount, func() error { return nil }, nack)
}

// Depth reports the number of messages waiting in a queue. Used by tests
// and the queue-depth gauge.
func (b *MemoryBroker) Depth(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[queue]
	if !ok {
		return 0
	}
	return len(q)
}

// Close closes the broker and stops pending retry timers.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for timer := range b.timers {
		timer.Stop()
	}
	b.timers = make(map[*time.Timer]struct{})
	close(b.done)
	return nil
}
