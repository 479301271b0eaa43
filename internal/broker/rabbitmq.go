package broker

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"flashsale/internal/config"
	"flashsale/pkg/log"
)

// RabbitMQBroker implements Broker on RabbitMQ. The producer channel runs in
// confirm mode; Publish blocks until the broker confirms the message or the
// publish timeout elapses.
type RabbitMQBroker struct {
	config config.BrokerConfig

	connection   *amqp.Connection
	producerChan *amqp.Channel
	consumerChan *amqp.Channel

	notifyConfirm chan amqp.Confirmation

	publishMu sync.Mutex
	closeMu   sync.Mutex
	closed    bool
}

// NewRabbitMQBroker connects to RabbitMQ and declares the queue topology.
func NewRabbitMQBroker(cfg config.BrokerConfig) (*RabbitMQBroker, error) {
	b := &RabbitMQBroker{config: cfg}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial RabbitMQ: %w", err)
	}
	b.connection = conn

	if err := b.setupProducerChannel(); err != nil {
		conn.Close()
		return nil, err
	}

	if err := b.setupConsumerChannelAndTopology(); err != nil {
		conn.Close()
		return nil, err
	}

	log.Info("RabbitMQ connected and topology declared")
	return b, nil
}

func (b *RabbitMQBroker) setupProducerChannel() error {
	ch, err := b.connection.Channel()
	if err != nil {
		return fmt.Errorf("failed to open producer channel: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("producer channel could not be put into confirm mode: %w", err)
	}

	b.producerChan = ch
	b.notifyConfirm = make(chan amqp.Confirmation, 1)
	ch.NotifyPublish(b.notifyConfirm)
	return nil
}

func (b *RabbitMQBroker) setupConsumerChannelAndTopology() error {
	ch, err := b.connection.Channel()
	if err != nil {
		return fmt.Errorf("failed to open consumer channel: %w", err)
	}
	b.consumerChan = ch

	if err := ch.Qos(b.config.PrefetchCount, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	return b.declareTopology(ch)
}

// declareTopology declares the four-queue contract. Queue names and bindings
// are load-bearing: operators and monitoring address queues by these names.
func (b *RabbitMQBroker) declareTopology(ch *amqp.Channel) error {
	// Dead-letter exchange (direct) and its queue.
	if err := ch.ExchangeDeclare(DeadLetterExchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", DeadLetterExchange, err)
	}
	if _, err := ch.QueueDeclare(DeadLetterQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", DeadLetterQueue, err)
	}
	if err := ch.QueueBind(DeadLetterQueue, DeadLetterKey, DeadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", DeadLetterQueue, err)
	}

	// Main queue: reject-without-requeue dead-letters into the DLX.
	_, err := ch.QueueDeclare(MainQueue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    DeadLetterExchange,
		"x-dead-letter-routing-key": DeadLetterKey,
	})
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", MainQueue, err)
	}

	// Delayed-retry queue: TTL expiry dead-letters back to the main queue
	// through the default exchange. The queue itself is the retry timer.
	_, err = ch.QueueDeclare(RetryQueue, true, false, false, false, amqp.Table{
		"x-message-ttl":             b.config.RetryDelay.Milliseconds(),
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": MainQueue,
	})
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", RetryQueue, err)
	}

	// Parking lot: terminal, written to directly by queue name.
	if _, err := ch.QueueDeclare(ParkingLotQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", ParkingLotQueue, err)
	}

	return nil
}

// Publish publishes to a queue through the default exchange and waits for
// the broker's confirmation. Confirm-mode confirmations arrive in publish
// order, so publishes are serialized on one channel.
func (b *RabbitMQBroker) Publish(ctx context.Context, queue string, body []byte, retryCount int) error {
	b.publishMu.Lock()
	defer b.publishMu.Unlock()

	if b.isClosed() {
		return ErrBrokerClosed
	}

	headers := amqp.Table{}
	if retryCount > 0 {
		headers[RetryHeader] = int32(retryCount)
	}

	err := b.producerChan.Publish(
		"",    // default exchange: routing key addresses the queue
		queue, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Headers:      headers,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", queue, err)
	}

	select {
	case confirm := <-b.notifyConfirm:
		if confirm.Ack {
			return nil
		}
		return ErrNotConfirmed
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(b.config.PublishTimeout):
		return ErrConfirmTimeout
	}
}

// Consume registers a manual-ack consumer on the queue and adapts AMQP
// deliveries into broker deliveries.
func (b *RabbitMQBroker) Consume(ctx context.Context, queue string) (<-chan *Delivery, error) {
	if b.isClosed() {
		return nil, ErrBrokerClosed
	}

	msgs, err := b.consumerChan.Consume(
		queue,
		"",    // consumer tag
		false, // auto-ack off: the state machine owns acknowledgment
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register consumer on %s: %w", queue, err)
	}

	out := make(chan *Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					log.WithField("queue", queue).Warn("Delivery channel closed")
					return
				}
				m := msg
				d := NewDelivery(
					m.Body,
					queue,
					retryCountFromHeaders(m.Headers),
					func() error { return m.Ack(false) },
					func() error { return m.Nack(false, false) },
				)
				select {
				case out <- d:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Close closes the broker connection.
func (b *RabbitMQBroker) Close() error {
	b.closeMu.Lock()
	defer b.closeMu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	if b.connection != nil && !b.connection.IsClosed() {
		return b.connection.Close()
	}
	return nil
}

func (b *RabbitMQBroker) isClosed() bool {
	b.closeMu.Lock()
	defer b.closeMu.Unlock()
	return b.closed
}

// retryCountFromHeaders reads the x-retry header. Absent or unparseable
// means zero, per the retry contract.
func retryCountFromHeaders(headers amqp.Table) int {
	v, ok := headers[RetryHeader]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case int8:
		return int(n)
	case int16:
		return int(n)
	case int32:
		return int(n)
	case int64:
		return int(n)
	case string:
		parsed, err := strconv.Atoi(n)
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}
