package consumer

import (
	"context"
	"sync"

	"flashsale/internal/broker"
	"flashsale/pkg/log"
)

// Consumer runs a fixed pool of workers over the main queue. Each worker
// claims one delivery at a time; concurrency is bounded by the pool size
// and the broker prefetch, never unbounded per message.
type Consumer struct {
	broker    broker.Broker
	processor *Processor
	workers   int

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewConsumer creates a consumer with the given worker count.
func NewConsumer(b broker.Broker, processor *Processor, workers int) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{
		broker:    b,
		processor: processor,
		workers:   workers,
		stopCh:    make(chan struct{}),
	}
}

// Start opens the main queue subscription and launches the worker pool.
func (c *Consumer) Start(ctx context.Context) error {
	deliveries, err := c.broker.Consume(ctx, broker.MainQueue)
	if err != nil {
		return err
	}

	log.WithField("workers", c.workers).Info("Starting purchase attempt consumer")

	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go c.work(ctx, i, deliveries)
	}
	return nil
}

func (c *Consumer) work(ctx context.Context, id int, deliveries <-chan *broker.Delivery) {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				log.WithField("worker", id).Info("Delivery channel closed, worker exiting")
				return
			}

			outcome, err := c.processor.Process(ctx, d)
			if err != nil {
				// The delivery stays unsettled; the broker will redeliver
				// it and the dedup check absorbs the repeat.
				log.WithFields(map[string]interface{}{
					"worker":  id,
					"outcome": string(outcome),
					"error":   err.Error(),
				}).Error("Failed to settle delivery")
			}
		}
	}
}

// Stop signals the workers and waits for in-flight deliveries to finish.
func (c *Consumer) Stop() {
	close(c.stopCh)
	c.wg.Wait()
	log.Info("Purchase attempt consumer stopped")
}
