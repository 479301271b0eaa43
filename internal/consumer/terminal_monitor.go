package consumer

import (
	"context"
	"sync"

	"flashsale/internal/broker"
	"flashsale/internal/monitor"
	"flashsale/pkg/limiter"
	"flashsale/pkg/log"
)

// AlertFunc receives a throttled notification for each message landing in
// a terminal queue. Wire it to paging or chat; the default logs only.
type AlertFunc func(queue string, body []byte, retryCount int)

// TerminalMonitor watches the dead letter and parking lot queues. Every
// message there is a human-attention item: the monitor logs the full
// payload (the log line is the durable record) and fires a rate-limited
// alert so a burst of failures pages once, not a thousand times.
type TerminalMonitor struct {
	broker  broker.Broker
	metrics *monitor.MetricsCollector
	alerts  *limiter.TokenBucketLimiter
	alertFn AlertFunc

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewTerminalMonitor creates a monitor. alertFn may be nil.
func NewTerminalMonitor(b broker.Broker, metrics *monitor.MetricsCollector, alerts *limiter.TokenBucketLimiter, alertFn AlertFunc) *TerminalMonitor {
	return &TerminalMonitor{
		broker:  b,
		metrics: metrics,
		alerts:  alerts,
		alertFn: alertFn,
		stopCh:  make(chan struct{}),
	}
}

// Start subscribes to both terminal queues.
func (m *TerminalMonitor) Start(ctx context.Context) error {
	for _, queue := range []string{broker.DeadLetterQueue, broker.ParkingLotQueue} {
		deliveries, err := m.broker.Consume(ctx, queue)
		if err != nil {
			return err
		}
		m.wg.Add(1)
		go m.watch(ctx, queue, deliveries)
	}
	log.Info("Terminal queue monitor started")
	return nil
}

func (m *TerminalMonitor) watch(ctx context.Context, queue string, deliveries <-chan *broker.Delivery) {
	defer m.wg.Done()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			m.observe(queue, d)
		}
	}
}

func (m *TerminalMonitor) observe(queue string, d *broker.Delivery) {
	log.WithFields(map[string]interface{}{
		"queue":   queue,
		"retry":   d.RetryCount,
		"payload": string(d.Body),
	}).Error("Message landed in terminal queue")

	if m.metrics != nil {
		m.metrics.RecordDelivery(queue, "observed", 0)
	}

	if m.alertFn != nil && (m.alerts == nil || m.alerts.Allow()) {
		m.alertFn(queue, d.Body, d.RetryCount)
	}

	if err := d.Ack(); err != nil {
		log.WithError(err).Error("Failed to ack terminal queue message")
	}
}

// Stop signals the watchers and waits for them to exit.
func (m *TerminalMonitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
	log.Info("Terminal queue monitor stopped")
}
