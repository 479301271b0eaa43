package consumer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"flashsale/internal/broker"
	"flashsale/internal/model"
	"flashsale/internal/monitor"
	"flashsale/internal/service/fulfill"
	"flashsale/pkg/log"
)

// Outcome is the terminal classification of one delivery. Every delivery
// gets exactly one outcome and exactly one broker action.
type Outcome string

const (
	// OutcomeFulfilled: stock decremented, order committed, acked.
	OutcomeFulfilled Outcome = "fulfilled"

	// OutcomeDuplicate: an order for this (user, goods) already exists,
	// acked. The normal resolution of a redelivery.
	OutcomeDuplicate Outcome = "duplicate"

	// OutcomeOutOfStock: no stock left, acked. A business rejection.
	OutcomeOutOfStock Outcome = "out_of_stock"

	// OutcomeRetried: transient failure, copy published to the retry
	// queue with an incremented count, original acked.
	OutcomeRetried Outcome = "retried"

	// OutcomeParked: transient failure with retries exhausted, copy
	// published to the parking lot, original acked.
	OutcomeParked Outcome = "parked"

	// OutcomeDeadLettered: non-retryable failure, nacked so the broker
	// routes the message to the dead letter queue.
	OutcomeDeadLettered Outcome = "dead_lettered"
)

// simulateMarker in a nickname forces the transient path. Only honored
// when the processor was built with simulation enabled; production config
// leaves it off and the marker is inert data.
const simulateMarker = "simulate:transient"

// Processor decides the fate of a single delivery. Ordering rule for the
// retry and parking paths: the copy is published and confirmed BEFORE the
// original is acked, so a crash between the two duplicates rather than
// loses the attempt.
type Processor struct {
	fulfillSvc        fulfill.Service
	publisher         broker.Publisher
	metrics           *monitor.MetricsCollector
	tracer            *monitor.Tracer
	maxRetry          int
	simulateTransient bool
}

// NewProcessor creates a processor. metrics and tracer may be nil.
func NewProcessor(
	fulfillSvc fulfill.Service,
	publisher broker.Publisher,
	metrics *monitor.MetricsCollector,
	tracer *monitor.Tracer,
	maxRetry int,
	simulateTransient bool,
) *Processor {
	return &Processor{
		fulfillSvc:        fulfillSvc,
		publisher:         publisher,
		metrics:           metrics,
		tracer:            tracer,
		maxRetry:          maxRetry,
		simulateTransient: simulateTransient,
	}
}

// Process runs one delivery through the decision tree and issues exactly
// one broker action. A non-nil error means the delivery was left unsettled
// on purpose: the broker will redeliver it, and the dedup check makes the
// redelivery harmless.
func (p *Processor) Process(ctx context.Context, d *broker.Delivery) (Outcome, error) {
	start := time.Now()

	var span oteltrace.Span
	if p.tracer != nil {
		ctx, span = p.tracer.StartConsumeSpan(ctx, d.Queue, d.RetryCount)
		defer span.End()
	}

	outcome, err := p.process(ctx, d)
	if span != nil {
		span.SetAttributes(attribute.String("pipeline.outcome", string(outcome)))
	}
	if err != nil {
		return outcome, err
	}

	p.recordOutcome(d, outcome, time.Since(start))
	return outcome, nil
}

func (p *Processor) process(ctx context.Context, d *broker.Delivery) (Outcome, error) {
	attempt, err := model.DecodePurchaseAttempt(d.Body)
	if err != nil {
		// Malformed payloads can never succeed; nack routes them to the
		// dead letter queue in one broker action.
		log.WithFields(map[string]interface{}{
			"queue":   d.Queue,
			"payload": string(d.Body),
			"error":   err.Error(),
		}).Error("Dead-lettering malformed message")
		if nackErr := d.Nack(); nackErr != nil {
			return OutcomeDeadLettered, fmt.Errorf("nack malformed message: %w", nackErr)
		}
		return OutcomeDeadLettered, nil
	}

	logger := log.WithFields(map[string]interface{}{
		"goods_id": attempt.GoodsID,
		"user_id":  attempt.User.ID,
		"retry":    d.RetryCount,
	})

	if p.simulateTransient && strings.Contains(attempt.User.Nickname, simulateMarker) {
		logger.Warn("Simulated transient failure requested")
		return p.handleTransient(ctx, d, fulfill.ErrTransientStore)
	}

	// Cheap rejection before touching order state: a sold-out or unknown
	// goods ends the attempt here.
	stock, err := p.fulfillSvc.CheckStock(ctx, attempt.GoodsID)
	if err != nil {
		if fulfill.IsTransient(err) {
			return p.handleTransient(ctx, d, err)
		}
		return p.deadLetter(d, err)
	}
	if stock <= 0 {
		// A redelivered winner looks identical to a loser once stock hits
		// zero; only the order lookup tells them apart.
		existing, err := p.fulfillSvc.FindOrder(ctx, attempt.User.ID, attempt.GoodsID)
		if err != nil {
			if fulfill.IsTransient(err) {
				return p.handleTransient(ctx, d, err)
			}
			return p.deadLetter(d, err)
		}
		if existing != nil {
			logger.WithField("order_no", existing.OrderNo).Info("Attempt already fulfilled, acking duplicate")
			if ackErr := d.Ack(); ackErr != nil {
				return OutcomeDuplicate, fmt.Errorf("ack duplicate attempt: %w", ackErr)
			}
			return OutcomeDuplicate, nil
		}

		if p.metrics != nil {
			p.metrics.RecordGateReject()
		}
		logger.Info("Rejecting attempt, no stock")
		if ackErr := d.Ack(); ackErr != nil {
			return OutcomeOutOfStock, fmt.Errorf("ack out-of-stock attempt: %w", ackErr)
		}
		return OutcomeOutOfStock, nil
	}

	// Dedup before fulfill: a redelivered win must resolve to the order
	// that already exists, not a second commit.
	existing, err := p.fulfillSvc.FindOrder(ctx, attempt.User.ID, attempt.GoodsID)
	if err != nil {
		if fulfill.IsTransient(err) {
			return p.handleTransient(ctx, d, err)
		}
		return p.deadLetter(d, err)
	}
	if existing != nil {
		logger.WithField("order_no", existing.OrderNo).Info("Attempt already fulfilled, acking duplicate")
		if ackErr := d.Ack(); ackErr != nil {
			return OutcomeDuplicate, fmt.Errorf("ack duplicate attempt: %w", ackErr)
		}
		return OutcomeDuplicate, nil
	}

	order, err := p.fulfillSvc.Fulfill(ctx, attempt)
	switch {
	case err == nil:
		if p.metrics != nil {
			p.metrics.RecordFulfilled(strconv.FormatInt(attempt.GoodsID, 10))
		}
		logger.WithField("order_no", order.OrderNo).Info("Attempt fulfilled")
		if ackErr := d.Ack(); ackErr != nil {
			return OutcomeFulfilled, fmt.Errorf("ack fulfilled attempt: %w", ackErr)
		}
		return OutcomeFulfilled, nil

	case fulfill.IsDuplicate(err):
		// Lost the race to our own earlier redelivery or another worker.
		logger.Info("Concurrent win detected, acking duplicate")
		if ackErr := d.Ack(); ackErr != nil {
			return OutcomeDuplicate, fmt.Errorf("ack duplicate attempt: %w", ackErr)
		}
		return OutcomeDuplicate, nil

	case isOutOfStock(err):
		logger.Info("Stock exhausted during fulfill")
		if ackErr := d.Ack(); ackErr != nil {
			return OutcomeOutOfStock, fmt.Errorf("ack out-of-stock attempt: %w", ackErr)
		}
		return OutcomeOutOfStock, nil

	case fulfill.IsTransient(err):
		return p.handleTransient(ctx, d, err)

	default:
		return p.deadLetter(d, err)
	}
}

// handleTransient republishes the attempt for a delayed retry, or escalates
// to the parking lot once the retry budget is spent. The original is acked
// only after the copy is confirmed.
func (p *Processor) handleTransient(ctx context.Context, d *broker.Delivery, cause error) (Outcome, error) {
	if d.RetryCount >= p.maxRetry {
		log.WithFields(map[string]interface{}{
			"retry": d.RetryCount,
			"error": cause.Error(),
		}).Warn("Retry budget exhausted, escalating to parking lot")

		if err := p.publishConfirmed(ctx, broker.ParkingLotQueue, d.Body, d.RetryCount); err != nil {
			// Leave unsettled: redelivery retries the whole decision.
			return OutcomeParked, fmt.Errorf("publish to parking lot: %w", err)
		}
		if p.metrics != nil {
			p.metrics.RecordParked()
		}
		if ackErr := d.Ack(); ackErr != nil {
			return OutcomeParked, fmt.Errorf("ack parked attempt: %w", ackErr)
		}
		return OutcomeParked, nil
	}

	next := d.RetryCount + 1
	log.WithFields(map[string]interface{}{
		"retry": next,
		"error": cause.Error(),
	}).Warn("Transient failure, scheduling delayed retry")

	if err := p.publishConfirmed(ctx, broker.RetryQueue, d.Body, next); err != nil {
		return OutcomeRetried, fmt.Errorf("publish to retry queue: %w", err)
	}
	if p.metrics != nil {
		p.metrics.RecordRetry()
	}
	if ackErr := d.Ack(); ackErr != nil {
		return OutcomeRetried, fmt.Errorf("ack retried attempt: %w", ackErr)
	}
	return OutcomeRetried, nil
}

func (p *Processor) deadLetter(d *broker.Delivery, cause error) (Outcome, error) {
	log.WithFields(map[string]interface{}{
		"queue":   d.Queue,
		"payload": string(d.Body),
		"error":   cause.Error(),
	}).Error("Dead-lettering attempt, permanent failure")

	if nackErr := d.Nack(); nackErr != nil {
		return OutcomeDeadLettered, fmt.Errorf("nack permanent failure: %w", nackErr)
	}
	return OutcomeDeadLettered, nil
}

// publishConfirmed wraps the confirmed publish in a short retry loop so a
// transient broker hiccup does not strand the delivery unsettled.
func (p *Processor) publishConfirmed(ctx context.Context, queue string, body []byte, retryCount int) error {
	err := retry.Do(
		func() error {
			return p.publisher.Publish(ctx, queue, body, retryCount)
		},
		retry.Attempts(3),
		retry.Delay(100*time.Millisecond),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if p.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		p.metrics.RecordPublish(queue, status)
	}
	return err
}

func (p *Processor) recordOutcome(d *broker.Delivery, outcome Outcome, elapsed time.Duration) {
	if p.metrics == nil {
		return
	}
	p.metrics.RecordDelivery(d.Queue, string(outcome), elapsed.Seconds())
	if outcome == OutcomeDeadLettered {
		p.metrics.RecordDeadLettered("permanent_failure")
	}
}

func isOutOfStock(err error) bool {
	return errors.Is(err, fulfill.ErrOutOfStock)
}
