package producer

import (
	"context"
	"fmt"

	"flashsale/internal/broker"
	"flashsale/internal/model"
	"flashsale/pkg/log"
)

// Producer submits purchase attempts to the main queue. Submit is
// synchronous through the broker confirm: when it returns nil the attempt
// is durably queued, when it returns an error the caller knows the attempt
// was never accepted and can surface that immediately.
type Producer struct {
	publisher broker.Publisher
}

// NewProducer creates a producer over a confirmed publisher.
func NewProducer(publisher broker.Publisher) *Producer {
	return &Producer{publisher: publisher}
}

// Submit validates and publishes one purchase attempt. Fresh attempts
// always enter with a zero retry count.
func (p *Producer) Submit(ctx context.Context, attempt *model.PurchaseAttempt) error {
	if err := attempt.Validate(); err != nil {
		return fmt.Errorf("invalid purchase attempt: %w", err)
	}

	body, err := attempt.Encode()
	if err != nil {
		return fmt.Errorf("encode purchase attempt: %w", err)
	}

	if err := p.publisher.Publish(ctx, broker.MainQueue, body, 0); err != nil {
		return fmt.Errorf("publish purchase attempt: %w", err)
	}

	log.WithFields(map[string]interface{}{
		"goods_id": attempt.GoodsID,
		"user_id":  attempt.User.ID,
	}).Info("Purchase attempt submitted")
	return nil
}
