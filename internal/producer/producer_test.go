package producer

import (
	"context"
	"errors"
	"testing"
	"time"

	"flashsale/internal/broker"
	"flashsale/internal/model"
)

func TestProducer_Submit(t *testing.T) {
	b := broker.NewMemoryBroker(broker.MemoryBrokerConfig{RetryDelay: time.Second})
	t.Cleanup(func() { b.Close() })

	p := NewProducer(b)
	err := p.Submit(context.Background(), &model.PurchaseAttempt{
		GoodsID: 100,
		User:    model.UserRef{ID: 1, Nickname: "alice"},
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if depth := b.Depth(broker.MainQueue); depth != 1 {
		t.Errorf("Expected 1 message on main queue, got %d", depth)
	}

	deliveries, err := b.Consume(context.Background(), broker.MainQueue)
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	select {
	case d := <-deliveries:
		if d.RetryCount != 0 {
			t.Errorf("Fresh attempt must carry retry 0, got %d", d.RetryCount)
		}
		attempt, err := model.DecodePurchaseAttempt(d.Body)
		if err != nil {
			t.Fatalf("Published body must round-trip: %v", err)
		}
		if attempt.GoodsID != 100 || attempt.User.ID != 1 {
			t.Errorf("Unexpected attempt: %+v", attempt)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for delivery")
	}
}

func TestProducer_Submit_Invalid(t *testing.T) {
	b := broker.NewMemoryBroker(broker.MemoryBrokerConfig{RetryDelay: time.Second})
	t.Cleanup(func() { b.Close() })

	p := NewProducer(b)

	tests := []struct {
		name    string
		attempt *model.PurchaseAttempt
	}{
		{"zero goods", &model.PurchaseAttempt{GoodsID: 0, User: model.UserRef{ID: 1}}},
		{"zero user", &model.PurchaseAttempt{GoodsID: 100, User: model.UserRef{ID: 0}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := p.Submit(context.Background(), tt.attempt); err == nil {
				t.Error("Expected validation error")
			}
		})
	}

	if depth := b.Depth(broker.MainQueue); depth != 0 {
		t.Errorf("Invalid attempts must never be published, got %d", depth)
	}
}

func TestProducer_Submit_BrokerDown(t *testing.T) {
	b := broker.NewMemoryBroker(broker.MemoryBrokerConfig{RetryDelay: time.Second})
	b.Close()

	p := NewProducer(b)
	err := p.Submit(context.Background(), &model.PurchaseAttempt{
		GoodsID: 100,
		User:    model.UserRef{ID: 1},
	})
	if !errors.Is(err, broker.ErrBrokerClosed) {
		t.Errorf("Expected ErrBrokerClosed surfaced to the caller, got %v", err)
	}
}
