package fulfill

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupGate(t *testing.T) (*StockGate, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	gate, err := NewStockGate(client)
	if err != nil {
		t.Fatalf("Failed to create gate: %v", err)
	}
	return gate, mr
}

func TestStockGate_ColdGateIsOptimistic(t *testing.T) {
	gate, _ := setupGate(t)

	// No Warm call yet: unknown goods must pass through to the store.
	if !gate.MayHaveStock(12345) {
		t.Error("Cold gate must not reject unknown goods")
	}
}

func TestStockGate_WarmedGateRejectsUnknown(t *testing.T) {
	gate, _ := setupGate(t)
	ctx := context.Background()

	gate.Warm(ctx, 100, 10)

	if !gate.MayHaveStock(100) {
		t.Error("Warmed goods with stock must pass")
	}
	if gate.MayHaveStock(99999) {
		t.Error("Warmed gate must reject goods absent from the filter")
	}
}

func TestStockGate_SoldOut(t *testing.T) {
	gate, _ := setupGate(t)
	ctx := context.Background()

	gate.Warm(ctx, 100, 5)
	gate.MarkSoldOut(ctx, 100)

	if gate.MayHaveStock(100) {
		t.Error("Sold-out goods must be rejected at the gate")
	}
	if stock, ok := gate.CachedStock(ctx, 100); !ok || stock != 0 {
		t.Errorf("Expected cached stock 0 after sold-out, got %d (ok=%v)", stock, ok)
	}
}

func TestStockGate_StockSnapshot(t *testing.T) {
	gate, _ := setupGate(t)
	ctx := context.Background()

	if _, ok := gate.CachedStock(ctx, 100); ok {
		t.Error("Expected no snapshot before caching")
	}

	gate.CacheStock(ctx, 100, 42)
	stock, ok := gate.CachedStock(ctx, 100)
	if !ok || stock != 42 {
		t.Errorf("Expected snapshot 42, got %d (ok=%v)", stock, ok)
	}
}

func TestStockGate_RecordSale(t *testing.T) {
	gate, _ := setupGate(t)
	ctx := context.Background()

	gate.Warm(ctx, 100, 2)

	gate.RecordSale(ctx, 100)
	if !gate.MayHaveStock(100) {
		t.Error("Goods with remaining stock must still pass")
	}

	gate.RecordSale(ctx, 100)
	if gate.MayHaveStock(100) {
		t.Error("Goods decremented to zero must be rejected")
	}
}

func TestStockGate_WarmWithZeroStock(t *testing.T) {
	gate, _ := setupGate(t)
	ctx := context.Background()

	gate.Warm(ctx, 100, 0)
	if gate.MayHaveStock(100) {
		t.Error("Goods warmed with zero stock must be rejected")
	}
}

func TestStockGate_NilRedisClient(t *testing.T) {
	gate, err := NewStockGate(nil)
	if err != nil {
		t.Fatalf("Failed to create gate: %v", err)
	}
	ctx := context.Background()

	// Snapshot layer is disabled; local layers still work.
	gate.Warm(ctx, 100, 5)
	if !gate.MayHaveStock(100) {
		t.Error("Local filter must work without Redis")
	}
	if _, ok := gate.CachedStock(ctx, 100); ok {
		t.Error("Expected no snapshot without Redis")
	}
	gate.MarkSoldOut(ctx, 100)
	if gate.MayHaveStock(100) {
		t.Error("Local sold-out cache must work without Redis")
	}
}
