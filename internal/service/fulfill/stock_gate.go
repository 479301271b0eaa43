package fulfill

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/bits-and-blooms/bloom/v3"
	"github.com/redis/go-redis/v9"
)

const (
	stockKeyPrefix  = "flashsale:stock:"
	stockKeyTTL     = 30 * time.Minute
	soldOutCacheTTL = 10 * time.Minute

	bloomExpectedItems = 100000
	bloomFalsePositive = 0.01
)

// StockGate is an advisory fast path in front of the database. It answers
// "can this goods possibly still have stock" from local structures and a
// Redis snapshot so hopeless attempts are rejected without touching the
// store. The gate is allowed to be stale in the optimistic direction only:
// a "maybe" that turns out to be sold out is caught by the transactional
// decrement, while "no" is returned only for goods that are provably
// unknown or already marked sold out.
type StockGate struct {
	client redis.Cmdable

	mu     sync.RWMutex
	filter *bloom.BloomFilter
	warmed bool

	soldOut *bigcache.BigCache
}

// NewStockGate builds a gate backed by the given Redis client. A nil
// client disables the snapshot layer; the local filter and sold-out cache
// still work.
func NewStockGate(client redis.Cmdable) (*StockGate, error) {
	cache, err := bigcache.New(context.Background(), bigcache.DefaultConfig(soldOutCacheTTL))
	if err != nil {
		return nil, fmt.Errorf("init sold-out cache: %w", err)
	}

	return &StockGate{
		client:  client,
		filter:  bloom.NewWithEstimates(bloomExpectedItems, bloomFalsePositive),
		soldOut: cache,
	}, nil
}

// Warm registers a goods and its current stock. The membership filter only
// starts rejecting unknown IDs once at least one Warm call has happened,
// so a gate that was never warmed stays fully optimistic.
func (g *StockGate) Warm(ctx context.Context, goodsID int64, stock int) {
	g.mu.Lock()
	g.filter.Add(goodsKey(goodsID))
	g.warmed = true
	g.mu.Unlock()

	if stock <= 0 {
		g.MarkSoldOut(ctx, goodsID)
		return
	}
	g.CacheStock(ctx, goodsID, stock)
}

// MayHaveStock is the cheap pre-check: false means the goods is either
// unknown to the warmed filter or already marked sold out, and the attempt
// can be rejected without a store round trip.
func (g *StockGate) MayHaveStock(goodsID int64) bool {
	g.mu.RLock()
	warmed := g.warmed
	known := g.filter.Test(goodsKey(goodsID))
	g.mu.RUnlock()

	if warmed && !known {
		return false
	}

	if _, err := g.soldOut.Get(string(goodsKey(goodsID))); err == nil {
		return false
	}
	return true
}

// MarkSoldOut records locally and in Redis that the goods has no stock
// left. Subsequent attempts are rejected at the gate.
func (g *StockGate) MarkSoldOut(ctx context.Context, goodsID int64) {
	_ = g.soldOut.Set(string(goodsKey(goodsID)), []byte{1})
	if g.client != nil {
		g.client.Set(ctx, stockKeyPrefix+strconv.FormatInt(goodsID, 10), 0, stockKeyTTL)
	}
}

// CachedStock returns the Redis stock snapshot, if one exists.
func (g *StockGate) CachedStock(ctx context.Context, goodsID int64) (int, bool) {
	if g.client == nil {
		return 0, false
	}
	val, err := g.client.Get(ctx, stockKeyPrefix+strconv.FormatInt(goodsID, 10)).Int()
	if err != nil {
		return 0, false
	}
	return val, true
}

// CacheStock writes the stock snapshot to Redis.
func (g *StockGate) CacheStock(ctx context.Context, goodsID int64, stock int) {
	if g.client == nil {
		return
	}
	g.client.Set(ctx, stockKeyPrefix+strconv.FormatInt(goodsID, 10), stock, stockKeyTTL)
}

// RecordSale decrements the snapshot after a committed fulfillment and
// flips the sold-out marker when it reaches zero.
func (g *StockGate) RecordSale(ctx context.Context, goodsID int64) {
	if g.client == nil {
		return
	}
	remaining, err := g.client.Decr(ctx, stockKeyPrefix+strconv.FormatInt(goodsID, 10)).Result()
	if err == nil && remaining <= 0 {
		_ = g.soldOut.Set(string(goodsKey(goodsID)), []byte{1})
	}
}

func goodsKey(goodsID int64) []byte {
	return []byte(strconv.FormatInt(goodsID, 10))
}
