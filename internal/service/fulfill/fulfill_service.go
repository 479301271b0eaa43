package fulfill

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"gorm.io/gorm"

	"flashsale/internal/model"
	"flashsale/internal/repository"
	"flashsale/pkg/lock"
	"flashsale/pkg/log"
	"flashsale/pkg/snowflake"
)

const warmupLockKey = "flashsale:lock:stock-warmup"

// Service is the store side of the pipeline: the conditional stock
// decrement and order insert that decide who wins a purchase attempt.
type Service interface {
	// CheckStock returns the best-known remaining stock, serving from the
	// gate when possible. Zero means the attempt can be rejected.
	CheckStock(ctx context.Context, goodsID int64) (int, error)

	// FindOrder returns the committed order for (user, goods), nil when
	// none exists.
	FindOrder(ctx context.Context, userID, goodsID int64) (*model.Order, error)

	// Fulfill atomically decrements stock and inserts the order. Returns
	// ErrOutOfStock when no stock remains, ErrDuplicateOrder when the pair
	// already won, or a store error otherwise.
	Fulfill(ctx context.Context, attempt *model.PurchaseAttempt) (*model.Order, error)

	// WarmupStock loads on-sale goods into the stock gate, guarded by a
	// distributed lock so only one process does the scan.
	WarmupStock(ctx context.Context) error
}

type service struct {
	db           *gorm.DB
	goodsRepo    repository.GoodsRepository
	orderRepo    repository.OrderRepository
	gate         *StockGate
	idGenerator  *snowflake.IDGenerator
	breaker      *gobreaker.CircuitBreaker
	storeTimeout time.Duration
}

// NewService creates the fulfillment service. The gate may be nil, which
// disables the advisory fast path and sends every check to the store.
func NewService(
	db *gorm.DB,
	goodsRepo repository.GoodsRepository,
	orderRepo repository.OrderRepository,
	gate *StockGate,
	idGenerator *snowflake.IDGenerator,
	storeTimeout time.Duration,
) Service {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "fulfill-store",
		Timeout: 10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})

	return &service{
		db:           db,
		goodsRepo:    goodsRepo,
		orderRepo:    orderRepo,
		gate:         gate,
		idGenerator:  idGenerator,
		breaker:      cb,
		storeTimeout: storeTimeout,
	}
}

func (s *service) CheckStock(ctx context.Context, goodsID int64) (int, error) {
	if s.gate != nil {
		if !s.gate.MayHaveStock(goodsID) {
			return 0, nil
		}
		if stock, ok := s.gate.CachedStock(ctx, goodsID); ok {
			return stock, nil
		}
	}

	ctx, cancel := s.withStoreTimeout(ctx)
	defer cancel()

	res, err := s.breaker.Execute(func() (interface{}, error) {
		return s.goodsRepo.GetStock(ctx, goodsID)
	})
	if err != nil {
		return 0, fmt.Errorf("get stock for goods %d: %w", goodsID, err)
	}

	stock := res.(int)
	if s.gate != nil {
		if stock <= 0 {
			s.gate.MarkSoldOut(ctx, goodsID)
		} else {
			s.gate.CacheStock(ctx, goodsID, stock)
		}
	}
	return stock, nil
}

func (s *service) FindOrder(ctx context.Context, userID, goodsID int64) (*model.Order, error) {
	ctx, cancel := s.withStoreTimeout(ctx)
	defer cancel()

	res, err := s.breaker.Execute(func() (interface{}, error) {
		return s.orderRepo.GetByUserAndGoods(ctx, userID, goodsID)
	})
	if err != nil {
		return nil, fmt.Errorf("find order for user %d goods %d: %w", userID, goodsID, err)
	}
	return res.(*model.Order), nil
}

func (s *service) Fulfill(ctx context.Context, attempt *model.PurchaseAttempt) (*model.Order, error) {
	order := &model.Order{
		OrderNo:  fmt.Sprintf("SK%d", s.idGenerator.NextID()),
		UserID:   attempt.User.ID,
		GoodsID:  attempt.GoodsID,
		Nickname: attempt.User.Nickname,
		Status:   model.OrderStatusPending,
	}

	ctx, cancel := s.withStoreTimeout(ctx)
	defer cancel()

	res, err := s.breaker.Execute(func() (interface{}, error) {
		err := s.commit(ctx, order)
		// Business rejections are outcomes, not store failures; they must
		// not trip the breaker.
		if errors.Is(err, ErrOutOfStock) || IsDuplicate(err) {
			return err, nil
		}
		return nil, err
	})
	if err != nil {
		return nil, fmt.Errorf("fulfill user %d goods %d: %w", attempt.User.ID, attempt.GoodsID, err)
	}
	if bizErr, ok := res.(error); ok && bizErr != nil {
		if errors.Is(bizErr, ErrOutOfStock) && s.gate != nil {
			s.gate.MarkSoldOut(ctx, attempt.GoodsID)
		}
		return nil, bizErr
	}

	if s.gate != nil {
		s.gate.RecordSale(ctx, attempt.GoodsID)
	}

	log.WithFields(map[string]interface{}{
		"order_no": order.OrderNo,
		"user_id":  order.UserID,
		"goods_id": order.GoodsID,
	}).Info("Order fulfilled")
	return order, nil
}

// commit runs the decrement-and-insert in one transaction. The conditional
// UPDATE only succeeds while stock is positive, and the unique index on
// (user_id, goods_id) rejects a second order for the same pair, so a
// redelivered attempt can never oversell or double-commit.
func (s *service) commit(ctx context.Context, order *model.Order) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Goods{}).
			Where("id = ? AND stock > 0", order.GoodsID).
			Updates(map[string]interface{}{
				"stock": gorm.Expr("stock - 1"),
				"sales": gorm.Expr("sales + 1"),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrOutOfStock
		}

		if err := tx.Create(order).Error; err != nil {
			return err
		}
		return nil
	})
}

func (s *service) WarmupStock(ctx context.Context) error {
	if s.gate == nil {
		return nil
	}

	if s.gate.client != nil {
		value := fmt.Sprintf("%d", s.idGenerator.NextID())
		warmLock := lock.NewRedisLock(s.gate.client, warmupLockKey, value, 30*time.Second)
		if err := warmLock.Lock(ctx); err != nil {
			if errors.Is(err, lock.ErrLockFailed) {
				log.Info("Stock warmup already running elsewhere, skipping")
				return nil
			}
			return fmt.Errorf("acquire warmup lock: %w", err)
		}
		defer warmLock.Unlock(ctx)
	}

	goods, err := s.goodsRepo.ListOnSale(ctx)
	if err != nil {
		return fmt.Errorf("list on-sale goods: %w", err)
	}

	for _, item := range goods {
		s.gate.Warm(ctx, item.ID, item.Stock)
	}

	log.WithField("count", len(goods)).Info("Stock gate warmed")
	return nil
}

func (s *service) withStoreTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.storeTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.storeTimeout)
}
