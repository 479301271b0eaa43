package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"flashsale/internal/model"
)

// OrderRepository order repository interface
type OrderRepository interface {
	// Create order
	Create(ctx context.Context, order *model.Order) error

	// Get order by (user, goods) pair (for idempotency)
	GetByUserAndGoods(ctx context.Context, userID, goodsID int64) (*model.Order, error)

	// Get order by order number
	GetByOrderNo(ctx context.Context, orderNo string) (*model.Order, error)

	// Count committed orders for a goods item
	CountByGoods(ctx context.Context, goodsID int64) (int64, error)
}

// orderRepository order repository implementation
type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates an order repository
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

// Create creates an order
func (r *orderRepository) Create(ctx context.Context, order *model.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

// GetByUserAndGoods gets an order by (user, goods). Not found is not an
// error: the idempotency check uses a nil order to mean "no prior win".
func (r *orderRepository) GetByUserAndGoods(ctx context.Context, userID, goodsID int64) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND goods_id = ?", userID, goodsID).
		First(&order).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// GetByOrderNo gets an order by order number
func (r *orderRepository) GetByOrderNo(ctx context.Context, orderNo string) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).
		Where("order_no = ?", orderNo).
		First(&order).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("order not found")
		}
		return nil, err
	}
	return &order, nil
}

// CountByGoods counts committed orders for a goods item
func (r *orderRepository) CountByGoods(ctx context.Context, goodsID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("goods_id = ?", goodsID).
		Count(&count).Error
	return count, err
}
