package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"flashsale/internal/model"
)

// GoodsRepository goods repository interface
type GoodsRepository interface {
	// Get goods by ID
	GetByID(ctx context.Context, id int64) (*model.Goods, error)

	// Get current stock; absent goods report zero stock
	GetStock(ctx context.Context, id int64) (int, error)

	// List goods currently on sale (for stock warmup)
	ListOnSale(ctx context.Context) ([]*model.Goods, error)
}

// goodsRepository goods repository implementation
type goodsRepository struct {
	db *gorm.DB
}

// NewGoodsRepository creates a goods repository
func NewGoodsRepository(db *gorm.DB) GoodsRepository {
	return &goodsRepository{db: db}
}

// GetByID gets goods by ID
func (r *goodsRepository) GetByID(ctx context.Context, id int64) (*model.Goods, error) {
	var goods model.Goods
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&goods).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil // Absent goods are not an error for the pipeline
		}
		return nil, err
	}
	return &goods, nil
}

// GetStock gets the current stock count. An absent item reports zero stock,
// which the consumer treats the same as sold out.
func (r *goodsRepository) GetStock(ctx context.Context, id int64) (int, error) {
	goods, err := r.GetByID(ctx, id)
	if err != nil {
		return 0, err
	}
	if goods == nil {
		return 0, nil
	}
	return goods.Stock, nil
}

// ListOnSale lists goods currently on sale
func (r *goodsRepository) ListOnSale(ctx context.Context) ([]*model.Goods, error) {
	var goods []*model.Goods

	err := r.db.WithContext(ctx).
		Where("status = ?", model.GoodsStatusOnSale).
		Find(&goods).Error

	return goods, err
}
