package model

import (
	"time"
)

// Order is a committed flash-sale order. The composite unique index on
// (user_id, goods_id) is the idempotency key: the store rejects a second
// order for the same pair, which the pipeline resolves as a duplicate.
type Order struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderNo   string    `gorm:"type:varchar(32);uniqueIndex;not null" json:"order_no"`
	UserID    int64     `gorm:"type:bigint;not null;uniqueIndex:uk_user_goods,priority:1" json:"user_id"`
	GoodsID   int64     `gorm:"type:bigint;not null;uniqueIndex:uk_user_goods,priority:2" json:"goods_id"`
	Nickname  string    `gorm:"type:varchar(64)" json:"nickname"`
	Price     int64     `gorm:"type:bigint;not null" json:"price"` // unit price in cents
	Status    int8      `gorm:"type:tinyint;not null;default:1;index" json:"status"`
	CreatedAt time.Time `gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName set name
func (Order) TableName() string {
	return "orders"
}

// OrderStatus order status const
const (
	OrderStatusPending   = 1
	OrderStatusPaid      = 2
	OrderStatusCancelled = 3
)

// IsPending check order is pending
func (o *Order) IsPending() bool {
	return o.Status == OrderStatusPending
}

// IsPaid check order is paid
func (o *Order) IsPaid() bool {
	return o.Status == OrderStatusPaid
}
