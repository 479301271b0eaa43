package model

import (
	"time"
)

// Goods goods model
type Goods struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"type:varchar(200);not null" json:"name"`
	Price     int64     `gorm:"type:bigint;not null" json:"price"` // unit price in cents
	Stock     int       `gorm:"type:int;not null;default:0" json:"stock"`
	Sales     int       `gorm:"type:int;not null;default:0" json:"sales"`
	Status    int8      `gorm:"type:tinyint;not null;default:1;index" json:"status"`
	CreatedAt time.Time `gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName set name
func (Goods) TableName() string {
	return "goods"
}

// GoodsStatus goods status const
const (
	GoodsStatusOnSale  = 1
	GoodsStatusOffSale = 2
	GoodsStatusDeleted = 3
)

// IsOnSale check if goods is on sale
func (g *Goods) IsOnSale() bool {
	return g.Status == GoodsStatusOnSale
}

// HasStock check if goods has stock
func (g *Goods) HasStock() bool {
	return g.Stock > 0
}
