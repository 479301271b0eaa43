package database

import (
	"fmt"

	"gorm.io/gorm"

	"flashsale/internal/model"
	"flashsale/pkg/log"
)

// AutoMigrate auto migrate database table schema
func AutoMigrate(db *gorm.DB) error {
	log.Info("Starting database migration...")

	models := []interface{}{
		&model.Goods{},
		&model.Order{},
	}

	for _, m := range models {
		if err := db.AutoMigrate(m); err != nil {
			return fmt.Errorf("failed to migrate %T: %w", m, err)
		}
		log.Infof("Migrated model: %T", m)
	}

	log.Info("Database migration completed successfully")
	return nil
}

// CreateIndexes create additional indexes
func CreateIndexes(db *gorm.DB) error {
	indexes := []struct {
		table string
		name  string
		sql   string
	}{
		{
			table: "orders",
			name:  "idx_orders_goods_created",
			sql:   "CREATE INDEX IF NOT EXISTS idx_orders_goods_created ON orders (goods_id, created_at)",
		},
	}

	for _, idx := range indexes {
		if err := db.Exec(idx.sql).Error; err != nil {
			log.Warnf("Failed to create index %s on table %s: %v", idx.name, idx.table, err)
		} else {
			log.Infof("Created index: %s on table %s", idx.name, idx.table)
		}
	}

	return nil
}
