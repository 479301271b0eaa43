package repository

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"flashsale/internal/model"
)

func setupGoodsMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock: %v", err)
	}

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("Failed to open gorm DB: %v", err)
	}

	return gormDB, mock
}

func TestGoodsRepository_GetByID(t *testing.T) {
	db, mock := setupGoodsMockDB(t)
	defer func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	}()

	repo := NewGoodsRepository(db)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{"id", "name", "price", "stock", "sales", "status"}).
		AddRow(100, "Limited Edition Sneaker", 19900, 50, 0, model.GoodsStatusOnSale)
	mock.ExpectQuery("SELECT \\* FROM `goods`").WillReturnRows(rows)

	goods, err := repo.GetByID(ctx, 100)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if goods == nil {
		t.Fatal("Expected goods")
	}
	if goods.Name != "Limited Edition Sneaker" || goods.Stock != 50 {
		t.Errorf("Unexpected goods: %+v", goods)
	}
	if !goods.IsOnSale() {
		t.Error("Expected goods to be on sale")
	}
}

func TestGoodsRepository_GetByID_NotFound(t *testing.T) {
	db, mock := setupGoodsMockDB(t)
	defer func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	}()

	repo := NewGoodsRepository(db)

	mock.ExpectQuery("SELECT \\* FROM `goods`").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "stock"}))

	goods, err := repo.GetByID(context.Background(), 999)
	if err != nil {
		t.Fatalf("Absent goods must not be an error, got %v", err)
	}
	if goods != nil {
		t.Errorf("Expected nil goods, got %+v", goods)
	}
}

func TestGoodsRepository_GetStock(t *testing.T) {
	db, mock := setupGoodsMockDB(t)
	defer func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	}()

	repo := NewGoodsRepository(db)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{"id", "name", "stock", "status"}).
		AddRow(100, "Sneaker", 7, model.GoodsStatusOnSale)
	mock.ExpectQuery("SELECT \\* FROM `goods`").WillReturnRows(rows)

	stock, err := repo.GetStock(ctx, 100)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if stock != 7 {
		t.Errorf("Expected stock 7, got %d", stock)
	}

	// Absent goods report zero stock.
	mock.ExpectQuery("SELECT \\* FROM `goods`").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "stock"}))

	stock, err = repo.GetStock(ctx, 999)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if stock != 0 {
		t.Errorf("Expected zero stock for absent goods, got %d", stock)
	}
}

func TestGoodsRepository_ListOnSale(t *testing.T) {
	db, mock := setupGoodsMockDB(t)
	defer func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	}()

	repo := NewGoodsRepository(db)

	rows := sqlmock.NewRows([]string{"id", "name", "stock", "status"}).
		AddRow(100, "Sneaker", 7, model.GoodsStatusOnSale).
		AddRow(101, "Watch", 3, model.GoodsStatusOnSale)
	mock.ExpectQuery("SELECT \\* FROM `goods`").WillReturnRows(rows)

	goods, err := repo.ListOnSale(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(goods) != 2 {
		t.Errorf("Expected 2 goods, got %d", len(goods))
	}
}
