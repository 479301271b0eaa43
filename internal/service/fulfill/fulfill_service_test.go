package fulfill

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	mysqldrv "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"flashsale/internal/model"
	"flashsale/internal/repository"
	"flashsale/pkg/snowflake"
)

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
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

func newTestService(t *testing.T, db *gorm.DB) Service {
	gen, err := snowflake.NewIDGenerator(1)
	if err != nil {
		t.Fatalf("Failed to create ID generator: %v", err)
	}
	return NewService(
		db,
		repository.NewGoodsRepository(db),
		repository.NewOrderRepository(db),
		nil, // no gate: every call goes to the store
		gen,
		3*time.Second,
	)
}

func testAttempt() *model.PurchaseAttempt {
	return &model.PurchaseAttempt{
		GoodsID: 100,
		User:    model.UserRef{ID: 1, Nickname: "alice"},
	}
}

func TestService_Fulfill_Success(t *testing.T) {
	db, mock := setupMockDB(t)
	defer func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	}()

	svc := newTestService(t, db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `goods`").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO `orders`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	order, err := svc.Fulfill(context.Background(), testAttempt())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if order == nil {
		t.Fatal("Expected an order")
	}
	if !strings.HasPrefix(order.OrderNo, "SK") {
		t.Errorf("Expected SK-prefixed order number, got %s", order.OrderNo)
	}
	if order.UserID != 1 || order.GoodsID != 100 {
		t.Errorf("Order keyed to wrong pair: user=%d goods=%d", order.UserID, order.GoodsID)
	}
	if order.Status != model.OrderStatusPending {
		t.Errorf("Expected pending status, got %d", order.Status)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestService_Fulfill_OutOfStock(t *testing.T) {
	db, mock := setupMockDB(t)
	defer func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	}()

	svc := newTestService(t, db)

	// Conditional decrement matches no rows when stock is zero.
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `goods`").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := svc.Fulfill(context.Background(), testAttempt())
	if !errors.Is(err, ErrOutOfStock) {
		t.Errorf("Expected ErrOutOfStock, got %v", err)
	}
	if IsTransient(err) {
		t.Error("Out of stock must not be classified transient")
	}
}

func TestService_Fulfill_DuplicateOrder(t *testing.T) {
	db, mock := setupMockDB(t)
	defer func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	}()

	svc := newTestService(t, db)

	// The unique (user_id, goods_id) index rejects the second commit for
	// the same pair.
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `goods`").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO `orders`").
		WillReturnError(&mysqldrv.MySQLError{Number: 1062, Message: "Duplicate entry '1-100' for key 'uk_user_goods'"})
	mock.ExpectRollback()

	_, err := svc.Fulfill(context.Background(), testAttempt())
	if !IsDuplicate(err) {
		t.Errorf("Expected duplicate classification, got %v", err)
	}
	if IsTransient(err) {
		t.Error("Duplicate must not be classified transient")
	}
}

func TestService_Fulfill_TransientStoreError(t *testing.T) {
	db, mock := setupMockDB(t)
	defer func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	}()

	svc := newTestService(t, db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `goods`").
		WillReturnError(&mysqldrv.MySQLError{Number: 1213, Message: "Deadlock found when trying to get lock"})
	mock.ExpectRollback()

	_, err := svc.Fulfill(context.Background(), testAttempt())
	if err == nil {
		t.Fatal("Expected an error")
	}
	if !IsTransient(err) {
		t.Errorf("Expected transient classification, got %v", err)
	}
	if IsDuplicate(err) {
		t.Error("Deadlock must not be classified duplicate")
	}
}

func TestService_CheckStock(t *testing.T) {
	db, mock := setupMockDB(t)
	defer func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	}()

	svc := newTestService(t, db)

	rows := sqlmock.NewRows([]string{"id", "name", "stock", "status"}).
		AddRow(100, "Limited Edition Sneaker", 7, model.GoodsStatusOnSale)
	mock.ExpectQuery("SELECT \\* FROM `goods`").WillReturnRows(rows)

	stock, err := svc.CheckStock(context.Background(), 100)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if stock != 7 {
		t.Errorf("Expected stock 7, got %d", stock)
	}
}

func TestService_CheckStock_AbsentGoods(t *testing.T) {
	db, mock := setupMockDB(t)
	defer func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	}()

	svc := newTestService(t, db)

	mock.ExpectQuery("SELECT \\* FROM `goods`").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "stock", "status"}))

	stock, err := svc.CheckStock(context.Background(), 999)
	if err != nil {
		t.Fatalf("Expected no error for absent goods, got %v", err)
	}
	if stock != 0 {
		t.Errorf("Absent goods must report zero stock, got %d", stock)
	}
}

func TestService_FindOrder(t *testing.T) {
	db, mock := setupMockDB(t)
	defer func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	}()

	svc := newTestService(t, db)

	rows := sqlmock.NewRows([]string{"id", "order_no", "user_id", "goods_id", "status"}).
		AddRow(1, "SK123", 1, 100, model.OrderStatusPending)
	mock.ExpectQuery("SELECT \\* FROM `orders`").WillReturnRows(rows)

	order, err := svc.FindOrder(context.Background(), 1, 100)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if order == nil || order.OrderNo != "SK123" {
		t.Errorf("Expected existing order SK123, got %+v", order)
	}

	mock.ExpectQuery("SELECT \\* FROM `orders`").
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_no", "user_id", "goods_id", "status"}))

	order, err = svc.FindOrder(context.Background(), 2, 100)
	if err != nil {
		t.Fatalf("Expected no error for missing order, got %v", err)
	}
	if order != nil {
		t.Errorf("Expected nil for missing order, got %+v", order)
	}
}
