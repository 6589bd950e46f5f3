package workflow

import (
	"context"
	"testing"
	"time"

	"bitbucket.org/dukalink/shop_backend/models"
	sqlmock "github.com/DATA-DOG/go-sqlmock"
	mysqlDriver "github.com/go-sql-driver/mysql"
	gormMysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func newMockGorm(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, func()) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}

	gdb, err := gorm.Open(gormMysql.New(gormMysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	if err != nil {
		t.Fatalf("gorm open: %v", err)
	}

	cleanup := func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("unmet expectations: %v", err)
		}
	}

	return gdb, mock, cleanup
}

func TestClaimTransactionFirstInsertWins(t *testing.T) {
	gdb, mock, cleanup := newMockGorm(t)
	t.Cleanup(cleanup)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `transactions`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	store := NewGormStore(gdb)
	claimed, err := store.ClaimTransaction(context.Background(), &models.Transaction{
		UserIdentifier:    "buyer@example.com",
		Method:            models.PaymentMethodMpesa,
		Amount:            1300,
		Status:            models.TransactionStatusCompleted,
		CheckoutRequestId: "ws_CO_1",
	})
	if err != nil {
		t.Fatalf("ClaimTransaction: %v", err)
	}
	if !claimed {
		t.Fatal("first insert must claim")
	}
}

func TestClaimTransactionDuplicateIsNotAnError(t *testing.T) {
	gdb, mock, cleanup := newMockGorm(t)
	t.Cleanup(cleanup)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `transactions`").
		WillReturnError(&mysqlDriver.MySQLError{Number: 1062, Message: "Duplicate entry 'ws_CO_1'"})
	mock.ExpectRollback()

	store := NewGormStore(gdb)
	claimed, err := store.ClaimTransaction(context.Background(), &models.Transaction{
		CheckoutRequestId: "ws_CO_1",
	})
	if err != nil {
		t.Fatalf("duplicate key must not surface as an error, got: %v", err)
	}
	if claimed {
		t.Fatal("duplicate insert must not claim")
	}
}

func TestMarkOrderPaidOnlyFlipsUnpaid(t *testing.T) {
	gdb, mock, cleanup := newMockGorm(t)
	t.Cleanup(cleanup)

	// First writer flips the flag.
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `orders` SET .* WHERE id = \\? AND is_paid = \\?").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	// Second writer finds it already paid.
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `orders` SET .* WHERE id = \\? AND is_paid = \\?").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	store := NewGormStore(gdb)
	result := PaymentResult{ReceiptId: "NLJ7RT61SV", Status: "Completed", Phone: "254712345678", PaidAt: time.Now()}

	updated, err := store.MarkOrderPaid(context.Background(), 7, result)
	if err != nil {
		t.Fatalf("MarkOrderPaid: %v", err)
	}
	if !updated {
		t.Fatal("first writer must report updated")
	}

	updated, err = store.MarkOrderPaid(context.Background(), 7, result)
	if err != nil {
		t.Fatalf("MarkOrderPaid second call: %v", err)
	}
	if updated {
		t.Fatal("second writer must see zero rows affected")
	}
}

func TestCancelOrderGuardsPaidOrders(t *testing.T) {
	gdb, mock, cleanup := newMockGorm(t)
	t.Cleanup(cleanup)

	// The is_paid guard rides in the WHERE clause; a paid order matches zero
	// rows and stays untouched.
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `orders` SET .* WHERE id = \\? AND is_paid = \\?").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	store := NewGormStore(gdb)
	if err := store.CancelOrder(context.Background(), 7); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
}

func TestOrderByCheckoutRequestIdMissingIsNil(t *testing.T) {
	gdb, mock, cleanup := newMockGorm(t)
	t.Cleanup(cleanup)

	mock.ExpectQuery("SELECT \\* FROM `orders` WHERE checkout_request_id = \\?").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	store := NewGormStore(gdb)
	order, err := store.OrderByCheckoutRequestId(context.Background(), "ws_CO_MISSING")
	if err != nil {
		t.Fatalf("OrderByCheckoutRequestId: %v", err)
	}
	if order != nil {
		t.Fatal("missing order must return nil, nil")
	}
}
