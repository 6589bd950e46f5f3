package workflow

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/dukalink/shop_backend/models"
	"bitbucket.org/dukalink/shop_backend/utils"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// PaymentResult is what a terminal success writes onto the order.
type PaymentResult struct {
	ReceiptId string
	Status    string
	Phone     string
	PaidAt    time.Time
}

// Store is the persistence contract the reconciler and initiator run
// against. Every method is independently failable: a side effect that fails
// must not block the others.
type Store interface {
	OrderByID(ctx context.Context, id int) (*models.Order, error)
	// OrderByCheckoutRequestId returns (nil, nil) when no order is linked to
	// the attempt; standalone payments are still recorded.
	OrderByCheckoutRequestId(ctx context.Context, checkoutRequestId string) (*models.Order, error)
	// SetOrderPaymentRequest persists the correlation id and reference onto
	// the order at initiation time, before the initiation response returns.
	SetOrderPaymentRequest(ctx context.Context, orderId int, checkoutRequestId, reference string, method models.PaymentMethod) error

	// ClaimTransaction inserts the financial record. It returns false without
	// error when a record for the same correlation id already exists — the
	// atomic at-most-once claim.
	ClaimTransaction(ctx context.Context, tx *models.Transaction) (claimed bool, err error)
	// MarkOrderPaid flips is_paid false->true; returns false when the order
	// was already paid.
	MarkOrderPaid(ctx context.Context, orderId int, result PaymentResult) (bool, error)
	// CancelOrder sets status=cancelled unless the order is already paid.
	CancelOrder(ctx context.Context, orderId int) error
	ClearCart(ctx context.Context, userId int) error
	CreateNotification(ctx context.Context, n *models.Notification) error
	AttachGatewayResponse(ctx context.Context, orderId int, raw []byte) error

	TransactionsByIdentifier(ctx context.Context, identifier string) ([]models.Transaction, error)
	// StalePendingOrders lists orders with an outstanding push attempt whose
	// callback has not landed before the cutoff; input to the fallback poller.
	StalePendingOrders(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
}

// GormStore is the MySQL-backed Store.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) OrderByID(ctx context.Context, id int) (*models.Order, error) {
	order, err := models.OrderByID(s.db.WithContext(ctx), id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	return order, err
}

func (s *GormStore) OrderByCheckoutRequestId(ctx context.Context, checkoutRequestId string) (*models.Order, error) {
	var order models.Order
	err := s.db.WithContext(ctx).Preload("Items").
		Where("checkout_request_id = ?", checkoutRequestId).
		Take(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *GormStore) SetOrderPaymentRequest(ctx context.Context, orderId int, checkoutRequestId, reference string, method models.PaymentMethod) error {
	return s.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ?", orderId).
		Updates(map[string]interface{}{
			"checkout_request_id": checkoutRequestId,
			"payment_reference":   reference,
			"payment_method":      method,
		}).Error
}

func isDuplicateKeyErr(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

func (s *GormStore) ClaimTransaction(ctx context.Context, tx *models.Transaction) (bool, error) {
	err := s.db.WithContext(ctx).Create(tx).Error
	if err == nil {
		return true, nil
	}
	if isDuplicateKeyErr(err) {
		return false, nil
	}
	return false, err
}

func (s *GormStore) MarkOrderPaid(ctx context.Context, orderId int, result PaymentResult) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND is_paid = ?", orderId, false).
		Updates(map[string]interface{}{
			"is_paid":               true,
			"paid_at":               result.PaidAt,
			"status":                models.OrderStatusProcessing,
			"payment_result_id":     result.ReceiptId,
			"payment_result_status": result.Status,
			"payment_result_phone":  result.Phone,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) CancelOrder(ctx context.Context, orderId int) error {
	// Paid orders are never reverted by a late failure signal.
	return s.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND is_paid = ?", orderId, false).
		Update("status", models.OrderStatusCancelled).Error
}

func (s *GormStore) ClearCart(ctx context.Context, userId int) error {
	return models.ClearCart(s.db.WithContext(ctx), userId)
}

func (s *GormStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	return s.db.WithContext(ctx).Create(n).Error
}

func (s *GormStore) AttachGatewayResponse(ctx context.Context, orderId int, raw []byte) error {
	return s.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ?", orderId).
		Update("raw_gateway_response", raw).Error
}

func (s *GormStore) TransactionsByIdentifier(ctx context.Context, identifier string) ([]models.Transaction, error) {
	var txs []models.Transaction
	err := s.db.WithContext(ctx).
		Where("user_identifier = ?", identifier).
		Order("created_at DESC").
		Find(&txs).Error
	return txs, err
}

func (s *GormStore) StalePendingOrders(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.WithContext(ctx).
		Where("checkout_request_id <> '' AND is_paid = ? AND status = ? AND updated_at < ?",
			false, models.OrderStatusPending, cutoff).
		Limit(limit).
		Find(&orders).Error
	return orders, err
}
