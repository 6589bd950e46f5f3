package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Order is the external entity mutated by payment reconciliation. The payment
// columns (CheckoutRequestId, PaymentReference, PaymentResult*) are written at
// initiation and on the terminal outcome; nothing else here belongs to the
// payment engine.
type Order struct {
	ID            int          `gorm:"primary_key" json:"id"`
	UserId        *int         `gorm:"index" json:"user_id"`
	UserEmail     string       `gorm:"size:100" json:"user_email"`
	Items         []OrderItem  `json:"items"`
	Status        OrderStatus  `gorm:"size:20;not null;default:pending" json:"status"`
	IsPaid        *bool        `gorm:"not null;default:false" json:"is_paid"`
	PaidAt        *time.Time   `json:"paid_at"`
	PaymentMethod PaymentMethod `gorm:"size:20" json:"payment_method"`

	// CheckoutRequestId is the gateway-issued correlation id, persisted at
	// initiation so an asynchronous signal can be matched back to this order.
	CheckoutRequestId string `gorm:"size:100;index" json:"checkout_request_id"`
	PaymentReference  string `gorm:"size:100" json:"payment_reference"`

	PaymentResultId     string `gorm:"size:100" json:"payment_result_id"`
	PaymentResultStatus string `gorm:"size:50" json:"payment_result_status"`
	PaymentResultPhone  string `gorm:"size:20" json:"payment_result_phone"`

	// RawGatewayResponse is attached for audit after the terminal outcome; it
	// never participates in reconciliation decisions.
	RawGatewayResponse []byte `gorm:"type:json" json:"raw_gateway_response"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type OrderItem struct {
	ID        int             `gorm:"primary_key" json:"id"`
	OrderId   int             `gorm:"index;not null" json:"order_id"`
	Name      string          `gorm:"size:255;not null" json:"name"`
	Price     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"price"`
	Quantity  int             `gorm:"not null;default:1" json:"quantity"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// Total recomputes the authoritative order amount from stored line items.
func (o *Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}

// OrderByID loads an order with its items.
func OrderByID(db *gorm.DB, id int) (*Order, error) {
	var order Order
	if err := db.Preload("Items").Where("id = ?", id).Take(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}
