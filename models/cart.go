package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type CartItem struct {
	ID          int             `gorm:"primary_key" json:"id"`
	UserId      int             `gorm:"index;not null" json:"user_id"`
	ProductName string          `gorm:"size:255;not null" json:"product_name"`
	Price       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"price"`
	Quantity    int             `gorm:"not null;default:1" json:"quantity"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// ClearCart deletes every cart item belonging to the user. Deleting an
// already-empty cart is a no-op, which keeps the operation idempotent.
func ClearCart(db *gorm.DB, userId int) error {
	return db.Where("user_id = ?", userId).Delete(&CartItem{}).Error
}
