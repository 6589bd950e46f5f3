package models

import "time"

// Notification is a fire-and-forget audit/alert record for the admin
// dashboard. Creation failures never fail the operation that emitted it.
type Notification struct {
	ID        int              `gorm:"primary_key" json:"id"`
	Type      NotificationType `gorm:"size:20;not null" json:"type"`
	Message   string           `gorm:"type:text;not null" json:"message"`
	OrderId   *int             `gorm:"index" json:"order_id"`
	Read      *bool            `gorm:"not null;default:false" json:"read"`
	CreatedAt time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}
