package models

import "time"

// Transaction is the financial record persisted on a confirmed payment. The
// unique index on CheckoutRequestId is the exactly-once claim: the second
// writer for the same attempt hits a duplicate-key error and skips effects.
//
// Failed attempts do not persist a Transaction. That matches the dashboard's
// expectation (completed money movements only) but leaves no audit trail for
// declines; see DESIGN.md.
type Transaction struct {
	ID                int               `gorm:"primary_key" json:"id"`
	UserIdentifier    string            `gorm:"size:100;index;not null" json:"user_identifier"`
	Method            PaymentMethod     `gorm:"size:20;not null" json:"method"`
	Amount            int64             `gorm:"not null" json:"amount"`
	Status            TransactionStatus `gorm:"size:20;not null" json:"status"`
	Reference         string            `gorm:"size:100" json:"reference"`
	CheckoutRequestId string            `gorm:"size:100;uniqueIndex;not null" json:"checkout_request_id"`
	RawCallback       []byte            `gorm:"type:json" json:"raw_callback"`
	CreatedAt         time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}
