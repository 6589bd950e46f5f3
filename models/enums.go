package models

// OrderStatus tracks an order through fulfilment. Payment reconciliation only
// ever writes Processing (paid) or Cancelled (declined attempt).
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// TransactionStatus is the status of a financial record. Failed attempts are
// never persisted, so Completed is the only value written today.
type TransactionStatus string

const (
	TransactionStatusCompleted TransactionStatus = "completed"
)

type PaymentMethod string

const (
	PaymentMethodMpesa PaymentMethod = "mpesa"
	PaymentMethodCard  PaymentMethod = "card"
)

type NotificationType string

const (
	NotificationTypePayment NotificationType = "payment"
	NotificationTypeOrder   NotificationType = "order"
	NotificationTypeSystem  NotificationType = "system"
)

type UserRole string

const (
	UserRoleAdmin    UserRole = "A"
	UserRoleCustomer UserRole = "C"
)
