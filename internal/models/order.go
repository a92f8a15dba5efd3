package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusFailed    OrderStatus = "failed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusPaid, OrderStatusFailed, OrderStatusCancelled:
		return true
	case OrderStatusPending:
		return false
	}
	return false
}

// Order is a gateway-gated deposit. It is created before the user is sent to
// checkout and becomes paid only through a verified webhook.
type Order struct {
	ID               uint            `gorm:"primaryKey" json:"id"`
	UserID           uint            `gorm:"not null;index" json:"user_id"`
	Amount           decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"amount"`
	Currency         string          `gorm:"type:varchar(3);not null;default:'INR'" json:"currency"`
	Status           OrderStatus     `gorm:"type:varchar(20);not null;index" json:"status"`
	GatewaySessionID string          `gorm:"uniqueIndex;type:varchar(64);not null" json:"gateway_session_id"`
	PaymentID        string          `gorm:"type:varchar(64)" json:"payment_id,omitempty"`
	FailureReason    string          `gorm:"type:varchar(255)" json:"failure_reason,omitempty"`
	CreatedAt        time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	PaidAt           *time.Time      `json:"paid_at,omitempty"`
}

func (Order) TableName() string {
	return "payment_orders"
}
