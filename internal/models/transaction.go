package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TxTypeDeposit       TransactionType = "deposit"
	TxTypeWithdrawal    TransactionType = "withdrawal"
	TxTypeBattleFee     TransactionType = "battle-fee"
	TxTypeBattleWin     TransactionType = "battle-win"
	TxTypeReferralBonus TransactionType = "referral-bonus"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TxTypeDeposit, TxTypeWithdrawal, TxTypeBattleFee, TxTypeBattleWin, TxTypeReferralBonus:
		return true
	}
	return false
}

// NeedsConfirmation reports whether the type waits in pending for an admin or
// the gateway. Escrow moves and bonuses settle immediately.
func (t TransactionType) NeedsConfirmation() bool {
	switch t {
	case TxTypeDeposit, TxTypeWithdrawal:
		return true
	case TxTypeBattleFee, TxTypeBattleWin, TxTypeReferralBonus:
		return false
	}
	return false
}

type TransactionStatus string

const (
	TxStatusPending   TransactionStatus = "pending"
	TxStatusCompleted TransactionStatus = "completed"
	TxStatusRejected  TransactionStatus = "rejected"
	TxStatusFailed    TransactionStatus = "failed"
)

func (s TransactionStatus) Valid() bool {
	switch s {
	case TxStatusPending, TxStatusCompleted, TxStatusRejected, TxStatusFailed:
		return true
	}
	return false
}

// IsTerminal is true for every status a transaction can never leave.
func (s TransactionStatus) IsTerminal() bool {
	switch s {
	case TxStatusCompleted, TxStatusRejected, TxStatusFailed:
		return true
	case TxStatusPending:
		return false
	}
	return false
}

// Transaction is one ledger movement. Rows are never deleted; terminal
// statuses are history.
type Transaction struct {
	ID            uint              `gorm:"primaryKey" json:"id"`
	UserID        uint              `gorm:"not null;index" json:"user_id"`
	Type          TransactionType   `gorm:"type:varchar(20);not null;index" json:"type"`
	Amount        decimal.Decimal   `gorm:"type:numeric(20,2);not null" json:"amount"`
	Status        TransactionStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	AdminNotes    string            `gorm:"type:text" json:"admin_notes,omitempty"`
	ExternalID    *string           `gorm:"uniqueIndex;type:varchar(128)" json:"transaction_id,omitempty"`
	ScreenshotURL string            `gorm:"type:varchar(500)" json:"screenshot_url,omitempty"`
	OrderID       *uint             `gorm:"index" json:"order_id,omitempty"`
	CreatedAt     time.Time         `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt     time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
}

// TransactionMeta carries the optional fields supplied at creation time.
type TransactionMeta struct {
	ExternalID    string
	ScreenshotURL string
	OrderID       *uint
}

func (Transaction) TableName() string {
	return "transactions"
}
