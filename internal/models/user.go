package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// User is the ledger view of a platform account.
type User struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	AccountRef      string          `gorm:"uniqueIndex;type:varchar(64);not null" json:"account_ref"`
	TelegramID      *int64          `gorm:"index" json:"-"`
	DepositBalance  decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0" json:"deposit_balance"`
	WinningsBalance decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0" json:"winnings_balance"`
	KYCStatus       string          `gorm:"type:varchar(20);not null;default:'none'" json:"kyc_status"`
	ReferralCode    string          `gorm:"uniqueIndex;type:varchar(16);not null" json:"referral_code"`
	ReferredBy      *uint           `gorm:"index" json:"referred_by,omitempty"`
	Version         int64           `gorm:"not null;default:1" json:"-"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// KYC status constants
const (
	KYCStatusNone     = "none"
	KYCStatusPending  = "pending"
	KYCStatusApproved = "approved"
	KYCStatusRejected = "rejected"
)

func ValidKYCStatus(status string) bool {
	switch status {
	case KYCStatusNone, KYCStatusPending, KYCStatusApproved, KYCStatusRejected:
		return true
	}
	return false
}

// CanWithdraw reports whether KYC allows the user to request payouts.
func (u *User) CanWithdraw() bool {
	return u.KYCStatus == KYCStatusApproved
}

// BeforeCreate fills defaults and rejects records that would break the
// non-negative balance invariant. Updates go through versioned writes in the
// repository and are checked there.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.KYCStatus == "" {
		u.KYCStatus = KYCStatusNone
	}
	if u.Version == 0 {
		u.Version = 1
	}

	if !ValidKYCStatus(u.KYCStatus) {
		return gorm.ErrInvalidData
	}
	if u.DepositBalance.IsNegative() || u.WinningsBalance.IsNegative() {
		return gorm.ErrInvalidData
	}
	if u.AccountRef == "" || u.ReferralCode == "" {
		return gorm.ErrInvalidData
	}

	return nil
}

// TableName specifies the table name
func (User) TableName() string {
	return "users"
}
