package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type ReferralStatus string

const (
	ReferralStatusPending   ReferralStatus = "pending"
	ReferralStatusCompleted ReferralStatus = "completed"
)

// Referral links a referrer to the single account they brought in.
type Referral struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	ReferrerID  uint            `gorm:"not null;index" json:"referrer_id"`
	ReferredID  uint            `gorm:"not null;uniqueIndex" json:"referred_id"`
	Status      ReferralStatus  `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	BonusAmount decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0" json:"bonus_amount"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

func (Referral) TableName() string {
	return "referrals"
}
