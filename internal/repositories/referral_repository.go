package repositories

import (
	stderrors "errors"
	"time"

	"github.com/mroshb/szludo_wallet/internal/models"
	"github.com/mroshb/szludo_wallet/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type ReferralRepository struct {
	db *gorm.DB
}

func NewReferralRepository(db *gorm.DB) *ReferralRepository {
	return &ReferralRepository{db: db}
}

func (r *ReferralRepository) CreateReferral(referral *models.Referral) error {
	result := r.db.Create(referral)
	if stderrors.Is(result.Error, gorm.ErrDuplicatedKey) {
		return errors.Wrap(result.Error, errors.ErrCodeStorageConflict, "user already referred")
	}
	if result.Error != nil {
		return errors.Wrap(result.Error, errors.ErrCodeInternalError, "failed to create referral")
	}
	return nil
}

// GetReferralByReferredID retrieves the referral that brought a user in
func (r *ReferralRepository) GetReferralByReferredID(referredID uint) (*models.Referral, error) {
	var referral models.Referral
	result := r.db.Where("referred_id = ?", referredID).First(&referral)

	if stderrors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, errors.New(errors.ErrCodeNotFound, "referral not found")
	}
	if result.Error != nil {
		return nil, errors.Wrap(result.Error, errors.ErrCodeInternalError, "failed to get referral")
	}

	return &referral, nil
}

// MarkCompleted flips a pending referral to completed. False means it was
// already completed by a concurrent call.
func (r *ReferralRepository) MarkCompleted(id uint, bonus decimal.Decimal, at time.Time) (bool, error) {
	result := r.db.Model(&models.Referral{}).
		Where("id = ? AND status = ?", id, models.ReferralStatusPending).
		Updates(map[string]interface{}{
			"status":       models.ReferralStatusCompleted,
			"bonus_amount": bonus,
			"completed_at": at,
		})
	if result.Error != nil {
		return false, errors.Wrap(result.Error, errors.ErrCodeInternalError, "failed to complete referral")
	}
	return result.RowsAffected == 1, nil
}

// CountByReferrer returns how many users a referrer brought in, by status
func (r *ReferralRepository) CountByReferrer(referrerID uint) (map[models.ReferralStatus]int64, error) {
	var rows []struct {
		Status models.ReferralStatus
		Count  int64
	}
	result := r.db.Model(&models.Referral{}).
		Select("status, COUNT(*) AS count").
		Where("referrer_id = ?", referrerID).
		Group("status").
		Scan(&rows)
	if result.Error != nil {
		return nil, errors.Wrap(result.Error, errors.ErrCodeInternalError, "failed to count referrals")
	}

	counts := make(map[models.ReferralStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
