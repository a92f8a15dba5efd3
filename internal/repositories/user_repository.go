package repositories

import (
	stderrors "errors"

	"github.com/mroshb/szludo_wallet/internal/models"
	"github.com/mroshb/szludo_wallet/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// CreateUser creates a new user
func (r *UserRepository) CreateUser(user *models.User) error {
	result := r.db.Create(user)
	if stderrors.Is(result.Error, gorm.ErrDuplicatedKey) {
		return errors.Wrap(result.Error, errors.ErrCodeAlreadyExists, "user already exists")
	}
	if result.Error != nil {
		return errors.Wrap(result.Error, errors.ErrCodeInternalError, "failed to create user")
	}
	return nil
}

// GetUserByID retrieves a user by ID
func (r *UserRepository) GetUserByID(id uint) (*models.User, error) {
	var user models.User
	result := r.db.First(&user, id)

	if stderrors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, errors.New(errors.ErrCodeNotFound, "user not found")
	}
	if result.Error != nil {
		return nil, errors.Wrap(result.Error, errors.ErrCodeInternalError, "failed to get user")
	}

	return &user, nil
}

// GetUserByAccountRef retrieves a user by the id the account service assigned
func (r *UserRepository) GetUserByAccountRef(ref string) (*models.User, error) {
	var user models.User
	result := r.db.Where("account_ref = ?", ref).First(&user)

	if stderrors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, errors.New(errors.ErrCodeNotFound, "user not found")
	}
	if result.Error != nil {
		return nil, errors.Wrap(result.Error, errors.ErrCodeInternalError, "failed to get user")
	}

	return &user, nil
}

// GetUserByReferralCode retrieves the owner of a referral code
func (r *UserRepository) GetUserByReferralCode(code string) (*models.User, error) {
	var user models.User
	result := r.db.Where("referral_code = ?", code).First(&user)

	if stderrors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, errors.New(errors.ErrCodeNotFound, "referral code not found")
	}
	if result.Error != nil {
		return nil, errors.Wrap(result.Error, errors.ErrCodeInternalError, "failed to get user")
	}

	return &user, nil
}

// ReferralCodeExists checks whether a code is already taken
func (r *UserRepository) ReferralCodeExists(code string) (bool, error) {
	var count int64
	result := r.db.Model(&models.User{}).Where("referral_code = ?", code).Count(&count)
	if result.Error != nil {
		return false, errors.Wrap(result.Error, errors.ErrCodeInternalError, "failed to check referral code")
	}
	return count > 0, nil
}

// SetBalances writes both balances conditioned on the version the caller
// read. A concurrent writer bumps the version first, so a zero-row update is
// reported as a storage conflict and the caller's unit is retried.
func (r *UserRepository) SetBalances(user *models.User, deposit, winnings decimal.Decimal) error {
	if deposit.IsNegative() || winnings.IsNegative() {
		return errors.New(errors.ErrCodeInsufficientFunds, "balance cannot go below zero")
	}

	result := r.db.Model(&models.User{}).
		Where("id = ? AND version = ?", user.ID, user.Version).
		Updates(map[string]interface{}{
			"deposit_balance":  deposit,
			"winnings_balance": winnings,
			"version":          gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return errors.Wrap(result.Error, errors.ErrCodeInternalError, "failed to update balance")
	}
	if result.RowsAffected == 0 {
		return errors.New(errors.ErrCodeStorageConflict, "user balance changed concurrently")
	}

	user.DepositBalance = deposit
	user.WinningsBalance = winnings
	user.Version++
	return nil
}

// SetReferredBy links a referrer only while the user has none. It returns
// false when another writer linked the user first.
func (r *UserRepository) SetReferredBy(userID, referrerID uint) (bool, error) {
	result := r.db.Model(&models.User{}).
		Where("id = ? AND referred_by IS NULL", userID).
		Updates(map[string]interface{}{
			"referred_by": referrerID,
			"version":     gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return false, errors.Wrap(result.Error, errors.ErrCodeInternalError, "failed to link referrer")
	}
	return result.RowsAffected == 1, nil
}

// UpdateKYCStatus updates user KYC status
func (r *UserRepository) UpdateKYCStatus(userID uint, status string) error {
	result := r.db.Model(&models.User{}).Where("id = ?", userID).Update("kyc_status", status)
	if result.Error != nil {
		return errors.Wrap(result.Error, errors.ErrCodeInternalError, "failed to update kyc status")
	}
	if result.RowsAffected == 0 {
		return errors.New(errors.ErrCodeNotFound, "user not found")
	}
	return nil
}
