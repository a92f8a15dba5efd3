package services

import (
	"context"
	"strings"

	"github.com/mroshb/szludo_wallet/internal/models"
	"github.com/mroshb/szludo_wallet/internal/repositories"
	"github.com/mroshb/szludo_wallet/pkg/errors"
	"github.com/mroshb/szludo_wallet/pkg/logger"
	"github.com/mroshb/szludo_wallet/pkg/utils"
	"github.com/shopspring/decimal"
)

const referralCodeAttempts = 5

type UserService struct {
	store     *repositories.Store
	referrals *ReferralService
	newCode   func() string
}

func NewUserService(store *repositories.Store, referrals *ReferralService) *UserService {
	return &UserService{
		store:     store,
		referrals: referrals,
		newCode:   utils.GenerateReferralCode,
	}
}

// RegisterUser creates the ledger account for an external account ref and
// links the optional referral code. Registering the same ref twice returns
// the existing account with created=false.
func (s *UserService) RegisterUser(ctx context.Context, accountRef string, telegramID *int64, referralCode string) (*models.User, bool, error) {
	accountRef = strings.TrimSpace(accountRef)
	if accountRef == "" {
		return nil, false, errors.New(errors.ErrCodeValidation, "account ref is required")
	}

	repos := s.store.Repos(ctx)
	existing, err := repos.Users.GetUserByAccountRef(accountRef)
	if err == nil {
		return existing, false, nil
	}
	if !errors.HasCode(err, errors.ErrCodeNotFound) {
		return nil, false, err
	}

	var user *models.User
	for attempt := 0; attempt < referralCodeAttempts; attempt++ {
		code := s.newCode()
		if code == "" {
			return nil, false, errors.New(errors.ErrCodeInternalError, "failed to generate referral code")
		}
		taken, err := repos.Users.ReferralCodeExists(code)
		if err != nil {
			return nil, false, err
		}
		if taken {
			continue
		}

		user = &models.User{
			AccountRef:   accountRef,
			TelegramID:   telegramID,
			ReferralCode: code,
		}
		err = repos.Users.CreateUser(user)
		if err == nil {
			break
		}
		if !errors.HasCode(err, errors.ErrCodeAlreadyExists) {
			return nil, false, err
		}

		// lost a race on either the account ref or the code
		if existing, lookupErr := repos.Users.GetUserByAccountRef(accountRef); lookupErr == nil {
			return existing, false, nil
		}
		user = nil
	}
	if user == nil {
		return nil, false, errors.New(errors.ErrCodeInternalError, "could not allocate a unique referral code")
	}

	logger.Info("Ledger user registered", "user_id", user.ID, "account_ref", accountRef)

	if referralCode != "" && s.referrals != nil {
		// linkage never fails registration
		if _, err := s.referrals.LinkReferral(ctx, referralCode, user.ID); err != nil {
			logger.Warn("Referral link skipped", "user_id", user.ID, "error", err)
		} else if refreshed, err := repos.Users.GetUserByID(user.ID); err == nil {
			user = refreshed
		}
	}

	return user, true, nil
}

type Wallet struct {
	UserID          uint            `json:"user_id"`
	DepositBalance  decimal.Decimal `json:"deposit_balance"`
	WinningsBalance decimal.Decimal `json:"winnings_balance"`
	TotalBalance    decimal.Decimal `json:"total_balance"`
	KYCStatus       string          `json:"kyc_status"`
	CanWithdraw     bool            `json:"can_withdraw"`
	ReferralCode    string          `json:"referral_code"`
	Referrals       *ReferralStats  `json:"referrals,omitempty"`
}

func (s *UserService) GetWallet(ctx context.Context, userID uint) (*Wallet, error) {
	user, err := s.store.Repos(ctx).Users.GetUserByID(userID)
	if err != nil {
		return nil, err
	}

	wallet := &Wallet{
		UserID:          user.ID,
		DepositBalance:  user.DepositBalance,
		WinningsBalance: user.WinningsBalance,
		TotalBalance:    user.DepositBalance.Add(user.WinningsBalance),
		KYCStatus:       user.KYCStatus,
		CanWithdraw:     user.CanWithdraw(),
		ReferralCode:    user.ReferralCode,
	}
	if s.referrals != nil {
		stats, err := s.referrals.Stats(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		wallet.Referrals = stats
	}
	return wallet, nil
}

func (s *UserService) GetUser(ctx context.Context, userID uint) (*models.User, error) {
	return s.store.Repos(ctx).Users.GetUserByID(userID)
}

// SetKYCStatus records the outcome of identity verification
func (s *UserService) SetKYCStatus(ctx context.Context, userID uint, status string) error {
	if !models.ValidKYCStatus(status) {
		return errors.New(errors.ErrCodeValidation, "unknown kyc status")
	}
	if err := s.store.Repos(ctx).Users.UpdateKYCStatus(userID, status); err != nil {
		return err
	}
	logger.Info("KYC status updated", "user_id", userID, "kyc_status", status)
	return nil
}
