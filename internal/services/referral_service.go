package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/mroshb/szludo_wallet/internal/metrics"
	"github.com/mroshb/szludo_wallet/internal/models"
	"github.com/mroshb/szludo_wallet/internal/notify"
	"github.com/mroshb/szludo_wallet/internal/repositories"
	"github.com/mroshb/szludo_wallet/pkg/errors"
	"github.com/mroshb/szludo_wallet/pkg/logger"
	"github.com/shopspring/decimal"
)

type ReferralService struct {
	store  *repositories.Store
	bonus  decimal.Decimal
	events *events
	now    Clock
}

func NewReferralService(store *repositories.Store, bonus decimal.Decimal, notifier notify.Notifier, m *metrics.Metrics) *ReferralService {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &ReferralService{
		store:  store,
		bonus:  bonus,
		events: &events{notifier: notifier, metrics: m},
		now:    utcNow,
	}
}

func (s *ReferralService) SetClock(c Clock) {
	s.now = c
}

// LinkReferral attaches the owner of referrerCode as the referrer of a new
// user. Unknown codes and self referrals are logged and ignored so signup is
// never blocked. A user keeps the first referrer linked.
func (s *ReferralService) LinkReferral(ctx context.Context, referrerCode string, newUserID uint) (Outcome, error) {
	code := strings.ToUpper(strings.TrimSpace(referrerCode))
	if code == "" {
		return OutcomeIgnored, nil
	}

	outcome := OutcomeApplied
	var referrerID uint
	err := s.store.Atomic(ctx, func(r *repositories.Repos) error {
		outcome = OutcomeApplied

		referrer, err := r.Users.GetUserByReferralCode(code)
		if errors.HasCode(err, errors.ErrCodeNotFound) {
			outcome = OutcomeIgnored
			return nil
		}
		if err != nil {
			return err
		}
		if referrer.ID == newUserID {
			outcome = OutcomeIgnored
			return nil
		}
		referrerID = referrer.ID

		user, err := r.Users.GetUserByID(newUserID)
		if err != nil {
			return err
		}
		if user.ReferredBy != nil {
			outcome = OutcomeAlreadyHandled
			return nil
		}

		linked, err := r.Users.SetReferredBy(newUserID, referrer.ID)
		if err != nil {
			return err
		}
		if !linked {
			outcome = OutcomeAlreadyHandled
			return nil
		}

		return r.Referrals.CreateReferral(&models.Referral{
			ReferrerID: referrer.ID,
			ReferredID: newUserID,
			Status:     models.ReferralStatusPending,
		})
	})
	if err != nil {
		logger.Error("Failed to link referral", "code", code, "user_id", newUserID, "error", err)
		return "", err
	}

	switch outcome {
	case OutcomeIgnored:
		logger.Warn("Referral code ignored", "code", code, "user_id", newUserID)
	case OutcomeApplied:
		logger.Info("Referral linked", "referrer_id", referrerID, "user_id", newUserID)
	}
	s.events.metrics.ObserveTransition("referral-link", string(outcome))
	return outcome, nil
}

// CompleteReferral pays the referrer of referredID once. Users without a
// referral are ignored and a completed referral is left untouched.
func (s *ReferralService) CompleteReferral(ctx context.Context, referredID uint) (Outcome, error) {
	var (
		outcome  Outcome
		referrer *models.User
		bonusTxn *models.Transaction
	)
	err := s.store.Atomic(ctx, func(r *repositories.Repos) error {
		outcome, referrer, bonusTxn = OutcomeApplied, nil, nil

		referral, err := r.Referrals.GetReferralByReferredID(referredID)
		if errors.HasCode(err, errors.ErrCodeNotFound) {
			outcome = OutcomeIgnored
			return nil
		}
		if err != nil {
			return err
		}
		if referral.Status == models.ReferralStatusCompleted {
			outcome = OutcomeAlreadyHandled
			return nil
		}

		now := s.now()
		done, err := r.Referrals.MarkCompleted(referral.ID, s.bonus, now)
		if err != nil {
			return err
		}
		if !done {
			return errors.New(errors.ErrCodeStorageConflict, "referral completed concurrently")
		}

		if !s.bonus.IsPositive() {
			return nil
		}

		referrer, err = adjustBalances(r, referral.ReferrerID, s.bonus, decimal.Zero)
		if err != nil {
			return err
		}

		bonusTxn = &models.Transaction{
			UserID:      referral.ReferrerID,
			Type:        models.TxTypeReferralBonus,
			Amount:      s.bonus,
			Status:      models.TxStatusCompleted,
			ExternalID:  strPtr(fmt.Sprintf("referral-%d", referral.ID)),
			CompletedAt: &now,
		}
		return r.Transactions.CreateTransaction(bonusTxn)
	})
	if err != nil {
		logger.Error("Failed to complete referral", "user_id", referredID, "error", err)
		return "", err
	}

	s.events.metrics.ObserveTransition(string(models.TxTypeReferralBonus), string(outcome))
	if outcome == OutcomeApplied {
		logger.Info("Referral completed", "user_id", referredID, "bonus", s.bonus.String())
		s.events.publish(ctx, referrer, notify.ReferralBonus, bonusTxn)
	}
	return outcome, nil
}

// DepositHook completes the depositor's referral after any credited deposit.
func (s *ReferralService) DepositHook() DepositHook {
	return func(ctx context.Context, userID uint) error {
		_, err := s.CompleteReferral(ctx, userID)
		return err
	}
}

type ReferralStats struct {
	Pending   int64 `json:"pending"`
	Completed int64 `json:"completed"`
}

func (s *ReferralService) Stats(ctx context.Context, referrerID uint) (*ReferralStats, error) {
	counts, err := s.store.Repos(ctx).Referrals.CountByReferrer(referrerID)
	if err != nil {
		return nil, err
	}
	return &ReferralStats{
		Pending:   counts[models.ReferralStatusPending],
		Completed: counts[models.ReferralStatusCompleted],
	}, nil
}
