package services

import (
	"context"
	"time"

	"github.com/mroshb/szludo_wallet/internal/metrics"
	"github.com/mroshb/szludo_wallet/internal/models"
	"github.com/mroshb/szludo_wallet/internal/notify"
	"github.com/mroshb/szludo_wallet/internal/repositories"
	"github.com/mroshb/szludo_wallet/pkg/errors"
	"github.com/mroshb/szludo_wallet/pkg/logger"
	"github.com/shopspring/decimal"
)

// Outcome tells callers whether an operation changed state. Idempotent replays
// report AlreadyHandled instead of failing.
type Outcome string

const (
	OutcomeApplied        Outcome = "applied"
	OutcomeAlreadyHandled Outcome = "already_handled"
	OutcomeIgnored        Outcome = "ignored"
	OutcomeLostRace       Outcome = "lost_race"
)

// Clock returns the current time. Tests replace it.
type Clock func() time.Time

func utcNow() time.Time {
	return time.Now().UTC()
}

// DepositHook runs after a deposit commits. Errors are logged only.
type DepositHook func(ctx context.Context, userID uint) error

// events fans out post-commit side effects shared by every service.
type events struct {
	notifier notify.Notifier
	metrics  *metrics.Metrics
}

func (e *events) publish(ctx context.Context, user *models.User, kind notify.EventKind, txn *models.Transaction) {
	if e.notifier == nil || user == nil || txn == nil {
		return
	}
	event := notify.Event{
		Kind:          kind,
		UserID:        user.ID,
		TransactionID: txn.ID,
		Amount:        txn.Amount,
		Note:          txn.AdminNotes,
	}
	if user.TelegramID != nil {
		event.ChatID = *user.TelegramID
	}
	if err := e.notifier.Notify(ctx, event); err != nil {
		e.metrics.ObserveNotifyFailure()
		logger.Warn("Failed to notify user", "user_id", user.ID, "transaction_id", txn.ID, "kind", kind, "error", err)
	}
}

// validateAmount rejects non-positive amounts and sub-paisa precision.
func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return errors.New(errors.ErrCodeValidation, "amount must be positive")
	}
	if !amount.Equal(amount.Round(2)) {
		return errors.New(errors.ErrCodeValidation, "amount has more than two decimal places")
	}
	return nil
}

// adjustBalances applies signed deltas to both balances of a user through the
// versioned write. It must run inside a unit of work.
func adjustBalances(r *repositories.Repos, userID uint, depositDelta, winningsDelta decimal.Decimal) (*models.User, error) {
	user, err := r.Users.GetUserByID(userID)
	if err != nil {
		return nil, err
	}

	deposit := user.DepositBalance.Add(depositDelta)
	winnings := user.WinningsBalance.Add(winningsDelta)
	if deposit.IsNegative() {
		return nil, errors.New(errors.ErrCodeInsufficientFunds, "insufficient deposit balance")
	}
	if winnings.IsNegative() {
		return nil, errors.New(errors.ErrCodeInsufficientFunds, "insufficient winnings balance")
	}

	if err := r.Users.SetBalances(user, deposit, winnings); err != nil {
		return nil, err
	}
	return user, nil
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
