package services

import (
	"context"
	"fmt"
	"iter"

	"github.com/mroshb/szludo_wallet/internal/metrics"
	"github.com/mroshb/szludo_wallet/internal/models"
	"github.com/mroshb/szludo_wallet/internal/notify"
	"github.com/mroshb/szludo_wallet/internal/repositories"
	"github.com/mroshb/szludo_wallet/internal/security"
	"github.com/mroshb/szludo_wallet/pkg/errors"
	"github.com/mroshb/szludo_wallet/pkg/logger"
	"github.com/shopspring/decimal"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	maxBulkSize     = 100

	cancelledByUserNote = "cancelled by user"
)

type LedgerConfig struct {
	MinDeposit    decimal.Decimal
	MinWithdrawal decimal.Decimal
}

// LedgerService creates transactions and moves them to a terminal status. A
// balance changes only together with the status flip that governs it.
type LedgerService struct {
	store  *repositories.Store
	cfg    LedgerConfig
	events *events
	now    Clock
	hooks  []DepositHook
}

func NewLedgerService(store *repositories.Store, cfg LedgerConfig, notifier notify.Notifier, m *metrics.Metrics) *LedgerService {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &LedgerService{
		store:  store,
		cfg:    cfg,
		events: &events{notifier: notifier, metrics: m},
		now:    utcNow,
	}
}

func (s *LedgerService) SetClock(c Clock) {
	s.now = c
}

// OnDepositCompleted registers a hook run after any deposit is credited,
// whether approved by an admin or confirmed by the gateway.
func (s *LedgerService) OnDepositCompleted(hook DepositHook) {
	s.hooks = append(s.hooks, hook)
}

func (s *LedgerService) depositCompleted(ctx context.Context, userID uint) {
	for _, hook := range s.hooks {
		if err := hook(ctx, userID); err != nil {
			logger.Error("Deposit hook failed", "user_id", userID, "error", err)
		}
	}
}

// CreateTransaction records a new transaction. Deposits and withdrawals wait
// in pending; battle escrow moves settle at once. A repeated external id for
// the same user, type and amount returns the recorded transaction.
func (s *LedgerService) CreateTransaction(ctx context.Context, userID uint, txType models.TransactionType, amount decimal.Decimal, meta models.TransactionMeta) (*models.Transaction, error) {
	txn, _, err := s.createTransaction(ctx, userID, txType, amount, meta)
	return txn, err
}

// DebitBattleFee takes a wager from the deposit balance. battleRef makes
// retries from the battle subsystem safe.
func (s *LedgerService) DebitBattleFee(ctx context.Context, userID uint, amount decimal.Decimal, battleRef string) (*models.Transaction, Outcome, error) {
	if battleRef == "" {
		return nil, "", errors.New(errors.ErrCodeValidation, "battle reference is required")
	}
	return s.createTransaction(ctx, userID, models.TxTypeBattleFee, amount, models.TransactionMeta{ExternalID: battleExternalID("fee", battleRef, userID)})
}

// CreditBattleWin pays a prize into the winnings balance.
func (s *LedgerService) CreditBattleWin(ctx context.Context, userID uint, amount decimal.Decimal, battleRef string) (*models.Transaction, Outcome, error) {
	if battleRef == "" {
		return nil, "", errors.New(errors.ErrCodeValidation, "battle reference is required")
	}
	return s.createTransaction(ctx, userID, models.TxTypeBattleWin, amount, models.TransactionMeta{ExternalID: battleExternalID("win", battleRef, userID)})
}

// battleExternalID scopes a battle reference to one player and direction
func battleExternalID(kind, battleRef string, userID uint) string {
	return fmt.Sprintf("%s-%s-%d", kind, battleRef, userID)
}

func (s *LedgerService) createTransaction(ctx context.Context, userID uint, txType models.TransactionType, amount decimal.Decimal, meta models.TransactionMeta) (*models.Transaction, Outcome, error) {
	if err := validateAmount(amount); err != nil {
		return nil, "", err
	}

	switch txType {
	case models.TxTypeDeposit:
		if amount.LessThan(s.cfg.MinDeposit) {
			return nil, "", errors.New(errors.ErrCodeValidation, fmt.Sprintf("minimum deposit is %s", s.cfg.MinDeposit.StringFixed(2)))
		}
	case models.TxTypeWithdrawal:
		if amount.LessThan(s.cfg.MinWithdrawal) {
			return nil, "", errors.New(errors.ErrCodeValidation, fmt.Sprintf("minimum withdrawal is %s", s.cfg.MinWithdrawal.StringFixed(2)))
		}
	case models.TxTypeBattleFee, models.TxTypeBattleWin:
	case models.TxTypeReferralBonus:
		return nil, "", errors.New(errors.ErrCodeInvalidType, "referral bonuses are credited by the referral ledger")
	default:
		return nil, "", errors.New(errors.ErrCodeInvalidType, fmt.Sprintf("unknown transaction type %q", txType))
	}

	var (
		txn     *models.Transaction
		outcome Outcome
	)
	err := s.store.Atomic(ctx, func(r *repositories.Repos) error {
		txn, outcome = nil, OutcomeApplied

		if meta.ExternalID != "" {
			existing, err := r.Transactions.GetTransactionByExternalID(meta.ExternalID)
			if err == nil {
				if existing.UserID != userID || existing.Type != txType || !existing.Amount.Equal(amount) {
					return errors.New(errors.ErrCodeAlreadyExists, "reference already used by another transaction")
				}
				txn, outcome = existing, OutcomeAlreadyHandled
				return nil
			}
			if !errors.HasCode(err, errors.ErrCodeNotFound) {
				return err
			}
		}

		now := s.now()
		txn = &models.Transaction{
			UserID:        userID,
			Type:          txType,
			Amount:        amount,
			Status:        models.TxStatusPending,
			ExternalID:    strPtr(meta.ExternalID),
			ScreenshotURL: meta.ScreenshotURL,
			OrderID:       meta.OrderID,
		}

		switch txType {
		case models.TxTypeDeposit:
			if _, err := r.Users.GetUserByID(userID); err != nil {
				return err
			}
		case models.TxTypeWithdrawal:
			user, err := r.Users.GetUserByID(userID)
			if err != nil {
				return err
			}
			if !user.CanWithdraw() {
				return errors.New(errors.ErrCodeForbidden, "KYC verification is required before withdrawing")
			}
			// checked here and again at approval; nothing is held in between
			if user.WinningsBalance.LessThan(amount) {
				return errors.New(errors.ErrCodeInsufficientFunds, "insufficient winnings balance")
			}
		case models.TxTypeBattleFee:
			if _, err := adjustBalances(r, userID, amount.Neg(), decimal.Zero); err != nil {
				return err
			}
			txn.Status = models.TxStatusCompleted
			txn.CompletedAt = &now
		case models.TxTypeBattleWin:
			if _, err := adjustBalances(r, userID, decimal.Zero, amount); err != nil {
				return err
			}
			txn.Status = models.TxStatusCompleted
			txn.CompletedAt = &now
		}

		return r.Transactions.CreateTransaction(txn)
	})
	if err != nil {
		s.events.metrics.ObserveTransition(string(txType), "error")
		logger.Warn("Failed to create transaction", "user_id", userID, "type", txType, "amount", amount.String(), "error", err)
		return nil, "", err
	}

	s.events.metrics.ObserveTransition(string(txType), string(outcome))
	logger.Info("Transaction created",
		"transaction_id", txn.ID,
		"user_id", userID,
		"type", txType,
		"amount", amount.String(),
		"status", txn.Status,
		"outcome", outcome,
	)
	return txn, outcome, nil
}

// transition is the committed result of one status change
type transition struct {
	txn     *models.Transaction
	user    *models.User
	outcome Outcome
}

// ApproveDeposit completes a pending deposit and credits the deposit balance.
// Approving a completed deposit again reports OutcomeAlreadyHandled.
func (s *LedgerService) ApproveDeposit(ctx context.Context, id uint) (Outcome, error) {
	return s.transition(ctx, id, models.TxTypeDeposit, models.TxStatusCompleted, "")
}

// ApproveWithdrawal completes a pending withdrawal and debits the winnings
// balance. If the balance no longer covers it the transaction stays pending.
func (s *LedgerService) ApproveWithdrawal(ctx context.Context, id uint) (Outcome, error) {
	return s.transition(ctx, id, models.TxTypeWithdrawal, models.TxStatusCompleted, "")
}

// ApproveTransaction completes a pending deposit or withdrawal, whichever
// id refers to.
func (s *LedgerService) ApproveTransaction(ctx context.Context, id uint) (Outcome, error) {
	return s.transition(ctx, id, "", models.TxStatusCompleted, "")
}

// RejectTransaction closes a pending deposit or withdrawal. Balances never
// move on rejection since nothing was applied while pending.
func (s *LedgerService) RejectTransaction(ctx context.Context, id uint, reason string) (Outcome, error) {
	return s.transition(ctx, id, "", models.TxStatusRejected, security.SanitizeNote(reason))
}

// CancelWithdrawal lets the owner withdraw a request that is still pending.
func (s *LedgerService) CancelWithdrawal(ctx context.Context, userID, id uint) (Outcome, error) {
	var res transition
	err := s.store.Atomic(ctx, func(r *repositories.Repos) error {
		txn, err := r.Transactions.GetTransactionByID(id)
		if err != nil {
			return err
		}
		if txn.UserID != userID {
			return errors.New(errors.ErrCodeNotFound, "transaction not found")
		}
		res, err = s.applyTransition(r, id, models.TxTypeWithdrawal, models.TxStatusRejected, cancelledByUserNote)
		return err
	})
	if err != nil {
		s.observeFailure(id, models.TxStatusRejected, err)
		return "", err
	}
	// the user cancelled it; no message back
	s.events.metrics.ObserveTransition(string(res.txn.Type), string(res.outcome))
	s.logTransition(res)
	return res.outcome, nil
}

func (s *LedgerService) transition(ctx context.Context, id uint, wantType models.TransactionType, to models.TransactionStatus, note string) (Outcome, error) {
	var res transition
	err := s.store.Atomic(ctx, func(r *repositories.Repos) error {
		var err error
		res, err = s.applyTransition(r, id, wantType, to, note)
		return err
	})
	if err != nil {
		s.observeFailure(id, to, err)
		return "", err
	}

	s.afterTransition(ctx, res)
	return res.outcome, nil
}

// applyTransition moves one transaction inside a unit of work. The status is
// flipped with a compare-and-set before any balance is touched, so two
// concurrent approvals can never both credit.
func (s *LedgerService) applyTransition(r *repositories.Repos, id uint, wantType models.TransactionType, to models.TransactionStatus, note string) (transition, error) {
	txn, err := r.Transactions.GetTransactionByID(id)
	if err != nil {
		return transition{}, err
	}

	if wantType != "" && txn.Type != wantType {
		return transition{}, errors.New(errors.ErrCodeInvalidType, fmt.Sprintf("transaction %d is a %s, not a %s", id, txn.Type, wantType))
	}
	if !txn.Type.NeedsConfirmation() {
		return transition{}, errors.New(errors.ErrCodeInvalidType, fmt.Sprintf("%s transactions settle immediately", txn.Type))
	}
	if txn.Status == to {
		return transition{txn: txn, outcome: OutcomeAlreadyHandled}, nil
	}
	if txn.Status != models.TxStatusPending {
		return transition{}, errors.New(errors.ErrCodeInvalidState, fmt.Sprintf("transaction %d is already %s", id, txn.Status))
	}

	now := s.now()
	ok, err := r.Transactions.TransitionStatus(id, models.TxStatusPending, to, note, now)
	if err != nil {
		return transition{}, err
	}
	if !ok {
		return transition{}, errors.New(errors.ErrCodeStorageConflict, "transaction changed concurrently")
	}

	var user *models.User
	switch {
	case to == models.TxStatusCompleted && txn.Type == models.TxTypeDeposit:
		user, err = adjustBalances(r, txn.UserID, txn.Amount, decimal.Zero)
	case to == models.TxStatusCompleted && txn.Type == models.TxTypeWithdrawal:
		user, err = adjustBalances(r, txn.UserID, decimal.Zero, txn.Amount.Neg())
	default:
		user, err = r.Users.GetUserByID(txn.UserID)
	}
	if err != nil {
		return transition{}, err
	}

	txn.Status = to
	txn.CompletedAt = &now
	if note != "" {
		txn.AdminNotes = note
	}
	return transition{txn: txn, user: user, outcome: OutcomeApplied}, nil
}

func (s *LedgerService) afterTransition(ctx context.Context, res transition) {
	s.events.metrics.ObserveTransition(string(res.txn.Type), string(res.outcome))
	s.logTransition(res)
	if res.outcome != OutcomeApplied {
		return
	}

	switch {
	case res.txn.Type == models.TxTypeDeposit && res.txn.Status == models.TxStatusCompleted:
		s.events.publish(ctx, res.user, notify.DepositApproved, res.txn)
		s.depositCompleted(ctx, res.txn.UserID)
	case res.txn.Type == models.TxTypeDeposit && res.txn.Status == models.TxStatusRejected:
		s.events.publish(ctx, res.user, notify.DepositRejected, res.txn)
	case res.txn.Type == models.TxTypeWithdrawal && res.txn.Status == models.TxStatusCompleted:
		s.events.publish(ctx, res.user, notify.WithdrawalApproved, res.txn)
	case res.txn.Type == models.TxTypeWithdrawal && res.txn.Status == models.TxStatusRejected:
		s.events.publish(ctx, res.user, notify.WithdrawalRejected, res.txn)
	}
}

func (s *LedgerService) logTransition(res transition) {
	logger.Info("Transaction transition",
		"transaction_id", res.txn.ID,
		"user_id", res.txn.UserID,
		"type", res.txn.Type,
		"amount", res.txn.Amount.String(),
		"status", res.txn.Status,
		"outcome", res.outcome,
	)
}

func (s *LedgerService) observeFailure(id uint, to models.TransactionStatus, err error) {
	s.events.metrics.ObserveTransition("unknown", "error")
	logger.Warn("Transaction transition failed", "transaction_id", id, "to", to, "code", errors.CodeOf(err), "error", err)
}

// BulkResult reports the per-transaction outcome of a committed batch
type BulkResult struct {
	Outcomes       map[uint]Outcome `json:"outcomes"`
	Applied        int              `json:"applied"`
	AlreadyHandled int              `json:"already_handled"`
}

// BulkUpdate applies one terminal status to a batch of transactions in a
// single unit of work. Any failing element rolls back the whole batch.
func (s *LedgerService) BulkUpdate(ctx context.Context, ids []uint, status models.TransactionStatus, reason string) (*BulkResult, error) {
	if status != models.TxStatusCompleted && status != models.TxStatusRejected {
		return nil, errors.New(errors.ErrCodeValidation, "bulk status must be completed or rejected")
	}
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return nil, errors.New(errors.ErrCodeValidation, "no transactions given")
	}
	if len(ids) > maxBulkSize {
		return nil, errors.New(errors.ErrCodeValidation, fmt.Sprintf("at most %d transactions per batch", maxBulkSize))
	}

	note := ""
	if status == models.TxStatusRejected {
		note = security.SanitizeNote(reason)
	}

	var results []transition
	err := s.store.Atomic(ctx, func(r *repositories.Repos) error {
		results = results[:0]
		for _, id := range ids {
			res, err := s.applyTransition(r, id, "", status, note)
			if err != nil {
				return errors.Wrap(err, errors.CodeOf(err), fmt.Sprintf("transaction %d", id))
			}
			results = append(results, res)
		}
		return nil
	})
	if err != nil {
		s.events.metrics.ObserveTransition("bulk", "error")
		logger.Warn("Bulk update rolled back", "count", len(ids), "status", status, "error", err)
		return nil, err
	}

	out := &BulkResult{Outcomes: make(map[uint]Outcome, len(results))}
	for _, res := range results {
		out.Outcomes[res.txn.ID] = res.outcome
		if res.outcome == OutcomeApplied {
			out.Applied++
		} else {
			out.AlreadyHandled++
		}
		s.afterTransition(ctx, res)
	}
	return out, nil
}

func uniqueIDs(ids []uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// UserTransactions yields a user's history newest first, fetching pageSize
// rows at a time. Each range over the sequence starts from the latest row.
func (s *LedgerService) UserTransactions(ctx context.Context, userID uint, pageSize int) iter.Seq2[models.Transaction, error] {
	pageSize = clampPageSize(pageSize)
	return func(yield func(models.Transaction, error) bool) {
		var before uint
		for {
			page, err := s.store.Repos(ctx).Transactions.ListUserTransactions(userID, before, pageSize)
			if err != nil {
				yield(models.Transaction{}, err)
				return
			}
			for _, txn := range page {
				if !yield(txn, nil) {
					return
				}
			}
			if len(page) < pageSize {
				return
			}
			before = page[len(page)-1].ID
		}
	}
}

// TransactionPage returns one page of history and the cursor for the next,
// zero when there is none.
func (s *LedgerService) TransactionPage(ctx context.Context, userID, beforeID uint, limit int) ([]models.Transaction, uint, error) {
	limit = clampPageSize(limit)
	page, err := s.store.Repos(ctx).Transactions.ListUserTransactions(userID, beforeID, limit)
	if err != nil {
		return nil, 0, err
	}
	var next uint
	if len(page) == limit {
		next = page[len(page)-1].ID
	}
	return page, next, nil
}

func (s *LedgerService) GetTransaction(ctx context.Context, id uint) (*models.Transaction, error) {
	return s.store.Repos(ctx).Transactions.GetTransactionByID(id)
}

// ListTransactions serves the admin listing
func (s *LedgerService) ListTransactions(ctx context.Context, filter repositories.TransactionFilter) ([]models.Transaction, int64, error) {
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, 0, errors.New(errors.ErrCodeValidation, "unknown transaction type")
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, errors.New(errors.ErrCodeValidation, "unknown transaction status")
	}
	filter.Limit = clampPageSize(filter.Limit)
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.store.Repos(ctx).Transactions.ListTransactions(filter)
}

func clampPageSize(n int) int {
	if n <= 0 {
		return defaultPageSize
	}
	if n > maxPageSize {
		return maxPageSize
	}
	return n
}
