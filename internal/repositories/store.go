package repositories

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mroshb/szludo_wallet/pkg/errors"
	"github.com/mroshb/szludo_wallet/pkg/logger"
	"gorm.io/gorm"
)

// Repos groups the repositories bound to one database handle, either the
// pool or an open transaction.
type Repos struct {
	Users        *UserRepository
	Transactions *TransactionRepository
	Orders       *OrderRepository
	Referrals    *ReferralRepository
}

func NewRepos(db *gorm.DB) *Repos {
	return &Repos{
		Users:        NewUserRepository(db),
		Transactions: NewTransactionRepository(db),
		Orders:       NewOrderRepository(db),
		Referrals:    NewReferralRepository(db),
	}
}

// Store runs units of work against the ledger. Each unit commits all of its
// writes or none of them.
type Store struct {
	db          *gorm.DB
	maxAttempts int
	onRetry     func(attempt int, err error)
}

func NewStore(db *gorm.DB, maxAttempts int) *Store {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Store{db: db, maxAttempts: maxAttempts}
}

// SetRetryObserver registers a callback invoked before each retried attempt
func (s *Store) SetRetryObserver(fn func(attempt int, err error)) {
	s.onRetry = fn
}

// DB returns the underlying handle
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Repos returns repositories outside any transaction, for reads
func (s *Store) Repos(ctx context.Context) *Repos {
	return NewRepos(s.db.WithContext(ctx))
}

// Atomic runs fn in a single database transaction. Conflicts with concurrent
// writers roll the unit back and re-run it from scratch, so fn must re-read
// everything it depends on through r. When every attempt conflicts the last
// error is returned with the STORAGE_CONFLICT code.
func (s *Store) Atomic(ctx context.Context, fn func(r *Repos) error) error {
	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return errors.Wrap(ctxErr, errors.ErrCodeInternalError, "operation cancelled")
		}

		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return fn(NewRepos(tx))
		})
		if err == nil || !IsConflict(err) {
			return err
		}

		if attempt < s.maxAttempts {
			logger.Debug("Retrying conflicting unit of work", "attempt", attempt, "error", err)
			if s.onRetry != nil {
				s.onRetry(attempt, err)
			}
			backoff := time.Duration(attempt*attempt) * 5 * time.Millisecond
			select {
			case <-ctx.Done():
				return errors.Wrap(ctx.Err(), errors.ErrCodeInternalError, "operation cancelled")
			case <-time.After(backoff):
			}
		}
	}

	if errors.HasCode(err, errors.ErrCodeStorageConflict) {
		return err
	}
	return errors.Wrap(err, errors.ErrCodeStorageConflict, "too many concurrent updates, try again")
}

// IsConflict reports whether err came from a concurrent writer and the unit
// is safe to retry.
func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, errors.New(errors.ErrCodeStorageConflict, "")) {
		return true
	}

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		// serialization_failure, deadlock_detected
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}
