package services

import (
	"context"
	"time"

	"github.com/mroshb/szludo_wallet/internal/metrics"
	"github.com/mroshb/szludo_wallet/internal/models"
	"github.com/mroshb/szludo_wallet/internal/repositories"
	"github.com/mroshb/szludo_wallet/pkg/logger"
)

const sweepBatchSize = 200

const expiredReason = "expired"

type SweeperConfig struct {
	OrderTTL   time.Duration
	DepositTTL time.Duration // zero leaves pending deposits alone
	Interval   time.Duration
}

type SweepResult struct {
	ExpiredOrders   int `json:"expired_orders"`
	ExpiredDeposits int `json:"expired_deposits"`
}

// Sweeper fails abandoned pending records. Every write is conditioned on the
// record still being pending, so a concurrent webhook or another sweep wins
// cleanly and balances are never touched.
type Sweeper struct {
	store   *repositories.Store
	cfg     SweeperConfig
	metrics *metrics.Metrics
	now     Clock
}

func NewSweeper(store *repositories.Store, cfg SweeperConfig, m *metrics.Metrics) *Sweeper {
	return &Sweeper{store: store, cfg: cfg, metrics: m, now: utcNow}
}

func (s *Sweeper) SetClock(c Clock) {
	s.now = c
}

// ExpirePendingPayments runs one sweep. It is safe to call on any cadence.
func (s *Sweeper) ExpirePendingPayments(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	orders, err := s.expireOrders(ctx)
	result.ExpiredOrders = orders
	if err == nil && s.cfg.DepositTTL > 0 {
		result.ExpiredDeposits, err = s.expireDeposits(ctx)
	}

	s.metrics.ObserveSweep(result.ExpiredOrders, result.ExpiredDeposits, err)
	if err != nil {
		logger.Error("Expiry sweep failed", "expired_orders", result.ExpiredOrders, "expired_deposits", result.ExpiredDeposits, "error", err)
		return result, err
	}
	if result.ExpiredOrders > 0 || result.ExpiredDeposits > 0 {
		logger.Info("Expiry sweep finished", "expired_orders", result.ExpiredOrders, "expired_deposits", result.ExpiredDeposits)
	}
	return result, nil
}

func (s *Sweeper) expireOrders(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.OrderTTL)
	repos := s.store.Repos(ctx)

	expired := 0
	for {
		ids, err := repos.Orders.ListStalePendingIDs(cutoff, sweepBatchSize)
		if err != nil {
			return expired, err
		}
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return expired, err
			}
			closed, err := repos.Orders.MarkClosed(id, models.OrderStatusFailed, expiredReason)
			if err != nil {
				return expired, err
			}
			if closed {
				expired++
				logger.Debug("Order expired", "order_id", id)
			}
		}
		if len(ids) < sweepBatchSize {
			return expired, nil
		}
	}
}

func (s *Sweeper) expireDeposits(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.DepositTTL)
	repos := s.store.Repos(ctx)

	expired := 0
	for {
		ids, err := repos.Transactions.ListStalePendingIDs(models.TxTypeDeposit, cutoff, sweepBatchSize)
		if err != nil {
			return expired, err
		}
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return expired, err
			}
			failed, err := repos.Transactions.TransitionStatus(id, models.TxStatusPending, models.TxStatusFailed, expiredReason, s.now())
			if err != nil {
				return expired, err
			}
			if failed {
				expired++
				logger.Debug("Pending deposit expired", "transaction_id", id)
			}
		}
		if len(ids) < sweepBatchSize {
			return expired, nil
		}
	}
}

// Run sweeps on every tick until ctx is done. Failed sweeps are logged and
// retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) error {
	interval := s.cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("Expiry sweeper started", "interval", interval.String(), "order_ttl", s.cfg.OrderTTL.String())
	for {
		select {
		case <-ctx.Done():
			logger.Info("Expiry sweeper stopped")
			return nil
		case <-ticker.C:
			s.ExpirePendingPayments(ctx)
		}
	}
}
