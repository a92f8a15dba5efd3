package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mroshb/szludo_wallet/internal/gateway"
	"github.com/mroshb/szludo_wallet/internal/metrics"
	"github.com/mroshb/szludo_wallet/internal/models"
	"github.com/mroshb/szludo_wallet/internal/notify"
	"github.com/mroshb/szludo_wallet/internal/repositories"
	"github.com/mroshb/szludo_wallet/pkg/errors"
	"github.com/mroshb/szludo_wallet/pkg/logger"
	"github.com/shopspring/decimal"
)

// PaymentService bridges the hosted checkout and the ledger. A deposit made
// through the gateway is credited only by a verified webhook.
type PaymentService struct {
	store    *repositories.Store
	gateway  gateway.Gateway
	ledger   *LedgerService
	currency string
	events   *events
	now      Clock
}

func NewPaymentService(store *repositories.Store, gw gateway.Gateway, ledger *LedgerService, currency string, notifier notify.Notifier, m *metrics.Metrics) *PaymentService {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if currency == "" {
		currency = "INR"
	}
	return &PaymentService{
		store:    store,
		gateway:  gw,
		ledger:   ledger,
		currency: currency,
		events:   &events{notifier: notifier, metrics: m},
		now:      utcNow,
	}
}

func (s *PaymentService) SetClock(c Clock) {
	s.now = c
}

type CheckoutSession struct {
	OrderID     uint            `json:"order_id"`
	SessionID   string          `json:"session_id"`
	RedirectURL string          `json:"redirect_url"`
	Amount      decimal.Decimal `json:"amount"`
}

// CreateCheckoutSession opens a gateway session and records the pending
// order it will be reconciled against. Balances are not touched.
func (s *PaymentService) CreateCheckoutSession(ctx context.Context, userID uint, amount decimal.Decimal) (*CheckoutSession, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	if amount.LessThan(s.ledger.cfg.MinDeposit) {
		return nil, errors.New(errors.ErrCodeValidation, fmt.Sprintf("minimum deposit is %s", s.ledger.cfg.MinDeposit.StringFixed(2)))
	}

	repos := s.store.Repos(ctx)
	if _, err := repos.Users.GetUserByID(userID); err != nil {
		return nil, err
	}

	// receipts are capped at 40 characters by the gateway
	receipt := "szludo_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
	session, err := s.gateway.CreateSession(ctx, gateway.SessionRequest{
		UserID:  userID,
		Amount:  amount,
		Receipt: receipt,
	})
	if err != nil {
		logger.Error("Failed to create checkout session", "user_id", userID, "amount", amount.String(), "error", err)
		return nil, err
	}

	order := &models.Order{
		UserID:           userID,
		Amount:           amount,
		Currency:         s.currency,
		Status:           models.OrderStatusPending,
		GatewaySessionID: session.SessionID,
	}
	if err := repos.Orders.CreateOrder(order); err != nil {
		return nil, err
	}

	logger.Info("Checkout session created", "order_id", order.ID, "session_id", session.SessionID, "user_id", userID, "amount", amount.String())
	return &CheckoutSession{
		OrderID:     order.ID,
		SessionID:   session.SessionID,
		RedirectURL: session.RedirectURL,
		Amount:      amount,
	}, nil
}

// HandleWebhook authenticates a gateway delivery and credits a completed
// checkout exactly once. Deliveries are at least once: a replay reports
// OutcomeAlreadyHandled, and a payment for an order the sweeper already
// expired reports OutcomeLostRace without crediting. Only signature failures
// and storage errors are returned, so everything else is acknowledged.
func (s *PaymentService) HandleWebhook(ctx context.Context, rawBody []byte, signature string) (Outcome, error) {
	if err := s.gateway.VerifySignature(rawBody, signature); err != nil {
		s.events.metrics.ObserveWebhook("signature_error")
		logger.Warn("Webhook signature rejected", "error", err)
		return "", err
	}

	event, err := gateway.ParseEvent(rawBody)
	if err != nil {
		s.events.metrics.ObserveWebhook(string(OutcomeIgnored))
		logger.Error("Webhook payload unreadable", "error", err)
		return OutcomeIgnored, nil
	}
	if !event.Completed() {
		s.events.metrics.ObserveWebhook(string(OutcomeIgnored))
		logger.Info("Webhook event ignored", "event", event.Type, "payment_id", event.PaymentID)
		return OutcomeIgnored, nil
	}

	var (
		outcome   Outcome
		user      *models.User
		txn       *models.Transaction
		order     *models.Order
		duplicate bool
	)
	err = s.store.Atomic(ctx, func(r *repositories.Repos) error {
		outcome, user, txn, order, duplicate = OutcomeApplied, nil, nil, nil, false

		if _, err := r.Transactions.GetTransactionByExternalID(event.PaymentID); err == nil {
			outcome = OutcomeAlreadyHandled
			return nil
		} else if !errors.HasCode(err, errors.ErrCodeNotFound) {
			return err
		}

		var err error
		order, err = r.Orders.GetOrderBySessionID(event.OrderID)
		if errors.HasCode(err, errors.ErrCodeNotFound) {
			logger.Error("Webhook for unknown order", "order_id", event.OrderID, "payment_id", event.PaymentID)
			outcome = OutcomeIgnored
			return nil
		}
		if err != nil {
			return err
		}

		if notedUser, ok := event.UserID(); ok && notedUser != order.UserID {
			logger.Error("Webhook user does not match order", "order_id", order.ID, "order_user_id", order.UserID, "event_user_id", notedUser)
			outcome = OutcomeIgnored
			return nil
		}
		if !event.Amount.Equal(order.Amount) {
			logger.Error("Webhook amount does not match order", "order_id", order.ID, "order_amount", order.Amount.String(), "paid_amount", event.Amount.String())
			outcome = OutcomeIgnored
			return nil
		}

		now := s.now()
		paid, err := r.Orders.MarkPaid(order.ID, event.PaymentID, now)
		if err != nil {
			return err
		}
		if !paid {
			current, err := r.Orders.GetOrderByID(order.ID)
			if err != nil {
				return err
			}
			order = current
			if current.Status == models.OrderStatusPaid {
				outcome = OutcomeAlreadyHandled
				duplicate = current.PaymentID != event.PaymentID
			} else {
				outcome = OutcomeLostRace
			}
			return nil
		}

		user, err = adjustBalances(r, order.UserID, order.Amount, decimal.Zero)
		if err != nil {
			return err
		}

		txn = &models.Transaction{
			UserID:      order.UserID,
			Type:        models.TxTypeDeposit,
			Amount:      order.Amount,
			Status:      models.TxStatusCompleted,
			ExternalID:  strPtr(event.PaymentID),
			OrderID:     &order.ID,
			CompletedAt: &now,
		}
		return r.Transactions.CreateTransaction(txn)
	})
	if err != nil {
		s.events.metrics.ObserveWebhook("error")
		logger.Error("Webhook processing failed", "event", event.Type, "payment_id", event.PaymentID, "order_id", event.OrderID, "error", err)
		return "", err
	}

	s.events.metrics.ObserveWebhook(string(outcome))
	switch outcome {
	case OutcomeApplied:
		logger.Info("Gateway deposit credited",
			"transaction_id", txn.ID,
			"order_id", order.ID,
			"user_id", order.UserID,
			"amount", order.Amount.String(),
			"payment_id", event.PaymentID,
		)
		s.events.metrics.ObserveTransition(string(models.TxTypeDeposit), string(outcome))
		s.events.publish(ctx, user, notify.DepositCredited, txn)
		s.ledger.depositCompleted(ctx, order.UserID)
	case OutcomeLostRace:
		// captured money with no credit needs a refund or manual credit
		logger.Error("Payment arrived for a closed order", "order_id", order.ID, "status", order.Status, "payment_id", event.PaymentID)
	case OutcomeAlreadyHandled:
		if duplicate {
			// a second capture on one order is never credited
			logger.Error("Second payment captured for a paid order",
				"order_id", order.ID,
				"user_id", order.UserID,
				"credited_payment_id", order.PaymentID,
				"payment_id", event.PaymentID,
				"amount", event.Amount.String(),
			)
			break
		}
		logger.Info("Webhook acknowledged", "event", event.Type, "payment_id", event.PaymentID, "outcome", outcome)
	default:
		logger.Info("Webhook acknowledged", "event", event.Type, "payment_id", event.PaymentID, "outcome", outcome)
	}
	return outcome, nil
}
