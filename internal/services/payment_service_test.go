package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mroshb/szludo_wallet/internal/models"
	"github.com/mroshb/szludo_wallet/internal/notify"
	"github.com/mroshb/szludo_wallet/pkg/errors"
	"github.com/mroshb/szludo_wallet/pkg/logger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func checkout(t *testing.T, env *testEnv, userID uint, amount string) *CheckoutSession {
	t.Helper()
	session, err := env.payments.CreateCheckoutSession(context.Background(), userID, decimal.RequireFromString(amount))
	require.NoError(t, err)
	return session
}

func TestCreateCheckoutSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "0", "0", "")

	session := checkout(t, env, user.ID, "500")
	assert.NotEmpty(t, session.SessionID)
	assert.Contains(t, session.RedirectURL, session.SessionID)

	order, err := env.store.Repos(ctx).Orders.GetOrderBySessionID(session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, user.ID, order.UserID)
	assertMoney(t, "500", order.Amount)

	// opening a session never touches the ledger
	assertMoney(t, "0", env.reloadUser(t, user.ID).DepositBalance)

	_, err = env.payments.CreateCheckoutSession(ctx, user.ID, decimal.NewFromInt(5))
	assert.True(t, errors.HasCode(err, errors.ErrCodeValidation))

	_, err = env.payments.CreateCheckoutSession(ctx, 404, decimal.NewFromInt(50))
	assert.True(t, errors.HasCode(err, errors.ErrCodeNotFound))
}

func TestHandleWebhook_CreditsOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "0", "0", "")
	session := checkout(t, env, user.ID, "500")

	body := capturedEvent("pay_1", session.SessionID, 50000, user.ID)

	outcome, err := env.payments.HandleWebhook(ctx, body, signBody(body))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	outcome, err = env.payments.HandleWebhook(ctx, body, signBody(body))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyHandled, outcome)

	assertMoney(t, "500", env.reloadUser(t, user.ID).DepositBalance)

	txn, err := env.store.Repos(ctx).Transactions.GetTransactionByExternalID("pay_1")
	require.NoError(t, err)
	assert.Equal(t, models.TxTypeDeposit, txn.Type)
	assert.Equal(t, models.TxStatusCompleted, txn.Status)
	require.NotNil(t, txn.OrderID)
	assert.Equal(t, session.OrderID, *txn.OrderID)

	order, err := env.store.Repos(ctx).Orders.GetOrderBySessionID(session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, order.Status)
	assert.Equal(t, "pay_1", order.PaymentID)

	events := env.notifier.Events()
	require.Len(t, events, 1)
	assert.Equal(t, notify.DepositCredited, events[0].Kind)
}

func TestHandleWebhook_ConcurrentDeliveries(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, "0", "0", "")
	session := checkout(t, env, user.ID, "100")
	body := capturedEvent("pay_c", session.SessionID, 10000, user.ID)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = map[Outcome]int{}
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := env.payments.HandleWebhook(context.Background(), body, signBody(body))
			assert.NoError(t, err)
			mu.Lock()
			outcomes[outcome]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, outcomes[OutcomeApplied])
	assert.Equal(t, 4, outcomes[OutcomeAlreadyHandled])
	assertMoney(t, "100", env.reloadUser(t, user.ID).DepositBalance)
}

func TestHandleWebhook_BadSignature(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, "0", "0", "")
	session := checkout(t, env, user.ID, "500")
	body := capturedEvent("pay_1", session.SessionID, 50000, user.ID)

	_, err := env.payments.HandleWebhook(context.Background(), body, "forged")
	assert.True(t, errors.HasCode(err, errors.ErrCodeSignature))

	_, err = env.payments.HandleWebhook(context.Background(), body, "")
	assert.True(t, errors.HasCode(err, errors.ErrCodeSignature))

	assertMoney(t, "0", env.reloadUser(t, user.ID).DepositBalance)
}

func TestHandleWebhook_Acknowledged(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, "0", "0", "")
	session := checkout(t, env, user.ID, "500")

	tests := []struct {
		name string
		body []byte
	}{
		{"unhandled event type", []byte(`{"event":"refund.created","payload":{}}`)},
		{"unreadable payload", []byte(`{"event":`)},
		{"unknown order", capturedEvent("pay_2", "order_missing", 50000, user.ID)},
		{"amount mismatch", capturedEvent("pay_3", session.SessionID, 100, user.ID)},
		{"user mismatch", capturedEvent("pay_4", session.SessionID, 50000, user.ID+100)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome, err := env.payments.HandleWebhook(context.Background(), tt.body, signBody(tt.body))
			require.NoError(t, err)
			assert.Equal(t, OutcomeIgnored, outcome)
		})
	}

	assertMoney(t, "0", env.reloadUser(t, user.ID).DepositBalance)
	order, err := env.store.Repos(context.Background()).Orders.GetOrderBySessionID(session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, order.Status)
}

func expireEverything(env *testEnv) {
	env.sweeper.SetClock(func() time.Time {
		return time.Now().UTC().Add(2 * time.Hour)
	})
}

func TestHandleWebhook_AfterExpiryLosesRace(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "0", "0", "")
	session := checkout(t, env, user.ID, "500")

	expireEverything(env)
	result, err := env.sweeper.ExpirePendingPayments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ExpiredOrders)

	body := capturedEvent("pay_late", session.SessionID, 50000, user.ID)
	outcome, err := env.payments.HandleWebhook(ctx, body, signBody(body))
	require.NoError(t, err)
	assert.Equal(t, OutcomeLostRace, outcome)

	assertMoney(t, "0", env.reloadUser(t, user.ID).DepositBalance)
	order, err := env.store.Repos(ctx).Orders.GetOrderBySessionID(session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFailed, order.Status)
	assert.Equal(t, "expired", order.FailureReason)
}

func TestHandleWebhook_BeforeExpiryWins(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "0", "0", "")
	session := checkout(t, env, user.ID, "500")

	body := capturedEvent("pay_ok", session.SessionID, 50000, user.ID)
	outcome, err := env.payments.HandleWebhook(ctx, body, signBody(body))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	expireEverything(env)
	result, err := env.sweeper.ExpirePendingPayments(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.ExpiredOrders)

	assertMoney(t, "500", env.reloadUser(t, user.ID).DepositBalance)
}

func TestHandleWebhook_RacesSweeper(t *testing.T) {
	for i := 0; i < 5; i++ {
		env := newTestEnv(t)
		ctx := context.Background()
		user := env.createUser(t, "0", "0", "")
		session := checkout(t, env, user.ID, "200")
		expireEverything(env)
		body := capturedEvent("pay_race", session.SessionID, 20000, user.ID)

		var (
			wg      sync.WaitGroup
			outcome Outcome
			result  SweepResult
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			var err error
			outcome, err = env.payments.HandleWebhook(ctx, body, signBody(body))
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			var err error
			result, err = env.sweeper.ExpirePendingPayments(ctx)
			assert.NoError(t, err)
		}()
		wg.Wait()

		order, err := env.store.Repos(ctx).Orders.GetOrderBySessionID(session.SessionID)
		require.NoError(t, err)
		balance := env.reloadUser(t, user.ID).DepositBalance

		switch order.Status {
		case models.OrderStatusPaid:
			assert.Equal(t, OutcomeApplied, outcome)
			assert.Zero(t, result.ExpiredOrders)
			assertMoney(t, "200", balance)
		case models.OrderStatusFailed:
			assert.Equal(t, OutcomeLostRace, outcome)
			assert.Equal(t, 1, result.ExpiredOrders)
			assertMoney(t, "0", balance)
		default:
			t.Fatalf("order left in %s", order.Status)
		}
	}
}

func TestHandleWebhook_CompletesReferral(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	referrer := env.createUser(t, "0", "0", "")
	user := env.createUser(t, "0", "0", "")
	_, err := env.referral.LinkReferral(ctx, referrer.ReferralCode, user.ID)
	require.NoError(t, err)

	session := checkout(t, env, user.ID, "100")
	body := capturedEvent("pay_ref", session.SessionID, 10000, user.ID)
	_, err = env.payments.HandleWebhook(ctx, body, signBody(body))
	require.NoError(t, err)

	assertMoney(t, "25", env.reloadUser(t, referrer.ID).DepositBalance)
}

// stallingNotifier blocks every delivery until release is closed.
type stallingNotifier struct {
	release chan struct{}
}

func (s stallingNotifier) Notify(ctx context.Context, _ notify.Event) error {
	select {
	case <-s.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestHandleWebhook_DoesNotWaitForNotifications(t *testing.T) {
	env := newTestEnv(t)
	stall := stallingNotifier{release: make(chan struct{})}
	queue := notify.NewQueue(stall, 8)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		_ = queue.Run(ctx)
	}()

	payments := NewPaymentService(env.store, env.gateway, env.ledger, "INR", queue, env.metrics)
	telegramID := int64(777)
	user := &models.User{
		AccountRef:   "acct_slow_notify",
		ReferralCode: "SZSLOW0001",
		TelegramID:   &telegramID,
	}
	require.NoError(t, env.store.Repos(context.Background()).Users.CreateUser(user))
	session := checkout(t, env, user.ID, "300")
	body := capturedEvent("pay_slow", session.SessionID, 30000, user.ID)

	start := time.Now()
	outcome, err := payments.HandleWebhook(context.Background(), body, signBody(body))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	assert.Less(t, time.Since(start), time.Second)
	assertMoney(t, "300", env.reloadUser(t, user.ID).DepositBalance)

	close(stall.release)
	cancel()
	<-stopped
}

func TestHandleWebhook_SecondCaptureOnPaidOrder(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger.SetLogger(zap.New(core))
	t.Cleanup(func() { logger.SetLogger(zap.NewNop()) })

	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "0", "0", "")
	session := checkout(t, env, user.ID, "200")

	first := capturedEvent("pay_a", session.SessionID, 20000, user.ID)
	outcome, err := env.payments.HandleWebhook(ctx, first, signBody(first))
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)

	second := capturedEvent("pay_b", session.SessionID, 20000, user.ID)
	outcome, err = env.payments.HandleWebhook(ctx, second, signBody(second))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyHandled, outcome)
	assertMoney(t, "200", env.reloadUser(t, user.ID).DepositBalance)

	flagged := logs.FilterMessage("Second payment captured for a paid order").All()
	require.Len(t, flagged, 1)
	assert.Equal(t, zapcore.ErrorLevel, flagged[0].Level)
	assert.Equal(t, "pay_b", flagged[0].ContextMap()["payment_id"])
	assert.Equal(t, "pay_a", flagged[0].ContextMap()["credited_payment_id"])

	// a plain replay is not flagged
	outcome, err = env.payments.HandleWebhook(ctx, first, signBody(first))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyHandled, outcome)
	assert.Len(t, logs.FilterMessage("Second payment captured for a paid order").All(), 1)
}
