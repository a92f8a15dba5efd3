package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mroshb/szludo_wallet/internal/database"
	"github.com/mroshb/szludo_wallet/internal/gateway"
	"github.com/mroshb/szludo_wallet/internal/metrics"
	"github.com/mroshb/szludo_wallet/internal/models"
	"github.com/mroshb/szludo_wallet/internal/notify"
	"github.com/mroshb/szludo_wallet/internal/repositories"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testWebhookSecret = "test_webhook_secret"

type fakeOrders struct {
	mu   sync.Mutex
	next int
}

func (f *fakeOrders) Create(data map[string]interface{}, _ map[string]string) (map[string]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	return map[string]interface{}{"id": fmt.Sprintf("order_%d", f.next)}, nil
}

type testEnv struct {
	store    *repositories.Store
	metrics  *metrics.Metrics
	notifier *notify.Recorder
	gateway  gateway.Gateway
	ledger   *LedgerService
	referral *ReferralService
	users    *UserService
	payments *PaymentService
	sweeper  *Sweeper
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.OpenSQLite("file:"+uuid.NewString()+"?mode=memory&cache=shared", nil)
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	m := metrics.New()
	store := repositories.NewStore(db, 3)
	store.SetRetryObserver(m.ObserveRetry)
	recorder := &notify.Recorder{}

	ledger := NewLedgerService(store, LedgerConfig{
		MinDeposit:    decimal.NewFromInt(10),
		MinWithdrawal: decimal.NewFromInt(100),
	}, recorder, m)
	referral := NewReferralService(store, decimal.NewFromInt(25), recorder, m)
	ledger.OnDepositCompleted(referral.DepositHook())

	gw := gateway.NewRazorpayWithOrders(&fakeOrders{}, gateway.RazorpayConfig{
		KeyID:           "rzp_test_key",
		WebhookSecret:   testWebhookSecret,
		CheckoutBaseURL: "https://pay.test/checkout",
	})

	return &testEnv{
		store:    store,
		metrics:  m,
		notifier: recorder,
		gateway:  gw,
		ledger:   ledger,
		referral: referral,
		users:    NewUserService(store, referral),
		payments: NewPaymentService(store, gw, ledger, "INR", recorder, m),
		sweeper: NewSweeper(store, SweeperConfig{
			OrderTTL:   30 * time.Minute,
			DepositTTL: 48 * time.Hour,
		}, m),
	}
}

func (e *testEnv) createUser(t *testing.T, deposit, winnings string, kyc string) *models.User {
	t.Helper()
	user := &models.User{
		AccountRef:      uuid.NewString(),
		ReferralCode:    strings.ToUpper("SZ" + uuid.NewString()[:8]),
		DepositBalance:  decimal.RequireFromString(deposit),
		WinningsBalance: decimal.RequireFromString(winnings),
		KYCStatus:       kyc,
	}
	require.NoError(t, e.store.Repos(context.Background()).Users.CreateUser(user))
	return user
}

func (e *testEnv) reloadUser(t *testing.T, id uint) *models.User {
	t.Helper()
	user, err := e.store.Repos(context.Background()).Users.GetUserByID(id)
	require.NoError(t, err)
	return user
}

func (e *testEnv) reloadTxn(t *testing.T, id uint) *models.Transaction {
	t.Helper()
	txn, err := e.store.Repos(context.Background()).Transactions.GetTransactionByID(id)
	require.NoError(t, err)
	return txn
}

func (e *testEnv) pendingDeposit(t *testing.T, userID uint, amount string) *models.Transaction {
	t.Helper()
	txn, err := e.ledger.CreateTransaction(context.Background(), userID, models.TxTypeDeposit, decimal.RequireFromString(amount), models.TransactionMeta{
		ScreenshotURL: "https://cdn.test/deposits/proof.png",
	})
	require.NoError(t, err)
	return txn
}

func signBody(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func capturedEvent(paymentID, orderID string, paise int64, userID uint) []byte {
	return []byte(fmt.Sprintf(`{
		"entity": "event",
		"event": "payment.captured",
		"payload": {
			"payment": {
				"entity": {
					"id": %q,
					"amount": %d,
					"currency": "INR",
					"status": "captured",
					"order_id": %q,
					"notes": {"user_id": "%d"}
				}
			}
		}
	}`, paymentID, paise, orderID, userID))
}

func assertMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got.String())
}

func uintString(v uint) string {
	return fmt.Sprintf("%d", v)
}

// interfereOnce runs fn on the unit's own connection right before the next
// UPDATE that targets table, so the compare-and-set in that unit misses.
func interfereOnce(t *testing.T, db *gorm.DB, table string, fn func(tx *gorm.DB)) {
	t.Helper()
	var fired atomic.Bool
	name := "test:interfere:" + uuid.NewString()
	require.NoError(t, db.Callback().Update().Before("gorm:update").Register(name, func(tx *gorm.DB) {
		if tx.Statement.Table != table || !fired.CompareAndSwap(false, true) {
			return
		}
		fn(tx.Session(&gorm.Session{NewDB: true}))
	}))
	t.Cleanup(func() {
		_ = db.Callback().Update().Remove(name)
	})
}
