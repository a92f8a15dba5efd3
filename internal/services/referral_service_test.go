package services

import (
	"context"
	"testing"

	"github.com/mroshb/szludo_wallet/internal/models"
	"github.com/mroshb/szludo_wallet/internal/notify"
	"github.com/mroshb/szludo_wallet/internal/repositories"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestReferralScenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	referrer := &models.User{AccountRef: "acct-a", ReferralCode: "SZLUDO1234AB"}
	require.NoError(t, env.store.Repos(ctx).Users.CreateUser(referrer))

	b, created, err := env.users.RegisterUser(ctx, "acct-b", nil, "SZLUDO1234AB")
	require.NoError(t, err)
	assert.True(t, created)
	require.NotNil(t, b.ReferredBy)
	assert.Equal(t, referrer.ID, *b.ReferredBy)

	referral, err := env.store.Repos(ctx).Referrals.GetReferralByReferredID(b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReferralStatusPending, referral.Status)

	// first deposit completes the referral through the deposit hook
	deposit := env.pendingDeposit(t, b.ID, "100")
	_, err = env.ledger.ApproveDeposit(ctx, deposit.ID)
	require.NoError(t, err)

	referral, err = env.store.Repos(ctx).Referrals.GetReferralByReferredID(b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReferralStatusCompleted, referral.Status)
	assertMoney(t, "25", referral.BonusAmount)
	assertMoney(t, "25", env.reloadUser(t, referrer.ID).DepositBalance)

	outcome, err := env.referral.CompleteReferral(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyHandled, outcome)

	// a second deposit does not pay again
	deposit = env.pendingDeposit(t, b.ID, "50")
	_, err = env.ledger.ApproveDeposit(ctx, deposit.ID)
	require.NoError(t, err)
	assertMoney(t, "25", env.reloadUser(t, referrer.ID).DepositBalance)

	bonus, err := env.store.Repos(ctx).Transactions.GetTransactionByExternalID("referral-" + uintString(referral.ID))
	require.NoError(t, err)
	assert.Equal(t, models.TxTypeReferralBonus, bonus.Type)
	assert.Equal(t, referrer.ID, bonus.UserID)

	var kinds []notify.EventKind
	for _, e := range env.notifier.Events() {
		kinds = append(kinds, e.Kind)
	}
	assert.Contains(t, kinds, notify.ReferralBonus)

	stats, err := env.referral.Stats(ctx, referrer.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Completed)
}

func TestCompleteReferral_Twice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	referrer := env.createUser(t, "0", "0", "")
	user := env.createUser(t, "0", "0", "")

	outcome, err := env.referral.LinkReferral(ctx, referrer.ReferralCode, user.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	outcome, err = env.referral.CompleteReferral(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	outcome, err = env.referral.CompleteReferral(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyHandled, outcome)

	assertMoney(t, "25", env.reloadUser(t, referrer.ID).DepositBalance)
}

func TestLinkReferral_Edges(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	first := env.createUser(t, "0", "0", "")
	second := env.createUser(t, "0", "0", "")
	user := env.createUser(t, "0", "0", "")

	outcome, err := env.referral.LinkReferral(ctx, "SZLUDO0000ZZ", user.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)

	outcome, err = env.referral.LinkReferral(ctx, user.ReferralCode, user.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)

	outcome, err = env.referral.LinkReferral(ctx, first.ReferralCode, user.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	outcome, err = env.referral.LinkReferral(ctx, second.ReferralCode, user.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyHandled, outcome)

	stored := env.reloadUser(t, user.ID)
	require.NotNil(t, stored.ReferredBy)
	assert.Equal(t, first.ID, *stored.ReferredBy)
}

func TestCompleteReferral_NoReferral(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, "0", "0", "")

	outcome, err := env.referral.CompleteReferral(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
}

func TestCompleteReferral_ZeroBonus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.referral.bonus = decimal.Zero
	referrer := env.createUser(t, "0", "0", "")
	user := env.createUser(t, "0", "0", "")

	_, err := env.referral.LinkReferral(ctx, referrer.ReferralCode, user.ID)
	require.NoError(t, err)

	outcome, err := env.referral.CompleteReferral(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	assertMoney(t, "0", env.reloadUser(t, referrer.ID).DepositBalance)
}

func TestCompleteReferral_RetriesAfterLosingRace(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	referrer := env.createUser(t, "0", "0", "")
	user := env.createUser(t, "0", "0", "")

	_, err := env.referral.LinkReferral(ctx, referrer.ReferralCode, user.ID)
	require.NoError(t, err)

	interfereOnce(t, env.store.DB(), "referrals", func(tx *gorm.DB) {
		require.NoError(t, tx.Exec("UPDATE referrals SET status = ? WHERE referred_id = ?", models.ReferralStatusCompleted, user.ID).Error)
	})
	retries := 0
	env.store.SetRetryObserver(func(int, error) {
		retries++
		o, err := env.referral.CompleteReferral(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, OutcomeApplied, o)
	})

	outcome, err := env.referral.CompleteReferral(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyHandled, outcome)
	assert.Equal(t, 1, retries)

	assertMoney(t, "25", env.reloadUser(t, referrer.ID).DepositBalance)
	bonuses, total, err := env.store.Repos(ctx).Transactions.ListTransactions(repositories.TransactionFilter{
		UserID: referrer.ID,
		Type:   models.TxTypeReferralBonus,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, bonuses, 1)
}
