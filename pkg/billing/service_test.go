package billing_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adforgehq/adforge/pkg/analytics"
	"github.com/adforgehq/adforge/pkg/billing"
)

func newTestService(t *testing.T, opts ...billing.ServiceOption) (*billing.Service, *billing.MemoryAccountStore) {
	t.Helper()
	store := billing.NewMemoryAccountStore()
	svc, err := billing.NewService(store, billing.DefaultCatalog(), opts...)
	require.NoError(t, err)
	return svc, store
}

func createTestAccount(t *testing.T, svc *billing.Service) *billing.Account {
	t.Helper()
	account, err := svc.CreateAccount(context.Background(), uuid.New(), "user@example.com")
	require.NoError(t, err)
	return account
}

func TestServiceCreateAccount(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _ := newTestService(t)

	userID := uuid.New()
	account, err := svc.CreateAccount(ctx, userID, "new@example.com")
	require.NoError(t, err)

	assert.Equal(t, billing.PlanTrial, account.Plan)
	assert.Equal(t, int64(10), account.UsageLimit)
	assert.Zero(t, account.UsageCount)
	assert.False(t, account.Beta)

	_, err = svc.CreateAccount(ctx, userID, "new@example.com")
	assert.ErrorIs(t, err, billing.ErrAccountAlreadyExists)
}

func TestServiceUpgrade(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("trial to pro resets counters and quota", func(t *testing.T) {
		t.Parallel()
		svc, _ := newTestService(t)
		account := createTestAccount(t, svc)

		_, err := svc.RecordUsage(ctx, account.UserID, 7)
		require.NoError(t, err)

		occurredAt := time.Now().UTC()
		upgraded, err := svc.Upgrade(ctx, account.UserID, billing.PlanPro, occurredAt, "order_created")
		require.NoError(t, err)

		assert.Equal(t, billing.PlanPro, upgraded.Plan)
		assert.Equal(t, int64(500), upgraded.UsageLimit)
		assert.Zero(t, upgraded.UsageCount)
		assert.Zero(t, upgraded.OverageCents)
		assert.Equal(t, occurredAt, upgraded.LastEventAt)
	})

	t.Run("lateral move is allowed", func(t *testing.T) {
		t.Parallel()
		svc, _ := newTestService(t)
		account := createTestAccount(t, svc)

		_, err := svc.Upgrade(ctx, account.UserID, billing.PlanPro, time.Time{}, "manual")
		require.NoError(t, err)

		updated, err := svc.Upgrade(ctx, account.UserID, billing.PlanPro, time.Time{}, "subscription_updated")
		require.NoError(t, err)
		assert.Equal(t, billing.PlanPro, updated.Plan)
	})

	t.Run("downgrade via purchase is rejected", func(t *testing.T) {
		t.Parallel()
		svc, _ := newTestService(t)
		account := createTestAccount(t, svc)

		_, err := svc.Upgrade(ctx, account.UserID, billing.PlanAgency, time.Time{}, "manual")
		require.NoError(t, err)

		_, err = svc.Upgrade(ctx, account.UserID, billing.PlanStarter, time.Time{}, "subscription_updated")
		assert.ErrorIs(t, err, billing.ErrDowngradeNotAllowed)

		got, err := svc.Upgrade(ctx, account.UserID, billing.PlanAgency, time.Time{}, "subscription_updated")
		require.NoError(t, err)
		assert.Equal(t, billing.PlanAgency, got.Plan)
	})

	t.Run("stale event is refused", func(t *testing.T) {
		t.Parallel()
		svc, _ := newTestService(t)
		account := createTestAccount(t, svc)

		now := time.Now().UTC()
		_, err := svc.Upgrade(ctx, account.UserID, billing.PlanPro, now, "subscription_created")
		require.NoError(t, err)

		_, err = svc.Upgrade(ctx, account.UserID, billing.PlanAgency, now.Add(-time.Hour), "subscription_updated")
		assert.ErrorIs(t, err, billing.ErrStaleEvent)

		// Zero timestamp bypasses the guard for manual operations.
		_, err = svc.Upgrade(ctx, account.UserID, billing.PlanAgency, time.Time{}, "manual")
		require.NoError(t, err)
	})

	t.Run("invalid target plan", func(t *testing.T) {
		t.Parallel()
		svc, _ := newTestService(t)
		account := createTestAccount(t, svc)

		_, err := svc.Upgrade(ctx, account.UserID, billing.Plan("platinum"), time.Time{}, "manual")
		assert.ErrorIs(t, err, billing.ErrInvalidPlan)
	})

	t.Run("unknown account", func(t *testing.T) {
		t.Parallel()
		svc, _ := newTestService(t)
		_, err := svc.Upgrade(ctx, uuid.New(), billing.PlanPro, time.Time{}, "manual")
		assert.ErrorIs(t, err, billing.ErrAccountNotFound)
	})
}

func TestServiceCancelOrExpire(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _ := newTestService(t)
	account := createTestAccount(t, svc)

	_, err := svc.Upgrade(ctx, account.UserID, billing.PlanPro, time.Time{}, "manual")
	require.NoError(t, err)
	_, err = svc.RecordUsage(ctx, account.UserID, 120)
	require.NoError(t, err)

	cancelled, err := svc.CancelOrExpire(ctx, account.UserID, time.Now().UTC(), "subscription_cancelled")
	require.NoError(t, err)

	assert.Equal(t, billing.PlanTrial, cancelled.Plan)
	assert.Equal(t, int64(10), cancelled.UsageLimit)
	assert.Zero(t, cancelled.UsageCount)
	assert.Zero(t, cancelled.OverageCount)
	assert.Zero(t, cancelled.OverageCents)
}

func TestServiceCancellationBeatsOlderUpdate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _ := newTestService(t)
	account := createTestAccount(t, svc)

	// A cancellation applied now must not be resurrected by a delayed
	// subscription update that occurred before it.
	now := time.Now().UTC()
	_, err := svc.Upgrade(ctx, account.UserID, billing.PlanPro, now.Add(-2*time.Hour), "subscription_created")
	require.NoError(t, err)
	_, err = svc.CancelOrExpire(ctx, account.UserID, now, "subscription_cancelled")
	require.NoError(t, err)

	_, err = svc.Upgrade(ctx, account.UserID, billing.PlanPro, now.Add(-time.Hour), "subscription_updated")
	assert.ErrorIs(t, err, billing.ErrStaleEvent)

	current, err := svc.Upgrade(ctx, account.UserID, billing.PlanStarter, now.Add(time.Hour), "subscription_created")
	require.NoError(t, err)
	assert.Equal(t, billing.PlanStarter, current.Plan)
}

func TestServiceApplyPromoCode(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	catalog := billing.DefaultCatalog()
	catalog.PromoCodes["BETA30"] = billing.PromoCode{Plan: billing.PlanPro, BetaGrant: true, DurationDays: 30}
	catalog.PromoCodes["STARTUP"] = billing.PromoCode{Plan: billing.PlanStarter}

	newPromoService := func(t *testing.T) *billing.Service {
		t.Helper()
		svc, err := billing.NewService(billing.NewMemoryAccountStore(), catalog)
		require.NoError(t, err)
		return svc
	}

	t.Run("beta grant sets flag and expiry", func(t *testing.T) {
		t.Parallel()
		svc := newPromoService(t)
		account := createTestAccount(t, svc)

		redeemed, err := svc.ApplyPromoCode(ctx, account.UserID, "BETA30")
		require.NoError(t, err)

		assert.Equal(t, billing.PlanPro, redeemed.Plan)
		assert.True(t, redeemed.Beta)
		require.NotNil(t, redeemed.BetaExpires)
		assert.WithinDuration(t, time.Now().UTC().AddDate(0, 0, 30), *redeemed.BetaExpires, time.Minute)
		assert.True(t, redeemed.BetaActive(time.Now().UTC()))
		assert.False(t, redeemed.BetaActive(time.Now().UTC().AddDate(0, 0, 31)))
	})

	t.Run("promo cannot downgrade", func(t *testing.T) {
		t.Parallel()
		svc := newPromoService(t)
		account := createTestAccount(t, svc)

		_, err := svc.Upgrade(ctx, account.UserID, billing.PlanAgency, time.Time{}, "manual")
		require.NoError(t, err)

		_, err = svc.ApplyPromoCode(ctx, account.UserID, "STARTUP")
		assert.ErrorIs(t, err, billing.ErrDowngradeNotAllowed)
	})

	t.Run("unknown code", func(t *testing.T) {
		t.Parallel()
		svc := newPromoService(t)
		account := createTestAccount(t, svc)

		_, err := svc.ApplyPromoCode(ctx, account.UserID, "NOPE")
		assert.ErrorIs(t, err, billing.ErrPromoCodeNotFound)
	})
}

func TestServiceRecordUsage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _ := newTestService(t)
	account := createTestAccount(t, svc)

	// Trial quota is 10; 12 units means 2 units of overage at 10¢ each.
	updated, err := svc.RecordUsage(ctx, account.UserID, 12)
	require.NoError(t, err)
	assert.Equal(t, int64(12), updated.UsageCount)
	assert.Equal(t, int64(2), updated.OverageCount)
	assert.Equal(t, int64(20), updated.OverageCents)

	_, err = svc.RecordUsage(ctx, account.UserID, -1)
	assert.ErrorIs(t, err, billing.ErrNegativeUsage)

	reset, err := svc.ResetUsage(ctx, account.UserID)
	require.NoError(t, err)
	assert.Zero(t, reset.UsageCount)
	assert.Zero(t, reset.OverageCents)
}

func TestServiceRecordsConversions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	recorder := analytics.NewMemoryRecorder()
	svc, _ := newTestService(t, billing.WithRecorder(recorder))
	account := createTestAccount(t, svc)

	_, err := svc.Upgrade(ctx, account.UserID, billing.PlanStarter, time.Time{}, "order_created")
	require.NoError(t, err)
	_, err = svc.CancelOrExpire(ctx, account.UserID, time.Time{}, "subscription_cancelled")
	require.NoError(t, err)

	conversions := recorder.Conversions()
	require.Len(t, conversions, 2)

	assert.Equal(t, "trial", conversions[0].FromPlan)
	assert.Equal(t, "starter", conversions[0].ToPlan)
	assert.Equal(t, int64(1900), conversions[0].AmountCents)
	assert.Equal(t, "order_created", conversions[0].Source)

	assert.Equal(t, "starter", conversions[1].FromPlan)
	assert.Equal(t, "trial", conversions[1].ToPlan)
	assert.Zero(t, conversions[1].AmountCents)
}

func TestServiceAnalyticsFailureDoesNotBlock(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	recorder := analytics.NewMemoryRecorder()
	recorder.FailWith(errors.New("analytics backend down"))
	svc, store := newTestService(t, billing.WithRecorder(recorder))
	account := createTestAccount(t, svc)

	upgraded, err := svc.Upgrade(ctx, account.UserID, billing.PlanPro, time.Time{}, "order_created")
	require.NoError(t, err)
	assert.Equal(t, billing.PlanPro, upgraded.Plan)

	// The transition was persisted despite the recorder failure.
	persisted, err := store.Get(ctx, account.UserID)
	require.NoError(t, err)
	assert.Equal(t, billing.PlanPro, persisted.Plan)
}

func TestMemoryAccountStoreGetByEmail(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := billing.NewMemoryAccountStore()

	account := &billing.Account{UserID: uuid.New(), Email: "Mixed.Case@Example.com", Plan: billing.PlanTrial}
	require.NoError(t, store.Save(ctx, account))

	found, err := store.GetByEmail(ctx, "mixed.case@example.com")
	require.NoError(t, err)
	assert.Equal(t, account.UserID, found.UserID)

	_, err = store.GetByEmail(ctx, "unknown@example.com")
	assert.ErrorIs(t, err, billing.ErrAccountNotFound)

	// Stored records are isolated from caller mutation.
	found.Plan = billing.PlanAgency
	again, err := store.Get(ctx, account.UserID)
	require.NoError(t, err)
	assert.Equal(t, billing.PlanTrial, again.Plan)
}
