package billing_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adforgehq/adforge/pkg/billing"
)

func TestUsagePeriod(t *testing.T) {
	t.Parallel()

	jan := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)
	assert.Equal(t, "2026-01", billing.UsagePeriod(jan))
	assert.Equal(t, "2026-01", billing.UsagePeriod(jan.AddDate(0, 0, 10)))
	assert.Equal(t, "2026-02", billing.UsagePeriod(jan.AddDate(0, 1, 0)))
}

func TestMemoryWarningMarker(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	marker := billing.NewMemoryWarningMarker()
	userID := uuid.New()

	first, err := marker.MarkWarned(ctx, userID, "2026-01")
	require.NoError(t, err)
	assert.True(t, first)

	first, err = marker.MarkWarned(ctx, userID, "2026-01")
	require.NoError(t, err)
	assert.False(t, first)

	// A new period opens a fresh warning slot.
	first, err = marker.MarkWarned(ctx, userID, "2026-02")
	require.NoError(t, err)
	assert.True(t, first)

	warned, err := marker.AlreadyWarned(ctx, userID, "2026-01")
	require.NoError(t, err)
	assert.True(t, warned)

	warned, err = marker.AlreadyWarned(ctx, uuid.New(), "2026-01")
	require.NoError(t, err)
	assert.False(t, warned)
}

func TestUsageMonitorCheck(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	accountant := billing.NewAccountant(billing.DefaultCatalog())

	newAccount := func(usage int64) *billing.Account {
		return &billing.Account{
			UserID:      uuid.New(),
			Plan:        billing.PlanStarter,
			UsageCount:  usage,
			UsageLimit:  100,
			LastResetAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		}
	}

	t.Run("notifies once per period", func(t *testing.T) {
		t.Parallel()
		var notified int
		monitor := billing.NewUsageMonitor(accountant, billing.NewMemoryWarningMarker(),
			billing.WithNotify(func(ctx context.Context, account *billing.Account, report billing.OverageReport) error {
				notified++
				return nil
			}),
		)

		account := newAccount(85)
		report, err := monitor.Check(ctx, account)
		require.NoError(t, err)
		assert.True(t, report.ShouldWarn)
		assert.Equal(t, 1, notified)

		// Redelivery of the same evaluation cycle stays silent.
		_, err = monitor.Check(ctx, account)
		require.NoError(t, err)
		assert.Equal(t, 1, notified)

		// After a usage reset the period key changes and warning re-arms.
		account.LastResetAt = account.LastResetAt.AddDate(0, 1, 0)
		_, err = monitor.Check(ctx, account)
		require.NoError(t, err)
		assert.Equal(t, 2, notified)
	})

	t.Run("below threshold does not touch the marker", func(t *testing.T) {
		t.Parallel()
		marker := billing.NewMemoryWarningMarker()
		monitor := billing.NewUsageMonitor(accountant, marker)

		account := newAccount(50)
		report, err := monitor.Check(ctx, account)
		require.NoError(t, err)
		assert.False(t, report.ShouldWarn)

		warned, err := marker.AlreadyWarned(ctx, account.UserID, billing.UsagePeriod(account.LastResetAt))
		require.NoError(t, err)
		assert.False(t, warned)
	})

	t.Run("notify failure leaves marker set", func(t *testing.T) {
		t.Parallel()
		marker := billing.NewMemoryWarningMarker()
		var attempts int
		monitor := billing.NewUsageMonitor(accountant, marker,
			billing.WithNotify(func(ctx context.Context, account *billing.Account, report billing.OverageReport) error {
				attempts++
				return errors.New("smtp unavailable")
			}),
		)

		account := newAccount(95)
		_, err := monitor.Check(ctx, account)
		require.NoError(t, err)
		_, err = monitor.Check(ctx, account)
		require.NoError(t, err)
		assert.Equal(t, 1, attempts)
	})
}
