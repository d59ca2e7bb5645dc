package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testWeek = time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC)

func newTestEntry() *SettlementEntry {
	return NewSettlementEntry("entry-1", "restaurant-123", "Spice Garden", testWeek, testWeek)
}

func TestNewSettlementEntry(t *testing.T) {
	e := NewSettlementEntry("entry-1", "restaurant-123", "Spice Garden",
		time.Date(2024, 1, 7, 18, 45, 0, 0, time.UTC), testWeek)

	assert.Equal(t, SettlementStatusPending, e.Status)
	assert.Equal(t, testWeek, e.WeekEnding)
	assert.Equal(t, 0, e.TotalOrders)
	assert.True(t, e.AmountDue.IsZero())
	assert.Empty(t, e.OrderIDs)
	assert.True(t, e.IsOpen())
}

func TestSettlementEntry_ApplyOrder(t *testing.T) {
	e := newTestEntry()

	applied, err := e.ApplyOrder("order-1", decimal.RequireFromString("100.00"), decimal.RequireFromString("15.00"), testWeek)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = e.ApplyOrder("order-2", decimal.RequireFromString("50.00"), decimal.RequireFromString("7.50"), testWeek)
	require.NoError(t, err)
	assert.True(t, applied)

	assert.Equal(t, 2, e.TotalOrders)
	assert.Equal(t, []string{"order-1", "order-2"}, e.OrderIDs)
	assert.True(t, e.OrderSubtotal.Equal(decimal.RequireFromString("150.00")))
	assert.True(t, e.PlatformFee.Equal(decimal.RequireFromString("22.50")))
	assert.True(t, e.AmountDue.Equal(decimal.RequireFromString("127.50")))
}

func TestSettlementEntry_ApplyOrder_Duplicate(t *testing.T) {
	e := newTestEntry()
	_, err := e.ApplyOrder("order-1", decimal.RequireFromString("100.00"), decimal.RequireFromString("15.00"), testWeek)
	require.NoError(t, err)

	applied, err := e.ApplyOrder("order-1", decimal.RequireFromString("100.00"), decimal.RequireFromString("15.00"), testWeek)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, 1, e.TotalOrders)
	assert.True(t, e.AmountDue.Equal(decimal.RequireFromString("85.00")))
}

func TestSettlementEntry_ApplyOrder_Closed(t *testing.T) {
	tests := []struct {
		name   string
		status SettlementStatus
	}{
		{name: "processing", status: SettlementStatusProcessing},
		{name: "paid", status: SettlementStatusPaid},
		{name: "failed", status: SettlementStatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEntry()
			_, err := e.ApplyOrder("order-1", decimal.RequireFromString("10.00"), decimal.Zero, testWeek)
			require.NoError(t, err)
			e.Status = tt.status

			applied, err := e.ApplyOrder("order-2", decimal.RequireFromString("10.00"), decimal.Zero, testWeek)
			assert.False(t, applied)
			assert.True(t, errors.Is(err, ErrSettlementClosed))
			assert.Equal(t, 1, e.TotalOrders)

			// replay of an already-included order stays a no-op
			applied, err = e.ApplyOrder("order-1", decimal.RequireFromString("10.00"), decimal.Zero, testWeek)
			assert.NoError(t, err)
			assert.False(t, applied)
		})
	}
}

func TestSettlementEntry_Lifecycle(t *testing.T) {
	now := testWeek.Add(24 * time.Hour)

	t.Run("claim_then_paid", func(t *testing.T) {
		e := newTestEntry()
		require.True(t, e.Claim(now))
		assert.Equal(t, SettlementStatusProcessing, e.Status)
		assert.NotNil(t, e.ClaimedAt)
		assert.False(t, e.Claim(now), "second claim must lose")

		require.NoError(t, e.MarkPaid("TXN-1", now))
		assert.Equal(t, SettlementStatusPaid, e.Status)
		assert.Equal(t, "TXN-1", e.TransactionID)
		require.NotNil(t, e.PaymentDate)
		assert.Equal(t, now, *e.PaymentDate)
		assert.Nil(t, e.ClaimedAt)
		assert.True(t, e.Status.IsTerminal())
	})

	t.Run("paid_requires_reference", func(t *testing.T) {
		e := newTestEntry()
		require.True(t, e.Claim(now))
		err := e.MarkPaid("", now)
		assert.True(t, IsValidationError(err))
		assert.Equal(t, SettlementStatusProcessing, e.Status)
	})

	t.Run("claim_then_failed", func(t *testing.T) {
		e := newTestEntry()
		require.True(t, e.Claim(now))
		require.NoError(t, e.MarkFailed("insufficient funds", now))
		assert.Equal(t, SettlementStatusFailed, e.Status)
		assert.Equal(t, "insufficient funds", e.FailureReason)
		assert.Nil(t, e.PaymentDate)
	})

	t.Run("release", func(t *testing.T) {
		e := newTestEntry()
		require.True(t, e.Claim(now))
		require.NoError(t, e.Release(now))
		assert.Equal(t, SettlementStatusPending, e.Status)
		assert.True(t, e.IsOpen())
	})

	t.Run("unclaimed_transitions_rejected", func(t *testing.T) {
		e := newTestEntry()
		assert.ErrorIs(t, e.MarkPaid("TXN-1", now), ErrSettlementNotClaimed)
		assert.ErrorIs(t, e.MarkFailed("x", now), ErrSettlementNotClaimed)
		assert.ErrorIs(t, e.Release(now), ErrSettlementNotClaimed)
	})
}

func TestSettlementEntry_Clone(t *testing.T) {
	e := newTestEntry()
	_, err := e.ApplyOrder("order-1", decimal.RequireFromString("10.00"), decimal.RequireFromString("1.00"), testWeek)
	require.NoError(t, err)
	paid := testWeek
	e.PaymentDate = &paid

	c := e.Clone()
	c.OrderIDs[0] = "mutated"
	*c.PaymentDate = paid.Add(time.Hour)

	assert.Equal(t, "order-1", e.OrderIDs[0])
	assert.Equal(t, paid, *e.PaymentDate)
	assert.Nil(t, (*SettlementEntry)(nil).Clone())
}

func TestSettlementStatus_IsValid(t *testing.T) {
	assert.True(t, SettlementStatusPending.IsValid())
	assert.True(t, SettlementStatusPaid.IsValid())
	assert.False(t, SettlementStatus("SETTLED").IsValid())
	assert.False(t, SettlementStatusProcessing.IsTerminal())
}

func TestSettlementKey(t *testing.T) {
	e := newTestEntry()
	assert.Equal(t, "restaurant-123|2024-01-07", e.Key())
	assert.Equal(t, e.Key(), SettlementKey("restaurant-123", testWeek.Add(13*time.Hour)))
}
