package memory

import (
	"context"
	"testing"
	"time"

	"github.com/kevin07696/settlement-service/internal/domain"
	"github.com/kevin07696/settlement-service/internal/domain/ports"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	week1 = time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC)
	week2 = time.Date(2024, 1, 14, 0, 0, 0, 0, time.UTC)
)

func TestSettlementRepository_InsertIsolatesCallerState(t *testing.T) {
	repo := NewSettlementRepository()
	ctx := context.Background()

	e := domain.NewSettlementEntry("id-1", "restaurant-123", "Spice Garden", week1, week1)
	require.NoError(t, repo.Insert(ctx, e))
	assert.Equal(t, int64(1), e.Version)

	e.TotalOrders = 99
	got, err := repo.GetByRestaurantWeek(ctx, "restaurant-123", week1.Add(5*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, got.TotalOrders)

	err = repo.Insert(ctx, domain.NewSettlementEntry("id-2", "restaurant-123", "Spice Garden", week1, week1))
	assert.ErrorIs(t, err, domain.ErrVersionConflict)

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrSettlementNotFound)
}

func TestSettlementRepository_AppendOrderCompareAndSwap(t *testing.T) {
	repo := NewSettlementRepository()
	ctx := context.Background()

	e := domain.NewSettlementEntry("id-1", "restaurant-123", "Spice Garden", week1, week1)
	require.NoError(t, repo.Insert(ctx, e))

	a, _ := repo.GetByID(ctx, "id-1")
	b, _ := repo.GetByID(ctx, "id-1")

	_, err := a.ApplyOrder("order-1", decimal.RequireFromString("10.00"), decimal.RequireFromString("1.00"), week1)
	require.NoError(t, err)
	require.NoError(t, repo.AppendOrder(ctx, a, "order-1", 1))
	assert.Equal(t, int64(2), a.Version)

	_, err = b.ApplyOrder("order-2", decimal.RequireFromString("20.00"), decimal.RequireFromString("2.00"), week1)
	require.NoError(t, err)
	assert.ErrorIs(t, repo.AppendOrder(ctx, b, "order-2", 1), domain.ErrVersionConflict)

	got, _ := repo.GetByID(ctx, "id-1")
	assert.Equal(t, []string{"order-1"}, got.OrderIDs)
	assert.Equal(t, "9.00", got.AmountDue.StringFixed(2))
}

func TestSettlementRepository_AppendOrderRejectsClaimedEntry(t *testing.T) {
	repo := NewSettlementRepository()
	ctx := context.Background()

	e := domain.NewSettlementEntry("id-1", "restaurant-123", "Spice Garden", week1, week1)
	require.NoError(t, repo.Insert(ctx, e))
	claimed, err := repo.Claim(ctx, "id-1", week1)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	_, err = e.ApplyOrder("order-1", decimal.RequireFromString("10.00"), decimal.Zero, week1)
	require.NoError(t, err)
	assert.ErrorIs(t, repo.AppendOrder(ctx, e, "order-1", 1), domain.ErrVersionConflict)
}

func TestSettlementRepository_ClaimLifecycle(t *testing.T) {
	repo := NewSettlementRepository()
	ctx := context.Background()
	require.NoError(t, repo.Insert(ctx, domain.NewSettlementEntry("id-1", "r-1", "R1", week1, week1)))

	claimed, err := repo.Claim(ctx, "id-1", week1)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, domain.SettlementStatusProcessing, claimed.Status)
	assert.Equal(t, int64(2), claimed.Version)

	claimed, err = repo.Claim(ctx, "id-1", week1)
	require.NoError(t, err)
	assert.Nil(t, claimed)

	require.NoError(t, repo.Release(ctx, "id-1", week1))
	claimed, _ = repo.Claim(ctx, "id-1", week1)
	require.NotNil(t, claimed)
	require.NoError(t, repo.MarkFailed(ctx, "id-1", "account closed", week1))

	got, _ := repo.GetByID(ctx, "id-1")
	assert.Equal(t, domain.SettlementStatusFailed, got.Status)
	assert.Equal(t, "account closed", got.FailureReason)
	assert.ErrorIs(t, repo.MarkPaid(ctx, "id-1", "TXN", week1), domain.ErrSettlementNotClaimed)
}

func TestSettlementRepository_ClaimReturnsCurrentTotals(t *testing.T) {
	repo := NewSettlementRepository()
	ctx := context.Background()

	e := domain.NewSettlementEntry("id-1", "r-1", "R1", week1, week1)
	_, err := e.ApplyOrder("order-1", decimal.RequireFromString("10.00"), decimal.Zero, week1)
	require.NoError(t, err)
	require.NoError(t, repo.Insert(ctx, e))

	stale := e.Clone()
	_, err = e.ApplyOrder("order-2", decimal.RequireFromString("40.00"), decimal.Zero, week1)
	require.NoError(t, err)
	require.NoError(t, repo.AppendOrder(ctx, e, "order-2", 1))

	claimed, err := repo.Claim(ctx, stale.ID, week1)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, "50.00", claimed.AmountDue.StringFixed(2))
	assert.Equal(t, []string{"order-1", "order-2"}, claimed.OrderIDs)

	// the returned copy is detached from the store
	claimed.AmountDue = decimal.Zero
	got, _ := repo.GetByID(ctx, "id-1")
	assert.Equal(t, "50.00", got.AmountDue.StringFixed(2))
}

func TestSettlementRepository_ReleaseStale(t *testing.T) {
	repo := NewSettlementRepository()
	ctx := context.Background()
	old := week1
	recent := week1.Add(time.Hour)

	require.NoError(t, repo.Insert(ctx, domain.NewSettlementEntry("1", "r-1", "R1", week1, week1)))
	require.NoError(t, repo.Insert(ctx, domain.NewSettlementEntry("2", "r-2", "R2", week1, week1)))
	require.NoError(t, repo.Insert(ctx, domain.NewSettlementEntry("3", "r-3", "R3", week1, week1)))
	_, _ = repo.Claim(ctx, "1", old)
	_, _ = repo.Claim(ctx, "2", recent)

	released, err := repo.ReleaseStale(ctx, old.Add(time.Minute), recent)
	require.NoError(t, err)
	assert.Equal(t, 1, released)

	first, _ := repo.GetByID(ctx, "1")
	assert.Equal(t, domain.SettlementStatusPending, first.Status)
	assert.Nil(t, first.ClaimedAt)

	second, _ := repo.GetByID(ctx, "2")
	assert.Equal(t, domain.SettlementStatusProcessing, second.Status)

	third, _ := repo.GetByID(ctx, "3")
	assert.Equal(t, domain.SettlementStatusPending, third.Status)
}

func TestSettlementRepository_ListFiltersAndOrder(t *testing.T) {
	repo := NewSettlementRepository()
	ctx := context.Background()
	require.NoError(t, repo.Insert(ctx, domain.NewSettlementEntry("1", "restaurant-b", "B", week1, week1)))
	require.NoError(t, repo.Insert(ctx, domain.NewSettlementEntry("2", "restaurant-a", "A", week1, week1)))
	require.NoError(t, repo.Insert(ctx, domain.NewSettlementEntry("3", "restaurant-a", "A", week2, week2)))
	_, _ = repo.Claim(ctx, "1", week1)

	all, err := repo.List(ctx, ports.SettlementFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"3", "2", "1"}, []string{all[0].ID, all[1].ID, all[2].ID})

	pending := domain.SettlementStatusPending
	tests := []struct {
		name   string
		filter ports.SettlementFilter
		want   int
	}{
		{name: "pending", filter: ports.SettlementFilter{Status: &pending}, want: 2},
		{name: "restaurant", filter: ports.SettlementFilter{RestaurantID: "restaurant-a"}, want: 2},
		{name: "week", filter: ports.SettlementFilter{WeekEnding: &week1}, want: 2},
		{name: "pending_on_or_before", filter: ports.SettlementFilter{Status: &pending, WeekOnOrBefore: &week1}, want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.List(ctx, tt.filter)
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}
}
