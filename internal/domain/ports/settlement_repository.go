package ports

import (
	"context"
	"time"

	"github.com/kevin07696/settlement-service/internal/domain"
)

// SettlementFilter narrows settlement entry queries. Zero values mean "any".
type SettlementFilter struct {
	Status         *domain.SettlementStatus
	WeekEnding     *time.Time
	WeekOnOrBefore *time.Time
	RestaurantID   string
}

// SettlementRepository defines the interface for settlement entry persistence.
//
// Financial writes (Insert, AppendOrder) are compare-and-swap on Version and
// return domain.ErrVersionConflict when another writer got there first.
// Status writes are conditional on the current status and return
// domain.ErrSettlementNotClaimed when the entry is not in the expected state.
type SettlementRepository interface {
	GetByRestaurantWeek(ctx context.Context, restaurantID string, weekEnding time.Time) (*domain.SettlementEntry, error)
	GetByID(ctx context.Context, id string) (*domain.SettlementEntry, error)
	List(ctx context.Context, filter SettlementFilter) ([]*domain.SettlementEntry, error)

	// Insert stores a new entry (and its order ids) at version 1
	Insert(ctx context.Context, entry *domain.SettlementEntry) error
	// AppendOrder persists an entry already folded with orderID, expecting
	// the stored version to equal expectedVersion
	AppendOrder(ctx context.Context, entry *domain.SettlementEntry, orderID string, expectedVersion int64) error

	// Claim moves PENDING to PROCESSING and returns the entry as claimed.
	// It returns nil, nil when the entry is no longer PENDING.
	Claim(ctx context.Context, id string, claimedAt time.Time) (*domain.SettlementEntry, error)
	MarkPaid(ctx context.Context, id, transactionID string, paidAt time.Time) error
	MarkFailed(ctx context.Context, id, reason string, failedAt time.Time) error
	Release(ctx context.Context, id string, releasedAt time.Time) error
	// ReleaseStale returns PROCESSING entries claimed before claimedBefore
	// to PENDING and reports how many it released
	ReleaseStale(ctx context.Context, claimedBefore, releasedAt time.Time) (int, error)
}
