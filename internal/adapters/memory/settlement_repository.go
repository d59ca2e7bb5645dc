// Package memory provides an in-process settlement store for local runs and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kevin07696/settlement-service/internal/domain"
	"github.com/kevin07696/settlement-service/internal/domain/ports"
)

// SettlementRepository is an in-memory ports.SettlementRepository.
// Entries are stored as clones so callers never share state with the store.
type SettlementRepository struct {
	mu    sync.RWMutex
	byID  map[string]*domain.SettlementEntry
	byKey map[string]string
}

// NewSettlementRepository constructs a repository.
func NewSettlementRepository() *SettlementRepository {
	return &SettlementRepository{
		byID:  make(map[string]*domain.SettlementEntry),
		byKey: make(map[string]string),
	}
}

// GetByRestaurantWeek loads the entry for a restaurant week.
func (r *SettlementRepository) GetByRestaurantWeek(_ context.Context, restaurantID string, weekEnding time.Time) (*domain.SettlementEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byKey[domain.SettlementKey(restaurantID, weekEnding)]
	if !ok {
		return nil, domain.ErrSettlementNotFound
	}
	return r.byID[id].Clone(), nil
}

// GetByID loads an entry by id.
func (r *SettlementRepository) GetByID(_ context.Context, id string) (*domain.SettlementEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrSettlementNotFound
	}
	return e.Clone(), nil
}

// List returns matching entries sorted by week ending desc, restaurant asc.
func (r *SettlementRepository) List(_ context.Context, filter ports.SettlementFilter) ([]*domain.SettlementEntry, error) {
	r.mu.RLock()
	out := make([]*domain.SettlementEntry, 0, len(r.byID))
	for _, e := range r.byID {
		if matches(e, filter) {
			out = append(out, e.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].WeekEnding.Equal(out[j].WeekEnding) {
			return out[i].WeekEnding.After(out[j].WeekEnding)
		}
		return out[i].RestaurantID < out[j].RestaurantID
	})
	return out, nil
}

func matches(e *domain.SettlementEntry, f ports.SettlementFilter) bool {
	if f.Status != nil && e.Status != *f.Status {
		return false
	}
	if f.RestaurantID != "" && e.RestaurantID != f.RestaurantID {
		return false
	}
	if f.WeekEnding != nil && !e.WeekEnding.Equal(domain.NormalizeWeekEnding(*f.WeekEnding)) {
		return false
	}
	if f.WeekOnOrBefore != nil && e.WeekEnding.After(domain.NormalizeWeekEnding(*f.WeekOnOrBefore)) {
		return false
	}
	return true
}

// Insert stores a new entry. A second entry for the same restaurant week conflicts.
func (r *SettlementRepository) Insert(_ context.Context, entry *domain.SettlementEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := entry.Key()
	if _, exists := r.byKey[key]; exists {
		return domain.ErrVersionConflict
	}
	entry.Version = 1
	r.byID[entry.ID] = entry.Clone()
	r.byKey[key] = entry.ID
	return nil
}

// AppendOrder replaces the stored entry when its version still matches.
func (r *SettlementRepository) AppendOrder(_ context.Context, entry *domain.SettlementEntry, orderID string, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.byID[entry.ID]
	if !ok {
		return domain.ErrSettlementNotFound
	}
	if stored.Version != expectedVersion || !stored.IsOpen() || stored.HasOrder(orderID) {
		return domain.ErrVersionConflict
	}

	entry.Version = expectedVersion + 1
	next := entry.Clone()
	// status fields are owned by the processor
	next.Status = stored.Status
	next.ClaimedAt = stored.ClaimedAt
	r.byID[entry.ID] = next
	return nil
}

// Claim moves a PENDING entry to PROCESSING and returns a copy of it.
func (r *SettlementRepository) Claim(_ context.Context, id string, claimedAt time.Time) (*domain.SettlementEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrSettlementNotFound
	}
	if !e.Claim(claimedAt) {
		return nil, nil
	}
	e.Version++
	return e.Clone(), nil
}

// MarkPaid records the bank reference on a claimed entry.
func (r *SettlementRepository) MarkPaid(_ context.Context, id, transactionID string, paidAt time.Time) error {
	return r.transition(id, func(e *domain.SettlementEntry) error {
		return e.MarkPaid(transactionID, paidAt)
	})
}

// MarkFailed records a failed payout on a claimed entry.
func (r *SettlementRepository) MarkFailed(_ context.Context, id, reason string, failedAt time.Time) error {
	return r.transition(id, func(e *domain.SettlementEntry) error {
		return e.MarkFailed(reason, failedAt)
	})
}

// Release hands a claimed entry back to PENDING.
func (r *SettlementRepository) Release(_ context.Context, id string, releasedAt time.Time) error {
	return r.transition(id, func(e *domain.SettlementEntry) error {
		return e.Release(releasedAt)
	})
}

// ReleaseStale hands back every claim taken before claimedBefore.
func (r *SettlementRepository) ReleaseStale(_ context.Context, claimedBefore, releasedAt time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	released := 0
	for _, e := range r.byID {
		if e.Status != domain.SettlementStatusProcessing || e.ClaimedAt == nil || !e.ClaimedAt.Before(claimedBefore) {
			continue
		}
		if err := e.Release(releasedAt); err != nil {
			return released, err
		}
		e.Version++
		released++
	}
	return released, nil
}

func (r *SettlementRepository) transition(id string, apply func(*domain.SettlementEntry) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return domain.ErrSettlementNotFound
	}
	if err := apply(e); err != nil {
		return err
	}
	e.Version++
	return nil
}
