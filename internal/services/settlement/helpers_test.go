package settlement

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kevin07696/settlement-service/internal/adapters/memory"
	"github.com/kevin07696/settlement-service/internal/domain"
	"github.com/kevin07696/settlement-service/internal/domain/ports"
	"github.com/stretchr/testify/mock"
)

var (
	week1 = time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC)
	week2 = time.Date(2024, 1, 14, 0, 0, 0, 0, time.UTC)
)

// faultyRepo wraps the memory store and injects failures per operation
type faultyRepo struct {
	*memory.SettlementRepository
	markPaidErr   error
	appendErr     error
	markPaidFails int32 // remaining MarkPaid calls to fail; <0 fails forever
	appendCalls   int32
	markPaidCalls int32
	mu            sync.Mutex
}

func newFaultyRepo() *faultyRepo {
	return &faultyRepo{SettlementRepository: memory.NewSettlementRepository()}
}

func (r *faultyRepo) failMarkPaid(times int32, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markPaidFails = times
	r.markPaidErr = err
}

func (r *faultyRepo) failAppend(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appendErr = err
}

func (r *faultyRepo) AppendOrder(ctx context.Context, entry *domain.SettlementEntry, orderID string, expectedVersion int64) error {
	atomic.AddInt32(&r.appendCalls, 1)
	r.mu.Lock()
	err := r.appendErr
	r.mu.Unlock()
	if err != nil {
		return err
	}
	return r.SettlementRepository.AppendOrder(ctx, entry, orderID, expectedVersion)
}

func (r *faultyRepo) MarkPaid(ctx context.Context, id, transactionID string, paidAt time.Time) error {
	atomic.AddInt32(&r.markPaidCalls, 1)
	r.mu.Lock()
	if r.markPaidFails != 0 {
		if r.markPaidFails > 0 {
			r.markPaidFails--
		}
		err := r.markPaidErr
		r.mu.Unlock()
		return err
	}
	r.mu.Unlock()
	return r.SettlementRepository.MarkPaid(ctx, id, transactionID, paidAt)
}

// MockSettlementRepository is a testify mock of ports.SettlementRepository
type MockSettlementRepository struct {
	mock.Mock
}

func (m *MockSettlementRepository) GetByRestaurantWeek(ctx context.Context, restaurantID string, weekEnding time.Time) (*domain.SettlementEntry, error) {
	args := m.Called(ctx, restaurantID, weekEnding)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SettlementEntry), args.Error(1)
}

func (m *MockSettlementRepository) GetByID(ctx context.Context, id string) (*domain.SettlementEntry, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SettlementEntry), args.Error(1)
}

func (m *MockSettlementRepository) List(ctx context.Context, filter ports.SettlementFilter) ([]*domain.SettlementEntry, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.SettlementEntry), args.Error(1)
}

func (m *MockSettlementRepository) Insert(ctx context.Context, entry *domain.SettlementEntry) error {
	return m.Called(ctx, entry).Error(0)
}

func (m *MockSettlementRepository) AppendOrder(ctx context.Context, entry *domain.SettlementEntry, orderID string, expectedVersion int64) error {
	return m.Called(ctx, entry, orderID, expectedVersion).Error(0)
}

func (m *MockSettlementRepository) Claim(ctx context.Context, id string, claimedAt time.Time) (*domain.SettlementEntry, error) {
	args := m.Called(ctx, id, claimedAt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SettlementEntry), args.Error(1)
}

func (m *MockSettlementRepository) MarkPaid(ctx context.Context, id, transactionID string, paidAt time.Time) error {
	return m.Called(ctx, id, transactionID, paidAt).Error(0)
}

func (m *MockSettlementRepository) MarkFailed(ctx context.Context, id, reason string, failedAt time.Time) error {
	return m.Called(ctx, id, reason, failedAt).Error(0)
}

func (m *MockSettlementRepository) Release(ctx context.Context, id string, releasedAt time.Time) error {
	return m.Called(ctx, id, releasedAt).Error(0)
}

func (m *MockSettlementRepository) ReleaseStale(ctx context.Context, claimedBefore, releasedAt time.Time) (int, error) {
	args := m.Called(ctx, claimedBefore, releasedAt)
	return args.Int(0), args.Error(1)
}
