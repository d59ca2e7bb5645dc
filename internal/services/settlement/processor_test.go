package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kevin07696/settlement-service/internal/domain"
	"github.com/kevin07696/settlement-service/internal/domain/ports"
	serviceports "github.com/kevin07696/settlement-service/internal/services/ports"
	"github.com/kevin07696/settlement-service/pkg/resilience"
	"github.com/kevin07696/settlement-service/pkg/timeutil"
	"github.com/kevin07696/settlement-service/test/mocks"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var colombo = time.FixedZone("Asia/Colombo", 5*3600+30*60)

type processorFixture struct {
	repo      *faultyRepo
	ledger    *Ledger
	bank      *mocks.MockBankGateway
	notifier  *mocks.MockNotifier
	logger    *mocks.MockLogger
	processor *Processor
}

func newProcessorFixture(t *testing.T) *processorFixture {
	t.Helper()
	f := &processorFixture{
		repo:     newFaultyRepo(),
		bank:     mocks.NewMockBankGateway(),
		notifier: mocks.NewMockNotifier(64),
		logger:   mocks.NewMockLogger(),
	}
	f.ledger = newTestLedger(f.repo)
	f.processor = NewProcessor(f.repo, f.bank, f.notifier, f.logger, testProcessorConfig())
	return f
}

func testProcessorConfig() ProcessorConfig {
	config := DefaultProcessorConfig("LKR", colombo)
	config.Timeouts = resilience.TestTimeoutConfig()
	config.StatusBackoff = &resilience.FixedBackoff{Delay: time.Millisecond}
	return config
}

func (f *processorFixture) seed(t *testing.T, restaurantID, amount string, week time.Time) *domain.SettlementEntry {
	t.Helper()
	entry, err := f.ledger.AccumulateOrder(context.Background(),
		order(restaurantID, restaurantID+"-order", amount, "0.00", week))
	require.NoError(t, err)
	return entry
}

func (f *processorFixture) entry(t *testing.T, restaurantID string, week time.Time) *domain.SettlementEntry {
	t.Helper()
	entry, err := f.repo.GetByRestaurantWeek(context.Background(), restaurantID, week)
	require.NoError(t, err)
	return entry
}

func (f *processorFixture) waitNotifications(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.processor.WaitForNotifications(ctx))
}

func weekPtr(t time.Time) *time.Time { return &t }

func TestProcessor_ProcessWeek_PartialFailure(t *testing.T) {
	f := newProcessorFixture(t)
	f.seed(t, "A", "100.00", week1)
	f.seed(t, "B", "200.00", week1)
	f.seed(t, "C", "300.00", week1)
	f.bank.SetResult("B", &ports.TransferResult{Success: false, Message: "account closed"})

	result, err := f.processor.ProcessWeek(context.Background(), serviceports.ProcessWeekRequest{WeekEnding: weekPtr(week1)})
	require.NoError(t, err)

	assert.Equal(t, week1, result.WeekEnding)
	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 2, result.Successful)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 0, result.Deferred)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "B", result.Errors[0].RestaurantID)
	assert.Equal(t, "failed", result.Errors[0].Outcome)
	assert.Equal(t, "account closed", result.Errors[0].Error)

	a := f.entry(t, "A", week1)
	assert.Equal(t, domain.SettlementStatusPaid, a.Status)
	assert.Equal(t, "TXN-A", a.TransactionID)
	assert.NotNil(t, a.PaymentDate)

	b := f.entry(t, "B", week1)
	assert.Equal(t, domain.SettlementStatusFailed, b.Status)
	assert.Equal(t, "account closed", b.FailureReason)
	assert.Empty(t, b.TransactionID)
	assert.Nil(t, b.PaymentDate)

	assert.Equal(t, domain.SettlementStatusPaid, f.entry(t, "C", week1).Status)

	f.waitNotifications(t)
	sent := f.notifier.Sent()
	require.Len(t, sent, 3)
	statuses := map[string]string{}
	for _, n := range sent {
		statuses[n.RestaurantID] = n.Status
	}
	assert.Equal(t, map[string]string{"A": "PAID", "B": "FAILED", "C": "PAID"}, statuses)
}

func TestProcessor_ProcessWeek_Empty(t *testing.T) {
	f := newProcessorFixture(t)

	result, err := f.processor.ProcessWeek(context.Background(), serviceports.ProcessWeekRequest{WeekEnding: weekPtr(week1)})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)
	assert.Equal(t, 0, result.Successful)
	assert.Equal(t, 0, result.Failed)
	assert.Empty(t, result.Errors)
	assert.Equal(t, 0, f.bank.CallCount())
}

func TestProcessor_ProcessWeek_TransferRequest(t *testing.T) {
	f := newProcessorFixture(t)
	entry := f.seed(t, "A", "127.50", week1)

	_, err := f.processor.ProcessWeek(context.Background(), serviceports.ProcessWeekRequest{WeekEnding: weekPtr(week1)})
	require.NoError(t, err)

	require.Len(t, f.bank.Calls, 1)
	call := f.bank.Calls[0]
	assert.Equal(t, entry.ID, call.IdempotencyKey)
	assert.Equal(t, "A", call.RestaurantID)
	assert.Equal(t, "LKR", call.Currency)
	assert.Equal(t, "127.50", domain.FormatAmount(call.Amount))
}

func TestProcessor_ProcessWeek_PaysTotalsAsClaimed(t *testing.T) {
	f := newProcessorFixture(t)
	f.processor.config.Workers = 1
	f.seed(t, "A", "25.00", week1)
	f.seed(t, "B", "10.00", week1)

	// B takes a late order after the batch listed it but before its claim
	var once sync.Once
	f.bank.SetHook(func(ctx context.Context, req *ports.TransferRequest) error {
		if req.RestaurantID != "A" {
			return nil
		}
		var err error
		once.Do(func() {
			_, err = f.ledger.AccumulateOrder(context.Background(), order("B", "B-late", "40.00", "0.00", week1))
		})
		return err
	})

	result, err := f.processor.ProcessWeek(context.Background(), serviceports.ProcessWeekRequest{WeekEnding: weekPtr(week1)})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Successful)

	require.Len(t, f.bank.Calls, 2)
	assert.Equal(t, "B", f.bank.Calls[1].RestaurantID)
	assert.Equal(t, "50.00", domain.FormatAmount(f.bank.Calls[1].Amount))

	b := f.entry(t, "B", week1)
	assert.Equal(t, domain.SettlementStatusPaid, b.Status)
	assert.Equal(t, 2, b.TotalOrders)
	assert.Equal(t, "50.00", domain.FormatAmount(b.AmountDue))

	f.waitNotifications(t)
	for _, n := range f.notifier.Sent() {
		if n.RestaurantID == "B" {
			assert.Equal(t, "50.00", domain.FormatAmount(n.Amount))
		}
	}
}

func TestProcessor_ProcessWeek_ReleasesStaleClaims(t *testing.T) {
	f := newProcessorFixture(t)
	now := time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)
	f.processor.now = timeutil.Fixed(now)

	abandoned := f.seed(t, "A", "10.00", week1)
	live := f.seed(t, "B", "20.00", week1)
	_, err := f.repo.Claim(context.Background(), abandoned.ID, now.Add(-time.Hour))
	require.NoError(t, err)
	_, err = f.repo.Claim(context.Background(), live.ID, now.Add(-time.Second))
	require.NoError(t, err)

	result, err := f.processor.ProcessWeek(context.Background(), serviceports.ProcessWeekRequest{WeekEnding: weekPtr(week1)})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Successful)
	assert.True(t, f.logger.HasWarn("released stale settlement claims"))

	assert.Equal(t, domain.SettlementStatusPaid, f.entry(t, "A", week1).Status)
	assert.Equal(t, 1, f.bank.CallsFor("A"))

	// a claim younger than the TTL belongs to a run that may still be going
	assert.Equal(t, domain.SettlementStatusProcessing, f.entry(t, "B", week1).Status)
	assert.Equal(t, 0, f.bank.CallsFor("B"))
}

func TestProcessor_ProcessWeek_StaleReleaseFailureDoesNotStopBatch(t *testing.T) {
	entry := domain.NewSettlementEntry("s-1", "A", "A", week1, time.Now())
	_, err := entry.ApplyOrder("o-1", decimal.RequireFromString("10.00"), decimal.Zero, time.Now())
	require.NoError(t, err)
	claimed := entry.Clone()
	claimed.Claim(time.Now())

	repo := new(MockSettlementRepository)
	repo.On("ReleaseStale", mock.Anything, mock.Anything, mock.Anything).Return(0, errors.New("connection reset"))
	repo.On("List", mock.Anything, mock.Anything).Return([]*domain.SettlementEntry{entry}, nil)
	repo.On("Claim", mock.Anything, "s-1", mock.Anything).Return(claimed, nil)
	repo.On("MarkPaid", mock.Anything, "s-1", "TXN-A", mock.Anything).Return(nil)
	logger := mocks.NewMockLogger()
	processor := NewProcessor(repo, mocks.NewMockBankGateway(), nil, logger, testProcessorConfig())

	result, err := processor.ProcessWeek(context.Background(), serviceports.ProcessWeekRequest{WeekEnding: weekPtr(week1)})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Successful)
	assert.True(t, logger.HasError("failed to release stale settlement claims"))
	repo.AssertExpectations(t)
}

func TestProcessor_ClaimTTLDefaultsToTwiceBatch(t *testing.T) {
	config := testProcessorConfig()
	config.ClaimTTL = 0
	p := NewProcessor(newFaultyRepo(), mocks.NewMockBankGateway(), nil, mocks.NewMockLogger(), config)
	assert.Equal(t, 2*config.Timeouts.Batch, p.config.ClaimTTL)
}

func TestProcessor_ProcessWeek_OnlyTargetWeek(t *testing.T) {
	f := newProcessorFixture(t)
	previous := week1.AddDate(0, 0, -7)
	f.seed(t, "old", "10.00", previous)
	f.seed(t, "A", "10.00", week1)
	f.seed(t, "future", "10.00", week2)

	result, err := f.processor.ProcessWeek(context.Background(), serviceports.ProcessWeekRequest{WeekEnding: weekPtr(week1)})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Successful)
	assert.Equal(t, domain.SettlementStatusPending, f.entry(t, "old", previous).Status)
	assert.Equal(t, domain.SettlementStatusPending, f.entry(t, "future", week2).Status)

	t.Run("catch up sweeps earlier weeks", func(t *testing.T) {
		result, err := f.processor.ProcessWeek(context.Background(),
			serviceports.ProcessWeekRequest{WeekEnding: weekPtr(week1), CatchUp: true})
		require.NoError(t, err)
		assert.Equal(t, 1, result.Successful)
		assert.Equal(t, domain.SettlementStatusPaid, f.entry(t, "old", previous).Status)
		assert.Equal(t, domain.SettlementStatusPending, f.entry(t, "future", week2).Status)
	})

	t.Run("paid entries are not paid twice", func(t *testing.T) {
		result, err := f.processor.ProcessWeek(context.Background(),
			serviceports.ProcessWeekRequest{WeekEnding: weekPtr(week1), CatchUp: true})
		require.NoError(t, err)
		assert.Equal(t, 0, result.Processed)
		assert.Equal(t, 1, f.bank.CallsFor("A"))
	})
}

func TestProcessor_TargetWeek(t *testing.T) {
	f := newProcessorFixture(t)

	tests := []struct {
		name string
		now  time.Time
		want string
	}{
		{name: "monday morning", now: time.Date(2024, 1, 8, 3, 0, 0, 0, time.UTC), want: "2024-01-07"},
		{name: "sunday night utc is monday in colombo", now: time.Date(2024, 1, 7, 20, 0, 0, 0, time.UTC), want: "2024-01-07"},
		{name: "sunday evening in colombo", now: time.Date(2024, 1, 7, 18, 0, 0, 0, colombo), want: "2024-01-07"},
		{name: "saturday", now: time.Date(2024, 1, 13, 12, 0, 0, 0, colombo), want: "2024-01-07"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.processor.now = func() time.Time { return tt.now }
			assert.Equal(t, tt.want, domain.FormatWeekEnding(f.processor.TargetWeek(nil)))
		})
	}

	explicit := time.Date(2024, 2, 4, 15, 0, 0, 0, time.UTC)
	assert.Equal(t, "2024-02-04", domain.FormatWeekEnding(f.processor.TargetWeek(&explicit)))
}

func TestProcessor_ProcessWeek_Timeout(t *testing.T) {
	f := newProcessorFixture(t)
	f.seed(t, "slow", "50.00", week1)
	f.bank.SetHook(func(ctx context.Context, _ *ports.TransferRequest) error {
		<-ctx.Done()
		return ctx.Err()
	})

	result, err := f.processor.ProcessWeek(context.Background(), serviceports.ProcessWeekRequest{WeekEnding: weekPtr(week1)})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	entry := f.entry(t, "slow", week1)
	assert.Equal(t, domain.SettlementStatusFailed, entry.Status)
	assert.Equal(t, FailureReasonTimeout, entry.FailureReason)
}

func TestProcessor_ProcessWeek_TransferErrors(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(b *mocks.MockBankGateway)
		reason string
	}{
		{
			name:   "gateway error",
			setup:  func(b *mocks.MockBankGateway) { b.SetError("A", errors.New("connection reset")) },
			reason: "connection reset",
		},
		{
			name: "adapter timeout",
			setup: func(b *mocks.MockBankGateway) {
				b.SetError("A", domain.WrapError(domain.ErrorCodeTransferTimeout, "bank did not answer", context.DeadlineExceeded))
			},
			reason: FailureReasonTimeout,
		},
		{
			name:   "success without reference",
			setup:  func(b *mocks.MockBankGateway) { b.SetResult("A", &ports.TransferResult{Success: true}) },
			reason: "bank reported success without a transaction reference",
		},
		{
			name:   "declined without message",
			setup:  func(b *mocks.MockBankGateway) { b.SetResult("A", &ports.TransferResult{}) },
			reason: "bank declined transfer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newProcessorFixture(t)
			f.seed(t, "A", "10.00", week1)
			tt.setup(f.bank)

			result, err := f.processor.ProcessWeek(context.Background(), serviceports.ProcessWeekRequest{WeekEnding: weekPtr(week1)})
			require.NoError(t, err)
			assert.Equal(t, 1, result.Failed)
			assert.Equal(t, 0, result.Successful)

			entry := f.entry(t, "A", week1)
			assert.Equal(t, domain.SettlementStatusFailed, entry.Status)
			assert.Equal(t, tt.reason, entry.FailureReason)
			assert.Empty(t, entry.TransactionID)
		})
	}
}

func TestProcessor_ProcessWeek_StatusWriteFailureDefers(t *testing.T) {
	f := newProcessorFixture(t)
	entry := f.seed(t, "A", "10.00", week1)
	f.repo.failMarkPaid(-1, errors.New("database unavailable"))

	result, err := f.processor.ProcessWeek(context.Background(), serviceports.ProcessWeekRequest{WeekEnding: weekPtr(week1)})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Deferred)
	assert.Equal(t, 0, result.Successful)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "deferred", result.Errors[0].Outcome)
	assert.Equal(t, int32(3), f.repo.markPaidCalls)
	assert.True(t, f.logger.HasError("failed to record settlement outcome"))

	// claim released so the next run picks it up
	assert.Equal(t, domain.SettlementStatusPending, f.entry(t, "A", week1).Status)

	f.repo.failMarkPaid(0, nil)
	result, err = f.processor.ProcessWeek(context.Background(), serviceports.ProcessWeekRequest{WeekEnding: weekPtr(week1)})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Successful)

	require.Len(t, f.bank.Calls, 2)
	assert.Equal(t, entry.ID, f.bank.Calls[0].IdempotencyKey)
	assert.Equal(t, entry.ID, f.bank.Calls[1].IdempotencyKey)
	assert.Equal(t, domain.SettlementStatusPaid, f.entry(t, "A", week1).Status)
}

func TestProcessor_ProcessWeek_TransientWriteFailureRetried(t *testing.T) {
	f := newProcessorFixture(t)
	f.seed(t, "A", "10.00", week1)
	f.repo.failMarkPaid(1, errors.New("deadlock detected"))

	result, err := f.processor.ProcessWeek(context.Background(), serviceports.ProcessWeekRequest{WeekEnding: weekPtr(week1)})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Successful)
	assert.Equal(t, int32(2), f.repo.markPaidCalls)
}

func TestProcessor_ProcessWeek_CancelledBatchReleasesClaim(t *testing.T) {
	f := newProcessorFixture(t)
	f.seed(t, "A", "10.00", week1)

	ctx, cancel := context.WithCancel(context.Background())
	f.bank.SetHook(func(tctx context.Context, _ *ports.TransferRequest) error {
		cancel()
		<-tctx.Done()
		return tctx.Err()
	})

	result, err := f.processor.ProcessWeek(ctx, serviceports.ProcessWeekRequest{WeekEnding: weekPtr(week1)})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deferred)
	assert.Equal(t, 0, result.Failed)

	entry := f.entry(t, "A", week1)
	assert.Equal(t, domain.SettlementStatusPending, entry.Status)
	assert.Nil(t, entry.ClaimedAt)
}

func TestProcessor_ProcessWeek_BatchInProgress(t *testing.T) {
	f := newProcessorFixture(t)
	f.seed(t, "A", "10.00", week1)

	started := make(chan struct{})
	unblock := make(chan struct{})
	f.bank.SetHook(func(ctx context.Context, _ *ports.TransferRequest) error {
		close(started)
		<-unblock
		return nil
	})

	done := make(chan error, 1)
	go func() {
		_, err := f.processor.ProcessWeek(context.Background(), serviceports.ProcessWeekRequest{WeekEnding: weekPtr(week1)})
		done <- err
	}()

	<-started
	_, err := f.processor.ProcessWeek(context.Background(), serviceports.ProcessWeekRequest{WeekEnding: weekPtr(week1)})
	assert.True(t, errors.Is(err, domain.ErrBatchInProgress))

	close(unblock)
	require.NoError(t, <-done)
	assert.Equal(t, 1, f.bank.CallCount())
}

func TestProcessor_ProcessWeek_ConcurrentRunsNeverDoublePay(t *testing.T) {
	f := newProcessorFixture(t)
	const restaurants = 10
	for i := 0; i < restaurants; i++ {
		f.seed(t, fmt.Sprintf("r%02d", i), "10.00", week1)
	}
	f.bank.SetHook(func(context.Context, *ports.TransferRequest) error {
		time.Sleep(2 * time.Millisecond)
		return nil
	})

	// two service instances sharing one store
	other := NewProcessor(f.repo, f.bank, f.notifier, mocks.NewMockLogger(), testProcessorConfig())

	var wg sync.WaitGroup
	results := make([]*serviceports.BatchResult, 2)
	for i, p := range []*Processor{f.processor, other} {
		wg.Add(1)
		go func(i int, p *Processor) {
			defer wg.Done()
			res, err := p.ProcessWeek(context.Background(), serviceports.ProcessWeekRequest{WeekEnding: weekPtr(week1)})
			assert.NoError(t, err)
			results[i] = res
		}(i, p)
	}
	wg.Wait()

	require.NotNil(t, results[0])
	require.NotNil(t, results[1])
	assert.Equal(t, restaurants, results[0].Successful+results[1].Successful)
	assert.Equal(t, restaurants, f.bank.CallCount())
	for i := 0; i < restaurants; i++ {
		assert.Equal(t, 1, f.bank.CallsFor(fmt.Sprintf("r%02d", i)))
	}
}

func TestProcessor_ProcessWeek_NotificationFailureIgnored(t *testing.T) {
	f := newProcessorFixture(t)
	f.seed(t, "A", "10.00", week1)
	f.notifier.SetError(errors.New("push service down"))

	result, err := f.processor.ProcessWeek(context.Background(), serviceports.ProcessWeekRequest{WeekEnding: weekPtr(week1)})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Successful)

	f.waitNotifications(t)
	assert.Len(t, f.notifier.Sent(), 1)
	assert.Equal(t, domain.SettlementStatusPaid, f.entry(t, "A", week1).Status)
}

func TestProcessor_ProcessWeek_ListFailure(t *testing.T) {
	repo := new(MockSettlementRepository)
	repo.On("ReleaseStale", mock.Anything, mock.Anything, mock.Anything).Return(0, nil)
	repo.On("List", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))
	bank := mocks.NewMockBankGateway()
	processor := NewProcessor(repo, bank, nil, mocks.NewMockLogger(), testProcessorConfig())

	result, err := processor.ProcessWeek(context.Background(), serviceports.ProcessWeekRequest{WeekEnding: weekPtr(week1)})
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Equal(t, 0, bank.CallCount())

	// the guard is released after a failed run
	repo.ExpectedCalls = nil
	repo.On("ReleaseStale", mock.Anything, mock.Anything, mock.Anything).Return(0, nil)
	repo.On("List", mock.Anything, mock.Anything).Return([]*domain.SettlementEntry{}, nil)
	_, err = processor.ProcessWeek(context.Background(), serviceports.ProcessWeekRequest{WeekEnding: weekPtr(week1)})
	assert.NoError(t, err)
}

func TestProcessor_ProcessWeek_ClaimedElsewhereSkipped(t *testing.T) {
	entry := domain.NewSettlementEntry("s-1", "A", "A", week1, time.Now())
	repo := new(MockSettlementRepository)
	repo.On("ReleaseStale", mock.Anything, mock.Anything, mock.Anything).Return(0, nil)
	repo.On("List", mock.Anything, mock.Anything).Return([]*domain.SettlementEntry{entry}, nil)
	repo.On("Claim", mock.Anything, "s-1", mock.Anything).Return(nil, nil)
	bank := mocks.NewMockBankGateway()
	processor := NewProcessor(repo, bank, nil, mocks.NewMockLogger(), testProcessorConfig())

	result, err := processor.ProcessWeek(context.Background(), serviceports.ProcessWeekRequest{WeekEnding: weekPtr(week1)})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 0, bank.CallCount())
	repo.AssertExpectations(t)
}
