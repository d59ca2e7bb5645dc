package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kevin07696/settlement-service/internal/domain"
	"github.com/kevin07696/settlement-service/internal/domain/ports"
	serviceports "github.com/kevin07696/settlement-service/internal/services/ports"
	"github.com/kevin07696/settlement-service/pkg/observability"
	"github.com/kevin07696/settlement-service/pkg/resilience"
	"github.com/kevin07696/settlement-service/pkg/timeutil"
)

// LedgerConfig tunes accumulation
type LedgerConfig struct {
	Backoff     resilience.BackoffStrategy
	Currency    string
	MaxAttempts int // compare-and-swap attempts per order
}

// DefaultLedgerConfig returns the production ledger settings
func DefaultLedgerConfig(currency string) LedgerConfig {
	return LedgerConfig{
		Backoff:     resilience.StoreBackoff(),
		Currency:    currency,
		MaxAttempts: 5,
	}
}

// Ledger implements serviceports.SettlementLedger
type Ledger struct {
	repo   ports.SettlementRepository
	logger ports.Logger
	now    timeutil.Clock
	newID  func() string
	config LedgerConfig
}

// NewLedger creates a new settlement ledger
func NewLedger(repo ports.SettlementRepository, logger ports.Logger, config LedgerConfig) *Ledger {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	return &Ledger{
		repo:   repo,
		logger: logger,
		now:    timeutil.Now,
		newID:  func() string { return uuid.New().String() },
		config: config,
	}
}

// AccumulateOrder folds an order into its restaurant week entry, creating the
// entry on first use. Replaying an order already folded is a no-op.
func (l *Ledger) AccumulateOrder(ctx context.Context, req serviceports.AccumulateOrderRequest) (*domain.SettlementEntry, error) {
	req.RestaurantID = strings.TrimSpace(req.RestaurantID)
	req.OrderID = strings.TrimSpace(req.OrderID)
	if err := validateAccumulate(req); err != nil {
		observability.RecordAccumulation("rejected", 0, l.config.Currency)
		return nil, err
	}
	week := domain.NormalizeWeekEnding(req.WeekEnding)

	var (
		entry   *domain.SettlementEntry
		applied bool
	)
	err := resilience.Retry(ctx, resilience.RetryPolicy{
		MaxAttempts: l.config.MaxAttempts,
		Backoff:     l.config.Backoff,
		Retryable: func(err error) bool {
			return errors.Is(err, domain.ErrVersionConflict)
		},
	}, func(ctx context.Context, attempt int) error {
		if attempt > 0 {
			observability.RecordAccumulationRetry()
		}
		var err error
		entry, applied, err = l.tryAccumulate(ctx, req, week)
		return err
	})
	if err != nil {
		return nil, l.accumulateFailed(req, week, err)
	}

	if !applied {
		observability.RecordAccumulation("duplicate", 0, l.config.Currency)
		l.logger.Debug("order already settled, ignoring",
			ports.String("restaurant_id", req.RestaurantID),
			ports.String("order_id", req.OrderID),
			ports.String("week_ending", domain.FormatWeekEnding(week)),
		)
		return entry, nil
	}

	observability.RecordAccumulation("applied", domain.ToCents(req.Subtotal.Sub(req.PlatformFee)), l.config.Currency)
	l.logger.Info("order accumulated",
		ports.String("settlement_id", entry.ID),
		ports.String("restaurant_id", entry.RestaurantID),
		ports.String("order_id", req.OrderID),
		ports.String("week_ending", domain.FormatWeekEnding(week)),
		ports.Int("total_orders", entry.TotalOrders),
		ports.String("amount_due", domain.FormatAmount(entry.AmountDue)),
	)
	return entry, nil
}

func (l *Ledger) tryAccumulate(ctx context.Context, req serviceports.AccumulateOrderRequest, week time.Time) (*domain.SettlementEntry, bool, error) {
	now := l.now()

	entry, err := l.repo.GetByRestaurantWeek(ctx, req.RestaurantID, week)
	if err != nil && !domain.IsNotFoundError(err) {
		return nil, false, err
	}

	if entry == nil {
		entry = domain.NewSettlementEntry(l.newID(), req.RestaurantID, req.RestaurantName, week, now)
		if _, err := entry.ApplyOrder(req.OrderID, req.Subtotal, req.PlatformFee, now); err != nil {
			return nil, false, err
		}
		if err := l.repo.Insert(ctx, entry); err != nil {
			return nil, false, err
		}
		return entry, true, nil
	}

	expected := entry.Version
	if entry.RestaurantName == "" {
		entry.RestaurantName = req.RestaurantName
	}
	applied, err := entry.ApplyOrder(req.OrderID, req.Subtotal, req.PlatformFee, now)
	if err != nil || !applied {
		return entry, false, err
	}
	if err := l.repo.AppendOrder(ctx, entry, req.OrderID, expected); err != nil {
		return nil, false, err
	}
	return entry, true, nil
}

func (l *Ledger) accumulateFailed(req serviceports.AccumulateOrderRequest, week time.Time, err error) error {
	fields := []ports.Field{
		ports.String("restaurant_id", req.RestaurantID),
		ports.String("order_id", req.OrderID),
		ports.String("week_ending", domain.FormatWeekEnding(week)),
		ports.Err(err),
	}

	switch {
	case errors.Is(err, domain.ErrSettlementClosed):
		observability.RecordAccumulation("closed", 0, l.config.Currency)
		l.logger.Warn("order arrived for a closed settlement", fields...)
		return err
	case errors.Is(err, domain.ErrVersionConflict):
		observability.RecordAccumulation("conflict", 0, l.config.Currency)
		l.logger.Error("settlement entry contention exhausted retries", fields...)
		return domain.WrapError(domain.ErrorCodePersistenceConflict, "settlement entry is busy, retry the order", err).
			WithDetail("restaurant_id", req.RestaurantID).
			WithDetail("order_id", req.OrderID)
	case domain.IsPersistenceError(err):
		observability.RecordAccumulation("error", 0, l.config.Currency)
		l.logger.Error("failed to persist settlement entry", fields...)
		return err
	case domain.GetErrorCode(err) != "":
		observability.RecordAccumulation("rejected", 0, l.config.Currency)
		return err
	}

	observability.RecordAccumulation("error", 0, l.config.Currency)
	l.logger.Error("failed to accumulate order", fields...)
	return domain.NewPersistenceError("accumulate order", err)
}

func validateAccumulate(req serviceports.AccumulateOrderRequest) error {
	if req.RestaurantID == "" {
		return domain.NewValidationError(domain.ErrorCodeValidationMissingField, "restaurant_id", "restaurant id is required")
	}
	if req.OrderID == "" {
		return domain.NewValidationError(domain.ErrorCodeValidationMissingField, "order_id", "order id is required")
	}
	if req.WeekEnding.IsZero() {
		return domain.NewValidationError(domain.ErrorCodeValidationMissingField, "week_ending", "week ending is required")
	}
	if err := domain.ValidateAmount("subtotal", req.Subtotal); err != nil {
		return err
	}
	if err := domain.ValidateAmount("platform_fee", req.PlatformFee); err != nil {
		return err
	}
	if req.PlatformFee.GreaterThan(req.Subtotal) {
		return domain.NewValidationError(domain.ErrorCodeValidationAmountInvalid, "platform_fee",
			fmt.Sprintf("platform fee %s exceeds subtotal %s", domain.FormatAmount(req.PlatformFee), domain.FormatAmount(req.Subtotal)))
	}
	return nil
}

// ListEntries returns entries matching filter, newest week first
func (l *Ledger) ListEntries(ctx context.Context, filter serviceports.ListFilter) ([]*domain.SettlementEntry, error) {
	if filter.Status != nil && !filter.Status.IsValid() {
		return nil, domain.NewValidationError(domain.ErrorCodeValidationFailed, "status",
			fmt.Sprintf("unknown settlement status %q", *filter.Status))
	}

	entries, err := l.repo.List(ctx, ports.SettlementFilter{
		Status:       filter.Status,
		WeekEnding:   filter.WeekEnding,
		RestaurantID: strings.TrimSpace(filter.RestaurantID),
	})
	if err != nil {
		l.logger.Error("failed to list settlements", ports.Err(err))
		return nil, wrapPersistence("list settlements", err)
	}
	return entries, nil
}

// GetEntry returns a single restaurant week
func (l *Ledger) GetEntry(ctx context.Context, restaurantID string, weekEnding time.Time) (*domain.SettlementEntry, error) {
	restaurantID = strings.TrimSpace(restaurantID)
	if restaurantID == "" {
		return nil, domain.NewValidationError(domain.ErrorCodeValidationMissingField, "restaurant_id", "restaurant id is required")
	}
	if weekEnding.IsZero() {
		return nil, domain.NewValidationError(domain.ErrorCodeValidationMissingField, "week_ending", "week ending is required")
	}

	entry, err := l.repo.GetByRestaurantWeek(ctx, restaurantID, weekEnding)
	if err != nil {
		if domain.IsNotFoundError(err) {
			return nil, err
		}
		return nil, wrapPersistence("get settlement", err)
	}
	return entry, nil
}

func wrapPersistence(op string, err error) error {
	if domain.GetErrorCode(err) != "" {
		return err
	}
	return domain.NewPersistenceError(op, err)
}
