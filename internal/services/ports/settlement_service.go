package ports

import (
	"context"
	"time"

	"github.com/kevin07696/settlement-service/internal/domain"
	"github.com/shopspring/decimal"
)

// AccumulateOrderRequest folds one completed order into its restaurant week
type AccumulateOrderRequest struct {
	WeekEnding     time.Time
	Subtotal       decimal.Decimal
	PlatformFee    decimal.Decimal
	RestaurantID   string
	RestaurantName string
	OrderID        string
}

// ListFilter narrows ListEntries. Nil or empty fields mean "any".
type ListFilter struct {
	Status       *domain.SettlementStatus
	WeekEnding   *time.Time
	RestaurantID string
}

// ProcessWeekRequest selects which week to disburse.
// A nil WeekEnding targets the most recently completed week.
type ProcessWeekRequest struct {
	WeekEnding *time.Time
	Trigger    string // scheduler, cron, api, cli; used for metrics
	CatchUp    bool   // also sweep PENDING entries of earlier weeks
}

// EntryError describes why one entry did not end PAID
type EntryError struct {
	SettlementID string `json:"settlement_id"`
	RestaurantID string `json:"restaurant_id"`
	WeekEnding   string `json:"week_ending"`
	Outcome      string `json:"outcome"` // failed, deferred
	Error        string `json:"error"`
}

// BatchResult summarises a ProcessWeek run.
// Processed = Successful + Failed + Deferred; Skipped entries were claimed elsewhere.
type BatchResult struct {
	WeekEnding time.Time    `json:"week_ending"`
	Errors     []EntryError `json:"errors,omitempty"`
	Processed  int          `json:"processed"`
	Successful int          `json:"successful"`
	Failed     int          `json:"failed"`
	Deferred   int          `json:"deferred"`
	Skipped    int          `json:"skipped"`
}

// SettlementLedger owns creation and financial mutation of settlement entries
type SettlementLedger interface {
	// AccumulateOrder adds an order to its (restaurant, week) entry exactly once
	AccumulateOrder(ctx context.Context, req AccumulateOrderRequest) (*domain.SettlementEntry, error)

	// ListEntries returns entries sorted by week ending desc, then restaurant id asc
	ListEntries(ctx context.Context, filter ListFilter) ([]*domain.SettlementEntry, error)

	// GetEntry returns the entry for a restaurant week or domain.ErrSettlementNotFound
	GetEntry(ctx context.Context, restaurantID string, weekEnding time.Time) (*domain.SettlementEntry, error)
}

// SettlementProcessor disburses pending entries through the bank
type SettlementProcessor interface {
	ProcessWeek(ctx context.Context, req ProcessWeekRequest) (*BatchResult, error)
}
