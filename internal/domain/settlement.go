package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SettlementStatus represents the payout state of a settlement entry
type SettlementStatus string

const (
	SettlementStatusPending    SettlementStatus = "PENDING"
	SettlementStatusProcessing SettlementStatus = "PROCESSING"
	SettlementStatusPaid       SettlementStatus = "PAID"
	SettlementStatusFailed     SettlementStatus = "FAILED"
)

// IsValid reports whether s is a known status
func (s SettlementStatus) IsValid() bool {
	switch s {
	case SettlementStatusPending, SettlementStatusProcessing, SettlementStatusPaid, SettlementStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are possible
func (s SettlementStatus) IsTerminal() bool {
	return s == SettlementStatusPaid || s == SettlementStatusFailed
}

// SettlementEntry is the per-restaurant, per-week ledger aggregate.
//
// AmountDue is derived: it always equals OrderSubtotal - PlatformFee and is
// recomputed on every accumulation. WeekEnding never changes after creation.
type SettlementEntry struct {
	WeekEnding     time.Time        `json:"week_ending"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
	PaymentDate    *time.Time       `json:"payment_date,omitempty"`
	ClaimedAt      *time.Time       `json:"claimed_at,omitempty"`
	OrderSubtotal  decimal.Decimal  `json:"order_subtotal"`
	PlatformFee    decimal.Decimal  `json:"platform_fee"`
	AmountDue      decimal.Decimal  `json:"amount_due"`
	OrderIDs       []string         `json:"order_ids"`
	ID             string           `json:"id"`
	RestaurantID   string           `json:"restaurant_id"`
	RestaurantName string           `json:"restaurant_name"`
	Status         SettlementStatus `json:"status"`
	TransactionID  string           `json:"transaction_id,omitempty"`
	FailureReason  string           `json:"failure_reason,omitempty"`
	TotalOrders    int              `json:"total_orders"`
	Version        int64            `json:"version"`
}

// NewSettlementEntry creates an empty PENDING entry for a restaurant week
func NewSettlementEntry(id, restaurantID, restaurantName string, weekEnding, now time.Time) *SettlementEntry {
	return &SettlementEntry{
		ID:             id,
		RestaurantID:   restaurantID,
		RestaurantName: restaurantName,
		WeekEnding:     NormalizeWeekEnding(weekEnding),
		OrderSubtotal:  decimal.Zero,
		PlatformFee:    decimal.Zero,
		AmountDue:      decimal.Zero,
		OrderIDs:       []string{},
		Status:         SettlementStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// IsOpen returns true while the entry still accepts orders
func (e *SettlementEntry) IsOpen() bool {
	return e.Status == SettlementStatusPending
}

// HasOrder returns true if the order was already folded into this entry
func (e *SettlementEntry) HasOrder(orderID string) bool {
	for _, id := range e.OrderIDs {
		if id == orderID {
			return true
		}
	}
	return false
}

// ApplyOrder folds one order into the entry.
// Returns false without error when the order is already present.
func (e *SettlementEntry) ApplyOrder(orderID string, subtotal, platformFee decimal.Decimal, now time.Time) (bool, error) {
	if e.HasOrder(orderID) {
		return false, nil
	}
	if !e.IsOpen() {
		return false, WrapError(ErrorCodeSettlementClosed, "settlement entry is no longer accepting orders", nil).
			WithDetail("restaurant_id", e.RestaurantID).
			WithDetail("week_ending", FormatWeekEnding(e.WeekEnding)).
			WithDetail("status", string(e.Status))
	}

	e.OrderIDs = append(e.OrderIDs, orderID)
	e.TotalOrders++
	e.OrderSubtotal = e.OrderSubtotal.Add(subtotal)
	e.PlatformFee = e.PlatformFee.Add(platformFee)
	e.recomputeAmountDue()
	e.UpdatedAt = now
	return true, nil
}

func (e *SettlementEntry) recomputeAmountDue() {
	e.AmountDue = e.OrderSubtotal.Sub(e.PlatformFee)
}

// Claim moves a PENDING entry into PROCESSING
func (e *SettlementEntry) Claim(now time.Time) bool {
	if e.Status != SettlementStatusPending {
		return false
	}
	e.Status = SettlementStatusProcessing
	e.ClaimedAt = &now
	e.UpdatedAt = now
	return true
}

// MarkPaid records a successful disbursement
func (e *SettlementEntry) MarkPaid(transactionID string, paidAt time.Time) error {
	if e.Status != SettlementStatusProcessing {
		return ErrSettlementNotClaimed
	}
	if transactionID == "" {
		return NewValidationError(ErrorCodeValidationMissingField, "transaction_id", "paid settlement requires a transaction id")
	}
	e.Status = SettlementStatusPaid
	e.TransactionID = transactionID
	e.PaymentDate = &paidAt
	e.ClaimedAt = nil
	e.UpdatedAt = paidAt
	return nil
}

// MarkFailed records a failed disbursement
func (e *SettlementEntry) MarkFailed(reason string, now time.Time) error {
	if e.Status != SettlementStatusProcessing {
		return ErrSettlementNotClaimed
	}
	e.Status = SettlementStatusFailed
	e.FailureReason = reason
	e.ClaimedAt = nil
	e.UpdatedAt = now
	return nil
}

// Release returns a PROCESSING entry to PENDING
func (e *SettlementEntry) Release(now time.Time) error {
	if e.Status != SettlementStatusProcessing {
		return ErrSettlementNotClaimed
	}
	e.Status = SettlementStatusPending
	e.ClaimedAt = nil
	e.UpdatedAt = now
	return nil
}

// Clone returns a deep copy
func (e *SettlementEntry) Clone() *SettlementEntry {
	if e == nil {
		return nil
	}
	c := *e
	c.OrderIDs = append([]string(nil), e.OrderIDs...)
	if e.PaymentDate != nil {
		t := *e.PaymentDate
		c.PaymentDate = &t
	}
	if e.ClaimedAt != nil {
		t := *e.ClaimedAt
		c.ClaimedAt = &t
	}
	return &c
}

// Key returns the (restaurant, week) lookup key
func (e *SettlementEntry) Key() string {
	return SettlementKey(e.RestaurantID, e.WeekEnding)
}

// SettlementKey builds the lookup key for a restaurant and week ending date
func SettlementKey(restaurantID string, weekEnding time.Time) string {
	return restaurantID + "|" + FormatWeekEnding(weekEnding)
}
