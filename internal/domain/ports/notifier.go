package ports

import (
	"context"

	"github.com/shopspring/decimal"
)

// SettlementNotification tells a restaurant how its weekly payout went
type SettlementNotification struct {
	Amount        decimal.Decimal
	RestaurantID  string
	SettlementID  string
	WeekEnding    string
	Status        string
	TransactionID string
	FailureReason string
}

// Notifier delivers settlement outcome notifications
type Notifier interface {
	Notify(ctx context.Context, n SettlementNotification) error
}
