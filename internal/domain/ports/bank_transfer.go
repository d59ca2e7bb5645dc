package ports

import (
	"context"

	"github.com/shopspring/decimal"
)

// TransferRequest is a single restaurant payout
type TransferRequest struct {
	Amount         decimal.Decimal
	RestaurantID   string
	Currency       string
	IdempotencyKey string
}

// TransferResult is the bank's answer. Success with an empty Reference is not
// a valid payout.
type TransferResult struct {
	Reference string
	Message   string
	Success   bool
}

// BankTransferGateway disburses settlement amounts to restaurants.
// Implementations must honour IdempotencyKey so a retried call never pays twice.
type BankTransferGateway interface {
	Transfer(ctx context.Context, req *TransferRequest) (*TransferResult, error)
}
