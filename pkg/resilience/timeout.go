package resilience

import (
	"context"
	"time"
)

// TimeoutConfig defines timeout values for the service's timeout hierarchy
//
// Timeout Hierarchy (from outermost to innermost):
//
//	Weekly batch (10 minutes)
//	  ↓
//	Bank transfer per entry (30s)
//	  ↓
//	Store write per attempt (5s)
//
// HTTP requests that only touch the ledger use HTTPHandler.
type TimeoutConfig struct {
	HTTPHandler  time.Duration // Ledger request timeout (default: 30s)
	Batch        time.Duration // Whole ProcessWeek run (default: 10 minutes)
	BankTransfer time.Duration // One transfer call (default: 30s)
	Notification time.Duration // One notification delivery (default: 10s)
	StoreWrite   time.Duration // One repository write attempt (default: 5s)
}

// DefaultTimeoutConfig returns production timeout values
func DefaultTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		HTTPHandler:  30 * time.Second,
		Batch:        10 * time.Minute,
		BankTransfer: 30 * time.Second,
		Notification: 10 * time.Second,
		StoreWrite:   5 * time.Second,
	}
}

// TestTimeoutConfig returns shorter timeouts for testing
func TestTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		HTTPHandler:  2 * time.Second,
		Batch:        5 * time.Second,
		BankTransfer: 200 * time.Millisecond,
		Notification: 100 * time.Millisecond,
		StoreWrite:   100 * time.Millisecond,
	}
}

// HandlerContext creates a context with timeout for HTTP handlers
func (tc *TimeoutConfig) HandlerContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.HTTPHandler)
}

// BatchContext bounds a full settlement batch
func (tc *TimeoutConfig) BatchContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.Batch)
}

// BankTransferContext bounds a single bank transfer call
func (tc *TimeoutConfig) BankTransferContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.BankTransfer)
}

// NotificationContext bounds a single notification delivery.
// It is detached from parent cancellation so a finished batch does not drop notifications.
func (tc *TimeoutConfig) NotificationContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(parent), tc.Notification)
}

// StoreWriteContext bounds one repository write attempt
func (tc *TimeoutConfig) StoreWriteContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.StoreWrite)
}
