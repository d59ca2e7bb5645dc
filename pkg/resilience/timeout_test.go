package resilience

import (
	"context"
	"testing"
	"time"
)

func TestDefaultTimeoutConfig(t *testing.T) {
	config := DefaultTimeoutConfig()

	if config.Batch <= config.BankTransfer {
		t.Errorf("Batch (%v) must be > BankTransfer (%v)", config.Batch, config.BankTransfer)
	}

	if config.BankTransfer <= config.StoreWrite {
		t.Errorf("BankTransfer (%v) must be > StoreWrite (%v)", config.BankTransfer, config.StoreWrite)
	}

	if config.BankTransfer != 30*time.Second {
		t.Errorf("Expected BankTransfer = 30s, got %v", config.BankTransfer)
	}
}

func TestTestTimeoutConfig(t *testing.T) {
	config := TestTimeoutConfig()

	if config.Batch >= 10*time.Second {
		t.Errorf("Test timeouts should be < 10s, got %v", config.Batch)
	}
}

func TestBankTransferContext_Deadline(t *testing.T) {
	config := TestTimeoutConfig()

	ctx, cancel := config.BankTransferContext(context.Background())
	defer cancel()

	deadline, ok := ctx.Deadline()
	if !ok {
		t.Fatal("Expected context to have deadline")
	}
	if remaining := time.Until(deadline); remaining > config.BankTransfer {
		t.Errorf("Deadline too far in future: %v", remaining)
	}
}

func TestNotificationContext_SurvivesParentCancel(t *testing.T) {
	config := TestTimeoutConfig()

	parent, cancelParent := context.WithCancel(context.Background())
	ctx, cancel := config.NotificationContext(parent)
	defer cancel()

	cancelParent()
	select {
	case <-ctx.Done():
		t.Fatal("notification context should not follow parent cancellation")
	default:
	}

	if _, ok := ctx.Deadline(); !ok {
		t.Fatal("Expected context to have deadline")
	}
}
