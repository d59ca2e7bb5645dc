package mocks

import (
	"context"
	"sync"

	"github.com/kevin07696/settlement-service/internal/domain/ports"
)

// MockBankGateway is a mock implementation of BankTransferGateway for testing
type MockBankGateway struct {
	mu sync.Mutex

	// Responses per restaurant; restaurants without one get defaultResult
	results       map[string]*ports.TransferResult
	errors        map[string]error
	defaultResult *ports.TransferResult

	// Hook runs before the response is returned (blocking, timing, assertions)
	hook func(ctx context.Context, req *ports.TransferRequest) error

	// Call tracking
	Calls []ports.TransferRequest
}

// NewMockBankGateway creates a gateway approving every transfer with reference "TXN-<restaurant>"
func NewMockBankGateway() *MockBankGateway {
	return &MockBankGateway{
		results: make(map[string]*ports.TransferResult),
		errors:  make(map[string]error),
	}
}

// SetResult sets the result returned for a restaurant
func (m *MockBankGateway) SetResult(restaurantID string, result *ports.TransferResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[restaurantID] = result
}

// SetError makes transfers for a restaurant fail with err
func (m *MockBankGateway) SetError(restaurantID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[restaurantID] = err
}

// SetDefaultResult overrides the result for restaurants without a specific one
func (m *MockBankGateway) SetDefaultResult(result *ports.TransferResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultResult = result
}

// SetHook installs a function run on every call before responding
func (m *MockBankGateway) SetHook(hook func(ctx context.Context, req *ports.TransferRequest) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hook = hook
}

// Transfer implements ports.BankTransferGateway
func (m *MockBankGateway) Transfer(ctx context.Context, req *ports.TransferRequest) (*ports.TransferResult, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, *req)
	hook := m.hook
	result, hasResult := m.results[req.RestaurantID]
	err := m.errors[req.RestaurantID]
	def := m.defaultResult
	m.mu.Unlock()

	if hook != nil {
		if hookErr := hook(ctx, req); hookErr != nil {
			return nil, hookErr
		}
	}
	if err != nil {
		return nil, err
	}
	if hasResult {
		return result, nil
	}
	if def != nil {
		return def, nil
	}
	return &ports.TransferResult{Success: true, Reference: "TXN-" + req.RestaurantID}, nil
}

// CallCount returns the number of transfers attempted
func (m *MockBankGateway) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// CallsFor returns the number of transfers attempted for a restaurant
func (m *MockBankGateway) CallsFor(restaurantID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.Calls {
		if c.RestaurantID == restaurantID {
			n++
		}
	}
	return n
}
