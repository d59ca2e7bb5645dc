package mocks

import (
	"context"
	"sync"

	"github.com/kevin07696/settlement-service/internal/domain/ports"
)

// MockNotifier records notifications. err, when set, is returned from every call.
type MockNotifier struct {
	mu            sync.Mutex
	err           error
	Notifications []ports.SettlementNotification
	delivered     chan struct{}
}

// NewMockNotifier creates a notifier whose Delivered channel receives one
// value per Notify call (buffered to n)
func NewMockNotifier(n int) *MockNotifier {
	return &MockNotifier{delivered: make(chan struct{}, n)}
}

// SetError makes Notify fail
func (m *MockNotifier) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Notify implements ports.Notifier
func (m *MockNotifier) Notify(_ context.Context, n ports.SettlementNotification) error {
	m.mu.Lock()
	m.Notifications = append(m.Notifications, n)
	err := m.err
	m.mu.Unlock()

	select {
	case m.delivered <- struct{}{}:
	default:
	}
	return err
}

// Delivered signals each completed Notify call
func (m *MockNotifier) Delivered() <-chan struct{} {
	return m.delivered
}

// Sent returns a copy of the recorded notifications
func (m *MockNotifier) Sent() []ports.SettlementNotification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ports.SettlementNotification(nil), m.Notifications...)
}
