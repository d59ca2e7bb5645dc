package mocks

import (
	"strings"
	"sync"

	"github.com/kevin07696/settlement-service/internal/domain/ports"
)

// MockLogger captures log calls for assertions. Safe for concurrent use.
type MockLogger struct {
	InfoCalls  []LogCall
	ErrorCalls []LogCall
	WarnCalls  []LogCall
	DebugCalls []LogCall
	mu         sync.Mutex
}

// LogCall represents a captured log call
type LogCall struct {
	Message string
	Fields  []ports.Field
}

// NewMockLogger creates a new mock logger
func NewMockLogger() *MockLogger {
	return &MockLogger{}
}

// Info logs an info message
func (m *MockLogger) Info(msg string, fields ...ports.Field) {
	m.record(&m.InfoCalls, msg, fields)
}

// Error logs an error message
func (m *MockLogger) Error(msg string, fields ...ports.Field) {
	m.record(&m.ErrorCalls, msg, fields)
}

// Warn logs a warning message
func (m *MockLogger) Warn(msg string, fields ...ports.Field) {
	m.record(&m.WarnCalls, msg, fields)
}

// Debug logs a debug message
func (m *MockLogger) Debug(msg string, fields ...ports.Field) {
	m.record(&m.DebugCalls, msg, fields)
}

func (m *MockLogger) record(calls *[]LogCall, msg string, fields []ports.Field) {
	m.mu.Lock()
	*calls = append(*calls, LogCall{Message: msg, Fields: fields})
	m.mu.Unlock()
}

// HasError reports whether an error containing substr was logged
func (m *MockLogger) HasError(substr string) bool {
	return m.has(&m.ErrorCalls, substr)
}

// HasWarn reports whether a warning containing substr was logged
func (m *MockLogger) HasWarn(substr string) bool {
	return m.has(&m.WarnCalls, substr)
}

func (m *MockLogger) has(calls *[]LogCall, substr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range *calls {
		if strings.Contains(c.Message, substr) {
			return true
		}
	}
	return false
}

// Reset clears all captured calls
func (m *MockLogger) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InfoCalls = nil
	m.ErrorCalls = nil
	m.WarnCalls = nil
	m.DebugCalls = nil
}
