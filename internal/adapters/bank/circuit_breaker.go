package bank

import (
	"errors"
	"sync"
	"time"
)

// CircuitState represents the current state of the circuit breaker
type CircuitState int

const (
	// StateClosed - transfers flow normally
	StateClosed CircuitState = iota
	// StateOpen - transfers fail immediately
	StateOpen
	// StateHalfOpen - a probe transfer is allowed through
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var (
	// ErrCircuitOpen is returned when the bank circuit is open
	ErrCircuitOpen = errors.New("bank circuit breaker is open")
	// ErrTooManyRequests is returned when the half-open probe slot is taken
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// CircuitBreakerConfig configures circuit breaker behavior
type CircuitBreakerConfig struct {
	// OnStateChange is called (outside the lock) after every transition
	OnStateChange func(from, to CircuitState)
	// OpenTimeout is how long the circuit stays open before probing
	OpenTimeout time.Duration
	// MaxFailures is the number of consecutive failures before opening
	MaxFailures uint32
	// MaxRequestsHalfOpen is how many probes may run while half-open
	MaxRequestsHalfOpen uint32
}

// DefaultCircuitBreakerConfig opens after 5 consecutive failures and probes after 30s
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxFailures:         5,
		OpenTimeout:         30 * time.Second,
		MaxRequestsHalfOpen: 1,
	}
}

// CircuitBreaker stops hammering the bank once it is clearly down.
// Declined transfers are not failures: only transport errors and 5xx count.
type CircuitBreaker struct {
	now      func() time.Time
	changed  time.Time
	config   CircuitBreakerConfig
	mu       sync.Mutex
	state    CircuitState
	failures uint32
	probes   uint32
}

// NewCircuitBreaker creates a closed circuit breaker
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		now:     time.Now,
		changed: time.Now(),
		config:  config,
		state:   StateClosed,
	}
}

// Call runs fn if the circuit allows it and records the outcome
func (cb *CircuitBreaker) Call(fn func() error) error {
	if err := cb.acquire(); err != nil {
		return err
	}
	err := fn()
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) acquire() error {
	cb.mu.Lock()
	var from CircuitState
	transitioned := false
	defer func() {
		cb.mu.Unlock()
		if transitioned {
			cb.notify(from, StateHalfOpen)
		}
	}()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if cb.now().Sub(cb.changed) < cb.config.OpenTimeout {
			return ErrCircuitOpen
		}
		from, transitioned = cb.state, true
		cb.transition(StateHalfOpen)
		cb.probes++
		return nil
	case StateHalfOpen:
		if cb.probes >= cb.config.MaxRequestsHalfOpen {
			return ErrTooManyRequests
		}
		cb.probes++
		return nil
	}
	return ErrCircuitOpen
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	from := cb.state
	switch {
	case err == nil && cb.state == StateHalfOpen:
		cb.transition(StateClosed)
	case err == nil:
		cb.failures = 0
	case cb.state == StateHalfOpen:
		cb.transition(StateOpen)
	default:
		cb.failures++
		if cb.failures >= cb.config.MaxFailures {
			cb.transition(StateOpen)
		}
	}
	to := cb.state
	cb.mu.Unlock()

	if from != to {
		cb.notify(from, to)
	}
}

// transition must be called with mu held
func (cb *CircuitBreaker) transition(to CircuitState) {
	cb.state = to
	cb.changed = cb.now()
	cb.failures = 0
	cb.probes = 0
}

func (cb *CircuitBreaker) notify(from, to CircuitState) {
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(from, to)
	}
}

// State returns the current circuit state
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the consecutive failure count
func (cb *CircuitBreaker) Failures() uint32 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}
