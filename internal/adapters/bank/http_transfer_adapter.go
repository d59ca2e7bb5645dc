package bank

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kevin07696/settlement-service/internal/domain"
	"github.com/kevin07696/settlement-service/internal/domain/ports"
	"github.com/kevin07696/settlement-service/pkg/resilience"
	"go.uber.org/zap"
)

const transferPath = "/v1/transfers"

// HTTPTransferConfig contains configuration for the bank transfer API
type HTTPTransferConfig struct {
	BaseURL        string
	APIKey         string
	Timeout        time.Duration
	MaxRetries     int
	CircuitBreaker CircuitBreakerConfig
}

// DefaultHTTPTransferConfig returns default configuration for a bank base URL
func DefaultHTTPTransferConfig(baseURL, apiKey string) *HTTPTransferConfig {
	return &HTTPTransferConfig{
		BaseURL:        strings.TrimRight(baseURL, "/"),
		APIKey:         apiKey,
		Timeout:        30 * time.Second,
		MaxRetries:     2,
		CircuitBreaker: DefaultCircuitBreakerConfig(),
	}
}

type transferPayload struct {
	RestaurantID string `json:"restaurant_id"`
	Amount       string `json:"amount"`
	Currency     string `json:"currency"`
	Reference    string `json:"reference"`
}

type transferResponse struct {
	Reference string `json:"reference"`
	Message   string `json:"message"`
	Success   bool   `json:"success"`
}

// errTransient marks failures worth retrying (transport errors, 5xx, 429)
type errTransient struct{ err error }

func (e *errTransient) Error() string { return e.err.Error() }
func (e *errTransient) Unwrap() error { return e.err }

// httpTransferAdapter implements ports.BankTransferGateway over JSON/HTTPS
type httpTransferAdapter struct {
	config         *HTTPTransferConfig
	httpClient     *http.Client
	logger         *zap.Logger
	circuitBreaker *CircuitBreaker
	backoff        resilience.BackoffStrategy
}

// NewHTTPTransferAdapter creates a bank transfer adapter.
// Retries are safe because every call carries the settlement's idempotency key.
func NewHTTPTransferAdapter(config *HTTPTransferConfig, httpClient *http.Client, logger *zap.Logger) ports.BankTransferGateway {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}
	return &httpTransferAdapter{
		config:         config,
		httpClient:     httpClient,
		logger:         logger,
		circuitBreaker: NewCircuitBreaker(config.CircuitBreaker),
		backoff:        resilience.BankBackoff(),
	}
}

// Transfer posts a payout to the bank. A declined transfer (4xx or
// success=false) is returned as a result, not an error.
func (a *httpTransferAdapter) Transfer(ctx context.Context, req *ports.TransferRequest) (*ports.TransferResult, error) {
	if req.IdempotencyKey == "" {
		return nil, domain.NewValidationError(domain.ErrorCodeValidationMissingField, "idempotency_key", "transfer requires an idempotency key")
	}

	body, err := json.Marshal(transferPayload{
		RestaurantID: req.RestaurantID,
		Amount:       domain.FormatAmount(req.Amount),
		Currency:     req.Currency,
		Reference:    req.IdempotencyKey,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal transfer: %w", err)
	}

	a.logger.Info("Sending bank transfer",
		zap.String("restaurant_id", req.RestaurantID),
		zap.String("amount", domain.FormatAmount(req.Amount)),
		zap.String("idempotency_key", req.IdempotencyKey),
	)

	var result *ports.TransferResult
	err = a.circuitBreaker.Call(func() error {
		var callErr error
		result, callErr = a.sendWithRetry(ctx, body, req.IdempotencyKey)
		return callErr
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, domain.WrapError(domain.ErrorCodeTransferTimeout, "bank transfer timed out", err)
		}
		a.logger.Error("Bank transfer failed",
			zap.String("restaurant_id", req.RestaurantID),
			zap.String("circuit_state", a.circuitBreaker.State().String()),
			zap.Error(err),
		)
		return nil, domain.WrapError(domain.ErrorCodeTransferFailed, "bank transfer failed", err)
	}
	return result, nil
}

func (a *httpTransferAdapter) sendWithRetry(ctx context.Context, body []byte, idempotencyKey string) (*ports.TransferResult, error) {
	var lastErr error
	for attempt := 0; attempt <= a.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := a.backoff.NextDelay(attempt - 1)
			a.logger.Warn("Retrying bank transfer",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		result, err := a.send(ctx, body, idempotencyKey)
		if err == nil {
			return result, nil
		}
		lastErr = err

		var transient *errTransient
		if !errors.As(err, &transient) || ctx.Err() != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (a *httpTransferAdapter) send(ctx context.Context, body []byte, idempotencyKey string) (*ports.TransferResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.BaseURL+transferPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Idempotency-Key", idempotencyKey)
	if a.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.config.APIKey)
	}

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, &errTransient{err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &errTransient{err: fmt.Errorf("read response: %w", err)}
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, &errTransient{err: fmt.Errorf("bank returned status %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		return &ports.TransferResult{Success: false, Message: declineMessage(resp.StatusCode, raw)}, nil
	}

	var decoded transferResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode transfer response: %w", err)
	}
	return &ports.TransferResult{
		Success:   decoded.Success,
		Reference: decoded.Reference,
		Message:   decoded.Message,
	}, nil
}

func declineMessage(status int, raw []byte) string {
	var decoded transferResponse
	if err := json.Unmarshal(raw, &decoded); err == nil && decoded.Message != "" {
		return decoded.Message
	}
	return fmt.Sprintf("bank declined transfer with status %d", status)
}
