// Package notification delivers settlement outcomes to the notification service.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kevin07696/settlement-service/internal/domain"
	"github.com/kevin07696/settlement-service/internal/domain/ports"
	"go.uber.org/zap"
)

const sendPath = "/api/notifications/send"

type sendRequest struct {
	Data   map[string]string `json:"data"`
	UserID string            `json:"userId"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Type   string            `json:"type"`
}

// HTTPNotifier posts notifications to the notification service
type HTTPNotifier struct {
	client  *http.Client
	logger  *zap.Logger
	baseURL string
}

// NewHTTPNotifier creates a notifier for the service at baseURL
func NewHTTPNotifier(baseURL string, client *http.Client, logger *zap.Logger) *HTTPNotifier {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPNotifier{
		client:  client,
		logger:  logger,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Notify sends one settlement outcome. Callers treat errors as non-fatal.
func (n *HTTPNotifier) Notify(ctx context.Context, note ports.SettlementNotification) error {
	payload := buildRequest(note)
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+sendPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification service returned status %d", resp.StatusCode)
	}

	n.logger.Debug("Settlement notification sent",
		zap.String("restaurant_id", note.RestaurantID),
		zap.String("status", note.Status),
	)
	return nil
}

func buildRequest(note ports.SettlementNotification) sendRequest {
	amount := domain.FormatAmount(note.Amount)
	req := sendRequest{
		UserID: note.RestaurantID,
		Type:   "payment",
		Data: map[string]string{
			"settlementId": note.SettlementID,
			"weekEnding":   note.WeekEnding,
			"amount":       amount,
			"status":       note.Status,
		},
	}

	if note.Status == string(domain.SettlementStatusPaid) {
		req.Title = "Weekly Settlement Processed"
		req.Body = fmt.Sprintf("Your weekly settlement of %s for the week ending %s has been processed.", amount, note.WeekEnding)
		req.Data["transactionId"] = note.TransactionID
		return req
	}

	req.Title = "Weekly Settlement Failed"
	req.Body = fmt.Sprintf("Your weekly settlement of %s for the week ending %s could not be processed. Our team will contact you.", amount, note.WeekEnding)
	req.Data["reason"] = note.FailureReason
	return req
}

// NoopNotifier drops notifications. Used when no notification service is configured.
type NoopNotifier struct{}

// Notify implements ports.Notifier
func (NoopNotifier) Notify(context.Context, ports.SettlementNotification) error { return nil }
