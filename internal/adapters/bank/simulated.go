package bank

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kevin07696/settlement-service/internal/domain/ports"
	"go.uber.org/zap"
)

// SimulatedGateway approves every transfer unless the restaurant is listed in
// Decline. Repeated calls with the same idempotency key return the first result.
type SimulatedGateway struct {
	logger  *zap.Logger
	decline map[string]string
	results map[string]*ports.TransferResult
	latency time.Duration
	mu      sync.Mutex
	seq     int
}

// NewSimulatedGateway creates a local bank stand-in
func NewSimulatedGateway(logger *zap.Logger, latency time.Duration) *SimulatedGateway {
	return &SimulatedGateway{
		logger:  logger,
		decline: make(map[string]string),
		results: make(map[string]*ports.TransferResult),
		latency: latency,
	}
}

// Decline makes every transfer to restaurantID fail with reason
func (g *SimulatedGateway) Decline(restaurantID, reason string) {
	g.mu.Lock()
	g.decline[restaurantID] = reason
	g.mu.Unlock()
}

// Transfer implements ports.BankTransferGateway
func (g *SimulatedGateway) Transfer(ctx context.Context, req *ports.TransferRequest) (*ports.TransferResult, error) {
	if g.latency > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(g.latency):
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if prev, ok := g.results[req.IdempotencyKey]; ok {
		return prev, nil
	}

	var result *ports.TransferResult
	if reason, declined := g.decline[req.RestaurantID]; declined {
		result = &ports.TransferResult{Success: false, Message: reason}
	} else {
		g.seq++
		result = &ports.TransferResult{
			Success:   true,
			Reference: fmt.Sprintf("SIM-%s-%04d", strings.ToUpper(shortKey(req.IdempotencyKey)), g.seq),
			Message:   "transfer accepted",
		}
	}
	g.results[req.IdempotencyKey] = result

	g.logger.Info("Simulated bank transfer",
		zap.String("restaurant_id", req.RestaurantID),
		zap.String("amount", req.Amount.StringFixed(2)),
		zap.Bool("success", result.Success),
		zap.String("reference", result.Reference),
	)
	return result, nil
}

func shortKey(key string) string {
	key = strings.ReplaceAll(key, "-", "")
	if len(key) > 8 {
		return key[:8]
	}
	return key
}
