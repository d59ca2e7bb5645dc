package cron

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kevin07696/settlement-service/internal/handlers"
	"github.com/kevin07696/settlement-service/internal/services/ports"
	"github.com/kevin07696/settlement-service/pkg/timeutil"
	"go.uber.org/zap"
)

// SettlementHandler handles cron job endpoints for weekly settlement
type SettlementHandler struct {
	processor ports.SettlementProcessor
	logger    *zap.Logger
	catchUp   bool
}

// NewSettlementHandler creates a new settlement cron handler
func NewSettlementHandler(processor ports.SettlementProcessor, catchUp bool, logger *zap.Logger) *SettlementHandler {
	return &SettlementHandler{
		processor: processor,
		logger:    logger,
		catchUp:   catchUp,
	}
}

// RegisterRoutes mounts the cron endpoints behind auth
func (h *SettlementHandler) RegisterRoutes(r chi.Router, auth func(http.Handler) http.Handler) {
	r.Route("/cron", func(r chi.Router) {
		r.Get("/health", h.HealthCheck)
		r.With(auth).Post("/process-weekly-settlements", h.ProcessWeeklySettlements)
	})
}

// ProcessWeeklySettlements handles POST /cron/process-weekly-settlements.
// An external scheduler calls it when the in-process scheduler is disabled.
func (h *SettlementHandler) ProcessWeeklySettlements(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("Settlement cron job triggered",
		zap.String("remote_addr", r.RemoteAddr),
		zap.String("user_agent", r.UserAgent()),
	)

	req, err := handlers.DecodeBatchRequest(r, h.catchUp, "cron")
	if err != nil {
		handlers.WriteError(w, r, h.logger, err)
		return
	}

	// The batch outlives a caller that hangs up; the processor bounds it.
	result, err := h.processor.ProcessWeek(context.WithoutCancel(r.Context()), req)
	if err != nil {
		handlers.WriteError(w, r, h.logger, err)
		return
	}

	resp := handlers.NewBatchResponse(result)
	h.logger.Info("Settlement cron job completed",
		zap.String("week_ending", resp.WeekEnding),
		zap.Int("processed", resp.Processed),
		zap.Int("successful", resp.Successful),
		zap.Int("failed", resp.Failed),
		zap.Int("deferred", resp.Deferred),
	)

	status := http.StatusOK
	if !resp.Success {
		status = http.StatusPartialContent // 206 indicates partial success
	}
	handlers.WriteJSON(w, h.logger, status, resp)
}

// HealthCheck handles GET /cron/health for monitoring
func (h *SettlementHandler) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	handlers.WriteJSON(w, h.logger, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"time":   timeutil.Now().Format(time.RFC3339),
	})
}
