package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kevin07696/settlement-service/internal/adapters/export"
	"github.com/kevin07696/settlement-service/internal/auth"
	"github.com/kevin07696/settlement-service/internal/domain"
	"github.com/kevin07696/settlement-service/internal/handlers"
	serviceports "github.com/kevin07696/settlement-service/internal/services/ports"
	"github.com/kevin07696/settlement-service/pkg/resilience"
	"github.com/kevin07696/settlement-service/pkg/timeutil"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Config carries the calendar settings the handler needs to default weeks
type Config struct {
	Location *time.Location
	Currency string
	WeekEnd  time.Weekday
	CatchUp  bool
	Timeouts *resilience.TimeoutConfig // bounds ledger reads and writes
}

// Handler serves the /api/settlements REST API
type Handler struct {
	ledger    serviceports.SettlementLedger
	processor serviceports.SettlementProcessor
	logger    *zap.Logger
	now       timeutil.Clock
	config    Config
}

// NewHandler creates the settlement REST handler
func NewHandler(
	ledger serviceports.SettlementLedger,
	processor serviceports.SettlementProcessor,
	config Config,
	logger *zap.Logger,
) *Handler {
	if config.Location == nil {
		config.Location = time.UTC
	}
	if config.Timeouts == nil {
		config.Timeouts = resilience.DefaultTimeoutConfig()
	}
	return &Handler{
		ledger:    ledger,
		processor: processor,
		logger:    logger,
		now:       timeutil.Now,
		config:    config,
	}
}

// RegisterRoutes mounts the API under /api/settlements.
// admin guards the batch trigger.
func (h *Handler) RegisterRoutes(r chi.Router, admin func(http.Handler) http.Handler) {
	r.Route("/api/settlements", func(r chi.Router) {
		r.Get("/", h.ListSettlements)
		r.Post("/add-order", h.AddOrder)
		r.Get("/export", h.ExportStatement)
		r.With(admin).Post("/process-weekly", h.ProcessWeekly)
		r.Get("/{restaurantId}/{weekEnding}", h.GetSettlement)
	})
}

// AddOrderRequest is the order-completion event body.
// Amounts accept JSON numbers or strings.
type AddOrderRequest struct {
	RestaurantID   string           `json:"restaurantId"`
	RestaurantName string           `json:"restaurantName"`
	OrderID        string           `json:"orderId"`
	Subtotal       *decimal.Decimal `json:"subtotal"`
	PlatformFee    *decimal.Decimal `json:"platformFee"`
	WeekEnding     string           `json:"weekEnding,omitempty"`
}

// SettlementResponse renders an entry with fixed two-decimal amounts
type SettlementResponse struct {
	ID             string   `json:"id"`
	RestaurantID   string   `json:"restaurantId"`
	RestaurantName string   `json:"restaurantName"`
	WeekEnding     string   `json:"weekEnding"`
	TotalOrders    int      `json:"totalOrders"`
	OrderSubtotal  string   `json:"orderSubtotal"`
	PlatformFee    string   `json:"platformFee"`
	AmountDue      string   `json:"amountDue"`
	Status         string   `json:"status"`
	TransactionID  string   `json:"transactionId,omitempty"`
	FailureReason  string   `json:"failureReason,omitempty"`
	PaymentDate    string   `json:"paymentDate,omitempty"`
	OrderIDs       []string `json:"orderIds"`
	CreatedAt      string   `json:"createdAt"`
	UpdatedAt      string   `json:"updatedAt"`
}

// ListResponse is the body of GET /api/settlements
type ListResponse struct {
	Success     bool                 `json:"success"`
	Count       int                  `json:"count"`
	Settlements []SettlementResponse `json:"settlements"`
}

func toResponse(e *domain.SettlementEntry) SettlementResponse {
	resp := SettlementResponse{
		ID:             e.ID,
		RestaurantID:   e.RestaurantID,
		RestaurantName: e.RestaurantName,
		WeekEnding:     domain.FormatWeekEnding(e.WeekEnding),
		TotalOrders:    e.TotalOrders,
		OrderSubtotal:  domain.FormatAmount(e.OrderSubtotal),
		PlatformFee:    domain.FormatAmount(e.PlatformFee),
		AmountDue:      domain.FormatAmount(e.AmountDue),
		Status:         string(e.Status),
		TransactionID:  e.TransactionID,
		FailureReason:  e.FailureReason,
		OrderIDs:       e.OrderIDs,
		CreatedAt:      e.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:      e.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if e.PaymentDate != nil {
		resp.PaymentDate = e.PaymentDate.UTC().Format(time.RFC3339)
	}
	if resp.OrderIDs == nil {
		resp.OrderIDs = []string{}
	}
	return resp
}

// AddOrder handles POST /api/settlements/add-order
func (h *Handler) AddOrder(w http.ResponseWriter, r *http.Request) {
	var body AddOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		if errors.Is(err, io.EOF) {
			h.fail(w, r, domain.NewValidationError(domain.ErrorCodeValidationMissingField, "body", "request body is required"))
			return
		}
		h.fail(w, r, domain.NewValidationError(domain.ErrorCodeValidationFailed, "body", "invalid JSON body"))
		return
	}

	req, err := h.accumulateRequest(body)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	ctx, cancel := h.config.Timeouts.HandlerContext(r.Context())
	defer cancel()
	entry, err := h.ledger.AccumulateOrder(ctx, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	handlers.WriteJSON(w, h.logger, http.StatusOK, toResponse(entry))
}

func (h *Handler) accumulateRequest(body AddOrderRequest) (serviceports.AccumulateOrderRequest, error) {
	if body.Subtotal == nil {
		return serviceports.AccumulateOrderRequest{}, domain.NewValidationError(domain.ErrorCodeValidationMissingField, "subtotal", "subtotal is required")
	}
	if body.PlatformFee == nil {
		return serviceports.AccumulateOrderRequest{}, domain.NewValidationError(domain.ErrorCodeValidationMissingField, "platform_fee", "platform fee is required")
	}

	week := domain.WeekEndingFor(h.now(), h.config.WeekEnd, h.config.Location)
	if strings.TrimSpace(body.WeekEnding) != "" {
		parsed, err := domain.ParseWeekEnding(body.WeekEnding)
		if err != nil {
			return serviceports.AccumulateOrderRequest{}, err
		}
		week = parsed
	}

	return serviceports.AccumulateOrderRequest{
		RestaurantID:   body.RestaurantID,
		RestaurantName: body.RestaurantName,
		OrderID:        body.OrderID,
		Subtotal:       *body.Subtotal,
		PlatformFee:    *body.PlatformFee,
		WeekEnding:     week,
	}, nil
}

// ListSettlements handles GET /api/settlements
func (h *Handler) ListSettlements(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	ctx, cancel := h.config.Timeouts.HandlerContext(r.Context())
	defer cancel()
	entries, err := h.ledger.ListEntries(ctx, filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := ListResponse{Success: true, Count: len(entries), Settlements: make([]SettlementResponse, 0, len(entries))}
	for _, e := range entries {
		resp.Settlements = append(resp.Settlements, toResponse(e))
	}
	handlers.WriteJSON(w, h.logger, http.StatusOK, resp)
}

// GetSettlement handles GET /api/settlements/{restaurantId}/{weekEnding}
func (h *Handler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	week, err := domain.ParseWeekEnding(chi.URLParam(r, "weekEnding"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	ctx, cancel := h.config.Timeouts.HandlerContext(r.Context())
	defer cancel()
	entry, err := h.ledger.GetEntry(ctx, chi.URLParam(r, "restaurantId"), week)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	handlers.WriteJSON(w, h.logger, http.StatusOK, toResponse(entry))
}

// ExportStatement handles GET /api/settlements/export?format=xlsx|pdf
func (h *Handler) ExportStatement(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	filter, err := parseFilter(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	ctx, cancel := h.config.Timeouts.HandlerContext(r.Context())
	defer cancel()
	entries, err := h.ledger.ListEntries(ctx, filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	statement := &export.Statement{
		GeneratedAt: h.now(),
		Title:       statementTitle(filter),
		Currency:    h.config.Currency,
		Entries:     entries,
	}
	data, err := statement.Render(format)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.logger.Info("Settlement statement exported",
		zap.String("format", string(format)),
		zap.Int("entries", len(entries)),
	)

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename="`+statement.FileName(format)+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.Error("Failed to write statement", zap.Error(err))
	}
}

func statementTitle(filter serviceports.ListFilter) string {
	title := "Settlement statement"
	if filter.RestaurantID != "" {
		title += " - " + filter.RestaurantID
	}
	if filter.WeekEnding != nil {
		title += " - week ending " + domain.FormatWeekEnding(*filter.WeekEnding)
	}
	return title
}

// ProcessWeekly handles POST /api/settlements/process-weekly
func (h *Handler) ProcessWeekly(w http.ResponseWriter, r *http.Request) {
	req, err := handlers.DecodeBatchRequest(r, h.config.CatchUp, "api")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.logger.Info("Manual settlement run requested",
		zap.String("actor", auth.Actor(r.Context())),
		zap.Bool("catch_up", req.CatchUp),
	)

	result, err := h.processor.ProcessWeek(context.WithoutCancel(r.Context()), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	handlers.WriteJSON(w, h.logger, http.StatusOK, handlers.NewBatchResponse(result))
}

func parseFilter(r *http.Request) (serviceports.ListFilter, error) {
	q := r.URL.Query()
	filter := serviceports.ListFilter{RestaurantID: strings.TrimSpace(q.Get("restaurantId"))}

	if v := strings.TrimSpace(q.Get("status")); v != "" {
		status := domain.SettlementStatus(strings.ToUpper(v))
		filter.Status = &status
	}
	if v := strings.TrimSpace(q.Get("weekEnding")); v != "" {
		week, err := domain.ParseWeekEnding(v)
		if err != nil {
			return filter, err
		}
		filter.WeekEnding = &week
	}
	return filter, nil
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	handlers.WriteError(w, r, h.logger, err)
}
