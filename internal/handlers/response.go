// Package handlers holds the HTTP response helpers shared by the settlement
// REST API and the cron endpoints.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/kevin07696/settlement-service/internal/domain"
	serviceports "github.com/kevin07696/settlement-service/internal/services/ports"
	"go.uber.org/zap"
)

// ErrorResponse is the JSON body of every failed request
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Field   string `json:"field,omitempty"`
}

// BatchResponse is the JSON body returned by the batch triggers
type BatchResponse struct {
	Success    bool                      `json:"success"`
	WeekEnding string                    `json:"week_ending"`
	Processed  int                       `json:"processed"`
	Successful int                       `json:"successful"`
	Failed     int                       `json:"failed"`
	Deferred   int                       `json:"deferred"`
	Skipped    int                       `json:"skipped"`
	Errors     []serviceports.EntryError `json:"errors,omitempty"`
}

// NewBatchResponse converts a processor result. Success means every
// processed entry ended PAID.
func NewBatchResponse(result *serviceports.BatchResult) BatchResponse {
	return BatchResponse{
		Success:    result.Failed == 0 && result.Deferred == 0,
		WeekEnding: domain.FormatWeekEnding(result.WeekEnding),
		Processed:  result.Processed,
		Successful: result.Successful,
		Failed:     result.Failed,
		Deferred:   result.Deferred,
		Skipped:    result.Skipped,
		Errors:     result.Errors,
	}
}

// StatusFor maps an error to its HTTP status code
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case domain.IsValidationError(err):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrSettlementNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrSettlementClosed), errors.Is(err, domain.ErrBatchInProgress):
		return http.StatusConflict
	case errors.Is(err, domain.ErrVersionConflict), errors.Is(err, domain.ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteJSON encodes body with the given status
func WriteJSON(w http.ResponseWriter, logger *zap.Logger, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("Failed to encode response", zap.Error(err))
	}
}

// WriteError renders err with the status from StatusFor.
// Internal errors are logged and replaced with a generic message.
func WriteError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	status := StatusFor(err)
	resp := ErrorResponse{
		Success: false,
		Error:   err.Error(),
		Code:    string(domain.GetErrorCode(err)),
	}

	var de *domain.DomainError
	if errors.As(err, &de) {
		resp.Error = de.Message
		if field, ok := de.Details["field"].(string); ok {
			resp.Field = field
		}
	}

	if status >= http.StatusInternalServerError {
		logger.Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
		if status == http.StatusInternalServerError {
			resp.Error = "internal server error"
		}
	}

	WriteJSON(w, logger, status, resp)
}

// WriteMessage renders a plain error message with an explicit status
func WriteMessage(w http.ResponseWriter, logger *zap.Logger, status int, message string) {
	WriteJSON(w, logger, status, ErrorResponse{Success: false, Error: message})
}

// BatchRequest is the optional JSON body of the batch triggers
type BatchRequest struct {
	WeekEnding *string `json:"week_ending"`
	CatchUp    *bool   `json:"catch_up"`
}

// DecodeBatchRequest reads a BatchRequest. An empty body selects the most
// recently completed week with the configured catch-up behaviour.
func DecodeBatchRequest(r *http.Request, catchUp bool, trigger string) (serviceports.ProcessWeekRequest, error) {
	req := serviceports.ProcessWeekRequest{CatchUp: catchUp, Trigger: trigger}

	var body BatchRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			return req, domain.NewValidationError(domain.ErrorCodeValidationFailed, "body", "request body must be a JSON object")
		}
	}

	if body.WeekEnding != nil && *body.WeekEnding != "" {
		week, err := domain.ParseWeekEnding(*body.WeekEnding)
		if err != nil {
			return req, err
		}
		req.WeekEnding = &week
	}
	if body.CatchUp != nil {
		req.CatchUp = *body.CatchUp
	}
	return req, nil
}
