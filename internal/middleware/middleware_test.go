package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kevin07696/settlement-service/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
			w.Header().Set("X-Actor", claims.Subject)
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestJWTAuth_RequireRole(t *testing.T) {
	tm, err := auth.NewTokenManager("0123456789abcdef-settlement", "settlement-service")
	require.NoError(t, err)
	handler := NewJWTAuth(tm, zap.NewNop()).RequireRole(auth.RoleAdmin)(okHandler())

	adminToken, err := tm.GenerateToken("finance-ops", auth.RoleAdmin, time.Hour)
	require.NoError(t, err)
	viewerToken, err := tm.GenerateToken("viewer", "viewer", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
	}{
		{name: "admin token", header: "Bearer " + adminToken, status: http.StatusOK},
		{name: "missing header", header: "", status: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic " + adminToken, status: http.StatusUnauthorized},
		{name: "invalid token", header: "Bearer nope", status: http.StatusUnauthorized},
		{name: "wrong role", header: "Bearer " + viewerToken, status: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/settlements/process-weekly", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, "finance-ops", rec.Header().Get("X-Actor"))
			} else {
				assert.Contains(t, rec.Body.String(), `"success":false`)
			}
		})
	}
}

func TestCronAuth(t *testing.T) {
	handler := CronAuth("cron-secret", zap.NewNop())(okHandler())

	tests := []struct {
		name   string
		set    func(r *http.Request)
		status int
	}{
		{name: "header", set: func(r *http.Request) { r.Header.Set("X-Cron-Secret", "cron-secret") }, status: http.StatusOK},
		{name: "bearer", set: func(r *http.Request) { r.Header.Set("Authorization", "Bearer cron-secret") }, status: http.StatusOK},
		{name: "wrong secret", set: func(r *http.Request) { r.Header.Set("X-Cron-Secret", "guess") }, status: http.StatusUnauthorized},
		{name: "none", set: func(r *http.Request) {}, status: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/cron/process-weekly-settlements", nil)
			tt.set(req)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}

	t.Run("empty configured secret rejects", func(t *testing.T) {
		h := CronAuth("", zap.NewNop())(okHandler())
		req := httptest.NewRequest(http.MethodPost, "/cron/process-weekly-settlements", nil)
		req.Header.Set("Authorization", "Bearer ")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	NewSecurityHeaders(false).Middleware(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, rec.Header().Get("Strict-Transport-Security"))

	rec = httptest.NewRecorder()
	NewSecurityHeaders(true).Middleware(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))
}
