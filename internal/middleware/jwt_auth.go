package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/kevin07696/settlement-service/internal/auth"
	"github.com/kevin07696/settlement-service/internal/handlers"
	"go.uber.org/zap"
)

// TokenValidator verifies bearer tokens
type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

// JWTAuth guards admin routes with HS256 bearer tokens
type JWTAuth struct {
	validator TokenValidator
	logger    *zap.Logger
}

// NewJWTAuth creates the admin authentication middleware
func NewJWTAuth(validator TokenValidator, logger *zap.Logger) *JWTAuth {
	return &JWTAuth{validator: validator, logger: logger}
}

// RequireRole rejects requests without a valid token carrying role
func (a *JWTAuth) RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := a.authenticate(r)
			if err == nil && claims.Role != role {
				err = auth.ErrForbidden
			}
			if err != nil {
				status := http.StatusUnauthorized
				if errors.Is(err, auth.ErrForbidden) {
					status = http.StatusForbidden
				}
				a.logger.Warn("Rejected admin request",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
					zap.Error(err),
				)
				writeAuthError(w, a.logger, status, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
		})
	}
}

func (a *JWTAuth) authenticate(r *http.Request) (*auth.Claims, error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return nil, auth.ErrMissingToken
	}
	return a.validator.ValidateToken(strings.TrimSpace(token))
}

func writeAuthError(w http.ResponseWriter, logger *zap.Logger, status int, err error) {
	message := "unauthorized"
	if status == http.StatusForbidden {
		message = "forbidden"
	}
	if errors.Is(err, auth.ErrMissingToken) {
		message = err.Error()
	}
	handlers.WriteMessage(w, logger, status, message)
}
