package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// CronAuth accepts scheduler calls carrying the shared cron secret in
// X-Cron-Secret or as a bearer token. An empty secret rejects everything.
func CronAuth(secret string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !validCronSecret(r, secret) {
				logger.Warn("Unauthorized cron request",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeAuthError(w, logger, http.StatusUnauthorized, nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func validCronSecret(r *http.Request, secret string) bool {
	if secret == "" {
		return false
	}
	if got := r.Header.Get("X-Cron-Secret"); got != "" {
		return subtle.ConstantTimeCompare([]byte(got), []byte(secret)) == 1
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1
	}
	return false
}
