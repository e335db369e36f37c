package handler

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/wondrlabs/finsight-brain-go/internal/service"
)

type contextKey string

const cifKey contextKey = "cif"

// AuthMiddleware validates either a Bearer token or a named API key
// (X-API-Key: name:secret). A valid bearer token injects its CIF into the
// request context.
func AuthMiddleware(authSvc *service.AuthService, apiKeyHeader string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key := r.Header.Get(apiKeyHeader); key != "" {
				if err := authSvc.VerifyAPIKey(r.Context(), key); err != nil {
					logger.Warn("auth: api key rejected",
						zap.String("path", r.URL.Path),
						zap.String("remote_addr", r.RemoteAddr),
					)
					writeError(w, http.StatusUnauthorized, "invalid api key")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Warn("auth: missing credentials",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				logger.Warn("auth: invalid token format",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeError(w, http.StatusUnauthorized, "invalid token format")
				return
			}

			claims, err := authSvc.ValidateAccessToken(parts[1])
			if err != nil {
				logger.Warn("auth: invalid or expired token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
					zap.Error(err),
				)
				writeError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), cifKey, claims.CIF)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CIFFromContext extracts the authenticated CIF from context. Empty when
// the request authenticated with an API key.
func CIFFromContext(ctx context.Context) string {
	v, _ := ctx.Value(cifKey).(string)
	return v
}
