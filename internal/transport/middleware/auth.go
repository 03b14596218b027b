package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	internal "github.com/nandasafiqal/access-grant-management/internal"
	"github.com/nandasafiqal/access-grant-management/internal/auth"
	"github.com/nandasafiqal/access-grant-management/pkg/logger"
)

// Authentication validates the Bearer token and stores the resulting actor in
// the request context. The actor email also lands in the log context so every
// line for the request carries it.
func Authentication(validator *auth.TokenValidator, lg *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearer(r)
			if token == "" {
				writeUnauthorized(w, "missing bearer token")
				return
			}

			actor, err := validator.ValidateToken(token)
			if err != nil {
				lg.Warn("token validation failed", "error", err, "path", r.URL.Path)
				if appErr, ok := internal.IsAppError(err); ok {
					writeUnauthorized(w, appErr.Message)
					return
				}
				writeUnauthorized(w, "invalid token")
				return
			}

			ctx := auth.ContextWithActor(r.Context(), actor)
			ctx = internal.ContextWithActor(ctx, actor.Email)
			ctx = logger.With(ctx, "actor", actor.Email)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractBearer(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(authHeader, "Bearer ")
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"code":    http.StatusUnauthorized,
		"message": message,
	})
}
