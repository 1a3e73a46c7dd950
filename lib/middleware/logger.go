package middleware

import (
	"log/slog"
	"net/http"

	"github.com/kilnbuild/kiln/lib/logger"
)

// WithLogger stores the given logger in every request context so handlers
// and downstream packages can retrieve it with logger.FromContext.
func WithLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := logger.WithContext(r.Context(), log)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
