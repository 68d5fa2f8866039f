package middleware

import (
	"net/http"
	"time"

	"github.com/iudanet/gophchat/internal/server/metrics"
)

// MetricsMiddleware считает HTTP запросы и их длительность
func MetricsMiddleware(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			m.ObserveHTTP(r.Method, wrapped.statusCode, time.Since(start))
		})
	}
}
