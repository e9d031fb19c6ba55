package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/chauhanaman41/AIforBharat-sub001/pkg/engine"
)

// RequestID assigns each request a correlation ID, honoring one supplied by
// the client, and echoes it in the response. Downstream engine calls carry
// the same ID.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		w.Header().Set("X-Request-ID", requestID)

		ctx := engine.WithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID retrieves the correlation ID from the request context
func GetRequestID(r *http.Request) string {
	return engine.RequestIDFromContext(r.Context())
}
