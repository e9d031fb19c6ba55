package middleware

import (
	"net"
	"net/http"
	"time"
)

// RequestLimiter throttles requests per client IP with a per-minute cap and a
// per-second burst cap
type RequestLimiter struct {
	perMinute *AttemptLimiter
	perSecond *AttemptLimiter
}

// NewRequestLimiter creates a request limiter
func NewRequestLimiter(perMinute, burstPerSecond int) *RequestLimiter {
	if perMinute <= 0 {
		perMinute = 100
	}
	if burstPerSecond <= 0 {
		burstPerSecond = 10
	}
	return &RequestLimiter{
		perMinute: NewAttemptLimiter(perMinute, time.Minute),
		perSecond: NewAttemptLimiter(burstPerSecond, time.Second),
	}
}

// Limit is middleware that rejects clients exceeding either window with 429
func (l *RequestLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientIP(r)

		if l.perSecond.IsLimited(client) || l.perMinute.IsLimited(client) {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		l.perSecond.RecordAttempt(client)
		l.perMinute.RecordAttempt(client)

		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
