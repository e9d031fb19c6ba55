// Package middleware provides HTTP middleware for the gateway API.
package middleware

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chauhanaman41/AIforBharat-sub001/pkg/auth"
)

// Key type for context values
type contextKey string

// Context keys
const (
	AccountIDKey contextKey = "account_id"
)

// TokenValidator validates a bearer token and returns an account ID
type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

// AuthMiddleware provides authentication middleware for HTTP handlers.
// Bearer tokens are validated as JWTs first, then as long-lived API tokens.
type AuthMiddleware struct {
	accountService auth.AccountService
	jwtValidator   TokenValidator
	rateLimiter    *AttemptLimiter
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(accountService auth.AccountService, jwtValidator TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{
		accountService: accountService,
		jwtValidator:   jwtValidator,
		rateLimiter:    NewAttemptLimiter(5, 60*time.Second), // 5 failed attempts per minute
	}
}

// Authenticate is middleware that authenticates requests
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, hasBasicAuth := r.BasicAuth()
		authHeader := r.Header.Get("Authorization")

		var accountID string
		var err error

		if hasBasicAuth {
			if m.rateLimiter.IsLimited(username) {
				http.Error(w, "Too many authentication attempts, please try again later", http.StatusTooManyRequests)
				return
			}

			accountID, err = m.accountService.Authenticate(username, password)
			if err != nil {
				m.rateLimiter.RecordAttempt(username)
				http.Error(w, "Invalid credentials", http.StatusUnauthorized)
				return
			}
		} else if strings.HasPrefix(authHeader, "Bearer ") {
			token := strings.TrimPrefix(authHeader, "Bearer ")

			// Rate-limit by token prefix so a rotating attacker cannot
			// sidestep the limiter with per-request garbage
			tokenID := token
			if len(token) > 8 {
				tokenID = token[:8]
			}

			if m.rateLimiter.IsLimited(tokenID) {
				http.Error(w, "Too many authentication attempts, please try again later", http.StatusTooManyRequests)
				return
			}

			accountID, err = m.validateBearer(token)
			if err != nil {
				m.rateLimiter.RecordAttempt(tokenID)
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}
		} else {
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), AccountIDKey, accountID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// validateBearer accepts both short-lived JWTs and long-lived API tokens
func (m *AuthMiddleware) validateBearer(token string) (string, error) {
	if m.jwtValidator != nil {
		if accountID, err := m.jwtValidator.ValidateToken(token); err == nil {
			return accountID, nil
		}
	}
	return m.accountService.ValidateToken(token)
}

// GetAccountID retrieves the account ID from the request context
func GetAccountID(r *http.Request) (string, bool) {
	accountID, ok := r.Context().Value(AccountIDKey).(string)
	return accountID, ok
}

// RequireAccountID is middleware that ensures an account ID is present in the context
func RequireAccountID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := GetAccountID(r); !ok {
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// AttemptLimiter implements a simple sliding-window rate limiting mechanism
type AttemptLimiter struct {
	attempts     map[string][]time.Time
	maxAttempts  int
	windowPeriod time.Duration
	mu           sync.Mutex
}

// NewAttemptLimiter creates a new attempt limiter
func NewAttemptLimiter(maxAttempts int, windowPeriod time.Duration) *AttemptLimiter {
	return &AttemptLimiter{
		attempts:     make(map[string][]time.Time),
		maxAttempts:  maxAttempts,
		windowPeriod: windowPeriod,
	}
}

// RecordAttempt records an attempt
func (rl *AttemptLimiter) RecordAttempt(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	rl.cleanupOldAttempts(key, now)
	rl.attempts[key] = append(rl.attempts[key], now)
}

// IsLimited checks if a key is rate limited
func (rl *AttemptLimiter) IsLimited(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	rl.cleanupOldAttempts(key, now)
	return len(rl.attempts[key]) >= rl.maxAttempts
}

// cleanupOldAttempts removes attempts outside the window period
func (rl *AttemptLimiter) cleanupOldAttempts(key string, now time.Time) {
	cutoff := now.Add(-rl.windowPeriod)
	attempts := rl.attempts[key]

	i := 0
	for ; i < len(attempts); i++ {
		if attempts[i].After(cutoff) {
			break
		}
	}

	if i > 0 {
		if i < len(attempts) {
			rl.attempts[key] = attempts[i:]
		} else {
			rl.attempts[key] = nil
		}
	}
}
