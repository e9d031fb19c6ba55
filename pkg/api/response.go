package api

import (
	"encoding/json"
	"net/http"
	"time"
)

// Response is the envelope every endpoint answers with
type Response struct {
	// Success is true for 2xx responses
	Success bool `json:"success"`

	// Message is a short human-readable summary
	Message string `json:"message"`

	// Data is the endpoint-specific payload
	Data map[string]any `json:"data,omitempty"`

	// Degraded lists capabilities that failed without blocking the request
	Degraded []string `json:"degraded,omitempty"`

	// Errors holds failure details for non-2xx responses
	Errors []string `json:"errors,omitempty"`

	// Timestamp is when the response was produced
	Timestamp time.Time `json:"timestamp"`

	// RequestID is the request's correlation ID
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, resp Response) {
	resp.Timestamp = time.Now().UTC()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

func writeSuccess(w http.ResponseWriter, status int, requestID, message string, data map[string]any) {
	writeJSON(w, status, Response{
		Success:   true,
		Message:   message,
		Data:      data,
		RequestID: requestID,
	})
}

func writeError(w http.ResponseWriter, status int, requestID, message string, errs ...string) {
	writeJSON(w, status, Response{
		Success:   false,
		Message:   message,
		Errors:    errs,
		RequestID: requestID,
	})
}
