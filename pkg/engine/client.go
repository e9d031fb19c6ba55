package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client calls a single capability on a single engine. It is a transparent
// pass-through: payloads are never interpreted, and retry policy belongs to
// the caller (only the orchestrator knows whether a step is abortable).
type Client interface {
	// Call invokes capability on the given engine with a JSON payload and
	// returns the unwrapped response data
	Call(ctx context.Context, eng *Engine, capability Capability, payload map[string]any) (map[string]any, error)
}

// UnavailableError indicates a transport-level failure: the engine did not
// respond, refused the connection, or timed out
type UnavailableError struct {
	EngineID   ID
	Capability Capability
	Err        error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("engine %s unavailable for %s: %v", e.EngineID, e.Capability, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// CallError indicates the engine responded with a non-success status
type CallError struct {
	EngineID   ID
	Capability Capability
	StatusCode int
	Message    string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("engine %s returned %d for %s: %s", e.EngineID, e.StatusCode, e.Capability, e.Message)
}

// ErrCapabilityNotServed is returned when an engine does not declare the
// requested capability
var ErrCapabilityNotServed = errors.New("capability not served by engine")

type requestIDKey struct{}

// WithRequestID attaches a correlation ID to the context; the client forwards
// it to engines as X-Request-ID
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFromContext returns the correlation ID attached to the context
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// HTTPClient is the production Client implementation
type HTTPClient struct {
	client         *http.Client
	defaultTimeout time.Duration
}

// NewHTTPClient creates an engine client with the given default per-call timeout
func NewHTTPClient(defaultTimeout time.Duration) *HTTPClient {
	if defaultTimeout <= 0 {
		defaultTimeout = 15 * time.Second
	}
	return &HTTPClient{
		// The per-call deadline is enforced via context, not client timeout,
		// so a caller deadline shorter than the default wins
		client:         &http.Client{},
		defaultTimeout: defaultTimeout,
	}
}

// Call invokes capability on the given engine
func (c *HTTPClient) Call(ctx context.Context, eng *Engine, capability Capability, payload map[string]any) (map[string]any, error) {
	path, ok := eng.Capabilities[capability]
	if !ok {
		return nil, fmt.Errorf("%w: engine %s, capability %s", ErrCapabilityNotServed, eng.ID, capability)
	}

	// Apply the default timeout unless the caller's deadline is sooner
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.defaultTimeout)
		defer cancel()
	}

	// Marshal the payload
	var bodyReader io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		bodyReader = bytes.NewReader(body)
	}

	url := eng.BaseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		req.Header.Set("X-Request-ID", requestID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// Connection failures and timeouts are transport errors
		return nil, &UnavailableError{EngineID: eng.ID, Capability: capability, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UnavailableError{EngineID: eng.ID, Capability: capability, Err: err}
	}

	if resp.StatusCode >= 500 {
		return nil, &UnavailableError{
			EngineID:   eng.ID,
			Capability: capability,
			Err:        fmt.Errorf("status %d: %s", resp.StatusCode, truncate(respBody, 200)),
		}
	}

	if resp.StatusCode >= 400 {
		return nil, &CallError{
			EngineID:   eng.ID,
			Capability: capability,
			StatusCode: resp.StatusCode,
			Message:    truncate(respBody, 200),
		}
	}

	if len(respBody) == 0 {
		return map[string]any{}, nil
	}

	var parsed map[string]any
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, &CallError{
			EngineID:   eng.ID,
			Capability: capability,
			StatusCode: resp.StatusCode,
			Message:    "engine returned non-JSON body",
		}
	}

	// Unwrap the platform response envelope if present
	if data, ok := parsed["data"].(map[string]any); ok {
		return data, nil
	}
	return parsed, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
