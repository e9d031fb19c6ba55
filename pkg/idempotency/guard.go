// Package idempotency deduplicates mutating flow requests so that retries
// observe the first request's outcome instead of running the flow again.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// RecordState tracks whether the original request is still running or has
// finished
type RecordState string

const (
	// StateInFlight means the original request has not finished yet
	StateInFlight RecordState = "IN_FLIGHT"

	// StateCompleted means the original request finished and its response
	// is stored for replay
	StateCompleted RecordState = "COMPLETED"
)

// Record is what the guard remembers about a request
type Record struct {
	// Key is the idempotency key
	Key string `json:"key"`

	// State distinguishes in-flight reservations from completed requests
	State RecordState `json:"state"`

	// ExecutionID is the flow execution the original request produced
	ExecutionID string `json:"execution_id,omitempty"`

	// StatusCode is the HTTP status of the stored response
	StatusCode int `json:"status_code,omitempty"`

	// Response is the stored response body for replay
	Response json.RawMessage `json:"response,omitempty"`

	// CreatedAt is when the key was first reserved
	CreatedAt time.Time `json:"created_at"`
}

// Guard reserves idempotency keys and replays stored responses.
//
// Reserve returns reserved=true when the caller owns the key and must run
// the flow. When reserved is false, prior describes the earlier request: an
// IN_FLIGHT prior means a concurrent duplicate, a COMPLETED prior carries
// the response to echo. Get reads the current record without reserving, so
// the loser of a duplicate race can wait for the winner's result; it returns
// nil when the key is unknown or was released.
type Guard interface {
	Reserve(ctx context.Context, key string) (reserved bool, prior *Record, err error)
	Get(ctx context.Context, key string) (*Record, error)
	Complete(ctx context.Context, key string, executionID string, statusCode int, response json.RawMessage) error
	Release(ctx context.Context, key string) error
}

// DeriveKey builds an idempotency key from the declared payload fields when
// the caller supplies no explicit key. Fields are sorted so the key does not
// depend on declaration order.
func DeriveKey(flowName string, payload map[string]any, fields []string) string {
	sorted := make([]string, len(fields))
	copy(sorted, fields)
	sort.Strings(sorted)

	var b strings.Builder
	b.WriteString(flowName)
	for _, field := range sorted {
		b.WriteByte('|')
		b.WriteString(field)
		b.WriteByte('=')
		b.WriteString(fmt.Sprintf("%v", payload[field]))
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// MemoryGuard is an in-process guard for single-instance deployments and tests
type MemoryGuard struct {
	mu        sync.Mutex
	records   map[string]*Record
	retention time.Duration
	stop      chan struct{}
	stopOnce  sync.Once
}

// NewMemoryGuard creates a memory guard that evicts completed records after
// the retention window
func NewMemoryGuard(retention time.Duration) *MemoryGuard {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	g := &MemoryGuard{
		records:   make(map[string]*Record),
		retention: retention,
		stop:      make(chan struct{}),
	}
	go g.sweep()
	return g
}

// Reserve claims the key for the caller, or reports the earlier request
func (g *MemoryGuard) Reserve(_ context.Context, key string) (bool, *Record, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if prior, ok := g.records[key]; ok {
		copied := *prior
		return false, &copied, nil
	}

	g.records[key] = &Record{
		Key:       key,
		State:     StateInFlight,
		CreatedAt: time.Now(),
	}
	return true, nil, nil
}

// Get returns a copy of the record for the key, or nil when absent
func (g *MemoryGuard) Get(_ context.Context, key string) (*Record, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if record, ok := g.records[key]; ok {
		copied := *record
		return &copied, nil
	}
	return nil, nil
}

// Complete stores the response for replay by later duplicates
func (g *MemoryGuard) Complete(_ context.Context, key string, executionID string, statusCode int, response json.RawMessage) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	record, ok := g.records[key]
	if !ok {
		return fmt.Errorf("idempotency key %q was not reserved", key)
	}
	record.State = StateCompleted
	record.ExecutionID = executionID
	record.StatusCode = statusCode
	record.Response = response
	return nil
}

// Release frees a reservation after an orchestration fault so the caller can
// retry
func (g *MemoryGuard) Release(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if record, ok := g.records[key]; ok && record.State == StateInFlight {
		delete(g.records, key)
	}
	return nil
}

// Close stops the eviction loop
func (g *MemoryGuard) Close() {
	g.stopOnce.Do(func() { close(g.stop) })
}

func (g *MemoryGuard) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-g.retention)
			g.mu.Lock()
			for key, record := range g.records {
				if record.State == StateCompleted && record.CreatedAt.Before(cutoff) {
					delete(g.records, key)
				}
			}
			g.mu.Unlock()
		case <-g.stop:
			return
		}
	}
}
