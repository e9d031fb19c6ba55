// Package orchestrator executes flow definitions against live engines,
// tolerating individual engine failures per each step's declared policy.
package orchestrator

import (
	"time"

	"github.com/chauhanaman41/AIforBharat-sub001/pkg/engine"
)

// State is a flow execution's lifecycle state. Transitions are monotonic:
// PENDING → RUNNING → {COMPLETED, DEGRADED, FAILED}.
type State string

const (
	// StatePending means the execution has been created but not started
	StatePending State = "PENDING"

	// StateRunning means steps are being issued
	StateRunning State = "RUNNING"

	// StateCompleted means every step succeeded
	StateCompleted State = "COMPLETED"

	// StateDegraded means at least one degrade-policy step failed but no
	// abort-policy step did; callers treat this as success
	StateDegraded State = "DEGRADED"

	// StateFailed means an abort-policy step failed, the deadline expired,
	// or the orchestration itself faulted
	StateFailed State = "FAILED"
)

// Terminal reports whether the state is final
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateDegraded || s == StateFailed
}

// rank orders states so that transitions can be checked for monotonicity
func (s State) rank() int {
	switch s {
	case StatePending:
		return 0
	case StateRunning:
		return 1
	default:
		return 2
	}
}

// StepStatus is the outcome of one step within an execution
type StepStatus string

const (
	// StepSuccess means the step's engine call succeeded
	StepSuccess StepStatus = "SUCCESS"

	// StepFailed means the step's engine call failed after retries
	StepFailed StepStatus = "FAILED"

	// StepSkipped means the step never ran: a hard dependency failed, its
	// condition evaluated false, or the flow aborted first
	StepSkipped StepStatus = "SKIPPED"
)

// StepResult records the outcome of one step
type StepResult struct {
	// StepID identifies the step within its flow definition
	StepID string `json:"step_id"`

	// Capability is the engine capability the step invoked
	Capability engine.Capability `json:"capability"`

	// Status is the step outcome
	Status StepStatus `json:"status"`

	// EngineID is the engine that served the call, when one was resolved
	EngineID engine.ID `json:"engine_id,omitempty"`

	// Output is the engine's response data for successful steps
	Output map[string]any `json:"output,omitempty"`

	// Error is the failure or skip reason
	Error string `json:"error,omitempty"`

	// LatencyMS is the call duration in milliseconds
	LatencyMS int64 `json:"latency_ms"`

	// Attempts counts how many times the call was issued
	Attempts int `json:"attempts"`
}

// StepFailure describes the step failure that finalized an execution as FAILED
type StepFailure struct {
	// StepID identifies the failing step
	StepID string `json:"step_id"`

	// Capability is the capability the step targeted
	Capability engine.Capability `json:"capability"`

	// Unavailable is true when the failure was a transport error (the
	// engine was unreachable or timed out)
	Unavailable bool `json:"unavailable"`

	// StatusCode is the engine's HTTP status when it responded with an error
	StatusCode int `json:"status_code,omitempty"`

	// Message is the failure detail
	Message string `json:"message"`
}

// Execution is one run of a flow definition for one request
type Execution struct {
	// ID uniquely identifies the execution
	ID string `json:"id"`

	// FlowName names the executed definition
	FlowName string `json:"flow_name"`

	// RequestID is the correlation ID propagated to engines
	RequestID string `json:"request_id,omitempty"`

	// AccountID is the authenticated caller, when known
	AccountID string `json:"account_id,omitempty"`

	// State is the execution's lifecycle state
	State State `json:"state"`

	// StartedAt is when the execution entered RUNNING
	StartedAt time.Time `json:"started_at"`

	// FinishedAt is when the execution reached a terminal state
	FinishedAt time.Time `json:"finished_at,omitempty"`

	// Steps holds one result per non-audit step, in definition order
	Steps []StepResult `json:"steps"`

	// Degraded lists the capability names of degrade-policy steps that
	// failed, sorted for deterministic output
	Degraded []string `json:"degraded,omitempty"`

	// Result maps successful step IDs to their outputs
	Result map[string]any `json:"result,omitempty"`

	// Error is the failure reason for FAILED executions
	Error string `json:"error,omitempty"`

	// Failure details the abort cause for FAILED executions
	Failure *StepFailure `json:"failure,omitempty"`
}

// StepEvent is a progress notification emitted while an execution runs,
// consumed by the gateway's websocket stream
type StepEvent struct {
	// ExecutionID identifies the execution
	ExecutionID string `json:"execution_id"`

	// FlowName names the executed definition
	FlowName string `json:"flow_name"`

	// Result is the step's final result
	Result StepResult `json:"result"`

	// Timestamp is when the step finished
	Timestamp time.Time `json:"timestamp"`
}
