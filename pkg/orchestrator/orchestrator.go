package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chauhanaman41/AIforBharat-sub001/pkg/engine"
	"github.com/chauhanaman41/AIforBharat-sub001/pkg/flow"
)

// Fault is an orchestration-internal error: a missing flow definition or a
// violated invariant. Faults are always fatal to their execution.
type Fault struct {
	Message string
	Err     error
}

func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("orchestration fault: %s: %v", f.Message, f.Err)
	}
	return fmt.Sprintf("orchestration fault: %s", f.Message)
}

func (f *Fault) Unwrap() error { return f.Err }

// Options tunes flow execution behavior
type Options struct {
	// MaxAttempts is the attempt count for abort-policy steps whose engine
	// is unreachable (degrade-policy steps fail fast)
	MaxAttempts int

	// RetryBackoff is the initial backoff between attempts; it doubles on
	// each retry
	RetryBackoff time.Duration

	// DefaultStepTimeout bounds engine calls that declare no timeout
	DefaultStepTimeout time.Duration

	// Retention bounds how long finished executions stay readable
	Retention time.Duration
}

// ExecOptions carries per-request execution metadata
type ExecOptions struct {
	// RequestID is the correlation ID propagated to engines
	RequestID string

	// AccountID is the authenticated caller, when known
	AccountID string
}

// Orchestrator executes flow definitions against live engines via the
// registry and engine client
type Orchestrator struct {
	defs     *flow.Store
	registry *engine.Registry
	client   engine.Client
	pool     *Pool
	eval     *Evaluator
	hub      *eventHub
	cache    *executionCache

	maxAttempts        int
	retryBackoff       time.Duration
	defaultStepTimeout time.Duration
}

// New creates an orchestrator over the given definition store, registry, and
// engine client. The pool is shared across all executions.
func New(defs *flow.Store, registry *engine.Registry, client engine.Client, pool *Pool, opts Options) *Orchestrator {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 100 * time.Millisecond
	}
	if opts.DefaultStepTimeout <= 0 {
		opts.DefaultStepTimeout = 15 * time.Second
	}
	if opts.Retention <= 0 {
		opts.Retention = 24 * time.Hour
	}

	return &Orchestrator{
		defs:               defs,
		registry:           registry,
		client:             client,
		pool:               pool,
		eval:               NewEvaluator(),
		hub:                newEventHub(),
		cache:              newExecutionCache(opts.Retention),
		maxAttempts:        opts.MaxAttempts,
		retryBackoff:       opts.RetryBackoff,
		defaultStepTimeout: opts.DefaultStepTimeout,
	}
}

// Close releases background resources
func (o *Orchestrator) Close() {
	o.cache.close()
}

// Execute runs the named flow for one request and blocks until the execution
// reaches a terminal state. The context's deadline propagates to every engine
// call; on expiry, completed step results are kept and the execution is
// finalized FAILED.
func (o *Orchestrator) Execute(ctx context.Context, flowName string, request map[string]any, opts ExecOptions) (*Execution, error) {
	def, err := o.defs.Get(flowName)
	if err != nil {
		return nil, &Fault{Message: "flow definition missing", Err: err}
	}

	if request == nil {
		request = map[string]any{}
	}
	if opts.RequestID == "" {
		opts.RequestID = uuid.New().String()
	}

	exec := &Execution{
		ID:        uuid.New().String(),
		FlowName:  def.Name,
		RequestID: opts.RequestID,
		AccountID: opts.AccountID,
		State:     StatePending,
	}

	r := newRunner(o, def, exec, request)
	r.run(engine.WithRequestID(ctx, opts.RequestID))

	o.cache.put(exec)
	return exec, nil
}

// GetExecution returns a retained execution by ID
func (o *Orchestrator) GetExecution(id string) (*Execution, bool) {
	return o.cache.get(id)
}

// Subscribe returns a channel of step events for all running executions and
// a function that cancels the subscription
func (o *Orchestrator) Subscribe() (<-chan StepEvent, func()) {
	return o.hub.subscribe()
}

// runner drives one execution to a terminal state
type runner struct {
	o       *Orchestrator
	def     *flow.Definition
	exec    *Execution
	request map[string]any

	mu       sync.Mutex
	statuses map[string]StepStatus
	outputs  map[string]map[string]any
	degraded map[string]bool
	aborted  bool
	failure  *StepFailure

	done   map[string]chan struct{}
	cancel context.CancelFunc

	// steps excludes fire-and-forget audit steps, which run detached after
	// the flow's result is determined
	steps    []*flow.Step
	audits   []*flow.Step
	resultIx map[string]int
}

func newRunner(o *Orchestrator, def *flow.Definition, exec *Execution, request map[string]any) *runner {
	r := &runner{
		o:        o,
		def:      def,
		exec:     exec,
		request:  request,
		statuses: make(map[string]StepStatus),
		outputs:  make(map[string]map[string]any),
		degraded: make(map[string]bool),
		done:     make(map[string]chan struct{}),
		resultIx: make(map[string]int),
	}

	for i := range def.Steps {
		step := &def.Steps[i]
		r.done[step.ID] = make(chan struct{})
		if step.FireAndForget {
			r.audits = append(r.audits, step)
			continue
		}
		r.resultIx[step.ID] = len(r.steps)
		r.steps = append(r.steps, step)
	}

	exec.Steps = make([]StepResult, len(r.steps))
	for i, step := range r.steps {
		exec.Steps[i] = StepResult{StepID: step.ID, Capability: step.Capability}
	}
	return r
}

// run executes all steps and finalizes the execution
func (r *runner) run(ctx context.Context) {
	r.setState(StateRunning)
	r.exec.StartedAt = time.Now()

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	defer cancel()

	var wg sync.WaitGroup
	for _, step := range r.steps {
		wg.Add(1)
		go func(step *flow.Step) {
			defer wg.Done()
			r.runStep(runCtx, step)
		}(step)
	}
	wg.Wait()

	r.finalize(ctx)
	r.dispatchAudits()
}

// runStep waits for the step's dependencies, applies skip rules, and issues
// the engine call
func (r *runner) runStep(ctx context.Context, step *flow.Step) {
	// Wait for every dependency, hard and soft, to reach a terminal status
	deps := append(append([]string{}, step.DependsOn...), step.After...)
	for _, dep := range deps {
		select {
		case <-r.done[dep]:
		case <-ctx.Done():
			r.finish(step, r.interruptedResult(step))
			return
		}
	}

	r.mu.Lock()
	if r.aborted {
		r.mu.Unlock()
		r.finish(step, StepResult{
			StepID: step.ID, Capability: step.Capability,
			Status: StepSkipped, Error: "flow aborted",
		})
		return
	}

	// Hard dependencies must have succeeded; otherwise the step cannot
	// proceed and is skipped rather than degraded
	for _, dep := range step.DependsOn {
		if r.statuses[dep] != StepSuccess {
			r.mu.Unlock()
			r.finish(step, StepResult{
				StepID: step.ID, Capability: step.Capability,
				Status: StepSkipped,
				Error:  fmt.Sprintf("dependency %q did not succeed", dep),
			})
			return
		}
	}
	exprCtx := r.exprContextLocked()
	r.mu.Unlock()

	// Conditional steps are skipped, not degraded, when their condition
	// evaluates false
	if step.Condition != "" {
		ok, err := r.o.eval.EvalCondition(step.Condition, exprCtx)
		if err != nil {
			r.finish(step, r.failedResult(step, fmt.Errorf("condition: %w", err), nil))
			return
		}
		if !ok {
			r.finish(step, StepResult{
				StepID: step.ID, Capability: step.Capability,
				Status: StepSkipped, Error: "condition not met",
			})
			return
		}
	}

	payload, err := r.o.eval.MapInput(step.Input, exprCtx)
	if err != nil {
		r.finish(step, r.failedResult(step, fmt.Errorf("input mapping: %w", err), nil))
		return
	}

	eng, err := r.o.registry.Resolve(step.Capability)
	if err != nil {
		// No engine declares the capability; treat like an unreachable
		// engine so abort-policy steps surface as 503
		r.finish(step, r.failedResult(step, &engine.UnavailableError{
			Capability: step.Capability, Err: err,
		}, nil))
		return
	}

	if err := r.o.pool.Acquire(ctx); err != nil {
		r.finish(step, r.interruptedResult(step))
		return
	}
	defer r.o.pool.Release()

	result := r.callWithRetry(ctx, step, eng, payload)
	r.finish(step, result)
}

// callWithRetry issues the engine call, retrying transport failures for
// abort-policy steps with exponential backoff
func (r *runner) callWithRetry(ctx context.Context, step *flow.Step, eng *engine.Engine, payload map[string]any) StepResult {
	timeout := r.o.defaultStepTimeout
	if step.TimeoutSeconds > 0 {
		timeout = time.Duration(step.TimeoutSeconds) * time.Second
	}

	maxAttempts := 1
	if step.OnFailure == flow.PolicyAbort {
		maxAttempts = r.o.maxAttempts
	}

	var lastErr error
	attempts := 0
	start := time.Now()

	backoff := r.o.retryBackoff
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt

		callCtx, cancel := context.WithTimeout(ctx, timeout)
		output, err := r.o.client.Call(callCtx, eng, step.Capability, payload)
		cancel()

		if err == nil {
			r.o.registry.RecordSuccess(eng.ID)
			return StepResult{
				StepID: step.ID, Capability: step.Capability,
				Status: StepSuccess, EngineID: eng.ID, Output: output,
				LatencyMS: time.Since(start).Milliseconds(), Attempts: attempts,
			}
		}

		lastErr = err

		var unavailable *engine.UnavailableError
		if errors.As(err, &unavailable) {
			// A call cut short by flow-side cancellation (abort or deadline)
			// says nothing about the engine; the step is skipped, not failed
			if ctx.Err() != nil {
				return r.interruptedResult(step)
			}
			r.o.registry.RecordFailure(eng.ID, err.Error())
		} else {
			// The engine responded; it is alive even though the call failed
			r.o.registry.RecordSuccess(eng.ID)
			break
		}

		// Only transport failures are worth retrying, and only while the
		// flow's deadline allows it
		if attempt == maxAttempts || ctx.Err() != nil {
			break
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
		}
		backoff *= 2
	}

	result := r.failedResult(step, lastErr, &engFailureDetail{engineID: eng.ID})
	result.LatencyMS = time.Since(start).Milliseconds()
	result.Attempts = attempts
	return result
}

type engFailureDetail struct {
	engineID engine.ID
}

// failedResult records a step failure and applies the step's policy: abort
// cancels the flow, degrade adds the capability to the degraded set
func (r *runner) failedResult(step *flow.Step, err error, detail *engFailureDetail) StepResult {
	result := StepResult{
		StepID: step.ID, Capability: step.Capability,
		Status: StepFailed, Error: err.Error(), Attempts: 1,
	}
	if detail != nil {
		result.EngineID = detail.engineID
	}

	failure := &StepFailure{
		StepID:     step.ID,
		Capability: step.Capability,
		Message:    err.Error(),
	}
	var unavailable *engine.UnavailableError
	var callErr *engine.CallError
	if errors.As(err, &unavailable) {
		failure.Unavailable = true
	} else if errors.As(err, &callErr) {
		failure.StatusCode = callErr.StatusCode
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if step.OnFailure == flow.PolicyAbort {
		if !r.aborted {
			r.aborted = true
			r.failure = failure
			r.cancel()
		}
	} else {
		r.degraded[string(step.Capability)] = true
	}
	return result
}

// interruptedResult classifies a step cut short by cancellation: skipped
// because the flow aborted, or skipped because the deadline expired
func (r *runner) interruptedResult(step *flow.Step) StepResult {
	r.mu.Lock()
	aborted := r.aborted
	r.mu.Unlock()

	reason := "flow deadline exceeded"
	if aborted {
		reason = "flow aborted"
	}
	return StepResult{
		StepID: step.ID, Capability: step.Capability,
		Status: StepSkipped, Error: reason,
	}
}

// finish records a step result, publishes its event, and releases dependents
func (r *runner) finish(step *flow.Step, result StepResult) {
	r.mu.Lock()
	r.statuses[step.ID] = result.Status
	if result.Status == StepSuccess {
		r.outputs[step.ID] = result.Output
	}
	r.exec.Steps[r.resultIx[step.ID]] = result
	r.mu.Unlock()

	r.o.hub.publish(StepEvent{
		ExecutionID: r.exec.ID,
		FlowName:    r.exec.FlowName,
		Result:      result,
		Timestamp:   time.Now(),
	})

	close(r.done[step.ID])
}

// finalize settles the execution's terminal state and merges step outputs
// deterministically by definition order
func (r *runner) finalize(parentCtx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.exec.FinishedAt = time.Now()

	switch {
	case r.aborted:
		r.setStateLocked(StateFailed)
		r.exec.Failure = r.failure
		r.exec.Error = r.failure.Message

	case parentCtx.Err() != nil:
		r.setStateLocked(StateFailed)
		r.exec.Error = "flow deadline exceeded"
		r.exec.Failure = &StepFailure{Unavailable: true, Message: "flow deadline exceeded"}

	case len(r.degraded) > 0:
		r.setStateLocked(StateDegraded)

	default:
		r.setStateLocked(StateCompleted)
	}

	if len(r.degraded) > 0 {
		names := make([]string, 0, len(r.degraded))
		for name := range r.degraded {
			names = append(names, name)
		}
		sort.Strings(names)
		r.exec.Degraded = names
	}

	result := make(map[string]any)
	for _, step := range r.steps {
		if output, ok := r.outputs[step.ID]; ok {
			result[step.ID] = output
		}
	}
	r.exec.Result = result
}

// dispatchAudits runs fire-and-forget steps detached from the caller's
// deadline. Their failures are logged, never surfaced, and never degrade the
// flow; they are not dispatched for FAILED executions.
func (r *runner) dispatchAudits() {
	r.mu.Lock()
	state := r.exec.State
	exprCtx := r.exprContextLocked()
	r.mu.Unlock()

	if state == StateFailed {
		return
	}

	for _, step := range r.audits {
		go func(step *flow.Step) {
			ctx, cancel := context.WithTimeout(context.Background(), r.o.defaultStepTimeout)
			defer cancel()
			ctx = engine.WithRequestID(ctx, r.exec.RequestID)

			// Audit steps honor hard dependencies like any other step
			for _, dep := range step.DependsOn {
				if r.statusOf(dep) != StepSuccess {
					return
				}
			}

			if step.Condition != "" {
				ok, err := r.o.eval.EvalCondition(step.Condition, exprCtx)
				if err != nil || !ok {
					return
				}
			}

			payload, err := r.o.eval.MapInput(step.Input, exprCtx)
			if err != nil {
				log.Printf("Audit step %s input mapping failed (non-blocking): %v", step.ID, err)
				return
			}

			eng, err := r.o.registry.Resolve(step.Capability)
			if err != nil {
				log.Printf("Audit step %s has no engine (non-blocking): %v", step.ID, err)
				return
			}

			if _, err := r.o.client.Call(ctx, eng, step.Capability, payload); err != nil {
				log.Printf("Audit step %s failed (non-blocking): %v", step.ID, err)
				r.o.registry.RecordFailure(eng.ID, err.Error())
				return
			}
			r.o.registry.RecordSuccess(eng.ID)
		}(step)
	}
}

func (r *runner) statusOf(stepID string) StepStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statuses[stepID]
}

// exprContextLocked builds the expression context from terminal step outputs.
// Callers must hold r.mu.
func (r *runner) exprContextLocked() map[string]any {
	steps := make(map[string]any, len(r.statuses))
	for id, status := range r.statuses {
		if status == StepSuccess {
			steps[id] = r.outputs[id]
		} else {
			steps[id] = nil
		}
	}

	return map[string]any{
		"request": r.request,
		"steps":   steps,
		"flow": map[string]any{
			"name":         r.exec.FlowName,
			"execution_id": r.exec.ID,
			"request_id":   r.exec.RequestID,
		},
	}
}

// setState transitions the execution state, enforcing monotonicity
func (r *runner) setState(next State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setStateLocked(next)
}

func (r *runner) setStateLocked(next State) {
	if r.exec.State.Terminal() {
		return
	}
	if next.rank() < r.exec.State.rank() {
		return
	}
	r.exec.State = next
}
