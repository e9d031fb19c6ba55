package engine

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Errors returned by the registry
var (
	ErrNoEngineForCapability = errors.New("no engine declares capability")
	ErrEngineNotFound        = errors.New("engine not found")
)

// Registry is the catalog of known engines and their live health state.
// Engines are registered at startup and never removed during a run; health is
// the only mutable state and is updated by call results and probes.
type Registry struct {
	mu        sync.RWMutex
	engines   map[ID]*Engine
	health    map[ID]*HealthState
	downAfter int
}

// NewRegistry creates an empty registry. downAfter is the consecutive-failure
// count that marks an engine DOWN.
func NewRegistry(downAfter int) *Registry {
	if downAfter <= 0 {
		downAfter = 3
	}
	return &Registry{
		engines:   make(map[ID]*Engine),
		health:    make(map[ID]*HealthState),
		downAfter: downAfter,
	}
}

// Register adds an engine to the catalog
func (r *Registry) Register(eng Engine) error {
	if eng.ID == "" {
		return fmt.Errorf("engine ID is required")
	}
	if eng.BaseURL == "" {
		return fmt.Errorf("engine %s: base URL is required", eng.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.engines[eng.ID]; ok {
		return fmt.Errorf("engine %s is already registered", eng.ID)
	}

	e := eng
	r.engines[e.ID] = &e
	r.health[e.ID] = &HealthState{Status: HealthUnknown}
	return nil
}

// Get returns the engine with the given ID
func (r *Registry) Get(id ID) (*Engine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	eng, ok := r.engines[id]
	return eng, ok
}

// Engines returns all registered engines sorted by ID
func (r *Registry) Engines() []*Engine {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]*Engine, 0, len(r.engines))
	for _, eng := range r.engines {
		list = append(list, eng)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// Resolve picks the best engine for a capability: the highest-priority
// candidate whose health is not DOWN. If every candidate is DOWN the best
// candidate is returned anyway — dispatch is optimistic, and the resulting
// call failure surfaces as a step failure governed by flow policy.
func (r *Registry) Resolve(capability Capability) (*Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	candidates := r.candidatesLocked(capability)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoEngineForCapability, capability)
	}

	for _, eng := range candidates {
		if r.health[eng.ID].Status != HealthDown {
			return eng, nil
		}
	}

	// All candidates are DOWN — return the best-effort choice
	return candidates[0], nil
}

// Candidates returns every engine declaring the capability in priority order
func (r *Registry) Candidates(capability Capability) []*Engine {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.candidatesLocked(capability)
}

func (r *Registry) candidatesLocked(capability Capability) []*Engine {
	var candidates []*Engine
	for _, eng := range r.engines {
		if eng.HasCapability(capability) {
			candidates = append(candidates, eng)
		}
	}

	// Deterministic order: priority first, then ID
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority < candidates[j].Priority
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates
}

// MarkHealth sets an engine's health status directly (used by probes)
func (r *Registry) MarkHealth(id ID, status HealthStatus, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.health[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrEngineNotFound, id)
	}

	state.Status = status
	state.LastChecked = time.Now()
	state.Error = errMsg
	if status == HealthUp {
		state.ConsecutiveFailures = 0
	}
	return nil
}

// RecordSuccess notes a successful call, marking the engine UP
func (r *Registry) RecordSuccess(id ID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.health[id]
	if !ok {
		return
	}

	state.Status = HealthUp
	state.LastChecked = time.Now()
	state.ConsecutiveFailures = 0
	state.Error = ""
}

// RecordFailure notes a failed call; after enough consecutive failures the
// engine is marked DOWN and resolution prefers alternatives
func (r *Registry) RecordFailure(id ID, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.health[id]
	if !ok {
		return
	}

	state.ConsecutiveFailures++
	state.LastChecked = time.Now()
	state.Error = errMsg
	if state.ConsecutiveFailures >= r.downAfter {
		state.Status = HealthDown
	}
}

// Health returns the health snapshot for one engine
func (r *Registry) Health(id ID) (HealthState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.health[id]
	if !ok {
		return HealthState{}, false
	}
	return *state, true
}

// Snapshot returns a copy of every engine's health state
func (r *Registry) Snapshot() map[ID]HealthState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make(map[ID]HealthState, len(r.health))
	for id, state := range r.health {
		snapshot[id] = *state
	}
	return snapshot
}
