// Package flow provides declarative flow definitions: named multi-step
// templates the orchestrator executes against live engines.
package flow

import (
	"fmt"

	"github.com/chauhanaman41/AIforBharat-sub001/pkg/engine"
)

// FailurePolicy declares what a step's failure does to its flow
type FailurePolicy string

const (
	// PolicyAbort fails the whole flow when the step fails
	PolicyAbort FailurePolicy = "abort"

	// PolicyDegrade records the failure and lets the flow continue
	PolicyDegrade FailurePolicy = "degrade"
)

// Step is one unit of work in a flow, bound to an engine capability
type Step struct {
	// ID uniquely names the step within its flow
	ID string `yaml:"id" json:"id"`

	// Capability is the engine capability the step invokes
	Capability engine.Capability `yaml:"capability" json:"capability"`

	// OnFailure is the step's declared failure policy (default abort)
	OnFailure FailurePolicy `yaml:"on_failure" json:"on_failure"`

	// DependsOn lists hard dependencies: if any of them did not succeed,
	// this step is skipped
	DependsOn []string `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`

	// After lists soft dependencies: this step waits for them but still runs
	// when they fail, seeing null in place of their output
	After []string `yaml:"after,omitempty" json:"after,omitempty"`

	// Condition is an optional expression; when it evaluates false the step
	// is skipped without being counted as degraded
	Condition string `yaml:"condition,omitempty" json:"condition,omitempty"`

	// Input maps the step's request payload from the original request and
	// prior step outputs via ${...} expressions
	Input map[string]any `yaml:"input,omitempty" json:"input,omitempty"`

	// TimeoutSeconds overrides the default per-call timeout
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`

	// FireAndForget steps (audit posts) run after the flow's result is
	// already determined; their failure is logged, never surfaced
	FireAndForget bool `yaml:"fire_and_forget,omitempty" json:"fire_and_forget,omitempty"`
}

// Definition is a named, immutable flow template
type Definition struct {
	// Name identifies the flow; it is also its gateway route
	Name string `yaml:"-" json:"name"`

	// Description explains what the flow does
	Description string `yaml:"-" json:"description"`

	// Mutating flows have side effects and pass through the idempotency guard
	Mutating bool `yaml:"mutating,omitempty" json:"mutating"`

	// IdempotencyFields lists request payload fields the idempotency key is
	// derived from when the caller supplies no Idempotency-Key header
	IdempotencyFields []string `yaml:"idempotency_fields,omitempty" json:"idempotency_fields,omitempty"`

	// RequireAuth marks the flow's route as requiring an authenticated caller
	RequireAuth bool `yaml:"require_auth,omitempty" json:"require_auth"`

	// Steps are executed in dependency order; steps with no dependency
	// between them may run concurrently
	Steps []Step `yaml:"steps" json:"steps"`
}

// Step returns the step with the given ID
func (d *Definition) Step(id string) (*Step, bool) {
	for i := range d.Steps {
		if d.Steps[i].ID == id {
			return &d.Steps[i], true
		}
	}
	return nil, false
}

// Validate checks structural invariants: unique step IDs, known policies, and
// dependencies that reference earlier steps only (which also rules out cycles)
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("flow name is required")
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("flow %s: at least one step is required", d.Name)
	}

	seen := make(map[string]bool, len(d.Steps))
	detached := make(map[string]bool)
	for i := range d.Steps {
		step := &d.Steps[i]

		if step.ID == "" {
			return fmt.Errorf("flow %s: step %d has no id", d.Name, i)
		}
		if seen[step.ID] {
			return fmt.Errorf("flow %s: duplicate step id %q", d.Name, step.ID)
		}
		if step.Capability == "" {
			return fmt.Errorf("flow %s: step %q has no capability", d.Name, step.ID)
		}

		switch step.OnFailure {
		case "":
			step.OnFailure = PolicyAbort
		case PolicyAbort, PolicyDegrade:
		default:
			return fmt.Errorf("flow %s: step %q has unknown failure policy %q", d.Name, step.ID, step.OnFailure)
		}

		// Dependencies must reference steps declared earlier in the list.
		// Fire-and-forget steps run detached after the flow settles, so
		// nothing blocking may depend on them.
		for _, dep := range append(append([]string{}, step.DependsOn...), step.After...) {
			if dep == step.ID {
				return fmt.Errorf("flow %s: step %q depends on itself", d.Name, step.ID)
			}
			if !seen[dep] {
				return fmt.Errorf("flow %s: step %q depends on undeclared step %q", d.Name, step.ID, dep)
			}
			if detached[dep] && !step.FireAndForget {
				return fmt.Errorf("flow %s: step %q depends on fire-and-forget step %q", d.Name, step.ID, dep)
			}
		}

		seen[step.ID] = true
		if step.FireAndForget {
			detached[step.ID] = true
		}
	}

	return nil
}
