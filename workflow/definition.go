package workflow

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// StepType identifies which executor handles a step.
type StepType string

const (
	// StepTypeAgentCall delegates the step to an external agent.
	StepTypeAgentCall StepType = "agent-call"
	// StepTypeTransform applies a pure transformation to the context.
	StepTypeTransform StepType = "transform"
	// StepTypeConditional gates its subtree on a predicate over the context.
	StepTypeConditional StepType = "conditional"
	// StepTypeParallelGroup fans its dependents out with a concurrency bound.
	StepTypeParallelGroup StepType = "parallel-group"
)

// StepDefinition is one step of a workflow definition.
type StepDefinition struct {
	// ID is unique within the definition.
	ID string `json:"id" yaml:"id"`
	// Type selects the registered executor.
	Type StepType `json:"type" yaml:"type"`
	// DependsOn lists step ids that must succeed (or be skipped) first.
	// The resulting graph must be acyclic.
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	// Config is an opaque map interpreted by the executor.
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	// Compensation references a compensating action by name.
	Compensation string `json:"compensation,omitempty" yaml:"compensation,omitempty"`
	// MaxConcurrency bounds simultaneous dependents of a parallel-group
	// step. Zero means unbounded.
	MaxConcurrency int64 `json:"max_concurrency,omitempty" yaml:"max_concurrency,omitempty"`
}

// CompensationDefinition is a named compensating action referenced by steps.
type CompensationDefinition struct {
	// Name is the reference target for StepDefinition.Compensation.
	Name string `json:"name" yaml:"name"`
	// Config is an opaque map interpreted by the compensating executor.
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// WorkflowDefinition is an immutable workflow template. Definitions are
// created and versioned externally; the engine only reads them.
type WorkflowDefinition struct {
	// Name and Version together identify the definition.
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version" yaml:"version"`
	// Steps is the ordered step list. Order matters only as the
	// tie-break for compensation of steps completing at the same instant.
	Steps []StepDefinition `json:"steps" yaml:"steps"`
	// Compensations lists the compensating actions steps may reference.
	Compensations []CompensationDefinition `json:"compensations,omitempty" yaml:"compensations,omitempty"`
}

// Ref returns the canonical "name@version" reference of the definition.
func (d *WorkflowDefinition) Ref() string {
	return d.Name + "@" + d.Version
}

// Step returns the step with the given id, if present.
func (d *WorkflowDefinition) Step(id string) (*StepDefinition, bool) {
	for i := range d.Steps {
		if d.Steps[i].ID == id {
			return &d.Steps[i], true
		}
	}
	return nil, false
}

// StepIndex returns the definition-order index of a step id, or -1.
func (d *WorkflowDefinition) StepIndex(id string) int {
	for i := range d.Steps {
		if d.Steps[i].ID == id {
			return i
		}
	}
	return -1
}

// Compensation returns the named compensating action, if defined.
func (d *WorkflowDefinition) Compensation(name string) (*CompensationDefinition, bool) {
	for i := range d.Compensations {
		if d.Compensations[i].Name == name {
			return &d.Compensations[i], true
		}
	}
	return nil, false
}

// Dependents returns the ids of steps that list id in their DependsOn.
func (d *WorkflowDefinition) Dependents(id string) []string {
	var out []string
	for i := range d.Steps {
		for _, dep := range d.Steps[i].DependsOn {
			if dep == id {
				out = append(out, d.Steps[i].ID)
				break
			}
		}
	}
	return out
}

// DecodeDefinition parses a YAML (or JSON, which YAML subsumes) workflow
// definition. Structural soundness is checked separately by the Validator.
func DecodeDefinition(data []byte) (*WorkflowDefinition, error) {
	var def WorkflowDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("decode definition: %w", err)
	}
	return &def, nil
}
