package workflow

import "fmt"

// ValidationError describes one structural violation in a definition.
type ValidationError struct {
	// StepID is the offending step, when the violation is step-scoped.
	StepID string `json:"step_id,omitempty"`
	// Rule names the violated check.
	Rule string `json:"rule"`
	// Message is a human-readable description.
	Message string `json:"message"`
}

// Validation rule names.
const (
	RuleDefinitionIdentity  = "definition-identity"
	RuleStepsNonEmpty       = "steps-non-empty"
	RuleStepIDUnique        = "step-id-unique"
	RuleDependencyExists    = "dependency-exists"
	RuleGraphAcyclic        = "graph-acyclic"
	RuleExecutorRegistered  = "executor-registered"
	RuleCompensationExists  = "compensation-exists"
	RuleCompensationCapable = "compensation-capable"
)

func (e ValidationError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("%s: step %s: %s", e.Rule, e.StepID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Rule, e.Message)
}

// Validator checks workflow definitions for structural soundness before
// they can run. Validation is pure and fails closed: any violation
// rejects the whole definition, and all violations are reported.
type Validator struct {
	registry *Registry
}

// NewValidator creates a validator that checks executor capability
// against the given registry.
func NewValidator(registry *Registry) *Validator {
	return &Validator{registry: registry}
}

// Validate checks the definition. It returns true and no errors only if
// every check passes; otherwise it returns every violation found.
func (v *Validator) Validate(def *WorkflowDefinition) (bool, []ValidationError) {
	var errs []ValidationError

	if def.Name == "" || def.Version == "" {
		errs = append(errs, ValidationError{
			Rule:    RuleDefinitionIdentity,
			Message: "definition requires a non-empty name and version",
		})
	}
	if len(def.Steps) == 0 {
		errs = append(errs, ValidationError{
			Rule:    RuleStepsNonEmpty,
			Message: "definition has no steps",
		})
		return false, errs
	}

	// (a) step ids unique
	seen := make(map[string]bool, len(def.Steps))
	for _, step := range def.Steps {
		if step.ID == "" {
			errs = append(errs, ValidationError{
				Rule:    RuleStepIDUnique,
				Message: "step id must be non-empty",
			})
			continue
		}
		if seen[step.ID] {
			errs = append(errs, ValidationError{
				StepID:  step.ID,
				Rule:    RuleStepIDUnique,
				Message: fmt.Sprintf("duplicate step id %q", step.ID),
			})
		}
		seen[step.ID] = true
	}

	// (b) dependsOn references exist
	for _, step := range def.Steps {
		for _, dep := range step.DependsOn {
			if !seen[dep] {
				errs = append(errs, ValidationError{
					StepID:  step.ID,
					Rule:    RuleDependencyExists,
					Message: fmt.Sprintf("depends_on references unknown step %q", dep),
				})
			}
		}
	}

	// (c) dependency graph acyclic (topological sort must succeed).
	// Only meaningful once references resolve.
	if !hasValidationErrors(errs, RuleDependencyExists) && !hasValidationErrors(errs, RuleStepIDUnique) {
		if cycle := findCycle(def); cycle != "" {
			errs = append(errs, ValidationError{
				StepID:  cycle,
				Rule:    RuleGraphAcyclic,
				Message: fmt.Sprintf("dependency cycle involving step %q", cycle),
			})
		}
	}

	// (d) every step type has a registered executor capability
	for _, step := range def.Steps {
		if !v.registry.Has(step.Type) {
			errs = append(errs, ValidationError{
				StepID:  step.ID,
				Rule:    RuleExecutorRegistered,
				Message: fmt.Sprintf("no executor registered for step type %q", step.Type),
			})
		}
	}

	// (e) compensation references resolve, and the executor can compensate
	for _, step := range def.Steps {
		if step.Compensation == "" {
			continue
		}
		if _, ok := def.Compensation(step.Compensation); !ok {
			errs = append(errs, ValidationError{
				StepID:  step.ID,
				Rule:    RuleCompensationExists,
				Message: fmt.Sprintf("compensation references unknown action %q", step.Compensation),
			})
			continue
		}
		if executor, ok := v.registry.Resolve(step.Type); ok {
			if _, capable := executor.(Compensator); !capable {
				errs = append(errs, ValidationError{
					StepID:  step.ID,
					Rule:    RuleCompensationCapable,
					Message: fmt.Sprintf("executor for step type %q does not support compensation", step.Type),
				})
			}
		}
	}

	return len(errs) == 0, errs
}

// hasValidationErrors reports whether errs contains a violation of rule.
func hasValidationErrors(errs []ValidationError, rule string) bool {
	for _, e := range errs {
		if e.Rule == rule {
			return true
		}
	}
	return false
}

// findCycle runs Kahn's topological sort over the dependency graph and
// returns a step id inside a cycle, or "" when the graph is acyclic.
func findCycle(def *WorkflowDefinition) string {
	indegree := make(map[string]int, len(def.Steps))
	dependents := make(map[string][]string, len(def.Steps))
	for _, step := range def.Steps {
		indegree[step.ID] += 0
		for _, dep := range step.DependsOn {
			indegree[step.ID]++
			dependents[dep] = append(dependents[dep], step.ID)
		}
	}

	var queue []string
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if visited == len(def.Steps) {
		return ""
	}
	// Any step with remaining indegree sits on or behind a cycle; report
	// the first in definition order for a deterministic message.
	for _, step := range def.Steps {
		if indegree[step.ID] > 0 {
			return step.ID
		}
	}
	return ""
}
