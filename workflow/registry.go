package workflow

import (
	"context"
	"fmt"
	"sync"
)

// StepExecutor performs one step's actual work given its configuration
// and the execution context. Implementations are supplied by other
// subsystems and registered per step type. The deadline for a dispatch
// is carried by ctx.
type StepExecutor interface {
	Execute(ctx context.Context, stepID string, config map[string]any, execContext map[string]any) (any, error)
}

// Compensator is implemented by executors whose step type supports a
// compensating action. Config is the compensation definition's config.
type Compensator interface {
	Compensate(ctx context.Context, stepID string, config map[string]any, execContext map[string]any) error
}

// ConditionEvaluator is implemented by the executor registered for
// conditional steps. The predicate is evaluated against the execution
// context before the step is considered ready; a false result skips the
// step and everything depending solely on it.
type ConditionEvaluator interface {
	EvaluateCondition(ctx context.Context, config map[string]any, execContext map[string]any) (bool, error)
}

// Registry maps step types to executor implementations. It is a plain
// registration table, constructed explicitly and passed by reference,
// never a process-wide singleton.
type Registry struct {
	mu        sync.RWMutex
	executors map[StepType]StepExecutor
}

// NewRegistry creates an empty executor registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[StepType]StepExecutor)}
}

// Register binds an executor to a step type. Re-registering a type is
// an error: capability tables are wired once at startup.
func (r *Registry) Register(stepType StepType, executor StepExecutor) error {
	if executor == nil {
		return fmt.Errorf("executor for %q cannot be nil", stepType)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.executors[stepType]; exists {
		return fmt.Errorf("executor already registered for step type %q", stepType)
	}
	r.executors[stepType] = executor
	return nil
}

// Resolve returns the executor registered for a step type.
func (r *Registry) Resolve(stepType StepType) (StepExecutor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[stepType]
	return e, ok
}

// Has reports whether a step type has a registered executor.
func (r *Registry) Has(stepType StepType) bool {
	_, ok := r.Resolve(stepType)
	return ok
}

// Types returns the registered step types.
func (r *Registry) Types() []StepType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]StepType, 0, len(r.executors))
	for t := range r.executors {
		out = append(out, t)
	}
	return out
}
