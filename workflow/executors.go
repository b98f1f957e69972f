package workflow

import (
	"context"
	"fmt"
	"reflect"

	"github.com/BaSui01/sagaflow/types"
)

// AgentInvoker is the seam to the external agent subsystem. How an
// agent call is actually made (model, prompt, transport) is owned by
// other subsystems; the engine only dispatches and awaits.
type AgentInvoker interface {
	// Invoke runs the named agent against the input and returns its output.
	Invoke(ctx context.Context, agent string, input map[string]any) (any, error)
}

// AgentCallExecutor dispatches agent-call steps to an AgentInvoker.
// Config keys: "agent" (required) names the agent; the execution
// context is passed through as the agent input.
type AgentCallExecutor struct {
	invoker AgentInvoker
}

// NewAgentCallExecutor creates the executor for agent-call steps.
func NewAgentCallExecutor(invoker AgentInvoker) *AgentCallExecutor {
	return &AgentCallExecutor{invoker: invoker}
}

// Execute implements StepExecutor.
func (e *AgentCallExecutor) Execute(ctx context.Context, stepID string, config map[string]any, execContext map[string]any) (any, error) {
	agent, ok := config["agent"].(string)
	if !ok || agent == "" {
		return nil, types.NewError(types.ErrExecutor, "agent-call config missing \"agent\"").WithStep(stepID, 0)
	}
	out, err := e.invoker.Invoke(ctx, agent, execContext)
	if err != nil {
		return nil, types.NewError(types.ErrExecutor, "agent invocation failed").
			WithStep(stepID, 0).WithCause(err).WithRetryable(true)
	}
	return out, nil
}

// Compensate implements Compensator. The compensation config names the
// agent that semantically undoes the step's effect.
func (e *AgentCallExecutor) Compensate(ctx context.Context, stepID string, config map[string]any, execContext map[string]any) error {
	agent, ok := config["agent"].(string)
	if !ok || agent == "" {
		return types.NewError(types.ErrCompensation, "compensation config missing \"agent\"").WithStep(stepID, 0)
	}
	if _, err := e.invoker.Invoke(ctx, agent, execContext); err != nil {
		return types.NewError(types.ErrCompensation, "compensating agent failed").
			WithStep(stepID, 0).WithCause(err)
	}
	return nil
}

// TransformExecutor handles transform steps: it projects values out of
// the execution context into the step output without side effects.
// Config keys: "set" (map of literal output values) and "from" (copy
// the named context entry into the output under "value").
type TransformExecutor struct{}

// NewTransformExecutor creates the executor for transform steps.
func NewTransformExecutor() *TransformExecutor { return &TransformExecutor{} }

// Execute implements StepExecutor.
func (TransformExecutor) Execute(_ context.Context, stepID string, config map[string]any, execContext map[string]any) (any, error) {
	out := make(map[string]any)
	if set, ok := config["set"].(map[string]any); ok {
		for k, v := range set {
			out[k] = v
		}
	}
	if from, ok := config["from"].(string); ok {
		v, exists := execContext[from]
		if !exists {
			return nil, types.NewError(types.ErrExecutor,
				fmt.Sprintf("transform source %q not present in context", from)).WithStep(stepID, 0)
		}
		out["value"] = v
	}
	return out, nil
}

// ConditionalExecutor handles conditional steps. Its predicate is
// evaluated against the execution context before the step is considered
// ready. Config keys: "key" names the context entry; "equals" (optional)
// is the value to compare, otherwise bare presence/truthiness decides.
type ConditionalExecutor struct{}

// NewConditionalExecutor creates the executor for conditional steps.
func NewConditionalExecutor() *ConditionalExecutor { return &ConditionalExecutor{} }

// EvaluateCondition implements ConditionEvaluator.
func (ConditionalExecutor) EvaluateCondition(_ context.Context, config map[string]any, execContext map[string]any) (bool, error) {
	key, ok := config["key"].(string)
	if !ok || key == "" {
		return false, types.NewError(types.ErrExecutor, "conditional config missing \"key\"")
	}
	value, present := execContext[key]

	if want, hasWant := config["equals"]; hasWant {
		return present && reflect.DeepEqual(value, want), nil
	}
	if !present {
		return false, nil
	}
	if b, isBool := value.(bool); isBool {
		return b, nil
	}
	return true, nil
}

// Execute implements StepExecutor. A conditional step that passed its
// predicate simply forwards the gated value.
func (c ConditionalExecutor) Execute(ctx context.Context, stepID string, config map[string]any, execContext map[string]any) (any, error) {
	pass, err := c.EvaluateCondition(ctx, config, execContext)
	if err != nil {
		return nil, err
	}
	return map[string]any{"passed": pass}, nil
}

// ParallelGroupExecutor handles parallel-group steps. The group itself
// does no work; it exists as a fan-out point whose MaxConcurrency
// bounds how many of its dependents run simultaneously (enforced by the
// scheduler).
type ParallelGroupExecutor struct{}

// NewParallelGroupExecutor creates the executor for parallel-group steps.
func NewParallelGroupExecutor() *ParallelGroupExecutor { return &ParallelGroupExecutor{} }

// Execute implements StepExecutor.
func (ParallelGroupExecutor) Execute(_ context.Context, _ string, _ map[string]any, _ map[string]any) (any, error) {
	return map[string]any{"fanout": true}, nil
}

// RegisterBuiltins registers the built-in executors for transform,
// conditional, and parallel-group steps, plus the agent-call adapter
// when an invoker is supplied.
func RegisterBuiltins(registry *Registry, invoker AgentInvoker) error {
	if err := registry.Register(StepTypeTransform, NewTransformExecutor()); err != nil {
		return err
	}
	if err := registry.Register(StepTypeConditional, NewConditionalExecutor()); err != nil {
		return err
	}
	if err := registry.Register(StepTypeParallelGroup, NewParallelGroupExecutor()); err != nil {
		return err
	}
	if invoker != nil {
		if err := registry.Register(StepTypeAgentCall, NewAgentCallExecutor(invoker)); err != nil {
			return err
		}
	}
	return nil
}
