package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/sagaflow/types"
)

// memStore is an in-memory ExecutionStore for coordinator and engine
// tests. Same semantics as store.Memory without the import cycle an
// internal test package would create.
type memStore struct {
	mu    sync.Mutex
	execs map[string]*WorkflowExecution
}

func newMemStore() *memStore {
	return &memStore{execs: make(map[string]*WorkflowExecution)}
}

func (s *memStore) Create(_ context.Context, exec *WorkflowExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.execs[exec.ID]; exists {
		return ErrExecutionExists
	}
	s.execs[exec.ID] = exec.Clone()
	return nil
}

func (s *memStore) Load(_ context.Context, id string) (*WorkflowExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.execs[id]
	if !ok {
		return nil, ErrExecutionNotFound
	}
	return exec.Clone(), nil
}

func (s *memStore) AppendStep(_ context.Context, id string, step StepExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.execs[id]
	if !ok {
		return ErrExecutionNotFound
	}
	exec.Steps = append(exec.Steps, step)
	return nil
}

func (s *memStore) CompareAndSwapStatus(_ context.Context, id string, expectedVersion int64, newStatus ExecutionStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.execs[id]
	if !ok {
		return false, ErrExecutionNotFound
	}
	if exec.Version != expectedVersion {
		return false, nil
	}
	exec.Status = newStatus
	exec.Version++
	return true, nil
}

func (s *memStore) Close() error { return nil }

// stepBehavior scripts one step's executor outcomes per attempt.
type stepBehavior struct {
	// failuresBefore is the number of attempts that fail before one
	// succeeds. A negative value fails forever.
	failuresBefore int
	// output returned on success.
	output any
	// delay before each attempt resolves.
	delay time.Duration
	// compensationErr is returned by Compensate when non-nil.
	compensationErr error
}

// conditionOutcome scripts one EvaluateCondition call.
type conditionOutcome struct {
	pass bool
	err  error
}

// scriptedExecutor executes and compensates according to per-step
// scripts, recording every call.
type scriptedExecutor struct {
	mu        sync.Mutex
	behaviors map[string]stepBehavior
	attempts  map[string]int
	// compensated records compensation calls in invocation order.
	compensated []string
	// conditionScript, when non-empty, scripts successive
	// EvaluateCondition calls front to back, the last entry repeating.
	// Empty delegates to the built-in conditional semantics.
	conditionScript []conditionOutcome
	// optional hooks around each Execute call.
	onStart  func(stepID string)
	onFinish func(stepID string)
}

func newScriptedExecutor(behaviors map[string]stepBehavior) *scriptedExecutor {
	if behaviors == nil {
		behaviors = make(map[string]stepBehavior)
	}
	return &scriptedExecutor{
		behaviors: behaviors,
		attempts:  make(map[string]int),
	}
}

func (s *scriptedExecutor) Execute(ctx context.Context, stepID string, _ map[string]any, _ map[string]any) (any, error) {
	s.mu.Lock()
	s.attempts[stepID]++
	attempt := s.attempts[stepID]
	behavior := s.behaviors[stepID]
	onStart, onFinish := s.onStart, s.onFinish
	s.mu.Unlock()

	if onStart != nil {
		onStart(stepID)
	}
	if onFinish != nil {
		defer onFinish(stepID)
	}

	if behavior.delay > 0 {
		select {
		case <-time.After(behavior.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if behavior.failuresBefore < 0 || attempt <= behavior.failuresBefore {
		return nil, types.NewError(types.ErrExecutor, "scripted failure").
			WithStep(stepID, attempt).WithRetryable(true)
	}
	if behavior.output != nil {
		return behavior.output, nil
	}
	return map[string]any{"step": stepID}, nil
}

func (s *scriptedExecutor) Compensate(_ context.Context, stepID string, _ map[string]any, _ map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compensated = append(s.compensated, stepID)
	if b, ok := s.behaviors[stepID]; ok && b.compensationErr != nil {
		return b.compensationErr
	}
	return nil
}

// EvaluateCondition consumes the condition script when one is set,
// otherwise delegates to the built-in conditional semantics so scripted
// graphs can include conditional steps.
func (s *scriptedExecutor) EvaluateCondition(ctx context.Context, config map[string]any, execContext map[string]any) (bool, error) {
	s.mu.Lock()
	if len(s.conditionScript) > 0 {
		outcome := s.conditionScript[0]
		if len(s.conditionScript) > 1 {
			s.conditionScript = s.conditionScript[1:]
		}
		s.mu.Unlock()
		return outcome.pass, outcome.err
	}
	s.mu.Unlock()
	return ConditionalExecutor{}.EvaluateCondition(ctx, config, execContext)
}

func (s *scriptedExecutor) compensationOrder() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.compensated))
	copy(out, s.compensated)
	return out
}

func (s *scriptedExecutor) attemptCount(stepID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[stepID]
}

// concurrencyTracker records the peak number of simultaneous Execute
// calls.
type concurrencyTracker struct {
	mu      sync.Mutex
	current int64
	max     int64
}

func (c *concurrencyTracker) enter(string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current++
	if c.current > c.max {
		c.max = c.current
	}
}

func (c *concurrencyTracker) exit(string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current--
}

func (c *concurrencyTracker) peak() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.max
}

func newTestLogger(t *testing.T) *zap.Logger {
	t.Helper()
	return zaptest.NewLogger(t)
}

// fastRetry is a deterministic retry policy for tests.
func fastRetry(maxAttempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  maxAttempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       false,
	}
}

// testHarness wires one execution end to end against scripted executors.
type testHarness struct {
	store    *memStore
	executor *scriptedExecutor
	registry *Registry
	coord    *Coordinator
	exec     *WorkflowExecution
}

// newHarness builds a coordinator for def with all step types served by
// the scripted executor.
func newHarness(t *testing.T, def *WorkflowDefinition, behaviors map[string]stepBehavior, retry RetryPolicy) *testHarness {
	t.Helper()

	executor := newScriptedExecutor(behaviors)
	registry := NewRegistry()
	stepTypes := map[StepType]bool{}
	for _, s := range def.Steps {
		stepTypes[s.Type] = true
	}
	for st := range stepTypes {
		require.NoError(t, registry.Register(st, executor))
	}

	logger := zaptest.NewLogger(t)
	store := newMemStore()

	exec := &WorkflowExecution{
		ID:                "exec-" + def.Name,
		DefinitionName:    def.Name,
		DefinitionVersion: def.Version,
		Status:            ExecutionValidated,
		Context:           map[string]any{},
	}
	require.NoError(t, store.Create(context.Background(), exec))

	coord := NewCoordinator(def, exec, CoordinatorDeps{
		Store:     store,
		Scheduler: NewScheduler(registry, 8, time.Second, logger),
		Retry:     retry,
		Logger:    logger,
	})
	return &testHarness{
		store:    store,
		executor: executor,
		registry: registry,
		coord:    coord,
		exec:     exec,
	}
}

// run starts the coordinator and waits for it to settle.
func (h *testHarness) run(t *testing.T) *WorkflowExecution {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- h.coord.Start(context.Background()) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("coordinator did not settle")
	}
	return h.coord.Snapshot()
}

// linearDef builds A -> B -> C style chains.
func linearDef(name string, stepIDs ...string) *WorkflowDefinition {
	def := &WorkflowDefinition{Name: name, Version: "1"}
	for i, id := range stepIDs {
		step := StepDefinition{ID: id, Type: StepTypeAgentCall, Compensation: "undo-" + id}
		if i > 0 {
			step.DependsOn = []string{stepIDs[i-1]}
		}
		def.Steps = append(def.Steps, step)
		def.Compensations = append(def.Compensations,
			CompensationDefinition{Name: "undo-" + id})
	}
	return def
}
