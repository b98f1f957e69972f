package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/sagaflow/auth"
	"github.com/BaSui01/sagaflow/config"
	"github.com/BaSui01/sagaflow/events"
	"github.com/BaSui01/sagaflow/internal/metrics"
	"github.com/BaSui01/sagaflow/internal/pool"
	"github.com/BaSui01/sagaflow/types"
)

// Engine is the public face of the orchestration runtime. It owns the
// definition catalog, admission control, and the pool of per-execution
// coordinators; everything past admission is delegated to a Coordinator.
type Engine struct {
	cfg        config.EngineConfig
	registry   *Registry
	store      ExecutionStore
	publisher  events.Publisher
	authorizer auth.Authorizer
	collector  *metrics.Collector
	validator  *Validator
	logger     *zap.Logger

	limiter *rate.Limiter
	workers *pool.Pool

	runCtx    context.Context
	runCancel context.CancelFunc

	mu           sync.RWMutex
	definitions  map[string]*WorkflowDefinition
	coordinators map[string]*Coordinator
	closed       bool
}

// EngineDeps bundles the collaborators an engine needs. Publisher,
// Authorizer, and Collector are optional.
type EngineDeps struct {
	Store      ExecutionStore
	Registry   *Registry
	Publisher  events.Publisher
	Authorizer auth.Authorizer
	Collector  *metrics.Collector
	Logger     *zap.Logger
}

// NewEngine creates an engine. Executions run on an internal worker
// pool sized by cfg; a full pool rejects submissions instead of queueing
// unboundedly.
func NewEngine(cfg config.EngineConfig, deps EngineDeps) (*Engine, error) {
	if deps.Store == nil {
		return nil, errors.New("engine requires an execution store")
	}
	if deps.Registry == nil {
		return nil, errors.New("engine requires an executor registry")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Publisher == nil {
		deps.Publisher = events.NopPublisher{}
	}
	if deps.Authorizer == nil {
		deps.Authorizer = auth.AllowAll{}
	}

	var limiter *rate.Limiter
	if cfg.SubmitRatePerSecond > 0 {
		burst := cfg.SubmitBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.SubmitRatePerSecond), burst)
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:          cfg,
		registry:     deps.Registry,
		store:        deps.Store,
		publisher:    deps.Publisher,
		authorizer:   deps.Authorizer,
		collector:    deps.Collector,
		validator:    NewValidator(deps.Registry),
		logger:       deps.Logger.With(zap.String("component", "engine")),
		limiter:      limiter,
		workers:      pool.New(cfg.MaxConcurrentExecutions, cfg.QueueSize, deps.Logger),
		runCtx:       runCtx,
		runCancel:    runCancel,
		definitions:  make(map[string]*WorkflowDefinition),
		coordinators: make(map[string]*Coordinator),
	}
	return e, nil
}

// RegisterDefinition validates a definition and adds it to the catalog.
// An invalid definition is rejected with every violation listed.
func (e *Engine) RegisterDefinition(def *WorkflowDefinition) error {
	ok, violations := e.validator.Validate(def)
	if !ok {
		msgs := make([]string, len(violations))
		for i, v := range violations {
			msgs[i] = v.Error()
		}
		return types.NewError(types.ErrValidation,
			fmt.Sprintf("definition %s invalid: %v", def.Ref(), msgs))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.definitions[def.Ref()]; exists {
		return types.NewError(types.ErrValidation,
			fmt.Sprintf("definition %s already registered; versions are immutable", def.Ref()))
	}
	e.definitions[def.Ref()] = def
	e.logger.Info("definition registered",
		zap.String("definition", def.Ref()),
		zap.Int("steps", len(def.Steps)),
	)
	return nil
}

// Definition returns a registered definition by name and version.
func (e *Engine) Definition(name, version string) (*WorkflowDefinition, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	def, ok := e.definitions[name+"@"+version]
	return def, ok
}

// SubmitExecution admits a new execution of a registered definition and
// starts it asynchronously. It returns the execution id immediately;
// callers observe progress with GetExecution.
func (e *Engine) SubmitExecution(ctx context.Context, principal, name, version string, input map[string]any) (string, error) {
	ref := name + "@" + version

	if !e.authorizer.Authorize(ctx, principal, auth.ActionExecute, ref) {
		return "", types.NewError(types.ErrUnauthorized,
			fmt.Sprintf("principal %q may not execute %s", principal, ref))
	}
	if e.limiter != nil && !e.limiter.Allow() {
		return "", types.NewError(types.ErrRateLimited, "submission rate limit exceeded").WithRetryable(true)
	}

	e.mu.RLock()
	closed := e.closed
	def, found := e.definitions[ref]
	e.mu.RUnlock()
	if closed {
		return "", types.NewError(types.ErrEngineOverloaded, "engine is shutting down")
	}
	if !found {
		return "", types.NewError(types.ErrDefinitionNotFound,
			fmt.Sprintf("definition %s is not registered", ref))
	}

	exec := &WorkflowExecution{
		ID:                uuid.NewString(),
		DefinitionName:    name,
		DefinitionVersion: version,
		Status:            ExecutionDraft,
		Context:           make(map[string]any, len(input)),
	}
	for k, v := range input {
		exec.Context[k] = v
	}

	// The catalog only holds validated definitions, so Draft moves
	// straight to Validated here.
	exec.Status = ExecutionValidated

	if err := e.store.Create(ctx, exec); err != nil {
		return "", fmt.Errorf("persist execution: %w", err)
	}

	if err := e.launch(def, exec); err != nil {
		return "", err
	}

	e.logger.Info("execution submitted",
		zap.String("execution_id", exec.ID),
		zap.String("definition", ref),
		zap.String("principal", principal),
	)
	return exec.ID, nil
}

// ResumeExecution rehydrates a persisted execution, typically after a
// process restart, and drives it onward from the durable step log.
func (e *Engine) ResumeExecution(ctx context.Context, executionID string) error {
	stored, err := e.store.Load(ctx, executionID)
	if err != nil {
		return err
	}
	if stored.Status.IsTerminal() {
		return types.NewError(types.ErrInvalidTransition,
			fmt.Sprintf("execution %s already settled as %s", executionID, stored.Status))
	}

	e.mu.RLock()
	def, found := e.definitions[stored.DefinitionRef()]
	e.mu.RUnlock()
	if !found {
		return types.NewError(types.ErrDefinitionNotFound,
			fmt.Sprintf("definition %s is not registered", stored.DefinitionRef()))
	}

	coord, err := Rehydrate(ctx, executionID, def, e.coordinatorDeps())
	if err != nil {
		return err
	}
	if err := e.track(executionID, coord); err != nil {
		return err
	}

	e.logger.Info("execution resumed",
		zap.String("execution_id", executionID),
		zap.String("status", string(stored.Status)),
	)
	return nil
}

// GetExecution returns a point-in-time copy of an execution: the live
// coordinator's view while running, the persisted record afterwards.
func (e *Engine) GetExecution(ctx context.Context, principal, executionID string) (*WorkflowExecution, error) {
	if !e.authorizer.Authorize(ctx, principal, auth.ActionRead, executionID) {
		return nil, types.NewError(types.ErrUnauthorized,
			fmt.Sprintf("principal %q may not read execution %s", principal, executionID))
	}

	e.mu.RLock()
	coord, live := e.coordinators[executionID]
	e.mu.RUnlock()
	if live {
		return coord.Snapshot(), nil
	}

	stored, err := e.store.Load(ctx, executionID)
	if err != nil {
		if errors.Is(err, ErrExecutionNotFound) {
			return nil, types.NewError(types.ErrNotFound,
				fmt.Sprintf("execution %s not found", executionID))
		}
		return nil, err
	}
	// The store keeps the step log but not the fields derived from it;
	// rebuild those so callers see the same view a live snapshot gives.
	stored.HydrateOutputs()
	return stored, nil
}

// CancelExecution requests cooperative cancellation: in-flight steps
// settle first, then committed work is compensated. Cancelling a
// settled execution is an error.
func (e *Engine) CancelExecution(ctx context.Context, principal, executionID string) error {
	if !e.authorizer.Authorize(ctx, principal, auth.ActionCancel, executionID) {
		return types.NewError(types.ErrUnauthorized,
			fmt.Sprintf("principal %q may not cancel execution %s", principal, executionID))
	}

	e.mu.RLock()
	coord, live := e.coordinators[executionID]
	e.mu.RUnlock()
	if live {
		coord.Cancel()
		e.logger.Info("cancellation requested",
			zap.String("execution_id", executionID),
			zap.String("principal", principal),
		)
		return nil
	}

	stored, err := e.store.Load(ctx, executionID)
	if err != nil {
		if errors.Is(err, ErrExecutionNotFound) {
			return types.NewError(types.ErrNotFound,
				fmt.Sprintf("execution %s not found", executionID))
		}
		return err
	}
	return types.NewError(types.ErrInvalidTransition,
		fmt.Sprintf("execution %s is %s and cannot be cancelled", executionID, stored.Status))
}

// Shutdown stops admissions and waits for running executions to settle.
// Past the deadline, remaining coordinators are cancelled cooperatively.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	remaining := make([]*Coordinator, 0, len(e.coordinators))
	for _, c := range e.coordinators {
		remaining = append(remaining, c)
	}
	e.mu.Unlock()

	e.logger.Info("shutting down", zap.Int("running_executions", len(remaining)))

	done := make(chan struct{})
	go func() {
		for _, c := range remaining {
			<-c.Done()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		e.logger.Warn("deadline reached, cancelling remaining executions")
		e.runCancel()
		<-done
	}

	e.runCancel()
	return e.workers.Shutdown(context.Background())
}

// launch places a new coordinator on the worker pool.
func (e *Engine) launch(def *WorkflowDefinition, exec *WorkflowExecution) error {
	coord := NewCoordinator(def, exec, e.coordinatorDeps())
	return e.track(exec.ID, coord)
}

// track registers a coordinator as live and submits its run.
func (e *Engine) track(executionID string, coord *Coordinator) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return types.NewError(types.ErrEngineOverloaded, "engine is shutting down")
	}
	e.coordinators[executionID] = coord
	e.mu.Unlock()

	run := func() {
		defer func() {
			e.mu.Lock()
			delete(e.coordinators, executionID)
			e.mu.Unlock()
		}()
		if err := coord.Start(e.runCtx); err != nil {
			e.logger.Error("coordinator exited with error",
				zap.String("execution_id", executionID), zap.Error(err))
		}
	}

	if err := e.workers.Submit(run); err != nil {
		e.mu.Lock()
		delete(e.coordinators, executionID)
		e.mu.Unlock()
		// The execution stays Validated in the store and can be resumed
		// once capacity frees up.
		return types.NewError(types.ErrEngineOverloaded, "execution capacity exhausted").
			WithRetryable(true).WithCause(err)
	}
	return nil
}

// coordinatorDeps assembles per-execution collaborator wiring.
func (e *Engine) coordinatorDeps() CoordinatorDeps {
	scheduler := NewScheduler(e.registry, e.cfg.MaxConcurrentSteps, e.cfg.StepTimeout, e.logger)
	return CoordinatorDeps{
		Store:     e.store,
		Scheduler: scheduler,
		Publisher: e.publisher,
		Retry:     RetryPolicyFromConfig(e.cfg.Retry),
		Logger:    e.logger,
		Collector: e.collector,
	}
}

// WaitForExecution blocks until the execution settles or ctx expires.
// Primarily a convenience for tests and synchronous callers.
func (e *Engine) WaitForExecution(ctx context.Context, executionID string) error {
	e.mu.RLock()
	coord, live := e.coordinators[executionID]
	e.mu.RUnlock()
	if !live {
		return nil
	}
	select {
	case <-coord.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
