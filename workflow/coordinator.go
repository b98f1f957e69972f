package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/BaSui01/sagaflow/events"
	"github.com/BaSui01/sagaflow/internal/metrics"
	"github.com/BaSui01/sagaflow/types"
)

// Coordinator orchestrates forward progress and failure recovery for
// exactly one WorkflowExecution. It is the single writer of the
// execution's context and log: step results arrive concurrently but are
// applied one at a time by the run loop. All coordinator state is
// derivable from the persisted StepExecution log, so a crashed
// coordinator can be rebuilt with Rehydrate.
type Coordinator struct {
	def       *WorkflowDefinition
	store     ExecutionStore
	scheduler *Scheduler
	publisher events.Publisher
	retry     RetryPolicy
	logger    *zap.Logger
	collector *metrics.Collector // optional

	// mu guards exec for Snapshot readers; only the run loop writes.
	mu   sync.RWMutex
	exec *WorkflowExecution

	results  chan StepResult
	retryCh  chan string
	cancelCh chan struct{}
	done     chan struct{}

	cancelOnce sync.Once

	// run-loop state, touched only by the run loop
	inflight       map[string]bool
	retryTimers    map[string]*time.Timer
	pendingRetries map[string]bool
	seen           map[attemptKey]bool
	completedStack []completedStep
	groupSems      map[string]*semaphore.Weighted
	fatal          *StepResult
	cancelled      bool
}

type attemptKey struct {
	stepID  string
	attempt int
}

// completedStep is one entry of the compensation stack: an explicit
// append-only list in completion order, so compensation never re-derives
// ordering from the dependency graph.
type completedStep struct {
	stepID     string
	finishedAt time.Time
}

// CoordinatorDeps bundles the collaborators a coordinator needs.
type CoordinatorDeps struct {
	Store     ExecutionStore
	Scheduler *Scheduler
	Publisher events.Publisher
	Retry     RetryPolicy
	Logger    *zap.Logger
	Collector *metrics.Collector
}

// NewCoordinator creates a coordinator for a validated execution.
func NewCoordinator(def *WorkflowDefinition, exec *WorkflowExecution, deps CoordinatorDeps) *Coordinator {
	publisher := deps.Publisher
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Coordinator{
		def:            def,
		exec:           exec,
		store:          deps.Store,
		scheduler:      deps.Scheduler,
		publisher:      publisher,
		retry:          deps.Retry.normalized(),
		logger:         deps.Logger.With(zap.String("component", "coordinator"), zap.String("execution_id", exec.ID)),
		collector:      deps.Collector,
		results:        make(chan StepResult, len(def.Steps)*4+16),
		retryCh:        make(chan string, len(def.Steps)+1),
		cancelCh:       make(chan struct{}),
		done:           make(chan struct{}),
		inflight:       make(map[string]bool),
		retryTimers:    make(map[string]*time.Timer),
		pendingRetries: make(map[string]bool),
		seen:           make(map[attemptKey]bool),
		groupSems:      make(map[string]*semaphore.Weighted),
	}
}

// Rehydrate rebuilds a coordinator from the execution store. Attempts
// that were still Running when the previous coordinator died are marked
// failed (interrupted) and fall back into the normal retry path.
func Rehydrate(ctx context.Context, executionID string, def *WorkflowDefinition, deps CoordinatorDeps) (*Coordinator, error) {
	exec, err := deps.Store.Load(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("load execution %s: %w", executionID, err)
	}

	c := NewCoordinator(def, exec, deps)

	// Replay the log: rebuild context and the compensation stack from
	// succeeded attempts in completion order.
	for _, stepID := range exec.SucceededInCompletionOrder(def) {
		rec, _ := exec.LatestAttempt(stepID)
		exec.Context[stepID] = rec.Output
		finished := rec.StartedAt
		if rec.FinishedAt != nil {
			finished = *rec.FinishedAt
		}
		c.completedStack = append(c.completedStack, completedStep{stepID: stepID, finishedAt: finished})
	}

	// Interrupted attempts have a Running record and no settle record.
	for stepID, rec := range exec.LatestAttempts() {
		if rec.Status != StepRunning {
			continue
		}
		now := time.Now()
		interrupted := StepExecution{
			StepID:     stepID,
			Attempt:    rec.Attempt,
			Status:     StepFailed,
			StartedAt:  rec.StartedAt,
			FinishedAt: &now,
			Error:      "attempt interrupted by coordinator restart",
		}
		c.appendStep(ctx, interrupted)
		c.logger.Warn("marked interrupted attempt failed",
			zap.String("step_id", stepID),
			zap.Int("attempt", rec.Attempt),
		)
	}

	return c, nil
}

// Snapshot returns a consistent deep copy of the execution.
func (c *Coordinator) Snapshot() *WorkflowExecution {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.exec.Clone()
}

// Done is closed when the execution reaches a terminal state.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Cancel requests cancellation. It is effective at the next safe point:
// in-flight attempts settle before any compensation begins, and no step
// is pre-empted mid-execution.
func (c *Coordinator) Cancel() {
	c.cancelOnce.Do(func() { close(c.cancelCh) })
}

// OnStepResult records an externally delivered step outcome, e.g. an
// asynchronous executor callback. Delivering the same (stepId, attempt)
// twice is a no-op the second time.
func (c *Coordinator) OnStepResult(stepID string, attempt int, output any, stepErr error) {
	res := StepResult{
		StepID:     stepID,
		Attempt:    attempt,
		Output:     output,
		Err:        stepErr,
		StartedAt:  time.Now(),
		FinishedAt: time.Now(),
	}
	select {
	case c.results <- res:
	case <-c.done:
		c.logger.Warn("dropping result for settled execution",
			zap.String("step_id", stepID), zap.Int("attempt", attempt))
	}
}

// Start validates preconditions and runs the execution to a terminal
// state. It blocks until the execution settles; callers run it on its
// own goroutine.
func (c *Coordinator) Start(ctx context.Context) error {
	defer close(c.done)

	if c.exec.Status.IsTerminal() {
		return nil
	}
	if c.exec.Status != ExecutionValidated && c.exec.Status != ExecutionRunning &&
		c.exec.Status != ExecutionCompensating {
		return ErrInvalidTransition{From: string(c.exec.Status), To: string(ExecutionRunning)}
	}

	ctx, span := otel.Tracer("sagaflow/workflow").Start(ctx, "workflow.execution",
		trace.WithAttributes(
			attribute.String("workflow.execution_id", c.exec.ID),
			attribute.String("workflow.definition", c.exec.DefinitionRef()),
		))
	defer func() {
		final := c.Snapshot().Status
		span.SetAttributes(attribute.String("workflow.status", string(final)))
		if final != ExecutionCompleted {
			span.SetStatus(codes.Error, string(final))
		}
		span.End()
	}()

	if c.exec.Status == ExecutionValidated {
		if !c.transition(ctx, ExecutionRunning) {
			return types.NewError(types.ErrVersionConflict, "could not enter running state")
		}
		c.setStartedAt(time.Now())
		if c.collector != nil {
			c.collector.ExecutionStarted()
		}
		c.publish(events.EventExecutionStarted, map[string]any{
			"definition": c.exec.DefinitionRef(),
		})
	} else if c.collector != nil {
		// Rehydrated mid-run execution re-enters the in-flight gauge.
		c.collector.ExecutionStarted()
	}

	// A rehydrated execution that was already compensating resumes the
	// unwind directly.
	if c.exec.Status == ExecutionCompensating {
		c.unwind(ctx)
		return nil
	}

	c.logger.Info("execution running",
		zap.String("definition", c.exec.DefinitionRef()),
		zap.Int("steps", len(c.def.Steps)),
	)

	c.resumeFailedAttempts()
	c.advance(ctx)

	for !c.settled() {
		select {
		case <-ctx.Done():
			// Engine shutdown: observe at the next safe point, like a
			// client cancel.
			c.cancelled = true
			c.stopRetryTimers()
			c.advance(ctx)
		case <-c.cancelCh:
			c.logger.Info("cancellation requested")
			c.cancelled = true
			c.stopRetryTimers()
			c.advance(ctx)
		case stepID := <-c.retryCh:
			c.applyRetry(ctx, stepID)
		case res := <-c.results:
			c.applyResult(ctx, res)
		}
	}
	return nil
}

// settled reports whether the execution reached a terminal state.
func (c *Coordinator) settled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.exec.Status.IsTerminal()
}

// applyRetry dispatches the next attempt for a step whose backoff
// elapsed. Serialized with result application by the run loop.
func (c *Coordinator) applyRetry(ctx context.Context, stepID string) {
	delete(c.pendingRetries, stepID)
	delete(c.retryTimers, stepID)
	if c.cancelled || c.fatal != nil || c.settled() {
		c.advance(ctx)
		return
	}
	step, ok := c.def.Step(stepID)
	if !ok {
		return
	}
	// A retried conditional re-enters through its predicate gate; only a
	// passing predicate reaches the executor.
	if step.Type == StepTypeConditional && !c.evaluateGate(ctx, *step) {
		c.advance(ctx)
		return
	}
	c.dispatch(ctx, *step)
}

// applyResult is the only place step outcomes mutate the execution.
func (c *Coordinator) applyResult(ctx context.Context, res StepResult) {
	key := attemptKey{stepID: res.StepID, attempt: res.Attempt}
	if c.seen[key] || c.attemptSettled(res.StepID, res.Attempt) {
		c.logger.Debug("duplicate result ignored",
			zap.String("step_id", res.StepID), zap.Int("attempt", res.Attempt))
		return
	}

	step, ok := c.def.Step(res.StepID)
	if !ok {
		c.fault(ctx, fmt.Sprintf("result for unknown step %q", res.StepID))
		return
	}

	// A fresh result for a step that already reached a satisfying
	// terminal state is an internal invariant violation.
	if latest, exists := c.latestAttempt(res.StepID); exists &&
		latest.Status.IsSettled() && latest.Status != StepFailed {
		c.fault(ctx, fmt.Sprintf("result for settled step %q attempt %d", res.StepID, res.Attempt))
		return
	}

	c.seen[key] = true
	delete(c.inflight, res.StepID)

	if res.Err != nil {
		c.recordFailure(ctx, *step, res)
	} else {
		c.recordSuccess(ctx, *step, res)
	}

	c.advance(ctx)
}

// recordSuccess commits a succeeded attempt: output into the context,
// settle record into the log, entry onto the compensation stack.
func (c *Coordinator) recordSuccess(ctx context.Context, step StepDefinition, res StepResult) {
	finished := res.FinishedAt
	rec := StepExecution{
		StepID:     res.StepID,
		Attempt:    res.Attempt,
		Status:     StepSucceeded,
		StartedAt:  res.StartedAt,
		FinishedAt: &finished,
		Output:     res.Output,
	}
	c.mu.Lock()
	c.exec.Steps = append(c.exec.Steps, rec)
	c.exec.Context[res.StepID] = res.Output
	c.mu.Unlock()
	c.persistStep(ctx, rec)

	c.completedStack = append(c.completedStack, completedStep{stepID: res.StepID, finishedAt: finished})

	c.logger.Info("step succeeded",
		zap.String("step_id", res.StepID),
		zap.Int("attempt", res.Attempt),
		zap.Duration("duration", finished.Sub(res.StartedAt)),
	)
	if c.collector != nil {
		c.collector.StepFinished(string(step.Type), string(StepSucceeded), finished.Sub(res.StartedAt))
	}
	c.publish(events.EventStepCompleted, map[string]any{
		"step_id": res.StepID,
		"attempt": res.Attempt,
	})
}

// recordFailure commits a failed attempt and either schedules a retry
// or marks the failure fatal for the execution.
func (c *Coordinator) recordFailure(ctx context.Context, step StepDefinition, res StepResult) {
	finished := res.FinishedAt
	rec := StepExecution{
		StepID:     res.StepID,
		Attempt:    res.Attempt,
		Status:     StepFailed,
		StartedAt:  res.StartedAt,
		FinishedAt: &finished,
		Error:      res.Err.Error(),
	}
	c.mu.Lock()
	c.exec.Steps = append(c.exec.Steps, rec)
	c.mu.Unlock()
	c.persistStep(ctx, rec)

	c.logger.Warn("step failed",
		zap.String("step_id", res.StepID),
		zap.Int("attempt", res.Attempt),
		zap.Error(res.Err),
	)
	if c.collector != nil {
		c.collector.StepFinished(string(step.Type), string(StepFailed), finished.Sub(res.StartedAt))
	}
	c.publish(events.EventStepFailed, map[string]any{
		"step_id": res.StepID,
		"attempt": res.Attempt,
		"error":   res.Err.Error(),
	})

	if c.cancelled || c.fatal != nil {
		return
	}

	if types.IsCode(res.Err, types.ErrCoordinatorFault) {
		c.fault(ctx, res.Err.Error())
		return
	}

	if !c.retry.Exhausted(res.Attempt) {
		delay := c.retry.Delay(res.Attempt + 1)
		c.pendingRetries[res.StepID] = true
		stepID := res.StepID
		c.retryTimers[stepID] = time.AfterFunc(delay, func() {
			select {
			case c.retryCh <- stepID:
			case <-c.done:
			}
		})
		if c.collector != nil {
			c.collector.StepRetried(string(step.Type))
		}
		c.logger.Info("retry scheduled",
			zap.String("step_id", res.StepID),
			zap.Int("next_attempt", res.Attempt+1),
			zap.Duration("delay", delay),
		)
		return
	}

	// Retries exhausted: reported, not fatal to the process. The single
	// execution degrades; the engine keeps serving others.
	c.logger.Warn("step retries exhausted",
		zap.String("step_id", res.StepID),
		zap.Int("attempts", res.Attempt),
	)
	failed := res
	c.fatal = &failed
	c.stopRetryTimers()
}

// advance moves the execution forward after any applied message: it
// dispatches newly unblocked steps, or finishes draining toward a
// terminal state once a fatal failure or cancellation is pending.
func (c *Coordinator) advance(ctx context.Context) {
	if c.settled() {
		return
	}

	if c.fatal == nil && !c.cancelled {
		c.dispatchEligible(ctx)
	}

	// Condition evaluation inside dispatchEligible can exhaust retries,
	// so the unwind check runs after dispatching.
	if c.fatal != nil || c.cancelled {
		if len(c.inflight) == 0 && len(c.pendingRetries) == 0 {
			c.unwind(ctx)
		}
		return
	}

	if len(c.inflight) == 0 && len(c.pendingRetries) == 0 && c.allSatisfied() {
		c.finalize(ctx, ExecutionCompleted, events.EventExecutionCompleted, nil)
	}
}

// dispatchEligible computes the ready set and dispatches it. Conditional
// steps evaluate their predicate here: a false predicate skips the step,
// and steps all of whose dependencies were skipped are skipped
// transitively.
func (c *Coordinator) dispatchEligible(ctx context.Context) {
	for progress := true; progress; {
		progress = false

		latest := c.latestAttempts()
		for i := range c.def.Steps {
			if c.fatal != nil {
				return
			}
			step := c.def.Steps[i]
			if c.inflight[step.ID] || c.pendingRetries[step.ID] {
				continue
			}
			// Any existing record means the step was already dispatched,
			// settled, or is between retry attempts.
			if _, ok := latest[step.ID]; ok {
				continue
			}

			satisfied, allSkipped := c.dependenciesState(step, latest)
			if !satisfied {
				continue
			}

			if len(step.DependsOn) > 0 && allSkipped {
				c.markSkipped(ctx, step, "all dependencies skipped")
				latest = c.latestAttempts()
				progress = true
				continue
			}

			if step.Type == StepTypeConditional && !c.evaluateGate(ctx, step) {
				latest = c.latestAttempts()
				progress = true
				continue
			}

			c.dispatch(ctx, step)
			latest = c.latestAttempts()
			progress = true
		}
	}
}

// evaluateGate runs a conditional step's predicate against the current
// context and reports whether the step may be dispatched. A false
// predicate settles the step as Skipped; an evaluation error records a
// failed attempt, which feeds the normal retry path.
func (c *Coordinator) evaluateGate(ctx context.Context, step StepDefinition) bool {
	pass, err := c.scheduler.EvaluateCondition(ctx, step, c.contextSnapshot())
	if err != nil {
		c.logger.Warn("condition evaluation failed",
			zap.String("step_id", step.ID), zap.Error(err))
		now := time.Now()
		res := StepResult{StepID: step.ID, Attempt: c.nextAttempt(step.ID), Err: err, StartedAt: now, FinishedAt: now}
		c.recordFailure(ctx, step, res)
		c.seen[attemptKey{step.ID, res.Attempt}] = true
		return false
	}
	if !pass {
		c.markSkipped(ctx, step, "predicate evaluated false")
		return false
	}
	return true
}

// dispatch launches one attempt of a step.
func (c *Coordinator) dispatch(ctx context.Context, step StepDefinition) {
	attempt := c.nextAttempt(step.ID)
	rec := StepExecution{
		StepID:    step.ID,
		Attempt:   attempt,
		Status:    StepRunning,
		StartedAt: time.Now(),
	}
	c.mu.Lock()
	c.exec.Steps = append(c.exec.Steps, rec)
	c.mu.Unlock()
	c.persistStep(ctx, rec)

	c.inflight[step.ID] = true
	c.scheduler.Dispatch(ctx, step, attempt, c.contextSnapshot(), c.groupSemFor(step), c.results)
}

// markSkipped records a Skipped terminal state for a step without
// dispatching it. Skipped satisfies downstream dependencies.
func (c *Coordinator) markSkipped(ctx context.Context, step StepDefinition, reason string) {
	now := time.Now()
	rec := StepExecution{
		StepID:     step.ID,
		Attempt:    c.nextAttempt(step.ID),
		Status:     StepSkipped,
		StartedAt:  now,
		FinishedAt: &now,
		Error:      "",
	}
	c.mu.Lock()
	c.exec.Steps = append(c.exec.Steps, rec)
	c.mu.Unlock()
	c.persistStep(ctx, rec)

	c.logger.Info("step skipped",
		zap.String("step_id", step.ID),
		zap.String("reason", reason),
	)
	if c.collector != nil {
		c.collector.StepFinished(string(step.Type), string(StepSkipped), 0)
	}
	c.publish(events.EventStepSkipped, map[string]any{
		"step_id": step.ID,
		"reason":  reason,
	})
}

// unwind drives the execution to its terminal state after a fatal
// failure or cancellation: straight to Failed/Cancelled when nothing
// succeeded, otherwise through sequential compensation.
func (c *Coordinator) unwind(ctx context.Context) {
	c.mu.RLock()
	compensating := c.exec.Status == ExecutionCompensating
	c.mu.RUnlock()

	if len(c.completedStack) == 0 {
		switch {
		case compensating:
			// Rehydrated after the last compensation finished.
			c.finalize(ctx, ExecutionCompensated, events.EventExecutionCompensated, nil)
		case c.cancelled:
			c.finalize(ctx, ExecutionCancelled, events.EventExecutionCancelled, nil)
		default:
			c.finalize(ctx, ExecutionFailed, events.EventExecutionFailed, c.fatalPayload())
		}
		return
	}

	if !compensating {
		if !c.transition(ctx, ExecutionCompensating) {
			c.fault(ctx, "could not enter compensating state")
			return
		}
		c.publish(events.EventExecutionCompensating, map[string]any{
			"steps_to_compensate": len(c.completedStack),
		})
	}
	c.logger.Info("compensating", zap.Int("steps", len(c.completedStack)))

	// Completion order with exact-timestamp ties broken by definition
	// order, the same rule a rehydrated stack is rebuilt with.
	sort.SliceStable(c.completedStack, func(i, j int) bool {
		a, b := c.completedStack[i], c.completedStack[j]
		if a.finishedAt.Equal(b.finishedAt) {
			return c.def.StepIndex(a.stepID) < c.def.StepIndex(b.stepID)
		}
		return a.finishedAt.Before(b.finishedAt)
	})

	// Strict reverse completion order, never parallel: compensating
	// actions may have implicit ordering dependencies the forward graph
	// does not express.
	var compensated []string
	for i := len(c.completedStack) - 1; i >= 0; i-- {
		entry := c.completedStack[i]
		c.compensateStep(ctx, entry.stepID)
		compensated = append(compensated, entry.stepID)
	}
	c.completedStack = nil

	final := ExecutionCompensated
	eventType := events.EventExecutionCompensated
	if c.cancelled {
		final = ExecutionCancelled
		eventType = events.EventExecutionCancelled
	}
	payload := map[string]any{"compensated_steps": compensated}
	for k, v := range c.fatalPayload() {
		payload[k] = v
	}
	c.finalize(ctx, final, eventType, payload)
}

// compensateStep invokes one step's compensating action. A compensation
// failure is recorded and surfaced in execution metadata but never
// halts the unwind and is never retried automatically.
func (c *Coordinator) compensateStep(ctx context.Context, stepID string) {
	step, ok := c.def.Step(stepID)
	if !ok {
		c.logger.Error("compensation for unknown step", zap.String("step_id", stepID))
		return
	}
	latest, _ := c.latestAttempt(stepID)
	attempt := 0
	if latest != nil {
		attempt = latest.Attempt
	}

	start := time.Now()
	running := StepExecution{
		StepID:    stepID,
		Attempt:   attempt,
		Status:    StepCompensating,
		StartedAt: start,
	}
	c.mu.Lock()
	c.exec.Steps = append(c.exec.Steps, running)
	c.mu.Unlock()
	c.persistStep(ctx, running)

	var compErr error
	result := "skipped"
	if step.Compensation != "" {
		compDef, _ := c.def.Compensation(step.Compensation)
		executor, _ := c.scheduler.registry.Resolve(step.Type)
		compensator, ok := executor.(Compensator)
		if !ok {
			compErr = types.NewError(types.ErrCompensation,
				fmt.Sprintf("executor for %q cannot compensate", step.Type)).WithStep(stepID, attempt)
		} else {
			// Compensation outlives cancellation: a cancelled run still
			// undoes its committed effects, bounded per action.
			compCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.scheduler.timeout)
			compErr = compensator.Compensate(compCtx, stepID, compDef.Config, c.contextSnapshot())
			cancel()
		}
		if compErr != nil {
			result = "failed"
		} else {
			result = "succeeded"
		}
	}

	now := time.Now()
	done := StepExecution{
		StepID:     stepID,
		Attempt:    attempt,
		Status:     StepCompensated,
		StartedAt:  start,
		FinishedAt: &now,
	}
	if compErr != nil {
		done.Error = compErr.Error()
	}
	c.mu.Lock()
	c.exec.Steps = append(c.exec.Steps, done)
	if compErr != nil {
		c.exec.CompensationErrors = append(c.exec.CompensationErrors,
			fmt.Sprintf("%s: %v", stepID, compErr))
	}
	c.mu.Unlock()
	c.persistStep(ctx, done)

	if compErr != nil {
		c.logger.Error("compensation failed, continuing unwind",
			zap.String("step_id", stepID), zap.Error(compErr))
	} else {
		c.logger.Info("step compensated", zap.String("step_id", stepID),
			zap.String("result", result))
	}
	if c.collector != nil {
		c.collector.CompensationFinished(result)
	}
	c.publish(events.EventStepCompensated, map[string]any{
		"step_id": stepID,
		"result":  result,
	})
}

// fault handles an internal invariant violation: logged as a defect and
// the execution force-marked Failed to avoid inconsistent state.
func (c *Coordinator) fault(ctx context.Context, msg string) {
	c.logger.Error("coordinator fault", zap.String("defect", msg))
	c.stopRetryTimers()
	c.finalize(ctx, ExecutionFailed, events.EventExecutionFailed, map[string]any{
		"fault": msg,
	})
}

// finalize commits the terminal status.
func (c *Coordinator) finalize(ctx context.Context, status ExecutionStatus, eventType events.EventType, payload map[string]any) {
	if c.settled() {
		return
	}
	if !c.transition(ctx, status) {
		// Reconciliation already adopted the stored state; nothing more
		// to write.
		if c.settled() {
			return
		}
		c.logger.Error("failed to commit terminal status", zap.String("status", string(status)))
	}
	now := time.Now()
	c.mu.Lock()
	c.exec.CompletedAt = &now
	started := c.exec.StartedAt
	def := c.exec.DefinitionRef()
	c.mu.Unlock()

	c.logger.Info("execution settled",
		zap.String("status", string(status)),
		zap.Duration("duration", now.Sub(started)),
	)
	if c.collector != nil {
		c.collector.ExecutionFinished(def, string(status), now.Sub(started))
	}
	c.publish(eventType, payload)
}

// transition applies a status change through the store's optimistic
// version check. On a stale version the coordinator never overwrites
// blindly: it reconciles from the latest persisted state and retries
// once.
func (c *Coordinator) transition(ctx context.Context, to ExecutionStatus) bool {
	c.mu.RLock()
	from := c.exec.Status
	version := c.exec.Version
	c.mu.RUnlock()

	if !CanTransition(from, to) {
		c.logger.Error("illegal transition rejected",
			zap.String("from", string(from)), zap.String("to", string(to)))
		return false
	}

	for attempt := 0; attempt < 2; attempt++ {
		ok, err := c.store.CompareAndSwapStatus(ctx, c.exec.ID, version, to)
		if err != nil {
			c.logger.Error("status write failed", zap.Error(err))
			return false
		}
		if ok {
			c.mu.Lock()
			c.exec.Status = to
			c.exec.Version = version + 1
			c.mu.Unlock()
			return true
		}

		// Stale version: reconcile from the store before retrying.
		stored, err := c.store.Load(ctx, c.exec.ID)
		if err != nil {
			c.logger.Error("reconcile load failed", zap.Error(err))
			return false
		}
		c.logger.Warn("version conflict, reconciling",
			zap.Int64("local_version", version),
			zap.Int64("stored_version", stored.Version),
		)
		version = stored.Version
		c.mu.Lock()
		c.exec.Version = stored.Version
		c.exec.Status = stored.Status
		c.mu.Unlock()
		if stored.Status.IsTerminal() || !CanTransition(stored.Status, to) {
			return false
		}
	}
	return false
}

// setStartedAt stamps the execution start.
func (c *Coordinator) setStartedAt(t time.Time) {
	c.mu.Lock()
	c.exec.StartedAt = t
	c.mu.Unlock()
}

// persistStep appends a step record to the durable log. Store errors
// are logged, not fatal: the in-memory record stays authoritative for
// this coordinator's lifetime.
func (c *Coordinator) persistStep(ctx context.Context, rec StepExecution) {
	if err := c.store.AppendStep(ctx, c.exec.ID, rec); err != nil {
		c.logger.Error("append step record failed",
			zap.String("step_id", rec.StepID),
			zap.String("status", string(rec.Status)),
			zap.Error(err),
		)
	}
}

// appendStep records and persists a step record (rehydration helper).
func (c *Coordinator) appendStep(ctx context.Context, rec StepExecution) {
	c.mu.Lock()
	c.exec.Steps = append(c.exec.Steps, rec)
	c.mu.Unlock()
	c.persistStep(ctx, rec)
}

// publish emits a lifecycle event without ever blocking the run loop.
func (c *Coordinator) publish(eventType events.EventType, payload map[string]any) {
	event := events.Event{
		Type:        eventType,
		ExecutionID: c.exec.ID,
		Timestamp:   time.Now(),
		Payload:     payload,
	}
	go func() {
		if err := c.publisher.Publish(context.Background(), event); err != nil {
			c.logger.Warn("event publish failed",
				zap.String("event_type", string(eventType)), zap.Error(err))
			if c.collector != nil {
				c.collector.PublishFailed()
			}
		}
	}()
}

// stopRetryTimers abandons all scheduled retries.
func (c *Coordinator) stopRetryTimers() {
	for stepID, timer := range c.retryTimers {
		timer.Stop()
		delete(c.retryTimers, stepID)
		delete(c.pendingRetries, stepID)
	}
}

// resumeFailedAttempts picks up steps whose latest record is Failed with
// no retry scheduled, which happens when a rehydrated execution carries
// interrupted or freshly failed attempts. No-op for fresh executions.
func (c *Coordinator) resumeFailedAttempts() {
	for stepID, rec := range c.latestAttempts() {
		if rec.Status != StepFailed || c.pendingRetries[stepID] {
			continue
		}
		if c.retry.Exhausted(rec.Attempt) {
			failed := StepResult{
				StepID:  stepID,
				Attempt: rec.Attempt,
				Err:     errors.New(rec.Error),
			}
			c.fatal = &failed
			return
		}
		delay := c.retry.Delay(rec.Attempt + 1)
		c.pendingRetries[stepID] = true
		id := stepID
		c.retryTimers[id] = time.AfterFunc(delay, func() {
			select {
			case c.retryCh <- id:
			case <-c.done:
			}
		})
	}
}

// attemptSettled reports whether a settle record for (stepID, attempt)
// is already in the log. Survives rehydration, unlike the seen map.
func (c *Coordinator) attemptSettled(stepID string, attempt int) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := range c.exec.Steps {
		rec := &c.exec.Steps[i]
		if rec.StepID == stepID && rec.Attempt == attempt && rec.Status.IsSettled() {
			return true
		}
	}
	return false
}

// latestAttempts snapshots the authoritative record per step.
func (c *Coordinator) latestAttempts() map[string]*StepExecution {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.exec.LatestAttempts()
}

// latestAttempt snapshots the authoritative record for one step.
func (c *Coordinator) latestAttempt(stepID string) (*StepExecution, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.exec.LatestAttempt(stepID)
}

// nextAttempt computes the 1-based attempt number for the next dispatch.
func (c *Coordinator) nextAttempt(stepID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.exec.AttemptCount(stepID) + 1
}

// contextSnapshot copies the execution context for a concurrent reader.
func (c *Coordinator) contextSnapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snapshot := make(map[string]any, len(c.exec.Context))
	for k, v := range c.exec.Context {
		snapshot[k] = v
	}
	return snapshot
}

// dependenciesState reports whether every dependency of step is
// satisfied, and whether all of them settled as Skipped.
func (c *Coordinator) dependenciesState(step StepDefinition, latest map[string]*StepExecution) (satisfied, allSkipped bool) {
	allSkipped = true
	for _, dep := range step.DependsOn {
		rec, ok := latest[dep]
		if !ok || !rec.Status.SatisfiesDependency() {
			return false, false
		}
		if rec.Status != StepSkipped {
			allSkipped = false
		}
	}
	return true, allSkipped
}

// allSatisfied reports whether every step settled as Succeeded or
// Skipped.
func (c *Coordinator) allSatisfied() bool {
	latest := c.latestAttempts()
	for i := range c.def.Steps {
		rec, ok := latest[c.def.Steps[i].ID]
		if !ok || !rec.Status.SatisfiesDependency() {
			return false
		}
	}
	return true
}

// fatalPayload describes the failure that triggered the unwind.
func (c *Coordinator) fatalPayload() map[string]any {
	if c.fatal == nil {
		return nil
	}
	return map[string]any{
		"failed_step": c.fatal.StepID,
		"attempts":    c.fatal.Attempt,
		"error":       c.fatal.Err.Error(),
	}
}

// groupSemFor returns the parallel-group semaphore bounding this step,
// when one of its dependencies is a parallel-group with a concurrency
// bound.
func (c *Coordinator) groupSemFor(step StepDefinition) *semaphore.Weighted {
	for _, dep := range step.DependsOn {
		parent, ok := c.def.Step(dep)
		if !ok || parent.Type != StepTypeParallelGroup || parent.MaxConcurrency <= 0 {
			continue
		}
		sem, exists := c.groupSems[parent.ID]
		if !exists {
			sem = semaphore.NewWeighted(parent.MaxConcurrency)
			c.groupSems[parent.ID] = sem
		}
		return sem
	}
	return nil
}
