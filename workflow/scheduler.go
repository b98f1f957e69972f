package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/BaSui01/sagaflow/types"
)

// StepResult is the outcome of one dispatched step attempt.
type StepResult struct {
	StepID     string
	Attempt    int
	Output     any
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Scheduler dispatches ready steps to their registered executors. Steps
// in a ready set run concurrently, bounded by the per-execution ceiling
// and, for dependents of a parallel-group, by the group's own bound.
// Each dispatch carries a timeout; exceeding it is an executor failure.
type Scheduler struct {
	registry *Registry
	// ceiling bounds simultaneously running steps for one execution.
	// nil means unbounded.
	ceiling *semaphore.Weighted
	timeout time.Duration
	logger  *zap.Logger
}

// NewScheduler creates a scheduler for one execution. maxConcurrent <= 0
// means unbounded.
func NewScheduler(registry *Registry, maxConcurrent int64, timeout time.Duration, logger *zap.Logger) *Scheduler {
	var ceiling *semaphore.Weighted
	if maxConcurrent > 0 {
		ceiling = semaphore.NewWeighted(maxConcurrent)
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Scheduler{
		registry: registry,
		ceiling:  ceiling,
		timeout:  timeout,
		logger:   logger.With(zap.String("component", "scheduler")),
	}
}

// Dispatch launches one step attempt. The result is delivered on the
// results channel; the call itself never blocks on executor work.
// execContext must be a snapshot owned by the dispatched goroutine.
func (s *Scheduler) Dispatch(ctx context.Context, step StepDefinition, attempt int, execContext map[string]any, group *semaphore.Weighted, results chan<- StepResult) {
	go func() {
		startedAt := time.Now()

		send := func(output any, err error) {
			results <- StepResult{
				StepID:     step.ID,
				Attempt:    attempt,
				Output:     output,
				Err:        err,
				StartedAt:  startedAt,
				FinishedAt: time.Now(),
			}
		}

		if s.ceiling != nil {
			if err := s.ceiling.Acquire(ctx, 1); err != nil {
				send(nil, types.NewError(types.ErrExecutor, "dispatch aborted").
					WithStep(step.ID, attempt).WithCause(err))
				return
			}
			defer s.ceiling.Release(1)
		}
		if group != nil {
			if err := group.Acquire(ctx, 1); err != nil {
				send(nil, types.NewError(types.ErrExecutor, "dispatch aborted").
					WithStep(step.ID, attempt).WithCause(err))
				return
			}
			defer group.Release(1)
		}

		executor, ok := s.registry.Resolve(step.Type)
		if !ok {
			// Validation guarantees this; reaching it is a defect.
			send(nil, types.NewError(types.ErrCoordinatorFault,
				fmt.Sprintf("no executor for step type %q", step.Type)).WithStep(step.ID, attempt))
			return
		}

		s.logger.Debug("dispatching step",
			zap.String("step_id", step.ID),
			zap.String("step_type", string(step.Type)),
			zap.Int("attempt", attempt),
		)

		// The dispatch deadline is forwarded to the executor; honoring
		// cancellation mid-step is the executor's responsibility.
		stepCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		output, err := executor.Execute(stepCtx, step.ID, step.Config, execContext)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
				err = types.NewError(types.ErrTimeout, "step deadline exceeded").
					WithStep(step.ID, attempt).WithCause(err)
			}
			send(nil, err)
			return
		}
		send(output, nil)
	}()
}

// EvaluateCondition resolves the conditional step's predicate against
// the execution context. Called by the coordinator before a conditional
// step is considered ready.
func (s *Scheduler) EvaluateCondition(ctx context.Context, step StepDefinition, execContext map[string]any) (bool, error) {
	executor, ok := s.registry.Resolve(step.Type)
	if !ok {
		return false, types.NewError(types.ErrCoordinatorFault,
			fmt.Sprintf("no executor for step type %q", step.Type)).WithStep(step.ID, 0)
	}
	evaluator, ok := executor.(ConditionEvaluator)
	if !ok {
		return false, types.NewError(types.ErrExecutor,
			fmt.Sprintf("executor for %q cannot evaluate conditions", step.Type)).WithStep(step.ID, 0)
	}
	return evaluator.EvaluateCondition(ctx, step.Config, execContext)
}
