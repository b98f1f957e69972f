package workflow

import (
	"context"
	"errors"
)

// Store errors shared by all backends.
var (
	// ErrExecutionNotFound is returned when no execution has the id.
	ErrExecutionNotFound = errors.New("execution not found")
	// ErrExecutionExists is returned when creating a duplicate id.
	ErrExecutionExists = errors.New("execution already exists")
)

// ExecutionStore is the durable persistence contract the engine needs.
// The store is the only resource shared across coordinator instances;
// all writes to one execution funnel through that execution's single
// coordinator, so backends need only optimistic version checks, not
// row locking.
type ExecutionStore interface {
	// Create persists a new execution record.
	Create(ctx context.Context, exec *WorkflowExecution) error

	// Load returns the execution with the given id.
	Load(ctx context.Context, executionID string) (*WorkflowExecution, error)

	// AppendStep appends one StepExecution record to the execution's log.
	AppendStep(ctx context.Context, executionID string, step StepExecution) error

	// CompareAndSwapStatus transitions the execution's status iff the
	// stored version matches expectedVersion, bumping the version. A
	// false return means the caller holds a stale view and must
	// reconcile from the latest persisted state before writing again.
	CompareAndSwapStatus(ctx context.Context, executionID string, expectedVersion int64, newStatus ExecutionStatus) (bool, error)

	// Close releases backend resources.
	Close() error
}
