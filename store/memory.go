package store

import (
	"context"
	"sync"

	"github.com/BaSui01/sagaflow/workflow"
)

// Memory is an in-memory ExecutionStore. Suitable for development and
// tests; every record is gone when the process exits.
type Memory struct {
	mu    sync.RWMutex
	execs map[string]*workflow.WorkflowExecution
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{execs: make(map[string]*workflow.WorkflowExecution)}
}

// Create implements workflow.ExecutionStore.
func (s *Memory) Create(_ context.Context, exec *workflow.WorkflowExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.execs[exec.ID]; exists {
		return workflow.ErrExecutionExists
	}
	s.execs[exec.ID] = exec.Clone()
	return nil
}

// Load implements workflow.ExecutionStore.
func (s *Memory) Load(_ context.Context, executionID string) (*workflow.WorkflowExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exec, ok := s.execs[executionID]
	if !ok {
		return nil, workflow.ErrExecutionNotFound
	}
	return exec.Clone(), nil
}

// AppendStep implements workflow.ExecutionStore.
func (s *Memory) AppendStep(_ context.Context, executionID string, step workflow.StepExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.execs[executionID]
	if !ok {
		return workflow.ErrExecutionNotFound
	}
	exec.Steps = append(exec.Steps, step)
	return nil
}

// CompareAndSwapStatus implements workflow.ExecutionStore.
func (s *Memory) CompareAndSwapStatus(_ context.Context, executionID string, expectedVersion int64, newStatus workflow.ExecutionStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.execs[executionID]
	if !ok {
		return false, workflow.ErrExecutionNotFound
	}
	if exec.Version != expectedVersion {
		return false, nil
	}
	exec.Status = newStatus
	exec.Version++
	return true, nil
}

// Close implements workflow.ExecutionStore.
func (s *Memory) Close() error { return nil }

var _ workflow.ExecutionStore = (*Memory)(nil)
