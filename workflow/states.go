package workflow

import "fmt"

// ExecutionStatus is the lifecycle state of a WorkflowExecution.
type ExecutionStatus string

const (
	// ExecutionDraft is a created but not yet validated execution.
	ExecutionDraft ExecutionStatus = "draft"
	// ExecutionValidated passed definition validation and may start.
	ExecutionValidated ExecutionStatus = "validated"
	// ExecutionRunning is the only state in which steps execute.
	ExecutionRunning ExecutionStatus = "running"
	// ExecutionCompleted is terminal: every step succeeded or was skipped.
	ExecutionCompleted ExecutionStatus = "completed"
	// ExecutionFailed is terminal: a step failed with nothing to undo.
	ExecutionFailed ExecutionStatus = "failed"
	// ExecutionCompensating unwinds previously succeeded steps.
	ExecutionCompensating ExecutionStatus = "compensating"
	// ExecutionCompensated is terminal: the unwind finished.
	ExecutionCompensated ExecutionStatus = "compensated"
	// ExecutionCancelled is terminal: the client cancelled the run.
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// validExecutionTransitions is the authoritative execution state table.
// No transition leaves a terminal state.
var validExecutionTransitions = map[ExecutionStatus][]ExecutionStatus{
	ExecutionDraft:        {ExecutionValidated, ExecutionFailed},
	ExecutionValidated:    {ExecutionRunning},
	ExecutionRunning:      {ExecutionCompleted, ExecutionFailed, ExecutionCompensating, ExecutionCancelled},
	ExecutionCompensating: {ExecutionCompensated, ExecutionCancelled, ExecutionFailed},
	ExecutionCompleted:    {},
	ExecutionFailed:       {},
	ExecutionCompensated:  {},
	ExecutionCancelled:    {},
}

// IsTerminal reports whether the execution status is terminal.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionCompensated, ExecutionCancelled:
		return true
	}
	return false
}

// CanTransition checks whether an execution state transition is legal.
func CanTransition(from, to ExecutionStatus) bool {
	for _, s := range validExecutionTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// StepStatus is the lifecycle state of a single StepExecution attempt.
type StepStatus string

const (
	// StepPending is dependency-complete and awaiting dispatch.
	StepPending StepStatus = "pending"
	// StepRunning has been dispatched to its executor.
	StepRunning StepStatus = "running"
	// StepSucceeded is terminal for the attempt; its output is committed.
	StepSucceeded StepStatus = "succeeded"
	// StepFailed is terminal for the attempt; a retry may follow.
	StepFailed StepStatus = "failed"
	// StepSkipped is terminal: a false conditional pruned this step. It
	// satisfies downstream dependencies but is recorded distinctly.
	StepSkipped StepStatus = "skipped"
	// StepCompensating marks a succeeded step whose undo is in flight.
	StepCompensating StepStatus = "compensating"
	// StepCompensated marks a finished undo (possibly a failed one; the
	// compensation error is recorded on the attempt).
	StepCompensated StepStatus = "compensated"
)

// validStepTransitions is the authoritative step state table. Failed →
// Pending models a retry attempt; Succeeded → Compensating models the
// owning execution entering compensation.
var validStepTransitions = map[StepStatus][]StepStatus{
	StepPending:      {StepRunning, StepSkipped},
	StepRunning:      {StepSucceeded, StepFailed},
	StepFailed:       {StepPending},
	StepSucceeded:    {StepCompensating},
	StepCompensating: {StepCompensated},
	StepSkipped:      {},
	StepCompensated:  {},
}

// SatisfiesDependency reports whether a step in this state unblocks its
// dependents. Skipped counts as satisfied but stays distinguishable in
// the record.
func (s StepStatus) SatisfiesDependency() bool {
	return s == StepSucceeded || s == StepSkipped
}

// IsSettled reports whether the attempt reached a per-step terminal
// state (no executor work in flight).
func (s StepStatus) IsSettled() bool {
	switch s {
	case StepSucceeded, StepFailed, StepSkipped, StepCompensated:
		return true
	}
	return false
}

// CanStepTransition checks whether a step state transition is legal.
func CanStepTransition(from, to StepStatus) bool {
	for _, s := range validStepTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ErrInvalidTransition reports an illegal state transition attempt.
type ErrInvalidTransition struct {
	From string
	To   string
}

func (e ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid state transition: %s -> %s", e.From, e.To)
}
