package workflow

import (
	"sort"
	"time"
)

// StepExecution records one attempt of a step within an execution.
// Multiple records may exist per step id (one per retry, plus one per
// compensation); only the latest attempt is authoritative for
// dependency resolution.
type StepExecution struct {
	StepID     string     `json:"step_id"`
	Attempt    int        `json:"attempt"` // 1-based
	Status     StepStatus `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Output     any        `json:"output,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// WorkflowExecution is one instantiation of a definition against an
// input context. It is mutated exclusively by its Saga Coordinator and
// transitions monotonically forward; the engine never deletes it.
type WorkflowExecution struct {
	ID                string          `json:"id"`
	DefinitionName    string          `json:"definition_name"`
	DefinitionVersion string          `json:"definition_version"`
	Status            ExecutionStatus `json:"status"`
	// Context accumulates step outputs keyed by step id, seeded with the
	// submitted input.
	Context     map[string]any  `json:"context"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Steps       []StepExecution `json:"steps"` // append-only log
	// CompensationErrors records compensating actions that failed during
	// the unwind. Best-effort compensation: these never halt the unwind.
	CompensationErrors []string `json:"compensation_errors,omitempty"`
	// Version is the optimistic concurrency token for status writes.
	Version int64 `json:"version"`
}

// DefinitionRef returns the "name@version" reference of the definition
// this execution instantiates.
func (e *WorkflowExecution) DefinitionRef() string {
	return e.DefinitionName + "@" + e.DefinitionVersion
}

// LatestAttempts returns the authoritative (highest-attempt, latest)
// record per step id. Compensation records supersede the attempt they
// compensate for the same attempt number.
func (e *WorkflowExecution) LatestAttempts() map[string]*StepExecution {
	latest := make(map[string]*StepExecution)
	for i := range e.Steps {
		rec := &e.Steps[i]
		// Later records win at equal attempt numbers (compensation
		// records supersede the attempt they undo).
		if prev, ok := latest[rec.StepID]; !ok || rec.Attempt >= prev.Attempt {
			latest[rec.StepID] = rec
		}
	}
	return latest
}

// LatestAttempt returns the authoritative record for one step id.
func (e *WorkflowExecution) LatestAttempt(stepID string) (*StepExecution, bool) {
	var found *StepExecution
	for i := range e.Steps {
		if e.Steps[i].StepID == stepID {
			found = &e.Steps[i]
		}
	}
	return found, found != nil
}

// AttemptCount returns how many executor attempts (not compensation
// records) were made for a step.
func (e *WorkflowExecution) AttemptCount(stepID string) int {
	max := 0
	for i := range e.Steps {
		rec := &e.Steps[i]
		if rec.StepID == stepID && rec.Attempt > max {
			switch rec.Status {
			case StepCompensating, StepCompensated:
				// compensation records reuse the attempt number
			default:
				max = rec.Attempt
			}
		}
	}
	return max
}

// SucceededInCompletionOrder returns the succeeded steps ordered by
// actual completion time, falling back to definition order on exact
// ties. This is the stack compensation pops in reverse.
func (e *WorkflowExecution) SucceededInCompletionOrder(def *WorkflowDefinition) []string {
	type done struct {
		stepID     string
		finishedAt time.Time
		defIndex   int
	}
	var completed []done
	for stepID, rec := range e.LatestAttempts() {
		if rec.Status != StepSucceeded {
			continue
		}
		finished := rec.StartedAt
		if rec.FinishedAt != nil {
			finished = *rec.FinishedAt
		}
		completed = append(completed, done{stepID, finished, def.StepIndex(stepID)})
	}
	sort.Slice(completed, func(i, j int) bool {
		if completed[i].finishedAt.Equal(completed[j].finishedAt) {
			return completed[i].defIndex < completed[j].defIndex
		}
		return completed[i].finishedAt.Before(completed[j].finishedAt)
	})
	out := make([]string, len(completed))
	for i, c := range completed {
		out[i] = c.stepID
	}
	return out
}

// HydrateOutputs rebuilds the derived fields of a loaded execution from
// its step log: succeeded outputs folded back into the context, and for
// terminal executions a completion time taken from the last settle
// record. Stores persist the log, not the derivations.
func (e *WorkflowExecution) HydrateOutputs() {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	var last time.Time
	for i := range e.Steps {
		if f := e.Steps[i].FinishedAt; f != nil && f.After(last) {
			last = *f
		}
	}
	for stepID, rec := range e.LatestAttempts() {
		if rec.Status == StepSucceeded {
			e.Context[stepID] = rec.Output
		}
	}
	if e.Status.IsTerminal() && e.CompletedAt == nil && !last.IsZero() {
		e.CompletedAt = &last
	}
}

// Clone returns a deep copy safe to hand to callers polling the
// execution while the coordinator keeps mutating the original.
func (e *WorkflowExecution) Clone() *WorkflowExecution {
	cp := *e
	cp.Context = make(map[string]any, len(e.Context))
	for k, v := range e.Context {
		cp.Context[k] = v
	}
	cp.Steps = make([]StepExecution, len(e.Steps))
	copy(cp.Steps, e.Steps)
	cp.CompensationErrors = make([]string, len(e.CompensationErrors))
	copy(cp.CompensationErrors, e.CompensationErrors)
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
