package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExecutionTransitions(t *testing.T) {
	tests := []struct {
		from, to ExecutionStatus
		want     bool
	}{
		{ExecutionDraft, ExecutionValidated, true},
		{ExecutionDraft, ExecutionRunning, false},
		{ExecutionValidated, ExecutionRunning, true},
		{ExecutionRunning, ExecutionCompleted, true},
		{ExecutionRunning, ExecutionFailed, true},
		{ExecutionRunning, ExecutionCompensating, true},
		{ExecutionRunning, ExecutionCancelled, true},
		{ExecutionCompensating, ExecutionCompensated, true},
		{ExecutionCompensating, ExecutionCancelled, true},
		{ExecutionCompensating, ExecutionRunning, false},
		{ExecutionCompleted, ExecutionRunning, false},
		{ExecutionFailed, ExecutionCompensating, false},
		{ExecutionCancelled, ExecutionValidated, false},
		{ExecutionCompensated, ExecutionCompleted, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestExecutionStatus_IsTerminal(t *testing.T) {
	terminal := []ExecutionStatus{ExecutionCompleted, ExecutionFailed, ExecutionCompensated, ExecutionCancelled}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), "%s", s)
	}
	live := []ExecutionStatus{ExecutionDraft, ExecutionValidated, ExecutionRunning, ExecutionCompensating}
	for _, s := range live {
		assert.False(t, s.IsTerminal(), "%s", s)
	}
}

func TestStepTransitions(t *testing.T) {
	tests := []struct {
		from, to StepStatus
		want     bool
	}{
		{StepPending, StepRunning, true},
		{StepPending, StepSkipped, true},
		{StepRunning, StepSucceeded, true},
		{StepRunning, StepFailed, true},
		{StepFailed, StepPending, true}, // retry
		{StepSucceeded, StepCompensating, true},
		{StepCompensating, StepCompensated, true},
		{StepSucceeded, StepRunning, false},
		{StepSkipped, StepRunning, false},
		{StepCompensated, StepPending, false},
		{StepFailed, StepSucceeded, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanStepTransition(tt.from, tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestStepStatus_SatisfiesDependency(t *testing.T) {
	assert.True(t, StepSucceeded.SatisfiesDependency())
	assert.True(t, StepSkipped.SatisfiesDependency())
	assert.False(t, StepFailed.SatisfiesDependency())
	assert.False(t, StepRunning.SatisfiesDependency())
	assert.False(t, StepCompensated.SatisfiesDependency())
}

func TestErrInvalidTransition_Message(t *testing.T) {
	err := ErrInvalidTransition{From: "completed", To: "running"}
	assert.Contains(t, err.Error(), "completed")
	assert.Contains(t, err.Error(), "running")
}
