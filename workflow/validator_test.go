package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func builtinValidator(t *testing.T) *Validator {
	t.Helper()
	r := NewRegistry()
	require.NoError(t, RegisterBuiltins(r, nil))
	require.NoError(t, r.Register(StepTypeAgentCall, newScriptedExecutor(nil)))
	return NewValidator(r)
}

func validDef() *WorkflowDefinition {
	return &WorkflowDefinition{
		Name:    "order-fulfillment",
		Version: "1",
		Steps: []StepDefinition{
			{ID: "reserve", Type: StepTypeAgentCall, Compensation: "release"},
			{ID: "charge", Type: StepTypeAgentCall, DependsOn: []string{"reserve"}},
			{ID: "notify", Type: StepTypeTransform, DependsOn: []string{"charge"}},
		},
		Compensations: []CompensationDefinition{{Name: "release"}},
	}
}

func TestValidator_AcceptsValidDefinition(t *testing.T) {
	ok, errs := builtinValidator(t).Validate(validDef())
	assert.True(t, ok)
	assert.Empty(t, errs)
}

func TestValidator_Rules(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*WorkflowDefinition)
		wantRule string
	}{
		{
			name:     "missing identity",
			mutate:   func(d *WorkflowDefinition) { d.Name = "" },
			wantRule: RuleDefinitionIdentity,
		},
		{
			name:     "no steps",
			mutate:   func(d *WorkflowDefinition) { d.Steps = nil },
			wantRule: RuleStepsNonEmpty,
		},
		{
			name: "duplicate step id",
			mutate: func(d *WorkflowDefinition) {
				d.Steps = append(d.Steps, StepDefinition{ID: "reserve", Type: StepTypeTransform})
			},
			wantRule: RuleStepIDUnique,
		},
		{
			name: "unknown dependency",
			mutate: func(d *WorkflowDefinition) {
				d.Steps[1].DependsOn = []string{"ghost"}
			},
			wantRule: RuleDependencyExists,
		},
		{
			name: "cycle",
			mutate: func(d *WorkflowDefinition) {
				d.Steps[0].DependsOn = []string{"notify"}
			},
			wantRule: RuleGraphAcyclic,
		},
		{
			name: "self cycle",
			mutate: func(d *WorkflowDefinition) {
				d.Steps[2].DependsOn = []string{"notify"}
			},
			wantRule: RuleGraphAcyclic,
		},
		{
			name: "unregistered executor",
			mutate: func(d *WorkflowDefinition) {
				d.Steps[2].Type = StepType("webhook")
			},
			wantRule: RuleExecutorRegistered,
		},
		{
			name: "unknown compensation reference",
			mutate: func(d *WorkflowDefinition) {
				d.Steps[0].Compensation = "missing-action"
			},
			wantRule: RuleCompensationExists,
		},
		{
			name: "executor cannot compensate",
			mutate: func(d *WorkflowDefinition) {
				d.Steps[2].Compensation = "release"
			},
			wantRule: RuleCompensationCapable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := validDef()
			tt.mutate(def)
			ok, errs := builtinValidator(t).Validate(def)
			assert.False(t, ok)
			require.NotEmpty(t, errs)
			rules := make([]string, len(errs))
			for i, e := range errs {
				rules[i] = e.Rule
			}
			assert.Contains(t, rules, tt.wantRule)
		})
	}
}

func TestValidator_AccumulatesAllViolations(t *testing.T) {
	def := validDef()
	def.Name = ""
	def.Steps[1].DependsOn = []string{"ghost"}
	def.Steps[2].Type = StepType("webhook")

	ok, errs := builtinValidator(t).Validate(def)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, len(errs), 3)
}

func TestValidator_CycleReportsDeterministicStep(t *testing.T) {
	def := &WorkflowDefinition{
		Name: "cyclic", Version: "1",
		Steps: []StepDefinition{
			{ID: "a", Type: StepTypeTransform, DependsOn: []string{"c"}},
			{ID: "b", Type: StepTypeTransform, DependsOn: []string{"a"}},
			{ID: "c", Type: StepTypeTransform, DependsOn: []string{"b"}},
		},
	}
	v := builtinValidator(t)
	for i := 0; i < 5; i++ {
		ok, errs := v.Validate(def)
		assert.False(t, ok)
		require.Len(t, errs, 1)
		assert.Equal(t, "a", errs[0].StepID)
	}
}
