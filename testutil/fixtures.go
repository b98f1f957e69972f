package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/BaSui01/sagaflow/workflow"
)

// Execution builds a small validated execution fixture.
func Execution(id string) *workflow.WorkflowExecution {
	return &workflow.WorkflowExecution{
		ID:                id,
		DefinitionName:    "order-fulfillment",
		DefinitionVersion: "3",
		Status:            workflow.ExecutionValidated,
		Context:           map[string]any{"order_id": "o-42"},
		StartedAt:         time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	}
}

// Context returns a context bounded by a test-friendly timeout.
func Context(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}
