package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/sagaflow/config"
	"github.com/BaSui01/sagaflow/testutil"
	"github.com/BaSui01/sagaflow/workflow"
)

func TestNew_SelectsBackend(t *testing.T) {
	logger := zaptest.NewLogger(t)

	s, err := New(config.StoreConfig{Type: "memory"}, logger)
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	s, err = New(config.StoreConfig{}, logger)
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	_, err = New(config.StoreConfig{Type: "cassandra"}, logger)
	assert.Error(t, err)
}

// conformance runs the shared ExecutionStore contract against a backend.
func conformance(t *testing.T, newStore func(t *testing.T) workflow.ExecutionStore) {
	t.Run("create and load round trip", func(t *testing.T) {
		s := newStore(t)
		ctx := testutil.Context(t)

		require.NoError(t, s.Create(ctx, testutil.Execution("e1")))

		got, err := s.Load(ctx, "e1")
		require.NoError(t, err)
		assert.Equal(t, "e1", got.ID)
		assert.Equal(t, "order-fulfillment", got.DefinitionName)
		assert.Equal(t, workflow.ExecutionValidated, got.Status)
		assert.Equal(t, "o-42", got.Context["order_id"])
		assert.Equal(t, int64(0), got.Version)
	})

	t.Run("duplicate create rejected", func(t *testing.T) {
		s := newStore(t)
		ctx := testutil.Context(t)
		require.NoError(t, s.Create(ctx, testutil.Execution("e1")))
		err := s.Create(ctx, testutil.Execution("e1"))
		assert.ErrorIs(t, err, workflow.ErrExecutionExists)
	})

	t.Run("load missing execution", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Load(context.Background(), "ghost")
		assert.ErrorIs(t, err, workflow.ErrExecutionNotFound)
	})

	t.Run("append step builds the log in order", func(t *testing.T) {
		s := newStore(t)
		ctx := testutil.Context(t)
		require.NoError(t, s.Create(ctx, testutil.Execution("e1")))

		finished := time.Date(2026, 5, 1, 9, 1, 0, 0, time.UTC)
		require.NoError(t, s.AppendStep(ctx, "e1", workflow.StepExecution{
			StepID: "reserve", Attempt: 1, Status: workflow.StepRunning,
			StartedAt: finished.Add(-time.Second),
		}))
		require.NoError(t, s.AppendStep(ctx, "e1", workflow.StepExecution{
			StepID: "reserve", Attempt: 1, Status: workflow.StepSucceeded,
			StartedAt:  finished.Add(-time.Second),
			FinishedAt: &finished,
			Output:     map[string]any{"reservation": "r-9"},
		}))

		got, err := s.Load(ctx, "e1")
		require.NoError(t, err)
		require.Len(t, got.Steps, 2)
		assert.Equal(t, workflow.StepRunning, got.Steps[0].Status)
		assert.Equal(t, workflow.StepSucceeded, got.Steps[1].Status)

		rec, ok := got.LatestAttempt("reserve")
		require.True(t, ok)
		assert.Equal(t, workflow.StepSucceeded, rec.Status)
	})

	t.Run("append step to missing execution", func(t *testing.T) {
		s := newStore(t)
		err := s.AppendStep(context.Background(), "ghost", workflow.StepExecution{StepID: "x", Attempt: 1})
		assert.ErrorIs(t, err, workflow.ErrExecutionNotFound)
	})

	t.Run("compare and swap status", func(t *testing.T) {
		s := newStore(t)
		ctx := testutil.Context(t)
		require.NoError(t, s.Create(ctx, testutil.Execution("e1")))

		ok, err := s.CompareAndSwapStatus(ctx, "e1", 0, workflow.ExecutionRunning)
		require.NoError(t, err)
		assert.True(t, ok)

		// Stale version loses.
		ok, err = s.CompareAndSwapStatus(ctx, "e1", 0, workflow.ExecutionCompleted)
		require.NoError(t, err)
		assert.False(t, ok)

		// Fresh version wins.
		ok, err = s.CompareAndSwapStatus(ctx, "e1", 1, workflow.ExecutionCompleted)
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := s.Load(ctx, "e1")
		require.NoError(t, err)
		assert.Equal(t, workflow.ExecutionCompleted, got.Status)
		assert.Equal(t, int64(2), got.Version)
	})

	t.Run("compare and swap on missing execution", func(t *testing.T) {
		s := newStore(t)
		_, err := s.CompareAndSwapStatus(context.Background(), "ghost", 0, workflow.ExecutionRunning)
		assert.ErrorIs(t, err, workflow.ErrExecutionNotFound)
	})
}

func TestMemory_Conformance(t *testing.T) {
	conformance(t, func(t *testing.T) workflow.ExecutionStore {
		return NewMemory()
	})
}

func TestMemory_LoadReturnsCopy(t *testing.T) {
	s := NewMemory()
	ctx := testutil.Context(t)
	require.NoError(t, s.Create(ctx, testutil.Execution("e1")))

	first, err := s.Load(ctx, "e1")
	require.NoError(t, err)
	first.Context["order_id"] = "tampered"
	first.Status = workflow.ExecutionFailed

	second, err := s.Load(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "o-42", second.Context["order_id"])
	assert.Equal(t, workflow.ExecutionValidated, second.Status)
}
