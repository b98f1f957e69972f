package store

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/sagaflow/config"
	"github.com/BaSui01/sagaflow/testutil"
	"github.com/BaSui01/sagaflow/workflow"
)

func newSqliteStore(t *testing.T) workflow.ExecutionStore {
	t.Helper()
	s, err := NewGorm(config.StoreConfig{
		Type:    "sqlite",
		DSN:     ":memory:",
		Migrate: true,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGormSqlite_Conformance(t *testing.T) {
	conformance(t, newSqliteStore)
}

func TestGormSqlite_OutputSurvivesRoundTrip(t *testing.T) {
	s := newSqliteStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, testutil.Execution("e1")))

	require.NoError(t, s.AppendStep(ctx, "e1", workflow.StepExecution{
		StepID: "quote", Attempt: 1, Status: workflow.StepSucceeded,
		Output: map[string]any{"total": 19.5, "currency": "EUR"},
	}))

	got, err := s.Load(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, got.Steps, 1)
	out, ok := got.Steps[0].Output.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 19.5, out["total"])
	assert.Equal(t, "EUR", out["currency"])
}

// newMockedStore wires the store to sqlmock for asserting the exact SQL
// the version guard produces.
func newMockedStore(t *testing.T) (*Gorm, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)

	db, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 conn,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	t.Cleanup(func() { _ = conn.Close() })
	return NewGormFromDB(db, zaptest.NewLogger(t)), mock
}

func TestGorm_CompareAndSwap_VersionGuardInWhereClause(t *testing.T) {
	s, mock := newMockedStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "workflow_executions"`)).
		WithArgs("running", int64(4), "e1", int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := s.CompareAndSwapStatus(context.Background(), "e1", 3, workflow.ExecutionRunning)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGorm_CompareAndSwap_StaleVersionLoses(t *testing.T) {
	s, mock := newMockedStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "workflow_executions"`)).
		WithArgs("completed", int64(1), "e1", int64(0)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	// The store distinguishes a stale version from a missing row.
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM "workflow_executions"`)).
		WithArgs("e1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	ok, err := s.CompareAndSwapStatus(context.Background(), "e1", 0, workflow.ExecutionCompleted)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGorm_CompareAndSwap_MissingExecution(t *testing.T) {
	s, mock := newMockedStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "workflow_executions"`)).
		WithArgs("running", int64(1), "ghost", int64(0)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM "workflow_executions"`)).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	_, err := s.CompareAndSwapStatus(context.Background(), "ghost", 0, workflow.ExecutionRunning)
	assert.ErrorIs(t, err, workflow.ErrExecutionNotFound)
}
