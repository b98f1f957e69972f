package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/sagaflow/config"
	"github.com/BaSui01/sagaflow/testutil"
	"github.com/BaSui01/sagaflow/workflow"
)

func newRedisStore(t *testing.T) workflow.ExecutionStore {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedis(config.RedisConfig{Addr: mr.Addr()}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRedis_Conformance(t *testing.T) {
	conformance(t, newRedisStore)
}

func TestRedis_ConnectFailure(t *testing.T) {
	_, err := NewRedis(config.RedisConfig{Addr: "127.0.0.1:1"}, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestRedis_KeyPrefixIsolation(t *testing.T) {
	mr := miniredis.RunT(t)
	logger := zaptest.NewLogger(t)

	a, err := NewRedis(config.RedisConfig{Addr: mr.Addr(), KeyPrefix: "tenant-a:"}, logger)
	require.NoError(t, err)
	defer a.Close()
	b, err := NewRedis(config.RedisConfig{Addr: mr.Addr(), KeyPrefix: "tenant-b:"}, logger)
	require.NoError(t, err)
	defer b.Close()

	ctx := context.Background()
	require.NoError(t, a.Create(ctx, testutil.Execution("e1")))

	_, err = b.Load(ctx, "e1")
	assert.ErrorIs(t, err, workflow.ErrExecutionNotFound)
}
