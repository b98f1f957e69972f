package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/sagaflow/config"
	"github.com/BaSui01/sagaflow/workflow"
)

// casScript swaps status and bumps version only when the stored version
// matches. Runs atomically server-side, so concurrent writers with a
// stale view always lose cleanly.
var casScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
local v = redis.call('HGET', KEYS[1], 'version')
if v == ARGV[1] then
  redis.call('HSET', KEYS[1], 'status', ARGV[2], 'version', tonumber(ARGV[1]) + 1)
  return 1
end
return 0
`)

// Redis is a Redis-backed ExecutionStore for distributed deployments.
// Execution metadata lives in a hash, the step log in a list, and a
// sorted set indexes all executions by creation time.
type Redis struct {
	client    *redis.Client
	keyPrefix string
	logger    *zap.Logger
}

// redisMeta is the serialized execution metadata (everything except the
// step log, which has its own append-only list).
type redisMeta struct {
	ID                string         `json:"id"`
	DefinitionName    string         `json:"definition_name"`
	DefinitionVersion string         `json:"definition_version"`
	Context           map[string]any `json:"context"`
	StartedAt         time.Time      `json:"started_at"`
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(cfg config.RedisConfig, logger *zap.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	keyPrefix := cfg.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "sagaflow:"
	}

	return &Redis{
		client:    client,
		keyPrefix: keyPrefix + "exec:",
		logger:    logger.With(zap.String("component", "redis_store")),
	}, nil
}

func (s *Redis) metaKey(id string) string  { return s.keyPrefix + "meta:" + id }
func (s *Redis) stepsKey(id string) string { return s.keyPrefix + "steps:" + id }
func (s *Redis) allKey() string            { return s.keyPrefix + "all" }

// Create implements workflow.ExecutionStore.
func (s *Redis) Create(ctx context.Context, exec *workflow.WorkflowExecution) error {
	meta := redisMeta{
		ID:                exec.ID,
		DefinitionName:    exec.DefinitionName,
		DefinitionVersion: exec.DefinitionVersion,
		Context:           exec.Context,
		StartedAt:         exec.StartedAt,
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal execution: %w", err)
	}

	created, err := s.client.HSetNX(ctx, s.metaKey(exec.ID), "data", data).Result()
	if err != nil {
		return err
	}
	if !created {
		return workflow.ErrExecutionExists
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, s.metaKey(exec.ID),
		"status", string(exec.Status),
		"version", strconv.FormatInt(exec.Version, 10),
	)
	pipe.ZAdd(ctx, s.allKey(), redis.Z{
		Score:  float64(time.Now().UnixNano()),
		Member: exec.ID,
	})
	for _, step := range exec.Steps {
		raw, err := json.Marshal(step)
		if err != nil {
			return fmt.Errorf("marshal step record: %w", err)
		}
		pipe.RPush(ctx, s.stepsKey(exec.ID), raw)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Load implements workflow.ExecutionStore.
func (s *Redis) Load(ctx context.Context, executionID string) (*workflow.WorkflowExecution, error) {
	fields, err := s.client.HGetAll(ctx, s.metaKey(executionID)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, workflow.ErrExecutionNotFound
	}

	var meta redisMeta
	if err := json.Unmarshal([]byte(fields["data"]), &meta); err != nil {
		return nil, fmt.Errorf("unmarshal execution %s: %w", executionID, err)
	}
	version, err := strconv.ParseInt(fields["version"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt version for execution %s: %w", executionID, err)
	}

	exec := &workflow.WorkflowExecution{
		ID:                meta.ID,
		DefinitionName:    meta.DefinitionName,
		DefinitionVersion: meta.DefinitionVersion,
		Status:            workflow.ExecutionStatus(fields["status"]),
		Context:           meta.Context,
		StartedAt:         meta.StartedAt,
		Version:           version,
	}
	if exec.Context == nil {
		exec.Context = make(map[string]any)
	}

	raws, err := s.client.LRange(ctx, s.stepsKey(executionID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	for _, raw := range raws {
		var step workflow.StepExecution
		if err := json.Unmarshal([]byte(raw), &step); err != nil {
			return nil, fmt.Errorf("unmarshal step record: %w", err)
		}
		exec.Steps = append(exec.Steps, step)
	}
	return exec, nil
}

// AppendStep implements workflow.ExecutionStore.
func (s *Redis) AppendStep(ctx context.Context, executionID string, step workflow.StepExecution) error {
	exists, err := s.client.Exists(ctx, s.metaKey(executionID)).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return workflow.ErrExecutionNotFound
	}
	raw, err := json.Marshal(step)
	if err != nil {
		return fmt.Errorf("marshal step record: %w", err)
	}
	return s.client.RPush(ctx, s.stepsKey(executionID), raw).Err()
}

// CompareAndSwapStatus implements workflow.ExecutionStore.
func (s *Redis) CompareAndSwapStatus(ctx context.Context, executionID string, expectedVersion int64, newStatus workflow.ExecutionStatus) (bool, error) {
	res, err := casScript.Run(ctx, s.client,
		[]string{s.metaKey(executionID)},
		strconv.FormatInt(expectedVersion, 10), string(newStatus),
	).Int()
	if err != nil {
		return false, err
	}
	switch res {
	case 1:
		return true, nil
	case -1:
		return false, workflow.ErrExecutionNotFound
	default:
		return false, nil
	}
}

// Ping checks store health.
func (s *Redis) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close implements workflow.ExecutionStore.
func (s *Redis) Close() error {
	return s.client.Close()
}

var _ workflow.ExecutionStore = (*Redis)(nil)
