package store

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/sagaflow/config"
	"github.com/BaSui01/sagaflow/workflow"
)

// New builds the execution store selected by configuration.
func New(cfg config.StoreConfig, logger *zap.Logger) (workflow.ExecutionStore, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemory(), nil
	case "redis":
		return NewRedis(cfg.Redis, logger)
	case "postgres", "mysql", "sqlite":
		return NewGorm(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown store type: %q", cfg.Type)
	}
}
