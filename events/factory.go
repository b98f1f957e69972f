package events

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/sagaflow/config"
)

// New builds the configured publisher. An empty publisher name falls
// back to the log publisher.
func New(cfg config.EventsConfig, logger *zap.Logger) (Publisher, error) {
	switch cfg.Publisher {
	case "nop":
		return NopPublisher{}, nil
	case "log", "":
		return NewLogPublisher(logger), nil
	case "redis":
		return NewRedisPublisher(RedisPublisherConfig{
			Addr:           cfg.Redis.Addr,
			Password:       cfg.Redis.Password,
			DB:             cfg.Redis.DB,
			PoolSize:       cfg.Redis.PoolSize,
			Channel:        cfg.Channel,
			PublishTimeout: cfg.PublishTimeout,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown event publisher: %q", cfg.Publisher)
	}
}
