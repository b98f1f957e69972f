package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisPublisher publishes events to a redis pub/sub channel.
// Suitable for distributed deployments where downstream consumers
// (notification delivery, audit logging) subscribe out of process.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	timeout time.Duration
	logger  *zap.Logger
}

// RedisPublisherConfig configures a RedisPublisher.
type RedisPublisherConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	// Channel is the pub/sub channel events are published to.
	Channel string
	// PublishTimeout bounds a single publish attempt.
	PublishTimeout time.Duration
}

// NewRedisPublisher creates a redis-backed event publisher and verifies
// connectivity.
func NewRedisPublisher(cfg RedisPublisherConfig, logger *zap.Logger) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	channel := cfg.Channel
	if channel == "" {
		channel = "sagaflow.events"
	}
	timeout := cfg.PublishTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	return &RedisPublisher{
		client:  client,
		channel: channel,
		timeout: timeout,
		logger:  logger.With(zap.String("component", "redis_publisher")),
	}, nil
}

// Publish implements Publisher. The publish is bounded by the configured
// timeout so a slow bus can never block a coordinator.
func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", p.channel, err)
	}
	return nil
}

// Close releases the redis client.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
