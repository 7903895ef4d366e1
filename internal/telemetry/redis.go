package telemetry

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisConfig configures the Redis publisher
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	ChannelPrefix string
}

// RedisPublisher publishes JSON payloads on Redis pub/sub channels and keeps
// the latest value of each topic under a key of the same name
type RedisPublisher struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisPublisher creates the client and checks the server is reachable
func NewRedisPublisher(ctx context.Context, cfg RedisConfig, logger *zap.Logger) (*RedisPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis %s: %w", cfg.Addr, err)
	}

	return &RedisPublisher{
		client: client,
		prefix: cfg.ChannelPrefix,
		logger: logger.Named("redis"),
	}, nil
}

// Publish sends payload on channel prefix+topic and stores it as the latest value
func (p *RedisPublisher) Publish(ctx context.Context, topic string, payload any) error {
	data, err := encode(topic, payload)
	if err != nil {
		return err
	}

	channel := p.prefix + topic
	pipe := p.client.TxPipeline()
	pipe.Publish(ctx, channel, data)
	pipe.Set(ctx, channel, data, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}

	p.logger.Debug("published", zap.String("channel", channel), zap.ByteString("payload", data))
	return nil
}

// Close closes the client
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
