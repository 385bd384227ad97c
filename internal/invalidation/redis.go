package invalidation

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisConfig 描述 Redis 连接参数。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// RedisBus 通过 Redis PUBLISH/SUBSCRIBE 传播失效通知。
type RedisBus struct {
	client  *redis.Client
	channel string
	codec   codec
}

// NewRedisBus 创建 Redis 总线并检查连通性。
func NewRedisBus(cfg RedisConfig, channel string) (*RedisBus, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &RedisBus{client: client, channel: channel, codec: newCodec("invalidation.redis")}, nil
}

// PublishInvalidation 实现 plugin.InvalidationPublisher。
func (b *RedisBus) PublishInvalidation(ctx context.Context, userID int64) error {
	payload, err := b.codec.encode(userID)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("Redis 发布失效通知失败: %w", err)
	}
	return nil
}

// Subscribe 订阅频道直到 ctx 结束。
func (b *RedisBus) Subscribe(ctx context.Context, recv Receiver) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("订阅 Redis 频道失败: %w", err)
	}
	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return redis.ErrClosed
			}
			b.codec.handle([]byte(msg.Payload), recv)
		}
	}
}

// Close 关闭 Redis 连接。
func (b *RedisBus) Close() error {
	if b == nil || b.client == nil {
		return nil
	}
	return b.client.Close()
}
