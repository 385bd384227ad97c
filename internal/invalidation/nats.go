package invalidation

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NATSConfig 描述 NATS 连接参数。
type NATSConfig struct {
	URL string
}

// NATSBus 通过 NATS 主题传播失效通知。
type NATSBus struct {
	conn    *nats.Conn
	subject string
	codec   codec
}

// NewNATSBus 连接 NATS 服务器。
func NewNATSBus(cfg NATSConfig, subject string) (*NATSBus, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	conn, err := nats.Connect(url, nats.Name("woed-invalidation"))
	if err != nil {
		return nil, fmt.Errorf("连接 NATS 失败: %w", err)
	}
	return &NATSBus{conn: conn, subject: subject, codec: newCodec("invalidation.nats")}, nil
}

// PublishInvalidation 实现 plugin.InvalidationPublisher。
func (b *NATSBus) PublishInvalidation(ctx context.Context, userID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := b.codec.encode(userID)
	if err != nil {
		return err
	}
	if err := b.conn.Publish(b.subject, payload); err != nil {
		return fmt.Errorf("NATS 发布失效通知失败: %w", err)
	}
	return nil
}

// Subscribe 订阅主题直到 ctx 结束。
func (b *NATSBus) Subscribe(ctx context.Context, recv Receiver) error {
	if b == nil || b.conn == nil {
		return errors.New("NATS 总线未初始化")
	}
	sub, err := b.conn.Subscribe(b.subject, func(msg *nats.Msg) {
		b.codec.handle(msg.Data, recv)
	})
	if err != nil {
		return fmt.Errorf("订阅 NATS 主题失败: %w", err)
	}
	defer sub.Unsubscribe()
	<-ctx.Done()
	return ctx.Err()
}

// Close 排空并关闭 NATS 连接。
func (b *NATSBus) Close() error {
	if b == nil || b.conn == nil {
		return nil
	}
	return b.conn.Drain()
}
