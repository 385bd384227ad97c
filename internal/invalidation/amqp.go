package invalidation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQConfig 描述 RabbitMQ 连接参数。
type RabbitMQConfig struct {
	URL string
}

// AMQPBus 通过 fanout 交换机传播失效通知，每个实例绑定一个独占的临时队列。
type AMQPBus struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	mu       sync.Mutex
	exchange string
	codec    codec
}

// NewAMQPBus 连接 RabbitMQ 并声明交换机。
func NewAMQPBus(cfg RabbitMQConfig, exchange string) (*AMQPBus, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("创建 RabbitMQ channel 失败: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("声明 RabbitMQ 交换机失败: %w", err)
	}
	return &AMQPBus{conn: conn, ch: ch, exchange: exchange, codec: newCodec("invalidation.amqp")}, nil
}

// PublishInvalidation 实现 plugin.InvalidationPublisher。
func (b *AMQPBus) PublishInvalidation(ctx context.Context, userID int64) error {
	if b == nil || b.ch == nil {
		return errors.New("RabbitMQ 总线未初始化")
	}
	payload, err := b.codec.encode(userID)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ch.PublishWithContext(ctx, b.exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        payload,
	}); err != nil {
		return fmt.Errorf("RabbitMQ 发布失效通知失败: %w", err)
	}
	return nil
}

// Subscribe 声明独占队列并消费通知直到 ctx 结束。
func (b *AMQPBus) Subscribe(ctx context.Context, recv Receiver) error {
	if b == nil || b.conn == nil {
		return errors.New("RabbitMQ 总线未初始化")
	}
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("创建 RabbitMQ channel 失败: %w", err)
	}
	defer ch.Close()

	queue, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("声明 RabbitMQ 队列失败: %w", err)
	}
	if err := ch.QueueBind(queue.Name, "", b.exchange, false, nil); err != nil {
		return fmt.Errorf("绑定 RabbitMQ 队列失败: %w", err)
	}
	deliveries, err := ch.Consume(queue.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("订阅 RabbitMQ 队列失败: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-deliveries:
			if !ok {
				return amqp.ErrClosed
			}
			b.codec.handle(msg.Body, recv)
		}
	}
}

// Close 关闭 RabbitMQ 连接。
func (b *AMQPBus) Close() error {
	if b == nil {
		return nil
	}
	if b.ch != nil {
		_ = b.ch.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
