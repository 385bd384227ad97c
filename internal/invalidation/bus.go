package invalidation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"Woe-Notify/pkg/logger"
)

// DefaultChannel 是未配置时使用的频道、交换机或主题名。
const DefaultChannel = "woe.plugin.invalidate"

// Receiver 接收来自其他实例的失效通知。
type Receiver interface {
	InvalidateLocal(userID int64)
}

// Bus 发布并订阅失效通知。
type Bus interface {
	PublishInvalidation(ctx context.Context, userID int64) error
	// Subscribe 阻塞直到 ctx 结束或连接断开。
	Subscribe(ctx context.Context, recv Receiver) error
	Close() error
}

// Config 描述失效总线的连接参数。
type Config struct {
	Driver   string
	Channel  string
	Redis    RedisConfig
	RabbitMQ RabbitMQConfig
	NATS     NATSConfig
}

// New 根据驱动创建总线。驱动为空或 none 时返回 nil，表示仅在进程内失效。
func New(cfg Config) (Bus, error) {
	channel := strings.TrimSpace(cfg.Channel)
	if channel == "" {
		channel = DefaultChannel
	}
	var (
		bus Bus
		err error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "none":
		return nil, nil
	case "redis":
		bus, err = NewRedisBus(cfg.Redis, channel)
	case "rabbitmq", "amqp":
		bus, err = NewAMQPBus(cfg.RabbitMQ, channel)
	case "nats":
		bus, err = NewNATSBus(cfg.NATS, channel)
	default:
		return nil, fmt.Errorf("不支持的失效总线驱动: %s", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	return bus, nil
}

// Notice 是总线上传输的消息体。
type Notice struct {
	Origin string `json:"origin"`
	UserID int64  `json:"userId"`
}

// codec 负责编码通知并过滤本实例发出的回声。
type codec struct {
	origin string
	logger *slog.Logger
}

func newCodec(component string) codec {
	return codec{origin: uuid.NewString(), logger: logger.Named(component)}
}

func (c codec) encode(userID int64) ([]byte, error) {
	if userID <= 0 {
		return nil, errors.New("用户 ID 必须为正数")
	}
	return json.Marshal(Notice{Origin: c.origin, UserID: userID})
}

// handle 解码通知并转交给 recv，返回是否实际触发了失效。
func (c codec) handle(data []byte, recv Receiver) bool {
	var notice Notice
	if err := json.Unmarshal(data, &notice); err != nil {
		c.logger.Warn("丢弃无法解析的失效通知", slog.Any("error", err))
		return false
	}
	if notice.UserID <= 0 {
		c.logger.Warn("丢弃缺少用户 ID 的失效通知", slog.String("origin", notice.Origin))
		return false
	}
	if notice.Origin == c.origin {
		return false
	}
	recv.InvalidateLocal(notice.UserID)
	c.logger.Debug("收到远端失效通知", slog.Int64("user_id", notice.UserID), slog.String("origin", notice.Origin))
	return true
}
