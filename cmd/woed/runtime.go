package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"Woe-Notify/internal/auth"
	"Woe-Notify/internal/config"
	"Woe-Notify/internal/invalidation"
	"Woe-Notify/internal/observability/metrics"
	"Woe-Notify/internal/pluginsvc"
	"Woe-Notify/internal/storage/memstore"
	"Woe-Notify/internal/storage/sqlstore"
	"Woe-Notify/pkg/logger"
	"Woe-Notify/pkg/plugin"
	"Woe-Notify/pkg/plugin/builtin"
)

// store 是 woed 使用的全部存储能力。
type store interface {
	pluginsvc.Store
	plugin.Store
	auth.UserWriter
	InsertLog(ctx context.Context, entry plugin.PluginLog) error
	PruneLogs(ctx context.Context, before time.Time) (int64, error)
	LogStats(ctx context.Context) (plugin.LogStats, error)
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ store = (*memstore.Store)(nil)
	_ store = (*sqlstore.Store)(nil)
)

// runtime 汇总进程内的核心组件。
type runtime struct {
	cfg      *config.Config
	store    store
	registry *plugin.Registry
	recorder *metrics.Recorder
	bus      invalidation.Bus
	manager  *plugin.Manager
	plugins  *pluginsvc.Service
	auth     *auth.Service
	logger   *slog.Logger
}

// openStore 根据驱动打开存储，SQL 驱动会先执行迁移。
func openStore(ctx context.Context, cfg config.StorageConfig) (store, error) {
	switch cfg.Driver {
	case "memory":
		return memstore.New(), nil
	case "sqlite", "mysql":
		st, err := sqlstore.Open(ctx, sqlstore.Config{
			Driver:          cfg.Driver,
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		})
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("%w: %s", sqlstore.ErrUnsupportedDriver, cfg.Driver)
	}
}

// newRuntime 按依赖顺序构造存储、注册表、管理器与管理服务。
func newRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	rt := &runtime{cfg: cfg, logger: logger.Named("woed")}

	st, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("打开存储失败: %w", err)
	}
	rt.store = st

	rt.registry = plugin.NewRegistry()
	if err := builtin.Register(rt.registry, builtin.Options{
		WebhookTimeout: cfg.Plugins.WebhookTimeout,
		Logger:         logger.Named("plugin.builtin"),
	}); err != nil {
		rt.Close()
		return nil, fmt.Errorf("注册内置插件失败: %w", err)
	}

	rt.recorder = metrics.NewRecorder(nil)

	bus, err := invalidation.New(invalidation.Config{
		Driver:  cfg.Invalidation.Driver,
		Channel: cfg.Invalidation.Channel,
		Redis: invalidation.RedisConfig{
			Address:  cfg.Invalidation.Redis.Address,
			Password: cfg.Invalidation.Redis.Password,
			DB:       cfg.Invalidation.Redis.DB,
		},
		RabbitMQ: invalidation.RabbitMQConfig{URL: cfg.Invalidation.RabbitMQ.URL},
		NATS:     invalidation.NATSConfig{URL: cfg.Invalidation.NATS.URL},
	})
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("连接失效总线失败: %w", err)
	}
	rt.bus = bus

	opts := []plugin.Option{
		plugin.WithLogger(logger.Named("plugin")),
		plugin.WithObserver(rt.recorder),
	}
	if bus != nil {
		opts = append(opts, plugin.WithInvalidationPublisher(bus))
	}
	rt.manager, err = plugin.NewManager(rt.registry, st, opts...)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.recorder.TrackCachedUsers(rt.manager.Cached)

	rt.plugins, err = pluginsvc.New(st, rt.registry, rt.manager, pluginsvc.WithDefaults(pluginsvc.Defaults{
		Author:  cfg.Plugins.BuiltinAuthor,
		License: cfg.Plugins.BuiltinLicense,
	}))
	if err != nil {
		rt.Close()
		return nil, err
	}

	tokens := make([]auth.Token, 0, len(cfg.Auth.Tokens))
	for _, t := range cfg.Auth.Tokens {
		tokens = append(tokens, auth.Token{Token: t.Token, UserID: t.UserID, Name: t.Name, Admin: t.Admin, Disabled: t.Disabled})
	}
	rt.auth, err = auth.NewService(tokens, st)
	if err != nil {
		rt.Close()
		return nil, err
	}
	if err := rt.auth.Seed(ctx, st); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

// subscribe 在后台接收其他实例的失效通知，连接断开后按退避重连。
func (rt *runtime) subscribe(ctx context.Context) {
	if rt.bus == nil {
		return
	}
	go func() {
		backoff := time.Second
		for {
			err := rt.bus.Subscribe(ctx, rt.manager)
			if ctx.Err() != nil {
				return
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				rt.logger.Warn("失效通知订阅中断", slog.Any("error", err), slog.Duration("retry_in", backoff))
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
		}
	}()
}

// Close 释放总线与存储连接。
func (rt *runtime) Close() {
	if rt.bus != nil {
		if err := rt.bus.Close(); err != nil {
			rt.logger.Warn("关闭失效总线失败", slog.Any("error", err))
		}
	}
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			rt.logger.Warn("关闭存储失败", slog.Any("error", err))
		}
	}
}
