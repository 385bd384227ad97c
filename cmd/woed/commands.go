package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"Woe-Notify/internal/api"
	"Woe-Notify/internal/events"
	"Woe-Notify/internal/retention"
	"Woe-Notify/pkg/logger"
	"Woe-Notify/pkg/plugin"
)

// ServeCmd 启动插件引擎与管理 API。
type ServeCmd struct{}

// Run 运行服务直到收到退出信号。
func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := cli.load()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()
	rt.subscribe(ctx)

	if cfg.Retention.Enabled {
		cleaner, err := retention.NewCleaner(rt.store, retention.Config{
			Schedule: cfg.Retention.Schedule,
			KeepDays: cfg.Retention.KeepDays,
			OnPruned: rt.recorder.LogsPruned,
		})
		if err != nil {
			return err
		}
		cleaner.Start()
		defer cleaner.Stop()
	}

	opts := api.Options{
		Address:           cfg.Server.Address,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
		Plugins:           rt.plugins,
		Auth:              rt.auth,
		Health:            rt.store,
	}
	if cfg.Metrics.Enabled {
		opts.Metrics = rt.recorder
		opts.MetricsHandler = rt.recorder.Handler()
		opts.MetricsPath = cfg.Metrics.Path
	}
	server, err := api.NewServer(opts)
	if err != nil {
		return err
	}

	rt.logger.Info("woed 已启动",
		slog.String("storage", cfg.Storage.Driver),
		slog.String("invalidation", cfg.Invalidation.Driver),
		slog.Any("modules", rt.registry.Modules()),
	)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	rt.logger.Info("woed 已停止")
	return nil
}

// MigrateCmd 执行数据库迁移后退出。
type MigrateCmd struct{}

// Run 打开存储即会应用未执行的迁移。
func (c *MigrateCmd) Run(cli *CLI) error {
	cfg, err := cli.load()
	if err != nil {
		return err
	}
	if cfg.Storage.Driver == "memory" {
		logger.Named("woed").Info("内存存储无需迁移")
		return nil
	}
	st, err := openStore(context.Background(), cfg.Storage)
	if err != nil {
		return err
	}
	defer st.Close()
	logger.Named("woed").Info("数据库迁移完成", slog.String("driver", cfg.Storage.Driver), slog.String("config", cli.Config))
	return nil
}

// PruneLogsCmd 立即清理超过保留期的插件日志。
type PruneLogsCmd struct {
	KeepDays int `help:"Override retention.keep_days for this run"`
}

// Run 执行一次清理并输出结果。
func (c *PruneLogsCmd) Run(cli *CLI) error {
	cfg, err := cli.load()
	if err != nil {
		return err
	}
	ctx := context.Background()
	st, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer st.Close()

	keep := cfg.Retention.KeepDays
	if c.KeepDays > 0 {
		keep = c.KeepDays
	}
	cleaner, err := retention.NewCleaner(st, retention.Config{Schedule: cfg.Retention.Schedule, KeepDays: keep})
	if err != nil {
		return err
	}
	result, err := cleaner.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("清理插件日志失败: %w", err)
	}
	return printJSON(result)
}

// EmitCmd 手动触发一次事件，用于验证插件配置。
type EmitCmd struct {
	User     int64  `required:"" help:"Owner of the plugins to run"`
	Event    string `required:"" enum:"message.create,message.delete,application.create,client.create" help:"Event kind"`
	ID       int64  `help:"Message, application or client id"`
	AppID    int64  `name:"app-id" help:"Application id of the message"`
	Title    string `help:"Message title"`
	Message  string `help:"Message content, or application/client name"`
	Priority int    `default:"-1" help:"Message priority, omitted when negative"`
}

// Run 构造事件上下文并同步执行用户的插件。
func (c *EmitCmd) Run(cli *CLI) error {
	cfg, err := cli.load()
	if err != nil {
		return err
	}
	ctx := context.Background()
	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	source := events.NewSource(rt.manager)
	switch plugin.Event(c.Event) {
	case plugin.EventMessageCreate:
		msg := plugin.Message{ID: c.ID, AppID: c.AppID, Content: c.Message}
		if c.Priority >= 0 {
			msg.Priority = plugin.Int(c.Priority)
		}
		if c.Title != "" {
			msg.Title = plugin.String(c.Title)
		}
		source.MessageCreated(ctx, c.User, msg)
	case plugin.EventMessageDelete:
		if c.ID <= 0 {
			source.MessagesCleared(ctx, c.User)
		} else {
			source.MessageDeleted(ctx, c.User, c.ID)
		}
	case plugin.EventApplicationCreate:
		source.ApplicationCreated(ctx, c.User, plugin.Application{ID: c.ID, Name: c.Message})
	case plugin.EventClientCreate:
		source.ClientCreated(ctx, c.User, plugin.Client{ID: c.ID, Name: c.Message})
	default:
		return fmt.Errorf("未知事件: %s", c.Event)
	}

	loaded := rt.manager.LoadForUser(ctx, c.User)
	names := make([]string, 0, len(loaded))
	for _, p := range loaded {
		names = append(names, p.Name())
	}
	rt.logger.Info("事件已触发",
		slog.Int64("user_id", c.User),
		slog.String("event", c.Event),
		slog.String("plugins", strings.Join(names, ",")),
	)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
