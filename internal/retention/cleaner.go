// Package retention prunes old plugin execution logs on a cron schedule.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"Woe-Notify/pkg/logger"
	"Woe-Notify/pkg/plugin"
)

const (
	// DefaultKeepDays 是日志默认保留天数。
	DefaultKeepDays = 30
	// DefaultSchedule 是默认的清理计划。
	DefaultSchedule = "@daily"
)

// Store 是日志清理依赖的存储接口。
type Store interface {
	PruneLogs(ctx context.Context, before time.Time) (int64, error)
	LogStats(ctx context.Context) (plugin.LogStats, error)
}

// Config 描述清理策略。
type Config struct {
	Schedule string
	KeepDays int
	Timeout  time.Duration
	// OnPruned 在每次删除成功后收到删除条数。
	OnPruned func(removed int64)
}

// Result 是一次清理的结果。
type Result struct {
	Cutoff  time.Time       `json:"cutoff"`
	Removed int64           `json:"removed"`
	Stats   plugin.LogStats `json:"stats"`
}

// Cleaner 按计划删除超过保留期的插件日志。
type Cleaner struct {
	store    Store
	schedule cron.Schedule
	expr     string
	keep     time.Duration
	timeout  time.Duration
	onPruned func(int64)
	now      func() time.Time
	logger   *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	last    Result
	lastErr error
}

// NewCleaner 校验计划表达式并构造清理器。
func NewCleaner(store Store, cfg Config) (*Cleaner, error) {
	if store == nil {
		return nil, errors.New("日志存储不能为空")
	}
	expr := cfg.Schedule
	if expr == "" {
		expr = DefaultSchedule
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("无效的清理计划 %q: %w", expr, err)
	}
	keepDays := cfg.KeepDays
	if keepDays <= 0 {
		keepDays = DefaultKeepDays
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Cleaner{
		store:    store,
		schedule: schedule,
		expr:     expr,
		keep:     time.Duration(keepDays) * 24 * time.Hour,
		timeout:  timeout,
		onPruned: cfg.OnPruned,
		now:      time.Now,
		logger:   logger.Named("retention"),
	}, nil
}

// Next 返回 from 之后的下一次计划执行时间。
func (c *Cleaner) Next(from time.Time) time.Time {
	return c.schedule.Next(from)
}

// RunOnce 立即执行一次清理。
func (c *Cleaner) RunOnce(ctx context.Context) (Result, error) {
	cutoff := c.now().Add(-c.keep)
	removed, err := c.store.PruneLogs(ctx, cutoff)
	if err != nil {
		return Result{Cutoff: cutoff}, err
	}
	if c.onPruned != nil {
		c.onPruned(removed)
	}
	stats, err := c.store.LogStats(ctx)
	if err != nil {
		return Result{Cutoff: cutoff, Removed: removed}, err
	}
	return Result{Cutoff: cutoff, Removed: removed, Stats: stats}, nil
}

// Start 按计划在后台运行清理，直到调用 Stop。
func (c *Cleaner) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cron != nil {
		return
	}
	c.cron = cron.New(cron.WithChain(cron.Recover(cron.DiscardLogger)))
	c.cron.Schedule(c.schedule, cron.FuncJob(c.run))
	c.cron.Start()
	c.logger.Info("插件日志清理已启动", slog.String("schedule", c.expr), slog.Duration("keep", c.keep))
}

// Stop 停止计划并等待正在运行的清理结束。
func (c *Cleaner) Stop() {
	c.mu.Lock()
	scheduler := c.cron
	c.cron = nil
	c.mu.Unlock()
	if scheduler == nil {
		return
	}
	<-scheduler.Stop().Done()
}

// Last 返回最近一次计划清理的结果。
func (c *Cleaner) Last() (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last, c.lastErr
}

func (c *Cleaner) run() {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	result, err := c.RunOnce(ctx)
	c.mu.Lock()
	c.last, c.lastErr = result, err
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("插件日志清理失败", slog.Any("error", err))
		return
	}
	c.logger.Info("插件日志清理完成",
		slog.Int64("removed", result.Removed),
		slog.Int64("remaining", result.Stats.Total),
		slog.Time("cutoff", result.Cutoff))
}
