package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"Woe-Notify/internal/config"
	"Woe-Notify/pkg/logger"
)

// CLI 定义 woed 的全局参数与子命令。
type CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"configs/woe.yaml" env:"WOE_CONFIG"`
	EnvFile string `help:"Environment file loaded before the configuration" default:".env"`
	Verbose bool   `short:"v" help:"Enable debug logging"`

	Serve     ServeCmd     `cmd:"" default:"1" help:"Run the plugin engine and its admin API"`
	Migrate   MigrateCmd   `cmd:"" help:"Apply pending database migrations and exit"`
	PruneLogs PruneLogsCmd `cmd:"" name:"prune-logs" help:"Delete plugin execution logs past the retention window"`
	Emit      EmitCmd      `cmd:"" help:"Fire one event at a user's plugins"`

	cfg *config.Config `kong:"-"`
}

// load 读取 .env 与配置文件并初始化日志。
func (c *CLI) load() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	if c.EnvFile != "" {
		if err := godotenv.Load(c.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("加载环境文件失败: %w", err)
		}
	}
	cfg, err := config.Load(c.Config)
	if err != nil {
		return nil, err
	}
	if c.Verbose {
		cfg.Log.Level = "debug"
	}
	if err := logger.Init(cfg.Log); err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	c.cfg = cfg
	return cfg, nil
}

// main 是 woed 守护进程的入口。
func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("woed"),
		kong.Description("Gotify-compatible plugin event engine."),
		kong.UsageOnError(),
	)
	err := kctx.Run(&cli)
	_ = logger.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "woed 运行失败: %v\n", err)
		os.Exit(1)
	}
}
