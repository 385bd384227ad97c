package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"Woe-Notify/pkg/logger"
)

// Config 描述了 woed 在启动阶段需要加载的全部配置。
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Log          logger.Config      `yaml:"log"`
	Storage      StorageConfig      `yaml:"storage"`
	Plugins      PluginsConfig      `yaml:"plugins"`
	Invalidation InvalidationConfig `yaml:"invalidation"`
	Retention    RetentionConfig    `yaml:"retention"`
	Auth         AuthConfig         `yaml:"auth"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

// ServerConfig 控制管理 API 的监听参数。
type ServerConfig struct {
	Address           string        `yaml:"address"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig 描述插件数据的存储后端。
type StorageConfig struct {
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// PluginsConfig 控制内置插件的行为。
type PluginsConfig struct {
	WebhookTimeout time.Duration `yaml:"webhook_timeout"`
	BuiltinAuthor  string        `yaml:"builtin_author"`
	BuiltinLicense string        `yaml:"builtin_license"`
}

// InvalidationConfig 描述跨实例缓存失效总线。
type InvalidationConfig struct {
	Driver   string         `yaml:"driver"`
	Channel  string         `yaml:"channel"`
	Redis    RedisConfig    `yaml:"redis"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	NATS     NATSConfig     `yaml:"nats"`
}

// RedisConfig 描述 Redis 连接参数。
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// RabbitMQConfig 描述 RabbitMQ 连接参数。
type RabbitMQConfig struct {
	URL string `yaml:"url"`
}

// NATSConfig 描述 NATS 连接参数。
type NATSConfig struct {
	URL string `yaml:"url"`
}

// RetentionConfig 控制插件日志的定期清理。
type RetentionConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
	KeepDays int    `yaml:"keep_days"`
}

// AuthConfig 保存静态访问令牌表。
type AuthConfig struct {
	Tokens []TokenConfig `yaml:"tokens"`
}

// TokenConfig 将一个访问令牌映射到用户。
type TokenConfig struct {
	Token    string `yaml:"token"`
	UserID   int64  `yaml:"user_id"`
	Name     string `yaml:"name"`
	Admin    bool   `yaml:"admin"`
	Disabled bool   `yaml:"disabled"`
}

// MetricsConfig 控制 Prometheus 指标端点。
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load 负责解析指定路径的 YAML 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg, err := Parse(content, filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse 解析配置内容，baseDir 用于解析相对路径。
func Parse(content []byte, baseDir string) (*Config, error) {
	cfg := Config{
		Retention: RetentionConfig{Enabled: true},
		Metrics:   MetricsConfig{Enabled: true},
	}
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	cfg.applyDefaults(baseDir)
	cfg.applyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ReadHeaderTimeout <= 0 {
		c.Server.ReadHeaderTimeout = 5 * time.Second
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Audit.Enabled && c.Log.Audit.Path != "" && !filepath.IsAbs(c.Log.Audit.Path) {
		c.Log.Audit.Path = filepath.Join(baseDir, c.Log.Audit.Path)
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	c.Storage.Driver = strings.ToLower(c.Storage.Driver)
	if c.Storage.Driver == "sqlite" {
		if c.Storage.DSN == "" {
			c.Storage.DSN = filepath.Join(baseDir, "data", "woe.db")
		} else if isRelativeFile(c.Storage.DSN) {
			c.Storage.DSN = filepath.Join(baseDir, c.Storage.DSN)
		}
	}

	if c.Plugins.WebhookTimeout <= 0 {
		c.Plugins.WebhookTimeout = 3 * time.Second
	}
	if c.Plugins.BuiltinAuthor == "" {
		c.Plugins.BuiltinAuthor = "Woe"
	}
	if c.Plugins.BuiltinLicense == "" {
		c.Plugins.BuiltinLicense = "MIT"
	}

	if c.Invalidation.Driver == "" {
		c.Invalidation.Driver = "none"
	}

	if c.Retention.Schedule == "" {
		c.Retention.Schedule = "@daily"
	}
	if c.Retention.KeepDays <= 0 {
		c.Retention.KeepDays = 30
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// applyEnv 使用 WOE_* 环境变量覆盖文件中的值。
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("WOE_SERVER_ADDRESS"); ok && v != "" {
		c.Server.Address = v
	}
	if v, ok := lookup("WOE_STORAGE_DRIVER"); ok && v != "" {
		c.Storage.Driver = strings.ToLower(v)
	}
	if v, ok := lookup("WOE_STORAGE_DSN"); ok && v != "" {
		c.Storage.DSN = v
	}
	if v, ok := lookup("WOE_INVALIDATION_DRIVER"); ok && v != "" {
		c.Invalidation.Driver = strings.ToLower(v)
	}
	if v, ok := lookup("WOE_LOG_LEVEL"); ok && v != "" {
		c.Log.Level = v
	}
}

// Validate 检查配置组合是否合法。
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory", "sqlite", "mysql":
	default:
		return fmt.Errorf("不支持的存储驱动: %s", c.Storage.Driver)
	}
	if c.Storage.Driver == "mysql" && c.Storage.DSN == "" {
		return errors.New("MySQL 存储需要配置 dsn")
	}
	switch strings.ToLower(c.Invalidation.Driver) {
	case "none", "redis", "rabbitmq", "nats":
	default:
		return fmt.Errorf("不支持的失效总线驱动: %s", c.Invalidation.Driver)
	}

	seenTokens := make(map[string]struct{}, len(c.Auth.Tokens))
	for i, token := range c.Auth.Tokens {
		if strings.TrimSpace(token.Token) == "" {
			return fmt.Errorf("auth.tokens[%d] 缺少 token", i)
		}
		if token.UserID <= 0 {
			return fmt.Errorf("auth.tokens[%d] 的 user_id 必须为正数", i)
		}
		if _, dup := seenTokens[token.Token]; dup {
			return fmt.Errorf("auth.tokens[%d] 的 token 重复", i)
		}
		seenTokens[token.Token] = struct{}{}
	}
	return nil
}

func isRelativeFile(dsn string) bool {
	if strings.HasPrefix(dsn, "file:") || strings.Contains(dsn, ":memory:") {
		return false
	}
	return !filepath.IsAbs(dsn)
}
