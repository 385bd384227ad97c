package pluginsvc

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	gonanoid "github.com/matoous/go-nanoid/v2"

	xerrors "Woe-Notify/internal/errors"
	"Woe-Notify/pkg/logger"
	"Woe-Notify/pkg/plugin"
	"Woe-Notify/pkg/plugin/builtin"
)

const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Store 是管理操作依赖的持久化接口。
type Store interface {
	User(ctx context.Context, userID int64) (plugin.User, error)
	PermittedModules(ctx context.Context, userID int64) ([]string, error)
	ListConfigs(ctx context.Context, userID int64) ([]plugin.PluginConfig, error)
	GetConfig(ctx context.Context, userID, id int64) (plugin.PluginConfig, error)
	CreateConfig(ctx context.Context, cfg *plugin.PluginConfig) error
	UpdateConfigYAML(ctx context.Context, userID, id int64, text string, at time.Time) error
	SetEnabled(ctx context.Context, userID, id int64, enabled bool, at time.Time) error
	DeleteConfig(ctx context.Context, userID, id int64) error
	ListLogs(ctx context.Context, userID, pluginID int64, limit int) ([]plugin.PluginLog, error)
	GrantPermission(ctx context.Context, userID int64, modulePath string, at time.Time) error
	RevokePermission(ctx context.Context, userID int64, modulePath string) (bool, error)
}

// Invalidator 丢弃用户的插件缓存。
type Invalidator interface {
	Invalidate(userID int64)
}

// Defaults 是内置插件落库时使用的元数据。
type Defaults struct {
	Author  string
	License string
}

// Option 调整 Service 的行为。
type Option func(*Service)

// WithClock 替换时间来源。
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithDefaults 设置内置插件的作者与许可证。
func WithDefaults(d Defaults) Option {
	return func(s *Service) {
		if d.Author != "" {
			s.defaults.Author = d.Author
		}
		if d.License != "" {
			s.defaults.License = d.License
		}
	}
}

// WithTokenGenerator 替换插件 token 生成函数。
func WithTokenGenerator(gen func() (string, error)) Option {
	return func(s *Service) {
		if gen != nil {
			s.token = gen
		}
	}
}

// Service 提供插件行的管理操作，每次变更后都会失效用户缓存。
type Service struct {
	store       Store
	registry    *plugin.Registry
	invalidator Invalidator
	defaults    Defaults
	now         func() time.Time
	token       func() (string, error)
	logger      *slog.Logger
	audit       *slog.Logger
}

// New 构造管理服务。
func New(store Store, registry *plugin.Registry, invalidator Invalidator, opts ...Option) (*Service, error) {
	if store == nil || registry == nil || invalidator == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "插件管理服务依赖未初始化")
	}
	s := &Service{
		store:       store,
		registry:    registry,
		invalidator: invalidator,
		defaults:    Defaults{Author: "Woe", License: "MIT"},
		now:         time.Now,
		token:       NewToken,
		logger:      logger.Named("pluginsvc"),
		audit:       logger.Audit(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NewToken 生成 "P" 加 10 位字母数字的插件 token。
func NewToken() (string, error) {
	id, err := gonanoid.Generate(tokenAlphabet, 10)
	if err != nil {
		return "", err
	}
	return "P" + id, nil
}

// EnsureDefaults 为用户补齐缺失的内置插件行，返回新建的条数。
func (s *Service) EnsureDefaults(ctx context.Context, userID int64) (int, error) {
	rows, err := s.store.ListConfigs(ctx, userID)
	if err != nil {
		return 0, storageError(err, "读取插件配置失败")
	}
	present := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		present[row.ModulePath] = struct{}{}
	}

	created := 0
	for _, def := range builtin.Definitions() {
		if _, ok := present[def.ModulePath]; ok {
			continue
		}
		token, err := s.token()
		if err != nil {
			return created, xerrors.Wrap(xerrors.CodeUnknown, err, "生成插件 token 失败")
		}
		now := s.now()
		row := &plugin.PluginConfig{
			UserID:       userID,
			Name:         def.Name,
			Token:        token,
			ModulePath:   def.ModulePath,
			Capabilities: append([]plugin.Capability(nil), def.Capabilities...),
			Author:       s.defaults.Author,
			License:      s.defaults.License,
			Enabled:      false,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.store.CreateConfig(ctx, row); err != nil {
			if stdErrors.Is(err, plugin.ErrConfigConflict) {
				s.logger.Debug("内置插件已存在，跳过", slog.Int64("user_id", userID), slog.String("module", def.ModulePath))
				continue
			}
			return created, storageError(err, "创建内置插件失败")
		}
		created++
	}
	if created > 0 {
		s.invalidator.Invalidate(userID)
		s.logger.Info("内置插件已创建", slog.Int64("user_id", userID), slog.Int("count", created))
	}
	return created, nil
}

// List 返回用户可见的插件，非管理员仅能看到已授权的模块。
func (s *Service) List(ctx context.Context, userID int64) ([]Entry, error) {
	if _, err := s.EnsureDefaults(ctx, userID); err != nil {
		return nil, err
	}
	policy, err := s.policy(ctx, userID)
	if err != nil {
		return nil, err
	}
	rows, err := s.store.ListConfigs(ctx, userID)
	if err != nil {
		return nil, storageError(err, "读取插件配置失败")
	}

	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		if !policy.Allows(row.ModulePath) {
			continue
		}
		entry := Entry{
			ID:           row.ID,
			Name:         row.Name,
			Token:        row.Token,
			ModulePath:   row.ModulePath,
			Enabled:      row.Enabled,
			Icon:         row.Icon,
			Capabilities: row.Capabilities,
			Author:       row.Author,
			License:      row.License,
			Website:      row.Website,
		}
		if caps, example, ok := s.registry.Describe(row.ModulePath); ok {
			entry.Capabilities = caps
			entry.ConfigExample = example
		}
		if entry.Capabilities == nil {
			entry.Capabilities = []plugin.Capability{}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// GetConfig 返回插件原始 YAML 配置，未配置时为空串。
func (s *Service) GetConfig(ctx context.Context, userID, id int64) (string, error) {
	row, err := s.row(ctx, userID, id)
	if err != nil {
		return "", err
	}
	return row.ConfigYAML, nil
}

// UpdateConfig 覆盖插件 YAML 配置并失效缓存。
func (s *Service) UpdateConfig(ctx context.Context, userID, id int64, text string) error {
	if _, err := s.row(ctx, userID, id); err != nil {
		return err
	}
	if err := validateConfig(text); err != nil {
		return err
	}
	if err := s.store.UpdateConfigYAML(ctx, userID, id, text, s.now()); err != nil {
		return s.mutationError(err, id, "更新插件配置失败")
	}
	s.invalidator.Invalidate(userID)
	s.audit.Info("plugin config updated", slog.Int64("user_id", userID), slog.Int64("plugin_id", id), slog.Int("bytes", len(text)))
	return nil
}

// SetEnabled 启用或停用插件并失效缓存。
func (s *Service) SetEnabled(ctx context.Context, userID, id int64, enabled bool) error {
	if _, err := s.row(ctx, userID, id); err != nil {
		return err
	}
	if err := s.store.SetEnabled(ctx, userID, id, enabled, s.now()); err != nil {
		return s.mutationError(err, id, "更新插件状态失败")
	}
	s.invalidator.Invalidate(userID)
	action := "plugin disabled"
	if enabled {
		action = "plugin enabled"
	}
	s.audit.Info(action, slog.Int64("user_id", userID), slog.Int64("plugin_id", id))
	return nil
}

// Delete 删除插件及其执行日志并失效缓存。
func (s *Service) Delete(ctx context.Context, userID, id int64) error {
	if _, err := s.row(ctx, userID, id); err != nil {
		return err
	}
	if err := s.store.DeleteConfig(ctx, userID, id); err != nil {
		return s.mutationError(err, id, "删除插件失败")
	}
	s.invalidator.Invalidate(userID)
	s.audit.Info("plugin deleted", slog.Int64("user_id", userID), slog.Int64("plugin_id", id))
	return nil
}

// Logs 返回插件最近的执行日志，按时间倒序。
func (s *Service) Logs(ctx context.Context, userID, id int64, limit int) ([]LogEntry, error) {
	if _, err := s.row(ctx, userID, id); err != nil {
		return nil, err
	}
	logs, err := s.store.ListLogs(ctx, userID, id, ClampLogLimit(limit))
	if err != nil {
		return nil, storageError(err, "读取插件日志失败")
	}
	entries := make([]LogEntry, 0, len(logs))
	for _, entry := range logs {
		entries = append(entries, LogEntry{
			ID:         entry.ID,
			Event:      entry.Event,
			Status:     entry.Status,
			DurationMs: entry.DurationMs,
			Error:      entry.Error,
			CreatedAt:  entry.CreatedAt,
		})
	}
	return entries, nil
}

// Display 渲染插件展示面板。插件停用或未实现渲染时 ok 为 false。
func (s *Service) Display(ctx context.Context, userID, id int64) (text string, ok bool, err error) {
	row, err := s.row(ctx, userID, id)
	if err != nil {
		return "", false, err
	}
	if !row.Enabled {
		return "", false, nil
	}
	instance := s.registry.Resolve(row.ModulePath, row.ID, row.Name)
	if instance == nil {
		return "", false, nil
	}
	renderer, isRenderer := instance.(plugin.DisplayRenderer)
	if !isRenderer {
		return "", false, nil
	}
	opts := plugin.InitOptions{Config: plugin.ParseConfig(row.ConfigYAML)}
	text, err = safeRender(ctx, instance, renderer, opts, plugin.Context{UserID: userID, Now: plugin.Timestamp(s.now())})
	if err != nil {
		s.logger.Warn("插件渲染失败", slog.Int64("user_id", userID), slog.Int64("plugin_id", id), slog.Any("error", err))
		return "", false, xerrors.Wrap(CodePluginRenderFailed, err, "插件渲染失败")
	}
	return text, true, nil
}

// Grant 授予用户加载模块的权限，仅管理员可操作。
func (s *Service) Grant(ctx context.Context, actor plugin.User, userID int64, modulePath string) (Grant, error) {
	modulePath, err := s.checkPermissionChange(actor, userID, modulePath)
	if err != nil {
		return Grant{}, err
	}
	before, err := s.store.PermittedModules(ctx, userID)
	if err != nil {
		return Grant{}, storageError(err, "读取插件授权失败")
	}
	if err := s.store.GrantPermission(ctx, userID, modulePath, s.now()); err != nil {
		return Grant{}, storageError(err, "写入插件授权失败")
	}
	changed := !contains(before, modulePath)
	s.invalidator.Invalidate(userID)
	s.audit.Info("plugin permission granted",
		slog.Int64("actor_id", actor.ID), slog.Int64("user_id", userID), slog.String("module", modulePath), slog.Bool("changed", changed))
	return Grant{Permission: plugin.Permission{UserID: userID, ModulePath: modulePath}, Changed: changed}, nil
}

// Revoke 撤销用户的模块权限，仅管理员可操作。
func (s *Service) Revoke(ctx context.Context, actor plugin.User, userID int64, modulePath string) (Grant, error) {
	modulePath, err := s.checkPermissionChange(actor, userID, modulePath)
	if err != nil {
		return Grant{}, err
	}
	changed, err := s.store.RevokePermission(ctx, userID, modulePath)
	if err != nil {
		return Grant{}, storageError(err, "删除插件授权失败")
	}
	s.invalidator.Invalidate(userID)
	s.audit.Info("plugin permission revoked",
		slog.Int64("actor_id", actor.ID), slog.Int64("user_id", userID), slog.String("module", modulePath), slog.Bool("changed", changed))
	return Grant{Permission: plugin.Permission{UserID: userID, ModulePath: modulePath}, Changed: changed}, nil
}

func (s *Service) checkPermissionChange(actor plugin.User, userID int64, modulePath string) (string, error) {
	if !actor.Admin {
		return "", xerrors.New(xerrors.CodePermissionDenied, "仅管理员可以调整插件授权")
	}
	if userID <= 0 {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "用户 ID 必须为正数")
	}
	modulePath = strings.TrimSpace(modulePath)
	if modulePath == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "模块路径不能为空")
	}
	if !s.registry.Has(modulePath) {
		return "", xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未注册的插件模块: %s", modulePath))
	}
	return modulePath, nil
}

// row 读取属于用户的插件行，并校验模块授权。
func (s *Service) row(ctx context.Context, userID, id int64) (plugin.PluginConfig, error) {
	row, err := s.store.GetConfig(ctx, userID, id)
	if err != nil {
		if stdErrors.Is(err, plugin.ErrConfigNotFound) {
			return plugin.PluginConfig{}, notFound(id)
		}
		return plugin.PluginConfig{}, storageError(err, "读取插件配置失败")
	}
	policy, err := s.policy(ctx, userID)
	if err != nil {
		return plugin.PluginConfig{}, err
	}
	if !policy.Allows(row.ModulePath) {
		return plugin.PluginConfig{}, xerrors.New(CodePluginPermissionDenied, "无权使用该插件模块",
			xerrors.WithMetadata("module", row.ModulePath))
	}
	return row, nil
}

func (s *Service) policy(ctx context.Context, userID int64) (plugin.AccessPolicy, error) {
	user, err := s.store.User(ctx, userID)
	if err != nil {
		if stdErrors.Is(err, plugin.ErrUserNotFound) {
			return plugin.AccessPolicy{}, xerrors.New(xerrors.CodeNotFound, "用户不存在")
		}
		return plugin.AccessPolicy{}, storageError(err, "读取用户失败")
	}
	policy, err := plugin.PolicyFor(user, func() ([]string, error) {
		return s.store.PermittedModules(ctx, userID)
	})
	if err != nil {
		return plugin.AccessPolicy{}, storageError(err, "读取插件授权失败")
	}
	return policy, nil
}

func (s *Service) mutationError(err error, id int64, message string) error {
	if stdErrors.Is(err, plugin.ErrConfigNotFound) {
		return notFound(id)
	}
	return storageError(err, message)
}

func notFound(id int64) error {
	return xerrors.New(CodePluginNotFound, fmt.Sprintf("插件 %d 不存在", id),
		xerrors.WithMetadata("plugin_id", fmt.Sprint(id)))
}

func storageError(err error, message string) error {
	if _, ok := xerrors.From(err); ok {
		return err
	}
	if stdErrors.Is(err, plugin.ErrConfigConflict) {
		return xerrors.Wrap(xerrors.CodeConflict, err, message)
	}
	return xerrors.Wrap(xerrors.CodeStorageFailure, err, message)
}

func safeRender(ctx context.Context, instance plugin.ExecutablePlugin, renderer plugin.DisplayRenderer, opts plugin.InitOptions, pctx plugin.Context) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plugin panicked: %v", r)
		}
	}()
	if err := instance.Init(opts); err != nil {
		return "", fmt.Errorf("init: %w", err)
	}
	return renderer.RenderDisplay(ctx, pctx)
}

// validateConfig 拒绝无法解析出任何键的非空配置。
func validateConfig(text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if !utf8.ValidString(text) {
		return xerrors.New(CodePluginConfigInvalid, "插件配置必须是 UTF-8 文本")
	}
	if len(plugin.ParseConfig(text)) > 0 {
		return nil
	}
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" && !strings.HasPrefix(trimmed, "#") {
			return xerrors.New(CodePluginConfigInvalid, "插件配置必须是键值映射")
		}
	}
	return nil
}

func contains(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}
