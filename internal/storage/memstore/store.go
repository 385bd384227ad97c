// Package memstore keeps plugin rows, grants and execution logs in process
// memory. It backs the "memory" storage driver and the service tests.
package memstore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"Woe-Notify/pkg/plugin"
)

type permissionKey struct {
	userID     int64
	modulePath string
}

// Store 是线程安全的内存实现，语义与 SQL 存储保持一致。
type Store struct {
	mu          sync.RWMutex
	users       map[int64]plugin.User
	configs     map[int64]plugin.PluginConfig
	permissions map[permissionKey]time.Time
	logs        []plugin.PluginLog
	nextConfig  int64
	nextLog     int64
}

// New 创建一个空的内存存储。
func New() *Store {
	return &Store{
		users:       make(map[int64]plugin.User),
		configs:     make(map[int64]plugin.PluginConfig),
		permissions: make(map[permissionKey]time.Time),
	}
}

// Close 满足存储生命周期接口。
func (s *Store) Close() error { return nil }

// Ping 总是成功。
func (s *Store) Ping(context.Context) error { return nil }

// User 实现 plugin.Store。
func (s *Store) User(_ context.Context, userID int64) (plugin.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[userID]
	if !ok {
		return plugin.User{}, plugin.ErrUserNotFound
	}
	return user, nil
}

// EnsureUser 写入或更新账号标记。
func (s *Store) EnsureUser(_ context.Context, user plugin.User) error {
	if user.ID <= 0 {
		return errors.New("用户 ID 必须为正数")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	user.Name = strings.TrimSpace(user.Name)
	s.users[user.ID] = user
	return nil
}

// PermittedModules 实现 plugin.Store。
func (s *Store) PermittedModules(_ context.Context, userID int64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var modules []string
	for key := range s.permissions {
		if key.userID == userID {
			modules = append(modules, key.modulePath)
		}
	}
	sort.Strings(modules)
	return modules, nil
}

// GrantPermission 授予模块权限，重复授权不报错。
func (s *Store) GrantPermission(_ context.Context, userID int64, modulePath string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := permissionKey{userID: userID, modulePath: strings.TrimSpace(modulePath)}
	if _, ok := s.permissions[key]; !ok {
		s.permissions[key] = at
	}
	return nil
}

// RevokePermission 撤销授权，返回是否存在该授权。
func (s *Store) RevokePermission(_ context.Context, userID int64, modulePath string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := permissionKey{userID: userID, modulePath: strings.TrimSpace(modulePath)}
	_, ok := s.permissions[key]
	delete(s.permissions, key)
	return ok, nil
}

// EnabledConfigs 实现 plugin.Store，按 id 升序返回启用的配置。
func (s *Store) EnabledConfigs(_ context.Context, userID int64) ([]plugin.PluginConfig, error) {
	return s.selectConfigs(func(cfg plugin.PluginConfig) bool {
		return cfg.UserID == userID && cfg.Enabled
	}), nil
}

// ListConfigs 返回用户的全部配置，按 id 升序。
func (s *Store) ListConfigs(_ context.Context, userID int64) ([]plugin.PluginConfig, error) {
	return s.selectConfigs(func(cfg plugin.PluginConfig) bool {
		return cfg.UserID == userID
	}), nil
}

// GetConfig 返回单条配置。
func (s *Store) GetConfig(_ context.Context, userID, id int64) (plugin.PluginConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[id]
	if !ok || cfg.UserID != userID {
		return plugin.PluginConfig{}, plugin.ErrConfigNotFound
	}
	return cloneConfig(cfg), nil
}

// CreateConfig 插入配置并回填 ID。
func (s *Store) CreateConfig(_ context.Context, cfg *plugin.PluginConfig) error {
	if cfg == nil {
		return errors.New("插件配置不能为空")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.configs {
		if existing.Token == cfg.Token || (existing.UserID == cfg.UserID && existing.Name == cfg.Name) {
			return plugin.ErrConfigConflict
		}
	}
	s.nextConfig++
	cfg.ID = s.nextConfig
	s.configs[cfg.ID] = cloneConfig(*cfg)
	return nil
}

// UpdateConfigYAML 覆盖配置文本。
func (s *Store) UpdateConfigYAML(_ context.Context, userID, id int64, text string, at time.Time) error {
	return s.mutate(userID, id, func(cfg *plugin.PluginConfig) {
		cfg.ConfigYAML = text
		cfg.UpdatedAt = at
	})
}

// SetEnabled 切换启用状态。
func (s *Store) SetEnabled(_ context.Context, userID, id int64, enabled bool, at time.Time) error {
	return s.mutate(userID, id, func(cfg *plugin.PluginConfig) {
		cfg.Enabled = enabled
		cfg.UpdatedAt = at
	})
}

// DeleteConfig 删除配置及其执行日志。
func (s *Store) DeleteConfig(_ context.Context, userID, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[id]
	if !ok || cfg.UserID != userID {
		return plugin.ErrConfigNotFound
	}
	delete(s.configs, id)
	kept := s.logs[:0]
	for _, entry := range s.logs {
		if entry.PluginID == id && entry.UserID == userID {
			continue
		}
		kept = append(kept, entry)
	}
	s.logs = kept
	return nil
}

// InsertLog 实现 plugin.Store。
func (s *Store) InsertLog(_ context.Context, entry plugin.PluginLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextLog++
	entry.ID = s.nextLog
	s.logs = append(s.logs, entry)
	return nil
}

// ListLogs 返回插件最近的执行日志，按时间倒序。
func (s *Store) ListLogs(_ context.Context, userID, pluginID int64, limit int) ([]plugin.PluginLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []plugin.PluginLog
	for _, entry := range s.logs {
		if entry.PluginID == pluginID && entry.UserID == userID {
			result = append(result, entry)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// PruneLogs 删除早于 before 的执行日志。
func (s *Store) PruneLogs(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	kept := s.logs[:0]
	for _, entry := range s.logs {
		if entry.CreatedAt.Before(before) {
			removed++
			continue
		}
		kept = append(kept, entry)
	}
	s.logs = kept
	return removed, nil
}

// LogStats 汇总执行日志。
func (s *Store) LogStats(_ context.Context) (plugin.LogStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := plugin.LogStats{Total: int64(len(s.logs))}
	for _, entry := range s.logs {
		if stats.Oldest.IsZero() || entry.CreatedAt.Before(stats.Oldest) {
			stats.Oldest = entry.CreatedAt
		}
		if entry.CreatedAt.After(stats.Newest) {
			stats.Newest = entry.CreatedAt
		}
	}
	return stats, nil
}

func (s *Store) mutate(userID, id int64, apply func(*plugin.PluginConfig)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[id]
	if !ok || cfg.UserID != userID {
		return plugin.ErrConfigNotFound
	}
	apply(&cfg)
	s.configs[id] = cfg
	return nil
}

func (s *Store) selectConfigs(match func(plugin.PluginConfig) bool) []plugin.PluginConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []plugin.PluginConfig
	for _, cfg := range s.configs {
		if match(cfg) {
			result = append(result, cloneConfig(cfg))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func cloneConfig(cfg plugin.PluginConfig) plugin.PluginConfig {
	if cfg.Capabilities != nil {
		cfg.Capabilities = append([]plugin.Capability(nil), cfg.Capabilities...)
	}
	return cfg
}
