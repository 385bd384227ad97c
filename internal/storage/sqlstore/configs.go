package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"Woe-Notify/pkg/plugin"
)

const configColumns = `id, user_id, name, token, module_path, icon, config_yaml, capabilities, author, license, website, enabled, created_at, updated_at`

const insertConfigSQL = `INSERT INTO plugin_configs
    (user_id, name, token, module_path, icon, config_yaml, capabilities, author, license, website, enabled, created_at, updated_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

type rowScanner interface {
	Scan(dest ...any) error
}

// EnabledConfigs 实现 plugin.Store，按 id 升序返回启用的配置。
func (s *Store) EnabledConfigs(ctx context.Context, userID int64) ([]plugin.PluginConfig, error) {
	return s.queryConfigs(ctx, `SELECT `+configColumns+`
    FROM plugin_configs WHERE user_id = ? AND enabled = 1 ORDER BY id ASC`, userID)
}

// ListConfigs 返回用户的全部配置，按 id 升序。
func (s *Store) ListConfigs(ctx context.Context, userID int64) ([]plugin.PluginConfig, error) {
	return s.queryConfigs(ctx, `SELECT `+configColumns+`
    FROM plugin_configs WHERE user_id = ? ORDER BY id ASC`, userID)
}

// GetConfig 返回单条配置；不存在或不属于该用户时返回 plugin.ErrConfigNotFound。
func (s *Store) GetConfig(ctx context.Context, userID, id int64) (plugin.PluginConfig, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+configColumns+`
    FROM plugin_configs WHERE id = ? AND user_id = ?`, id, userID)
	cfg, err := scanConfig(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return plugin.PluginConfig{}, plugin.ErrConfigNotFound
		}
		return plugin.PluginConfig{}, fmt.Errorf("查询插件配置失败: %w", err)
	}
	return cfg, nil
}

// CreateConfig 插入一条配置并回填 ID。名称或 token 重复时返回 plugin.ErrConfigConflict。
func (s *Store) CreateConfig(ctx context.Context, cfg *plugin.PluginConfig) error {
	if cfg == nil {
		return errors.New("插件配置不能为空")
	}
	caps, err := json.Marshal(cfg.Capabilities)
	if err != nil {
		return fmt.Errorf("序列化插件能力失败: %w", err)
	}
	result, err := s.db.ExecContext(ctx, insertConfigSQL,
		cfg.UserID, cfg.Name, cfg.Token, cfg.ModulePath, cfg.Icon, cfg.ConfigYAML, string(caps),
		cfg.Author, cfg.License, cfg.Website, boolToInt(cfg.Enabled),
		toMillis(cfg.CreatedAt), toMillis(cfg.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return plugin.ErrConfigConflict
		}
		return fmt.Errorf("写入插件配置失败: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("获取插件配置 ID 失败: %w", err)
	}
	cfg.ID = id
	return nil
}

// UpdateConfigYAML 覆盖配置文本。
func (s *Store) UpdateConfigYAML(ctx context.Context, userID, id int64, text string, at time.Time) error {
	return s.updateConfig(ctx, `UPDATE plugin_configs SET config_yaml = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		text, toMillis(at), id, userID)
}

// SetEnabled 切换启用状态。
func (s *Store) SetEnabled(ctx context.Context, userID, id int64, enabled bool, at time.Time) error {
	return s.updateConfig(ctx, `UPDATE plugin_configs SET enabled = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		boolToInt(enabled), toMillis(at), id, userID)
}

// DeleteConfig 删除配置及其执行日志。
func (s *Store) DeleteConfig(ctx context.Context, userID, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启删除事务失败: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM plugin_configs WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return rollback(tx, fmt.Errorf("删除插件配置失败: %w", err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return rollback(tx, fmt.Errorf("读取删除结果失败: %w", err))
	}
	if affected == 0 {
		return rollback(tx, plugin.ErrConfigNotFound)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM plugin_logs WHERE plugin_id = ? AND user_id = ?`, id, userID); err != nil {
		return rollback(tx, fmt.Errorf("删除插件日志失败: %w", err))
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交删除事务失败: %w", err)
	}
	return nil
}

func (s *Store) updateConfig(ctx context.Context, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("更新插件配置失败: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("读取更新结果失败: %w", err)
	}
	if affected == 0 {
		return plugin.ErrConfigNotFound
	}
	return nil
}

func (s *Store) queryConfigs(ctx context.Context, query string, args ...any) ([]plugin.PluginConfig, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询插件配置失败: %w", err)
	}
	defer rows.Close()

	var configs []plugin.PluginConfig
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("解析插件配置失败: %w", err)
		}
		configs = append(configs, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历插件配置失败: %w", err)
	}
	return configs, nil
}

func scanConfig(row rowScanner) (plugin.PluginConfig, error) {
	var (
		cfg       plugin.PluginConfig
		yamlText  sql.NullString
		caps      sql.NullString
		enabled   int
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(&cfg.ID, &cfg.UserID, &cfg.Name, &cfg.Token, &cfg.ModulePath, &cfg.Icon,
		&yamlText, &caps, &cfg.Author, &cfg.License, &cfg.Website, &enabled, &createdAt, &updatedAt); err != nil {
		return plugin.PluginConfig{}, err
	}
	cfg.ConfigYAML = yamlText.String
	if caps.Valid && caps.String != "" {
		if err := json.Unmarshal([]byte(caps.String), &cfg.Capabilities); err != nil {
			return plugin.PluginConfig{}, fmt.Errorf("解析插件能力失败: %w", err)
		}
	}
	cfg.Enabled = enabled == 1
	cfg.CreatedAt = fromMillis(createdAt)
	cfg.UpdatedAt = fromMillis(updatedAt)
	return cfg, nil
}
