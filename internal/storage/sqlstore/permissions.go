package sqlstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// PermittedModules 实现 plugin.Store。
func (s *Store) PermittedModules(ctx context.Context, userID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT module_path FROM user_plugin_permissions WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("查询插件授权失败: %w", err)
	}
	defer rows.Close()

	var modules []string
	for rows.Next() {
		var module string
		if err := rows.Scan(&module); err != nil {
			return nil, fmt.Errorf("解析插件授权失败: %w", err)
		}
		modules = append(modules, module)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历插件授权失败: %w", err)
	}
	sort.Strings(modules)
	return modules, nil
}

// GrantPermission 授予用户加载某个模块的权限，重复授权不报错。
func (s *Store) GrantPermission(ctx context.Context, userID int64, modulePath string, at time.Time) error {
	query := s.dialect.insertIgnore + ` INTO user_plugin_permissions (user_id, module_path, created_at) VALUES (?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, userID, strings.TrimSpace(modulePath), toMillis(at)); err != nil {
		return fmt.Errorf("写入插件授权失败: %w", err)
	}
	return nil
}

// RevokePermission 撤销授权，返回是否存在该授权。
func (s *Store) RevokePermission(ctx context.Context, userID int64, modulePath string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM user_plugin_permissions WHERE user_id = ? AND module_path = ?`,
		userID, strings.TrimSpace(modulePath))
	if err != nil {
		return false, fmt.Errorf("删除插件授权失败: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("读取删除结果失败: %w", err)
	}
	return affected > 0, nil
}
