package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"Woe-Notify/pkg/plugin"
)

const insertLogSQL = `INSERT INTO plugin_logs (plugin_id, user_id, event, status, duration_ms, error, created_at)
    VALUES (?, ?, ?, ?, ?, ?, ?)`

const selectLogsSQL = `SELECT id, plugin_id, user_id, event, status, duration_ms, error, created_at
    FROM plugin_logs WHERE plugin_id = ? AND user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`

// InsertLog 实现 plugin.Store。
func (s *Store) InsertLog(ctx context.Context, entry plugin.PluginLog) error {
	var errText sql.NullString
	if entry.Error != "" {
		errText = sql.NullString{String: entry.Error, Valid: true}
	}
	status := 0
	if entry.Status == plugin.StatusOK {
		status = 1
	}
	if _, err := s.db.ExecContext(ctx, insertLogSQL,
		entry.PluginID, entry.UserID, string(entry.Event), status, entry.DurationMs, errText, toMillis(entry.CreatedAt),
	); err != nil {
		return fmt.Errorf("写入插件日志失败: %w", err)
	}
	return nil
}

// ListLogs 返回插件最近的执行日志，按时间倒序。
func (s *Store) ListLogs(ctx context.Context, userID, pluginID int64, limit int) ([]plugin.PluginLog, error) {
	rows, err := s.db.QueryContext(ctx, selectLogsSQL, pluginID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("查询插件日志失败: %w", err)
	}
	defer rows.Close()

	var logs []plugin.PluginLog
	for rows.Next() {
		var (
			entry     plugin.PluginLog
			event     string
			status    int
			errText   sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&entry.ID, &entry.PluginID, &entry.UserID, &event, &status, &entry.DurationMs, &errText, &createdAt); err != nil {
			return nil, fmt.Errorf("解析插件日志失败: %w", err)
		}
		entry.Event = plugin.Event(event)
		entry.Status = plugin.StatusError
		if status == 1 {
			entry.Status = plugin.StatusOK
		}
		entry.Error = errText.String
		entry.CreatedAt = fromMillis(createdAt)
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历插件日志失败: %w", err)
	}
	return logs, nil
}

// PruneLogs 删除早于 before 的执行日志，返回删除条数。
func (s *Store) PruneLogs(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM plugin_logs WHERE created_at < ?`, toMillis(before))
	if err != nil {
		return 0, fmt.Errorf("清理插件日志失败: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("读取清理结果失败: %w", err)
	}
	return affected, nil
}

// LogStats 汇总执行日志表。
func (s *Store) LogStats(ctx context.Context) (plugin.LogStats, error) {
	var (
		stats  plugin.LogStats
		oldest sql.NullInt64
		newest sql.NullInt64
	)
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*), MIN(created_at), MAX(created_at) FROM plugin_logs`)
	if err := row.Scan(&stats.Total, &oldest, &newest); err != nil {
		return plugin.LogStats{}, fmt.Errorf("统计插件日志失败: %w", err)
	}
	if oldest.Valid {
		stats.Oldest = fromMillis(oldest.Int64)
	}
	if newest.Valid {
		stats.Newest = fromMillis(newest.Int64)
	}
	return stats, nil
}
