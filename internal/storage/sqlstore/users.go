package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"Woe-Notify/pkg/plugin"
)

const (
	selectUserSQL = `SELECT id, name, admin, disabled FROM users WHERE id = ?`

	upsertUserMySQL = `INSERT INTO users (id, name, admin, disabled) VALUES (?, ?, ?, ?)
    ON DUPLICATE KEY UPDATE name = VALUES(name), admin = VALUES(admin), disabled = VALUES(disabled)`

	upsertUserSQLite = `INSERT INTO users (id, name, admin, disabled) VALUES (?, ?, ?, ?)
    ON CONFLICT(id) DO UPDATE SET name = excluded.name, admin = excluded.admin, disabled = excluded.disabled`
)

// User 实现 plugin.Store。
func (s *Store) User(ctx context.Context, userID int64) (plugin.User, error) {
	var (
		user     plugin.User
		admin    int
		disabled int
	)
	row := s.db.QueryRowContext(ctx, selectUserSQL, userID)
	if err := row.Scan(&user.ID, &user.Name, &admin, &disabled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return plugin.User{}, plugin.ErrUserNotFound
		}
		return plugin.User{}, fmt.Errorf("查询用户失败: %w", err)
	}
	user.Admin = admin == 1
	user.Disabled = disabled == 1
	return user, nil
}

// EnsureUser 写入或更新账号标记。
func (s *Store) EnsureUser(ctx context.Context, user plugin.User) error {
	if user.ID <= 0 {
		return errors.New("用户 ID 必须为正数")
	}
	query := upsertUserSQLite
	if s.dialect.name == mysqlDialect.name {
		query = upsertUserMySQL
	}
	_, err := s.db.ExecContext(ctx, query, user.ID, strings.TrimSpace(user.Name), boolToInt(user.Admin), boolToInt(user.Disabled))
	if err != nil {
		return fmt.Errorf("写入用户失败: %w", err)
	}
	return nil
}
