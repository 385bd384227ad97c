package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"Woe-Notify/pkg/logger"
)

// ErrUnsupportedDriver 表示配置了未知的数据库驱动。
var ErrUnsupportedDriver = errors.New("暂不支持的存储驱动")

// Store 使用 database/sql 持久化插件配置、授权与执行日志。
type Store struct {
	db      *sql.DB
	dialect dialect
	logger  *slog.Logger
}

// Open 建立连接池并执行迁移。
func Open(ctx context.Context, cfg Config) (*Store, error) {
	d, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}
	db, err := openDatabase(ctx, d, cfg)
	if err != nil {
		return nil, err
	}
	store := &Store{db: db, dialect: d, logger: logger.Named("storage.sql")}
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewWithDB 使用已有连接池创建存储，不会执行迁移。
func NewWithDB(db *sql.DB, driver string) (*Store, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	if db == nil {
		return nil, errors.New("数据库连接不能为空")
	}
	return &Store{db: db, dialect: d, logger: logger.Named("storage.sql")}, nil
}

// Driver 返回当前使用的数据库方言。
func (s *Store) Driver() string { return s.dialect.name }

// Ping 检查数据库是否可用。
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close 释放底层连接池。
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
