package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

// Config 描述数据库连接参数。
type Config struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	BusyTimeout     time.Duration
}

// dialect 记录不同数据库之间的语法差异。
type dialect struct {
	name         string
	driver       string
	insertIgnore string
}

var (
	mysqlDialect  = dialect{name: "mysql", driver: "mysql", insertIgnore: "INSERT IGNORE"}
	sqliteDialect = dialect{name: "sqlite", driver: "sqlite", insertIgnore: "INSERT OR IGNORE"}
)

func dialectFor(driver string) (dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "mysql":
		return mysqlDialect, nil
	case "sqlite", "sqlite3":
		return sqliteDialect, nil
	default:
		return dialect{}, fmt.Errorf("%w: %s", ErrUnsupportedDriver, driver)
	}
}

func openDatabase(ctx context.Context, d dialect, cfg Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("%s DSN 不能为空", d.name)
	}
	if d.name == sqliteDialect.name {
		if dir := filepath.Dir(sqlitePath(cfg.DSN)); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("创建 SQLite 数据目录失败: %w", err)
			}
		}
	}

	db, err := sql.Open(d.driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("连接 %s 失败: %w", d.name, err)
	}

	switch d.name {
	case sqliteDialect.name:
		// SQLite 只允许单个写连接。
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	default:
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		} else {
			db.SetMaxOpenConns(20)
		}
		if cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
		} else {
			db.SetMaxIdleConns(10)
		}
		if cfg.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		} else {
			db.SetConnMaxLifetime(30 * time.Minute)
		}
		if cfg.ConnMaxIdleTime > 0 {
			db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("无法连接到 %s: %w", d.name, err)
	}

	if d.name == sqliteDialect.name {
		busy := cfg.BusyTimeout
		if busy <= 0 {
			busy = 5 * time.Second
		}
		pragmas := []string{
			fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
			"PRAGMA journal_mode = WAL",
			"PRAGMA synchronous = NORMAL",
		}
		for _, pragma := range pragmas {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("设置 SQLite 参数失败 (%s): %w", pragma, err)
			}
		}
	}
	return db, nil
}

// sqlitePath 从 DSN 中提取文件路径，忽略 file: 前缀与查询参数。
func sqlitePath(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if idx := strings.IndexByte(path, '?'); idx >= 0 {
		path = path[:idx]
	}
	if path == ":memory:" || path == "" {
		return ""
	}
	return path
}
