package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// sqliteFile 是 SQLite 数据库在数据目录下的文件名。
const sqliteFile = "runs.db"

// NewSQLiteRunRepository 在 dataDir 下打开（或创建）单文件 SQLite 数据库并执行迁移。
// 适合单机部署：无需外部数据库即可获得可查询的运行历史。
func NewSQLiteRunRepository(ctx context.Context, dataDir string) (*SQLRunRepository, error) {
	if strings.TrimSpace(dataDir) == "" {
		return nil, fmt.Errorf("SQLite 数据目录不能为空")
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	dsn := "file:" + filepath.Join(dataDir, sqliteFile) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("打开 SQLite 失败: %w", err)
	}
	// SQLite 只允许单写者。
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("无法连接到 SQLite: %w", err)
	}

	repo := &SQLRunRepository{db: db, dialect: sqliteDialect}
	if err := repo.runMigrations(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}
