package mysql

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"
	"time"

	"AgentForge/deploy/migrations"
)

var embeddedMigrations = migrations.Files

const (
	createMigrationTableSQL = `CREATE TABLE IF NOT EXISTS schema_migrations (
        version VARCHAR(32) NOT NULL PRIMARY KEY,
        applied_at BIGINT NOT NULL
)`
	selectMigrationVersionsSQL = `SELECT version FROM schema_migrations`
	insertMigrationVersionSQL  = `INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`
)

// migrationFile 是某个方言目录下的一份 SQL 脚本，文件名形如 0001_create_runs.sql。
type migrationFile struct {
	version    string
	name       string
	statements []string
}

// runMigrations 按版本顺序执行当前方言尚未记录的脚本，每个脚本一个事务。
func (s *SQLRunRepository) runMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createMigrationTableSQL); err != nil {
		return fmt.Errorf("%s: 创建 schema_migrations 表失败: %w", s.flavor().name, err)
	}
	done, err := s.appliedVersions(ctx)
	if err != nil {
		return err
	}
	files, err := loadMigrationFiles(s.flavor().migrationsDir)
	if err != nil {
		return err
	}
	for _, file := range files {
		if done[file.version] {
			continue
		}
		if err := s.apply(ctx, file); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLRunRepository) appliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, selectMigrationVersionsSQL)
	if err != nil {
		return nil, fmt.Errorf("查询已执行的迁移失败: %w", err)
	}
	defer rows.Close()

	done := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("读取迁移版本失败: %w", err)
		}
		done[version] = true
	}
	return done, rows.Err()
}

func (s *SQLRunRepository) apply(ctx context.Context, file migrationFile) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("迁移 %s: 开启事务失败: %w", file.name, err)
	}
	// Commit 之后 Rollback 不再触达驱动。
	defer tx.Rollback()

	for i, stmt := range file.statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("迁移 %s 第 %d 条语句失败: %w", file.name, i+1, err)
		}
	}
	if _, err := tx.ExecContext(ctx, insertMigrationVersionSQL, file.version, time.Now().Unix()); err != nil {
		return fmt.Errorf("迁移 %s: 记录版本失败: %w", file.name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("迁移 %s: 提交失败: %w", file.name, err)
	}
	return nil
}

// loadMigrationFiles 读取 dir 下的 *.sql，按版本号排序；没有语句的脚本被忽略。
func loadMigrationFiles(dir string) ([]migrationFile, error) {
	names, err := fs.Glob(embeddedMigrations, path.Join(dir, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("列出 %s 迁移失败: %w", dir, err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%s 目录下没有迁移脚本", dir)
	}

	files := make([]migrationFile, 0, len(names))
	for _, full := range names {
		content, err := fs.ReadFile(embeddedMigrations, full)
		if err != nil {
			return nil, fmt.Errorf("读取迁移 %s 失败: %w", full, err)
		}
		statements := splitSQLStatements(string(content))
		if len(statements) == 0 {
			continue
		}
		name := path.Base(full)
		files = append(files, migrationFile{
			version:    parseMigrationVersion(name),
			name:       name,
			statements: statements,
		})
	}
	slices.SortStableFunc(files, func(a, b migrationFile) int {
		if c := strings.Compare(a.version, b.version); c != 0 {
			return c
		}
		return strings.Compare(a.name, b.name)
	})
	return files, nil
}

// splitSQLStatements 去掉 "--" 注释行后按分号切分。
func splitSQLStatements(content string) []string {
	var body strings.Builder
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}

	var statements []string
	for _, stmt := range strings.Split(body.String(), ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			statements = append(statements, stmt)
		}
	}
	return statements
}

// parseMigrationVersion 取文件名中第一个下划线之前的部分作为版本。
func parseMigrationVersion(name string) string {
	base := strings.TrimSuffix(name, path.Ext(name))
	version, _, _ := strings.Cut(base, "_")
	return version
}
