package mysql

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// RunRecord 是一次流水线运行的落库结构。
type RunRecord struct {
	ID          string          `json:"id"`
	Request     string          `json:"request"`
	Status      string          `json:"status"`
	Description string          `json:"description,omitempty"`
	FactSheet   json.RawMessage `json:"fact_sheet,omitempty"`
	ErrorCode   string          `json:"error_code,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   int64           `json:"created_at"`
	UpdatedAt   int64           `json:"updated_at"`
}

// RunRepository 抽象运行记录的持久化接口。Save 按 ID 覆盖写入。
type RunRepository interface {
	Save(ctx context.Context, record RunRecord) error
	Get(ctx context.Context, id string) (*RunRecord, error)
	ListLatest(ctx context.Context, limit int) ([]RunRecord, error)
	Close() error
}

// ErrRunNotFound 表示指定 ID 的运行不存在。
var ErrRunNotFound = errors.New("run not found")

const defaultListLimit = 20

// FileRunRepository 在内存中维护索引，并以 JSONL 追加写入本地文件。
type FileRunRepository struct {
	mu       sync.RWMutex
	dataFile string
	records  map[string]RunRecord
}

// NewFileRunRepository 创建文件仓库并回放已有日志，同一 ID 以最后一条为准。
func NewFileRunRepository(dataDir string) (*FileRunRepository, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	repo := &FileRunRepository{
		dataFile: filepath.Join(dataDir, "runs.log"),
		records:  make(map[string]RunRecord),
	}
	if err := repo.loadFromDisk(); err != nil {
		return nil, err
	}
	return repo, nil
}

// Save 追加一行 JSON 并更新内存索引。
func (m *FileRunRepository) Save(_ context.Context, record RunRecord) error {
	if record.ID == "" {
		return errors.New("运行记录缺少 ID")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("序列化运行记录失败: %w", err)
	}

	file, err := os.OpenFile(m.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开运行日志失败: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入运行日志失败: %w", err)
	}
	m.records[record.ID] = record
	return nil
}

// Get 返回指定运行。
func (m *FileRunRepository) Get(_ context.Context, id string) (*RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.records[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return &record, nil
}

// ListLatest 按创建时间倒序返回最近的运行。
func (m *FileRunRepository) ListLatest(_ context.Context, limit int) ([]RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]RunRecord, 0, len(m.records))
	for _, record := range m.records {
		results = append(results, record)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].CreatedAt == results[j].CreatedAt {
			return results[i].ID > results[j].ID
		}
		return results[i].CreatedAt > results[j].CreatedAt
	})
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit < len(results) {
		results = results[:limit]
	}
	return results, nil
}

// Close 对文件仓库无操作。
func (m *FileRunRepository) Close() error { return nil }

func (m *FileRunRepository) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取运行日志失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var record RunRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil || record.ID == "" {
			continue
		}
		m.records[record.ID] = record
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析运行日志失败: %w", err)
	}
	return nil
}

// SQLRunRepository 使用 MySQL 或 SQLite 存储运行记录。
type SQLRunRepository struct {
	db   *sql.DB
	dialect *dialect
}

// dialect 收敛两种数据库在 upsert 语法与迁移目录上的差异。
type dialect struct {
	name          string
	upsertSQL     string
	migrationsDir string
}

var (
	mysqlDialect  = &dialect{name: "mysql", upsertSQL: upsertRunSQL, migrationsDir: "mysql"}
	sqliteDialect = &dialect{name: "sqlite", upsertSQL: upsertRunSQLite, migrationsDir: "sqlite"}
)

// flavor 返回仓库使用的方言，未指定时为 MySQL。
func (s *SQLRunRepository) flavor() *dialect {
	if s.dialect == nil {
		return mysqlDialect
	}
	return s.dialect
}

// NewSQLRunRepository 建立连接池并执行内嵌迁移。
func NewSQLRunRepository(ctx context.Context, cfg Config) (*SQLRunRepository, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	repo := &SQLRunRepository{db: db, dialect: mysqlDialect}
	if err := repo.runMigrations(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

const upsertRunSQL = `INSERT INTO runs
    (id, request, status, description, fact_sheet, error_code, error, created_at, updated_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
    ON DUPLICATE KEY UPDATE status = VALUES(status), description = VALUES(description),
    fact_sheet = VALUES(fact_sheet), error_code = VALUES(error_code), error = VALUES(error),
    updated_at = VALUES(updated_at)`

const upsertRunSQLite = `INSERT INTO runs
    (id, request, status, description, fact_sheet, error_code, error, created_at, updated_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
    ON CONFLICT(id) DO UPDATE SET status = excluded.status, description = excluded.description,
    fact_sheet = excluded.fact_sheet, error_code = excluded.error_code, error = excluded.error,
    updated_at = excluded.updated_at`

const selectRunColumns = `SELECT id, request, status, description, fact_sheet, error_code, error, created_at, updated_at FROM runs`

// Save 插入或更新一条运行记录。
func (s *SQLRunRepository) Save(ctx context.Context, record RunRecord) error {
	if _, err := s.db.ExecContext(ctx, s.flavor().upsertSQL,
		record.ID,
		record.Request,
		record.Status,
		record.Description,
		string(record.FactSheet),
		record.ErrorCode,
		record.Error,
		record.CreatedAt,
		record.UpdatedAt,
	); err != nil {
		return fmt.Errorf("写入 %s 运行记录失败: %w", s.flavor().name, err)
	}
	return nil
}

// Get 查询指定运行。
func (s *SQLRunRepository) Get(ctx context.Context, id string) (*RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectRunColumns+` WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("查询运行记录失败: %w", err)
	}
	defer rows.Close()

	records, err := scanRuns(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrRunNotFound
	}
	return &records[0], nil
}

// ListLatest 查询最近的若干条运行记录。
func (s *SQLRunRepository) ListLatest(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, selectRunColumns+` ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("查询运行记录失败: %w", err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

func scanRuns(rows *sql.Rows) ([]RunRecord, error) {
	var records []RunRecord
	for rows.Next() {
		var (
			record                    RunRecord
			description, sheet, cause sql.NullString
		)
		if err := rows.Scan(&record.ID, &record.Request, &record.Status, &description, &sheet,
			&record.ErrorCode, &cause, &record.CreatedAt, &record.UpdatedAt); err != nil {
			return nil, fmt.Errorf("解析运行记录失败: %w", err)
		}
		record.Description = description.String
		record.Error = cause.String
		if sheet.String != "" {
			record.FactSheet = json.RawMessage(sheet.String)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历运行记录失败: %w", err)
	}
	return records, nil
}

// Close 关闭底层数据库连接。
func (s *SQLRunRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var (
	_ RunRepository = (*FileRunRepository)(nil)
	_ RunRepository = (*SQLRunRepository)(nil)
)
