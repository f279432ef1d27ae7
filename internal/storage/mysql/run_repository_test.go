package mysql

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

var runColumns = []string{"id", "request", "status", "description", "fact_sheet", "error_code", "error", "created_at", "updated_at"}

func TestFileRunRepositoryUpsertAndReload(t *testing.T) {
	dir := t.TempDir()
	repo, err := NewFileRunRepository(dir)
	if err != nil {
		t.Fatalf("new repo: %v", err)
	}
	ctx := context.Background()

	pending := RunRecord{ID: "run-1", Request: "build a to-do API", Status: "pending", CreatedAt: 10, UpdatedAt: 10}
	if err := repo.Save(ctx, pending); err != nil {
		t.Fatalf("save pending: %v", err)
	}
	done := pending
	done.Status = "succeeded"
	done.FactSheet = json.RawMessage(`{"project_description":"todo"}`)
	done.UpdatedAt = 20
	if err := repo.Save(ctx, done); err != nil {
		t.Fatalf("save done: %v", err)
	}
	if err := repo.Save(ctx, RunRecord{ID: "run-2", Request: "blog", Status: "failed", ErrorCode: "BUILD_FAILURE", CreatedAt: 30}); err != nil {
		t.Fatalf("save second: %v", err)
	}

	got, err := repo.Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != "succeeded" || string(got.FactSheet) != `{"project_description":"todo"}` {
		t.Fatalf("unexpected record: %+v", got)
	}

	reloaded, err := NewFileRunRepository(dir)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	list, err := reloaded.ListLatest(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != "run-2" || list[1].Status != "succeeded" {
		t.Fatalf("unexpected list after reload: %+v", list)
	}

	limited, _ := reloaded.ListLatest(ctx, 1)
	if len(limited) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(limited))
	}

	if _, err := reloaded.Get(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFileRunRepositorySkipsCorruptLines(t *testing.T) {
	dir := t.TempDir()
	content := "not json\n" + `{"id":"run-9","request":"x","status":"pending","created_at":1,"updated_at":1}` + "\n"
	if err := os.WriteFile(filepath.Join(dir, "runs.log"), []byte(content), 0o644); err != nil {
		t.Fatalf("seed log: %v", err)
	}
	repo, err := NewFileRunRepository(dir)
	if err != nil {
		t.Fatalf("new repo: %v", err)
	}
	if _, err := repo.Get(context.Background(), "run-9"); err != nil {
		t.Fatalf("expected restored record: %v", err)
	}
	if err := repo.Save(context.Background(), RunRecord{}); err == nil {
		t.Fatalf("expected error for record without id")
	}
}

func TestSQLRunRepositorySave(t *testing.T) {
	db, drv := newMockDB(t, []mockOperation{
		execOp(upsertRunSQL, mockResult{rowsAffected: 1},
			"run-1", "build a to-do API", "failed", "todo", "", "BUILD_FAILURE", "too many bugs", int64(1), int64(2)),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	repo := &SQLRunRepository{db: db}
	err := repo.Save(context.Background(), RunRecord{
		ID: "run-1", Request: "build a to-do API", Status: "failed", Description: "todo",
		ErrorCode: "BUILD_FAILURE", Error: "too many bugs", CreatedAt: 1, UpdatedAt: 2,
	})
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
}

func TestSQLRunRepositoryGet(t *testing.T) {
	rows := mockRowsData{
		columns: runColumns,
		values: [][]driver.Value{
			{"run-1", "build a to-do API", "succeeded", "todo", `{"backend_code":"package main"}`, "", nil, int64(1), int64(5)},
		},
	}
	db, drv := newMockDB(t, []mockOperation{
		queryOp(selectRunColumns+` WHERE id = ?`, rows),
		queryOp(selectRunColumns+` WHERE id = ?`, mockRowsData{columns: runColumns}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	repo := &SQLRunRepository{db: db}
	record, err := repo.Get(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if record.Status != "succeeded" || record.Error != "" || string(record.FactSheet) != `{"backend_code":"package main"}` {
		t.Fatalf("unexpected record: %+v", record)
	}

	if _, err := repo.Get(context.Background(), "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSQLRunRepositoryListLatest(t *testing.T) {
	rows := mockRowsData{
		columns: runColumns,
		values: [][]driver.Value{
			{"run-2", "r2", "running", nil, nil, "", nil, int64(20), int64(20)},
			{"run-1", "r1", "failed", "d1", nil, "ENDPOINT_UNREACHABLE", "404", int64(10), int64(12)},
		},
	}
	db, drv := newMockDB(t, []mockOperation{
		queryOp(selectRunColumns+` ORDER BY created_at DESC, id DESC LIMIT ?`, rows),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	repo := &SQLRunRepository{db: db}
	list, err := repo.ListLatest(context.Background(), 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 2 || list[0].ID != "run-2" || list[1].ErrorCode != "ENDPOINT_UNREACHABLE" {
		t.Fatalf("unexpected list: %+v", list)
	}
	if list[0].FactSheet != nil {
		t.Fatalf("expected empty fact sheet, got %s", list[0].FactSheet)
	}
}

func TestSQLRunRepositoryRunMigrations(t *testing.T) {
	content, err := embeddedMigrations.ReadFile("mysql/0001_create_runs.sql")
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	statements := splitSQLStatements(string(content))
	if len(statements) != 1 {
		t.Fatalf("expected one statement, got %d", len(statements))
	}

	db, drv := newMockDB(t, []mockOperation{
		execOp(`CREATE TABLE IF NOT EXISTS schema_migrations (
        version VARCHAR(32) NOT NULL PRIMARY KEY,
        applied_at BIGINT NOT NULL
)`, mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{columns: []string{"version"}}),
		beginOp(),
		execOp(statements[0], mockResult{}),
		execOp(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, mockResult{rowsAffected: 1}),
		commitOp(),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	repo := &SQLRunRepository{db: db}
	if err := repo.runMigrations(context.Background()); err != nil {
		t.Fatalf("run migrations failed: %v", err)
	}
}

func TestSQLRunRepositorySkipsAppliedMigrations(t *testing.T) {
	db, drv := newMockDB(t, []mockOperation{
		execOp("", mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{
			columns: []string{"version"},
			values:  [][]driver.Value{{"0001"}},
		}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	repo := &SQLRunRepository{db: db}
	if err := repo.runMigrations(context.Background()); err != nil {
		t.Fatalf("run migrations failed: %v", err)
	}
}

func TestNormalizeDSN(t *testing.T) {
	if _, err := normalizeDSN(""); err == nil {
		t.Fatalf("expected error for empty dsn")
	}
	if _, err := normalizeDSN("not a dsn"); err == nil {
		t.Fatalf("expected error for malformed dsn")
	}
	dsn, err := normalizeDSN("agent:secret@tcp(127.0.0.1:3306)/agentforge")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if dsn == "" {
		t.Fatalf("expected normalized dsn")
	}
}

func TestSplitSQLStatementsSkipsComments(t *testing.T) {
	content := "-- runs table; initial schema\nCREATE TABLE a (id INT);\n\n  -- index\nCREATE INDEX i ON a (id);\n"
	statements := splitSQLStatements(content)
	if len(statements) != 2 {
		t.Fatalf("expected two statements, got %q", statements)
	}
	if statements[0] != "CREATE TABLE a (id INT)" || statements[1] != "CREATE INDEX i ON a (id)" {
		t.Fatalf("unexpected statements: %q", statements)
	}
}

func TestParseMigrationVersion(t *testing.T) {
	cases := map[string]string{
		"0001_create_runs.sql": "0001",
		"0002.sql":             "0002",
		"0003_a_b.sql":         "0003",
	}
	for name, want := range cases {
		if got := parseMigrationVersion(name); got != want {
			t.Fatalf("%s: expected %s, got %s", name, want, got)
		}
	}
}

func TestLoadMigrationFilesRejectsUnknownDialect(t *testing.T) {
	if _, err := loadMigrationFiles("postgres"); err == nil {
		t.Fatalf("expected error for missing migration directory")
	}
	files, err := loadMigrationFiles(mysqlDialect.migrationsDir)
	if err != nil {
		t.Fatalf("load mysql migrations: %v", err)
	}
	if len(files) != 1 || files[0].name != "0001_create_runs.sql" {
		t.Fatalf("unexpected migrations: %+v", files)
	}
}
