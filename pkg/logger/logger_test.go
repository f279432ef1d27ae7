package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRotatingWriterShiftsBackups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")

	w, err := newRotatingWriter(path, 1, 2, 1)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	w.maxSize = 16
	defer w.Close()

	for _, line := range []string{"first-line-0001\n", "second-line-002\n", "third-line-0003\n"} {
		if _, err := w.Write([]byte(line)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	current, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read current: %v", err)
	}
	if string(current) != "third-line-0003\n" {
		t.Fatalf("unexpected current content: %q", current)
	}
	first, err := os.ReadFile(path + ".1")
	if err != nil {
		t.Fatalf("read backup 1: %v", err)
	}
	if string(first) != "second-line-002\n" {
		t.Fatalf("unexpected backup content: %q", first)
	}
	if _, err := os.Stat(path + ".2"); err != nil {
		t.Fatalf("expected second backup: %v", err)
	}
}

func TestInitWritesAuditFile(t *testing.T) {
	dir := t.TempDir()
	audit := filepath.Join(dir, "logs", "audit.log")
	appLog := filepath.Join(dir, "logs", "app.log")

	if err := Init(Config{Level: "debug", Format: "json", OutputPaths: []string{appLog}, Audit: AuditConfig{Enabled: true, Path: audit}}); err != nil {
		t.Fatalf("init: %v", err)
	}
	ForRun(Named("test"), "run-1").Debug("hello")
	Audit().Info("run finished", "run_id", "run-1")
	if err := Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	content, err := os.ReadFile(audit)
	if err != nil {
		t.Fatalf("read audit: %v", err)
	}
	if !strings.Contains(string(content), `"msg":"run finished"`) {
		t.Fatalf("unexpected audit content: %s", content)
	}
	app, err := os.ReadFile(appLog)
	if err != nil {
		t.Fatalf("read app log: %v", err)
	}
	if !bytes.Contains(app, []byte(`"component":"test"`)) || !bytes.Contains(app, []byte(`"run_id":"run-1"`)) {
		t.Fatalf("unexpected app log: %s", app)
	}

	if err := Init(Config{}); err != nil {
		t.Fatalf("reset: %v", err)
	}
}
