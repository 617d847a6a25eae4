package preflight

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"traceapi/internal/config"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestCheckDatabase(t *testing.T) {
	ok := CheckDatabase(context.Background(), "db", pingFunc(func(context.Context) error { return nil }))
	if !ok.Passed {
		t.Fatalf("expected pass, got %s", ok.Detail)
	}
	bad := CheckDatabase(context.Background(), "db", pingFunc(func(context.Context) error { return errors.New("disk I/O error") }))
	if bad.Passed || bad.Detail != "disk I/O error" {
		t.Fatalf("expected failure detail, got %#v", bad)
	}
	if missing := CheckDatabase(context.Background(), "db", nil); missing.Passed {
		t.Fatal("expected failure for nil store")
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	results := RunAll(context.Background(), nil)
	if results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_CreatedDirectories(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StorageDir = filepath.Join(base, "storage")
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.ScratchDir = filepath.Join(base, "scratch")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	results := RunAll(context.Background(), &cfg)
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("unexpected failures: %#v", failed)
	}
}

func TestRunAll_ReportsMissingScratch(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StorageDir = base
	cfg.Paths.DataDir = base
	cfg.Paths.ScratchDir = filepath.Join(base, "missing")

	failed := Failed(RunAll(context.Background(), &cfg))
	if len(failed) != 2 {
		t.Fatalf("expected scratch and lock failures, got %#v", failed)
	}
	if failed[0].Name != "Scratch directory" {
		t.Fatalf("unexpected failure %q", failed[0].Name)
	}
}
