package checks

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tis24dev/confmigrate/internal/logging"
	"github.com/tis24dev/confmigrate/internal/types"
)

func newTestChecker(t *testing.T, dir string) *Checker {
	t.Helper()
	cfg := &CheckerConfig{
		ExportDir:  dir,
		MaxLockAge: time.Hour,
		Operation:  "export",
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return NewChecker(logging.New(types.LogLevelInfo, false), cfg)
}

func TestValidateDefaults(t *testing.T) {
	cfg := &CheckerConfig{ExportDir: "/srv/export", MaxLockAge: time.Minute}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.LockFilePath != filepath.Join("/srv/export", LockFileName) {
		t.Fatalf("LockFilePath = %q", cfg.LockFilePath)
	}
	if err := (&CheckerConfig{MaxLockAge: time.Minute}).Validate(); err == nil {
		t.Fatal("expected error for empty export directory")
	}
	if err := (&CheckerConfig{ExportDir: "/x"}).Validate(); err == nil {
		t.Fatal("expected error for zero lock age")
	}
}

func TestCheckDirectory(t *testing.T) {
	dir := t.TempDir()
	if result := newTestChecker(t, dir).CheckDirectory(); !result.Passed {
		t.Fatalf("CheckDirectory failed: %s", result.Message)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("probe file left behind: %v", entries)
	}

	file := filepath.Join(dir, "plain")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if result := newTestChecker(t, file).CheckDirectory(); result.Passed {
		t.Fatal("CheckDirectory should fail for a regular file")
	}
	if result := newTestChecker(t, filepath.Join(dir, "missing")).CheckDirectory(); result.Passed || result.Error == nil {
		t.Fatalf("CheckDirectory should fail for a missing directory: %+v", result)
	}
}

func TestCheckDiskSpace(t *testing.T) {
	orig := freeSpace
	t.Cleanup(func() { freeSpace = orig })
	freeSpace = func(string) (uint64, error) { return 10 << 20, nil }

	c := newTestChecker(t, t.TempDir())
	if result := c.CheckDiskSpace(); !result.Passed {
		t.Fatalf("disabled check should pass: %s", result.Message)
	}

	c.config.MinFreeBytes = 1 << 20
	if result := c.CheckDiskSpace(); !result.Passed {
		t.Fatalf("CheckDiskSpace failed: %s", result.Message)
	}

	c.config.MinFreeBytes = 100 << 20
	result := c.CheckDiskSpace()
	if result.Passed {
		t.Fatal("CheckDiskSpace should fail with insufficient space")
	}
	if !strings.Contains(result.Message, "insufficient") {
		t.Fatalf("unexpected message %q", result.Message)
	}

	freeSpace = func(string) (uint64, error) { return 0, errors.New("statfs failed") }
	if result := c.CheckDiskSpace(); result.Passed || result.Error == nil {
		t.Fatalf("expected statfs error, got %+v", result)
	}
}

func TestCheckDiskSpaceRealFilesystem(t *testing.T) {
	c := newTestChecker(t, t.TempDir())
	c.config.MinFreeBytes = 1
	if result := c.CheckDiskSpace(); !result.Passed {
		t.Fatalf("CheckDiskSpace failed: %s", result.Message)
	}
}

func TestCheckLockFile(t *testing.T) {
	dir := t.TempDir()
	first := newTestChecker(t, dir)
	if result := first.CheckLockFile(); !result.Passed {
		t.Fatalf("CheckLockFile failed: %s", result.Message)
	}
	data, err := os.ReadFile(filepath.Join(dir, LockFileName))
	if err != nil {
		t.Fatalf("lock file missing: %v", err)
	}
	if !strings.Contains(string(data), "operation=export") {
		t.Fatalf("lock content = %q", data)
	}

	second := newTestChecker(t, dir)
	result := second.CheckLockFile()
	if result.Passed {
		t.Fatal("second lock should fail while the first is held")
	}
	if !strings.Contains(result.Message, "running export") {
		t.Fatalf("message should describe the holder: %q", result.Message)
	}
	if err := second.ReleaseLock(); err != nil {
		t.Fatalf("ReleaseLock without lock: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, LockFileName)); err != nil {
		t.Fatalf("lock of the first checker was removed: %v", err)
	}

	if err := first.ReleaseLock(); err != nil {
		t.Fatalf("ReleaseLock: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, LockFileName)); !os.IsNotExist(err) {
		t.Fatalf("lock file should be removed, stat err = %v", err)
	}
}

func TestCheckLockFileRemovesStaleLock(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, LockFileName)
	if err := os.WriteFile(lockPath, []byte("pid=1\n"), 0o640); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(lockPath, old, old); err != nil {
		t.Fatal(err)
	}

	c := newTestChecker(t, dir)
	if result := c.CheckLockFile(); !result.Passed {
		t.Fatalf("stale lock should be replaced: %s", result.Message)
	}
	data, _ := os.ReadFile(lockPath)
	if !strings.Contains(string(data), "operation=export") {
		t.Fatalf("stale lock content kept: %q", data)
	}
	c.ReleaseLock()
}

func TestRunAllChecks(t *testing.T) {
	dir := t.TempDir()
	c := newTestChecker(t, dir)
	results, err := c.RunAllChecks(context.Background())
	if err != nil {
		t.Fatalf("RunAllChecks: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	defer c.ReleaseLock()

	_, err = newTestChecker(t, dir).RunAllChecks(context.Background())
	if err == nil || !strings.Contains(err.Error(), "lock file check failed") {
		t.Fatalf("expected lock failure, got %v", err)
	}
}

func TestRunAllChecksCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestChecker(t, t.TempDir()).RunAllChecks(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
