package safefs

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("boom") }

func TestWriteAtomicCreatesParentsAndContent(t *testing.T) {
	root := t.TempDir()
	dest := filepath.Join(root, "etc", "nested", "app.cfg")
	mod := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := WriteAtomic(dest, strings.NewReader("key=value\n"), 0o640, mod); err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "key=value\n" {
		t.Fatalf("content = %q", data)
	}
	info, err := os.Stat(dest)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o640 {
		t.Errorf("perm = %o, want 640", info.Mode().Perm())
	}
	if !info.ModTime().Equal(mod) {
		t.Errorf("modtime = %v, want %v", info.ModTime(), mod)
	}
}

func TestWriteAtomicLeavesDestinationOnFailure(t *testing.T) {
	root := t.TempDir()
	dest := filepath.Join(root, "app.cfg")
	if err := os.WriteFile(dest, []byte("original"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := WriteAtomic(dest, io.MultiReader(strings.NewReader("partial"), failingReader{}), 0o644, time.Time{}); err == nil {
		t.Fatal("expected error from failing reader")
	}

	data, _ := os.ReadFile(dest)
	if string(data) != "original" {
		t.Fatalf("destination modified: %q", data)
	}
	entries, _ := os.ReadDir(root)
	if len(entries) != 1 {
		t.Fatalf("temporary file left behind: %v", entries)
	}
}

func TestEnsureDirRejectsFile(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "file")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := EnsureDir(file); err == nil {
		t.Fatal("expected error when path is a regular file")
	}
	if err := EnsureDir(filepath.Join(root, "a", "b")); err != nil {
		t.Fatalf("EnsureDir: %v", err)
	}
}
