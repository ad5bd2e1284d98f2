package migration

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/tis24dev/confmigrate/internal/crypt"
	"github.com/tis24dev/confmigrate/internal/pathutil"
	"github.com/tis24dev/confmigrate/internal/properties"
)

const testProductVersion = "2.13.0"

// fakeMigratable runs the supplied callbacks.
type fakeMigratable struct {
	id           string
	version      string
	export       func(ExportContext) error
	imp          func(ImportContext) error
	incompatible func(ImportContext, string) error
}

func (f *fakeMigratable) ID() string           { return f.id }
func (f *fakeMigratable) Version() string      { return f.version }
func (f *fakeMigratable) Title() string        { return "Fake " + f.id }
func (f *fakeMigratable) Description() string  { return "test component" }
func (f *fakeMigratable) Organization() string { return "Example" }

func (f *fakeMigratable) Export(ctx ExportContext) error {
	if f.export == nil {
		return nil
	}
	return f.export(ctx)
}

func (f *fakeMigratable) Import(ctx ImportContext) error {
	if f.imp == nil {
		return nil
	}
	return f.imp(ctx)
}

func (f *fakeMigratable) IncompatibleImport(ctx ImportContext, exportedVersion string) error {
	if f.incompatible == nil {
		return nil
	}
	return f.incompatible(ctx, exportedVersion)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o640); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func testOptions(t *testing.T, home string, sysprops properties.Source) Options {
	t.Helper()
	paths, err := pathutil.New(home, home)
	if err != nil {
		t.Fatalf("pathutil.New: %v", err)
	}
	return Options{Paths: paths, ProductVersion: testProductVersion, SystemProperties: sysprops}
}

func runExport(t *testing.T, opts Options, alg crypt.Algorithm, migratables ...Migratable) (*Report, string) {
	t.Helper()
	archive := filepath.Join(t.TempDir(), "exported-"+testProductVersion+".dar")
	c, err := crypt.LoadOrCreate(archive, alg, "")
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	r := NewReport(OperationExport, nil)
	m, err := NewExportManager(r, archive, c, opts, migratables)
	if err != nil {
		t.Fatalf("NewExportManager: %v", err)
	}
	if err := m.DoExport(context.Background()); err != nil {
		t.Fatalf("DoExport: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	r.End()
	return r, archive
}

func runImport(t *testing.T, archive string, opts Options, migratables ...Migratable) *Report {
	t.Helper()
	r := NewReport(OperationImport, nil)
	m, err := NewImportManager(r, archive, opts, migratables)
	if err != nil {
		t.Fatalf("NewImportManager: %v", err)
	}
	defer m.Close()
	if err := m.DoImport(context.Background()); err != nil {
		t.Fatalf("DoImport: %v", err)
	}
	r.End()
	return r
}

func archiveNames(t *testing.T, archive string) []string {
	t.Helper()
	zr, err := zip.OpenReader(archive)
	if err != nil {
		t.Fatalf("open %s: %v", archive, err)
	}
	defer zr.Close()
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names
}

func requireSuccess(t *testing.T, r *Report) {
	t.Helper()
	if err := r.VerifyCompletion(); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}

func requireError(t *testing.T, r *Report, fragment string) {
	t.Helper()
	for _, err := range r.Errors() {
		if strings.Contains(err.Error(), fragment) {
			return
		}
	}
	t.Fatalf("expected an error containing %q, got %v", fragment, r.Errors())
}

func requireWarning(t *testing.T, r *Report, fragment string) {
	t.Helper()
	for _, w := range r.Warnings() {
		if strings.Contains(w, fragment) {
			return
		}
	}
	t.Fatalf("expected a warning containing %q, got %v", fragment, r.Warnings())
}

func setModTime(t *testing.T, path string, mt time.Time) {
	t.Helper()
	if err := os.Chtimes(path, mt, mt); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}
