package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/tis24dev/confmigrate/internal/checks"
	"github.com/tis24dev/confmigrate/internal/configadmin"
	"github.com/tis24dev/confmigrate/internal/crypt"
	"github.com/tis24dev/confmigrate/internal/metrics"
	"github.com/tis24dev/confmigrate/internal/migratables"
	"github.com/tis24dev/confmigrate/internal/migration"
	"github.com/tis24dev/confmigrate/internal/pathutil"
	"github.com/tis24dev/confmigrate/internal/properties"
	"github.com/tis24dev/confmigrate/internal/types"
)

const testVersion = "2.13.0"

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func newTestManager(t *testing.T, home string, mutate func(*Options)) *ConfigurationMigrationManager {
	t.Helper()
	paths, err := pathutil.New(home, home)
	if err != nil {
		t.Fatalf("pathutil.New: %v", err)
	}
	store := configadmin.NewDirStore(filepath.Join(home, "etc", "configadmin"))
	files, err := migratables.Build([]migratables.Spec{{
		ID:    "platform",
		Files: []migratables.FileSpec{{Path: "etc/system.properties"}},
		Directories: []migratables.DirSpec{
			{Path: "etc/security"},
		},
	}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	opts := Options{
		Paths:            paths,
		ProductVersion:   testVersion,
		Cipher:           crypt.AlgorithmAES,
		SystemProperties: properties.Map{},
		ConfigAdmin:      store,
		ToolVersion:      "test",
	}
	if mutate != nil {
		mutate(&opts)
	}
	mgr, err := New(opts, append([]migration.Migratable{configadmin.NewMigratable(store)}, files...))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return mgr
}

func seedHome(t *testing.T, home string) {
	t.Helper()
	writeFile(t, filepath.Join(home, "etc", "system.properties"), "product=ddf\n")
	writeFile(t, filepath.Join(home, "etc", "security", "policy.xml"), "<policy/>")
	store := configadmin.NewDirStore(filepath.Join(home, "etc", "configadmin"))
	if err := store.Update(configadmin.Configuration{
		PID:        "org.example.web",
		Properties: map[string]any{"port": 8993},
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}
}

func copyExport(t *testing.T, from, to string) {
	t.Helper()
	entries, err := os.ReadDir(from)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(from, e.Name()))
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		writeFile(t, filepath.Join(to, e.Name()), string(data))
	}
}

func TestNewRequiresPathsAndVersion(t *testing.T) {
	if _, err := New(Options{ProductVersion: testVersion}, nil); err == nil {
		t.Fatal("expected error without home")
	}
	paths, err := pathutil.New(t.TempDir(), "")
	if err != nil {
		t.Fatalf("pathutil.New: %v", err)
	}
	if _, err := New(Options{Paths: paths}, nil); err == nil {
		t.Fatal("expected error without product version")
	}
}

func TestArchiveNaming(t *testing.T) {
	if got := ArchiveName("2.13.0"); got != "exported-2.13.0.dar" {
		t.Fatalf("ArchiveName = %q", got)
	}
	if got := DecryptedPath("/x/exported-2.13.0.dar"); got != "/x/exported-2.13.0-decrypted.zip" {
		t.Fatalf("DecryptedPath = %q", got)
	}
	home := t.TempDir()
	mgr := newTestManager(t, home, nil)
	want := filepath.Join(mgr.opts.Paths.Home(), "exported", "exported-2.13.0.dar")
	if got := mgr.ArchivePath("exported"); got != want {
		t.Fatalf("ArchivePath = %q, want %q", got, want)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	src := t.TempDir()
	seedHome(t, src)

	stats, err := newTestManager(t, src, nil).Export(context.Background(), "exported")
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if stats.ExitCode != types.ExitSuccess {
		t.Fatalf("exit code = %v", stats.ExitCode)
	}
	if stats.Checksum == "" || stats.ArchiveSize == 0 {
		t.Fatalf("missing archive details: %+v", stats)
	}
	for _, name := range []string{stats.ArchivePath, crypt.KeyPath(stats.ArchivePath), crypt.ChecksumPath(stats.ArchivePath)} {
		if _, err := os.Stat(name); err != nil {
			t.Fatalf("expected %s: %v", name, err)
		}
	}
	dump := filepath.Join(src, "exported", configadmin.DumpDirName, "org.example.web.yaml")
	if _, err := os.Stat(dump); err != nil {
		t.Fatalf("expected configuration dump: %v", err)
	}

	dst := t.TempDir()
	copyExport(t, filepath.Join(src, "exported"), filepath.Join(dst, "exported"))
	writeFile(t, filepath.Join(dst, "etc", "security", "stale.xml"), "old")

	stats, err = newTestManager(t, dst, nil).Import(context.Background(), "exported")
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if stats.Operation != migration.OperationImport {
		t.Fatalf("operation = %v", stats.Operation)
	}
	data, err := os.ReadFile(filepath.Join(dst, "etc", "security", "policy.xml"))
	if err != nil || string(data) != "<policy/>" {
		t.Fatalf("policy.xml = %q, %v", data, err)
	}
	if _, err := os.Stat(filepath.Join(dst, "etc", "security", "stale.xml")); !os.IsNotExist(err) {
		t.Fatalf("stale.xml should have been removed, stat err = %v", err)
	}
	cfg, ok, err := configadmin.NewDirStore(filepath.Join(dst, "etc", "configadmin")).Get("org.example.web")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if cfg.Properties["port"] != 8993 {
		t.Fatalf("port = %v", cfg.Properties["port"])
	}
}

func TestImportRejectsTamperedArchive(t *testing.T) {
	home := t.TempDir()
	seedHome(t, home)
	mgr := newTestManager(t, home, nil)
	stats, err := mgr.Export(context.Background(), "exported")
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	f, err := os.OpenFile(stats.ArchivePath, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.WriteString("garbage"); err != nil {
		t.Fatalf("append: %v", err)
	}
	f.Close()

	_, err = mgr.Import(context.Background(), "exported")
	if err == nil {
		t.Fatal("expected verification failure")
	}
	if code := ExitCodeFor(err); code != types.ExitVerificationError {
		t.Fatalf("exit code = %v", code)
	}
	if !errors.Is(err, crypt.ErrChecksumMismatch) {
		t.Fatalf("expected checksum mismatch, got %v", err)
	}
}

func TestImportWithoutArchive(t *testing.T) {
	_, err := newTestManager(t, t.TempDir(), nil).Import(context.Background(), "exported")
	var merr *MigrationError
	if !errors.As(err, &merr) || merr.Phase != "verification" {
		t.Fatalf("expected verification MigrationError, got %v", err)
	}
}

func TestExportFailsOnMissingRequiredFile(t *testing.T) {
	home := t.TempDir()
	writeFile(t, filepath.Join(home, "etc", "security", "policy.xml"), "<policy/>")

	stats, err := newTestManager(t, home, nil).Export(context.Background(), "exported")
	if err == nil {
		t.Fatal("expected export failure")
	}
	if ExitCodeFor(err) != types.ExitExportError || stats.ErrorCount == 0 {
		t.Fatalf("code=%v errors=%d", ExitCodeFor(err), stats.ErrorCount)
	}
	if !strings.Contains(err.Error(), "etc/system.properties") {
		t.Fatalf("error should name the missing file: %v", err)
	}
	if _, err := os.Stat(crypt.ChecksumPath(stats.ArchivePath)); !os.IsNotExist(err) {
		t.Fatalf("checksum file should not exist, stat err = %v", err)
	}
}

func TestDecryptWritesPlainArchive(t *testing.T) {
	home := t.TempDir()
	seedHome(t, home)
	mgr := newTestManager(t, home, nil)
	if _, err := mgr.Export(context.Background(), "exported"); err != nil {
		t.Fatalf("Export: %v", err)
	}

	stats, err := mgr.Decrypt(context.Background(), "exported")
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if err := crypt.VerifyChecksumFile(stats.OutputPath); err != nil {
		t.Fatalf("decrypted checksum: %v", err)
	}
	zr, err := zip.OpenReader(stats.OutputPath)
	if err != nil {
		t.Fatalf("open decrypted: %v", err)
	}
	defer zr.Close()
	found := false
	for _, f := range zr.File {
		if f.Name != "platform/etc/system.properties" {
			continue
		}
		found = true
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open entry: %v", err)
		}
		buf := make([]byte, 64)
		n, _ := rc.Read(buf)
		rc.Close()
		if string(buf[:n]) != "product=ddf\n" {
			t.Fatalf("entry content = %q", buf[:n])
		}
	}
	if !found {
		t.Fatal("system.properties entry missing from decrypted archive")
	}
}

func TestMetricsWritten(t *testing.T) {
	home := t.TempDir()
	seedHome(t, home)
	metricsDir := t.TempDir()
	mgr := newTestManager(t, home, func(o *Options) {
		o.MetricsTextfileDir = metricsDir
		o.Cipher = crypt.AlgorithmNone
	})
	if _, err := mgr.Export(context.Background(), "exported"); err != nil {
		t.Fatalf("Export: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(metricsDir, metrics.FileName("export")))
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(string(data), `confmigrate_exit_code{operation="export"} 0`) {
		t.Fatalf("unexpected metrics:\n%s", data)
	}
}

func TestCancelledExport(t *testing.T) {
	home := t.TempDir()
	seedHome(t, home)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stats, err := newTestManager(t, home, nil).Export(ctx, "exported")
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, statErr := os.Stat(stats.ArchivePath); !os.IsNotExist(statErr) {
		t.Fatalf("archive should be removed, stat err = %v", statErr)
	}
}

func TestExportRefusesLockedDirectory(t *testing.T) {
	home := t.TempDir()
	seedHome(t, home)
	mgr := newTestManager(t, home, nil)
	lock := filepath.Join(home, "exported", checks.LockFileName)
	writeFile(t, lock, "pid=42\nhost=other\noperation=import\n")

	_, err := mgr.Export(context.Background(), "exported")
	if code := ExitCodeFor(err); code != types.ExitPreflightError {
		t.Fatalf("exit code = %v (%v)", code, err)
	}
	if !strings.Contains(err.Error(), "running import") {
		t.Fatalf("error should name the lock holder: %v", err)
	}
	if _, statErr := os.Stat(lock); statErr != nil {
		t.Fatalf("foreign lock must be kept: %v", statErr)
	}

	os.Remove(lock)
	if _, err := mgr.Export(context.Background(), "exported"); err != nil {
		t.Fatalf("Export after unlock: %v", err)
	}
	if _, statErr := os.Stat(lock); !os.IsNotExist(statErr) {
		t.Fatalf("lock should be released after the run, stat err = %v", statErr)
	}
}

// shiftingReference stores the file named by a system property and then
// points the property somewhere else before the export completes.
type shiftingReference struct {
	props properties.Map
}

func (s *shiftingReference) ID() string           { return "ref" }
func (s *shiftingReference) Version() string      { return "1.0" }
func (s *shiftingReference) Title() string        { return "Reference" }
func (s *shiftingReference) Description() string  { return "" }
func (s *shiftingReference) Organization() string { return "" }

func (s *shiftingReference) Export(ctx migration.ExportContext) error {
	entry, ok := ctx.SystemPropertyReferencedEntry("ref.file", nil)
	if !ok {
		return errors.New("reference entry not created")
	}
	entry.Store(true)
	s.props["ref.file"] = "etc/other.cfg"
	return nil
}

func (s *shiftingReference) Import(migration.ImportContext) error { return nil }

func (s *shiftingReference) IncompatibleImport(migration.ImportContext, string) error { return nil }

func TestExportDiscardsArchiveWhenDeferredCheckFails(t *testing.T) {
	home := t.TempDir()
	writeFile(t, filepath.Join(home, "etc", "ref.cfg"), "ref")
	writeFile(t, filepath.Join(home, "etc", "other.cfg"), "other")
	paths, err := pathutil.New(home, home)
	if err != nil {
		t.Fatalf("pathutil.New: %v", err)
	}
	props := properties.Map{"ref.file": "etc/ref.cfg"}
	mgr, err := New(Options{
		Paths:            paths,
		ProductVersion:   testVersion,
		Cipher:           crypt.AlgorithmNone,
		SystemProperties: props,
	}, []migration.Migratable{&shiftingReference{props: props}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	stats, err := mgr.Export(context.Background(), "exported")
	if err == nil {
		t.Fatal("expected export failure")
	}
	if ExitCodeFor(err) != types.ExitExportError {
		t.Fatalf("exit code = %v (%v)", ExitCodeFor(err), err)
	}
	if !strings.Contains(err.Error(), "now references [etc/other.cfg] instead of [etc/ref.cfg]") {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, statErr := os.Stat(stats.ArchivePath); !os.IsNotExist(statErr) {
		t.Fatalf("archive should be removed, stat err = %v", statErr)
	}
	if _, statErr := os.Stat(crypt.ChecksumPath(stats.ArchivePath)); !os.IsNotExist(statErr) {
		t.Fatalf("checksum file should not exist, stat err = %v", statErr)
	}
	if stats.Checksum != "" {
		t.Fatalf("checksum recorded for a failed export: %s", stats.Checksum)
	}
}
