// Package orchestrator drives complete export, import and decrypt runs:
// archive location, key and checksum companions, the configuration dump,
// run statistics and metrics.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/tis24dev/confmigrate/internal/checks"
	"github.com/tis24dev/confmigrate/internal/config"
	"github.com/tis24dev/confmigrate/internal/configadmin"
	"github.com/tis24dev/confmigrate/internal/crypt"
	"github.com/tis24dev/confmigrate/internal/logging"
	"github.com/tis24dev/confmigrate/internal/metrics"
	"github.com/tis24dev/confmigrate/internal/migratables"
	"github.com/tis24dev/confmigrate/internal/migration"
	"github.com/tis24dev/confmigrate/internal/pathutil"
	"github.com/tis24dev/confmigrate/internal/properties"
	"github.com/tis24dev/confmigrate/internal/safefs"
	"github.com/tis24dev/confmigrate/internal/types"
)

const (
	archivePrefix   = "exported-"
	archiveExt      = ".dar"
	decryptedSuffix = "-decrypted.zip"

	defaultLockMaxAge = 2 * time.Hour
)

// Options configures a ConfigurationMigrationManager.
type Options struct {
	Logger           *logging.Logger
	Paths            *pathutil.Resolver
	ProductVersion   string
	Cipher           crypt.Algorithm
	Passphrase       string
	SystemProperties properties.Source
	// ConfigAdmin, when set, is dumped next to the archive on export.
	ConfigAdmin        configadmin.Admin
	MetricsTextfileDir string
	ToolVersion        string

	// MinFreeBytes is required in the export directory for export and
	// decrypt runs.
	MinFreeBytes uint64
	// LockMaxAge is how long an export directory lock is honored; zero
	// means two hours.
	LockMaxAge time.Duration
}

// ConfigurationMigrationManager is the entry point for export, import and
// decrypt of the whole configuration.
type ConfigurationMigrationManager struct {
	logger      *logging.Logger
	opts        Options
	migratables []migration.Migratable
}

// New returns a manager running migratables in the given order.
func New(opts Options, migratables []migration.Migratable) (*ConfigurationMigrationManager, error) {
	if opts.Paths == nil {
		return nil, fmt.Errorf("home directory is not configured")
	}
	if strings.TrimSpace(opts.ProductVersion) == "" {
		return nil, fmt.Errorf("product version is not configured")
	}
	if opts.Cipher == "" {
		opts.Cipher = crypt.AlgorithmAES
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewDiscard()
	}
	if opts.LockMaxAge <= 0 {
		opts.LockMaxAge = defaultLockMaxAge
	}
	return &ConfigurationMigrationManager{
		logger:      opts.Logger,
		opts:        opts,
		migratables: migratables,
	}, nil
}

// NewFromConfig wires the configuration admin store, the system property
// files and the declared file migratables.
func NewFromConfig(cfg *config.Config, logger *logging.Logger, toolVersion string) (*ConfigurationMigrationManager, error) {
	paths, err := pathutil.New(cfg.Home, "")
	if err != nil {
		return nil, err
	}
	store := configadmin.NewDirStore(paths.ResolveAgainstHome(cfg.ConfigAdminDir))
	sysprops := properties.Chain{
		properties.File{Path: paths.ResolveAgainstHome(cfg.CustomSystemPropertiesFile)},
		properties.File{Path: paths.ResolveAgainstHome(cfg.SystemPropertiesFile)},
	}

	files, err := migratables.Build(cfg.Migratables)
	if err != nil {
		return nil, err
	}
	all := append([]migration.Migratable{configadmin.NewMigratable(store)}, files...)

	return New(Options{
		Logger:             logger,
		Paths:              paths,
		ProductVersion:     cfg.ProductVersion,
		Cipher:             cfg.Cipher,
		Passphrase:         cfg.Passphrase,
		SystemProperties:   sysprops,
		ConfigAdmin:        store,
		MetricsTextfileDir: cfg.MetricsTextfileDir,
		ToolVersion:        toolVersion,
		MinFreeBytes:       cfg.MinFreeSpace,
		LockMaxAge:         cfg.LockMaxAge,
	}, all)
}

// Migratables returns the registered components in run order.
func (m *ConfigurationMigrationManager) Migratables() []migration.Migratable {
	return m.migratables
}

// ArchiveName returns the archive file name for a product version.
func ArchiveName(productVersion string) string {
	return archivePrefix + productVersion + archiveExt
}

// ArchivePath returns the archive location inside exportDir, which is
// resolved against the home directory.
func (m *ConfigurationMigrationManager) ArchivePath(exportDir string) string {
	return filepath.Join(m.opts.Paths.ResolveAgainstHome(exportDir), ArchiveName(m.opts.ProductVersion))
}

// DecryptedPath returns where Decrypt writes the plain archive.
func DecryptedPath(archivePath string) string {
	return strings.TrimSuffix(archivePath, filepath.Ext(archivePath)) + decryptedSuffix
}

func (m *ConfigurationMigrationManager) migrationOptions() migration.Options {
	return migration.Options{
		Paths:            m.opts.Paths,
		ProductVersion:   m.opts.ProductVersion,
		SystemProperties: m.opts.SystemProperties,
		Logger:           m.logger,
	}
}

func (m *ConfigurationMigrationManager) newStats(op migration.Operation) *RunStats {
	report := migration.NewReport(op, m.logger)
	return &RunStats{
		Operation:      op,
		Report:         report,
		ProductVersion: m.opts.ProductVersion,
		ToolVersion:    m.opts.ToolVersion,
		StartTime:      report.StartTime(),
		Migratables:    len(m.migratables),
	}
}

// Export writes every component into the archive inside exportDir, then
// its checksum file. The key file is created on first use and reused.
func (m *ConfigurationMigrationManager) Export(ctx context.Context, exportDir string) (*RunStats, error) {
	stats := m.newStats(migration.OperationExport)
	report := stats.Report
	archive := m.ArchivePath(exportDir)
	stats.ArchivePath = archive
	m.logger.Step("Exporting configuration to %s", archive)

	if err := safefs.EnsureDir(filepath.Dir(archive)); err != nil {
		return m.fail(stats, "prepare", types.ExitExportError, migration.NewError(filepath.Dir(archive), err, "failed to create export directory [%s]", filepath.Dir(archive)))
	}
	checker, err := m.preflight(ctx, migration.OperationExport, filepath.Dir(archive), m.opts.MinFreeBytes)
	if err != nil {
		return m.fail(stats, "preflight", types.ExitPreflightError, err)
	}
	defer m.release(checker)

	if err := os.Remove(crypt.ChecksumPath(archive)); err != nil && !os.IsNotExist(err) {
		return m.fail(stats, "prepare", types.ExitExportError, migration.NewError(archive, err, "failed to remove stale checksum"))
	}

	if m.opts.ConfigAdmin != nil {
		if _, err := configadmin.NewExporter(m.opts.ConfigAdmin, m.logger).Dump(ctx, filepath.Dir(archive)); err != nil {
			report.RecordError(migration.NewError(filepath.Dir(archive), err, "failed to dump configurations"))
		}
	}

	cipher, err := crypt.LoadOrCreate(archive, m.opts.Cipher, m.opts.Passphrase)
	if err != nil {
		return m.fail(stats, "encryption", types.ExitExportError, migration.NewError(crypt.KeyPath(archive), err, "failed to prepare the archive key"))
	}

	mgr, err := migration.NewExportManager(report, archive, cipher, m.migrationOptions(), m.migratables)
	if err != nil {
		return m.fail(stats, "archive", types.ExitExportError, err)
	}
	runErr := mgr.DoExport(ctx)
	if closeErr := mgr.Close(); runErr == nil {
		runErr = closeErr
	}
	if runErr != nil {
		m.discard(archive)
		return m.abort(stats, "archive", types.ExitExportError, runErr)
	}
	if !report.WasSuccessful() {
		m.discard(archive)
		return m.complete(stats, types.ExitExportError)
	}

	sum, err := crypt.WriteChecksumFile(archive)
	if err != nil {
		return m.fail(stats, "verification", types.ExitExportError, migration.NewError(archive, err, "failed to write the archive checksum"))
	}
	stats.Checksum = sum
	stats.ArchiveSize = fileSize(archive)
	m.logger.Info("Archive checksum (SHA256): %s", sum)
	return m.complete(stats, types.ExitExportError)
}

// Import verifies the archive in exportDir and restores every component.
func (m *ConfigurationMigrationManager) Import(ctx context.Context, exportDir string) (*RunStats, error) {
	stats := m.newStats(migration.OperationImport)
	archive := m.ArchivePath(exportDir)
	stats.ArchivePath = archive
	m.logger.Step("Importing configuration from %s", archive)

	if err := m.verifyArchive(stats, archive); err != nil {
		return m.fail(stats, "verification", types.ExitVerificationError, err)
	}
	checker, err := m.preflight(ctx, migration.OperationImport, filepath.Dir(archive), 0)
	if err != nil {
		return m.fail(stats, "preflight", types.ExitPreflightError, err)
	}
	defer m.release(checker)

	mgr, err := migration.NewImportManager(stats.Report, archive, m.migrationOptions(), m.migratables)
	if err != nil {
		return m.fail(stats, "archive", types.ExitImportError, err)
	}
	runErr := mgr.DoImport(ctx)
	if closeErr := mgr.Close(); closeErr != nil {
		m.logger.Debug("Closing %s: %v", archive, closeErr)
	}
	if runErr != nil {
		return m.abort(stats, "migration", types.ExitImportError, runErr)
	}
	return m.complete(stats, types.ExitImportError)
}

// Decrypt rewrites the archive in exportDir as a plain zip next to it,
// with its own checksum file.
func (m *ConfigurationMigrationManager) Decrypt(ctx context.Context, exportDir string) (*RunStats, error) {
	stats := m.newStats(migration.OperationDecrypt)
	archive := m.ArchivePath(exportDir)
	output := DecryptedPath(archive)
	stats.ArchivePath = archive
	stats.OutputPath = output
	m.logger.Step("Decrypting %s", archive)

	if err := m.verifyArchive(stats, archive); err != nil {
		return m.fail(stats, "verification", types.ExitVerificationError, err)
	}
	checker, err := m.preflight(ctx, migration.OperationDecrypt, filepath.Dir(archive), m.opts.MinFreeBytes)
	if err != nil {
		return m.fail(stats, "preflight", types.ExitPreflightError, err)
	}
	defer m.release(checker)

	mgr, err := migration.NewDecryptManager(stats.Report, archive, output, m.logger)
	if err != nil {
		return m.fail(stats, "archive", types.ExitDecryptError, err)
	}
	runErr := mgr.DoDecrypt(ctx)
	if closeErr := mgr.Close(); runErr == nil {
		runErr = closeErr
	}
	if runErr != nil {
		return m.abort(stats, "archive", types.ExitDecryptError, runErr)
	}
	sum, err := crypt.WriteChecksumFile(output)
	if err != nil {
		return m.fail(stats, "verification", types.ExitDecryptError, migration.NewError(output, err, "failed to write the checksum of [%s]", output))
	}
	stats.Checksum = sum
	stats.ArchiveSize = fileSize(output)
	return m.complete(stats, types.ExitDecryptError)
}

// preflight checks dir and locks it against concurrent runs.
func (m *ConfigurationMigrationManager) preflight(ctx context.Context, op migration.Operation, dir string, minFree uint64) (*checks.Checker, error) {
	checker := checks.NewChecker(m.logger, &checks.CheckerConfig{
		ExportDir:    dir,
		MinFreeBytes: minFree,
		MaxLockAge:   m.opts.LockMaxAge,
		Operation:    op.String(),
	})
	if _, err := checker.RunAllChecks(ctx); err != nil {
		return nil, migration.NewError(dir, err, "preflight checks failed for [%s]", dir)
	}
	return checker, nil
}

func (m *ConfigurationMigrationManager) release(checker *checks.Checker) {
	if err := checker.ReleaseLock(); err != nil {
		m.logger.Warning("%v", err)
	}
}

func (m *ConfigurationMigrationManager) verifyArchive(stats *RunStats, archive string) error {
	info, err := os.Stat(archive)
	if err != nil {
		return migration.NewError(archive, err, "export archive [%s] is not accessible", archive)
	}
	stats.ArchiveSize = info.Size()
	if err := crypt.VerifyChecksumFile(archive); err != nil {
		return migration.NewError(archive, err, "export archive [%s] failed checksum verification", archive)
	}
	m.logger.Debug("Checksum verified for %s (%s)", archive, humanize.Bytes(uint64(info.Size())))
	return nil
}

// fail records err and ends the run.
func (m *ConfigurationMigrationManager) fail(stats *RunStats, phase string, code types.ExitCode, err error) (*RunStats, error) {
	stats.Report.RecordError(err)
	return m.abort(stats, phase, code, err)
}

// abort ends a run whose error is already in the report.
func (m *ConfigurationMigrationManager) abort(stats *RunStats, phase string, code types.ExitCode, err error) (*RunStats, error) {
	m.finish(stats, code)
	return stats, &MigrationError{Phase: phase, Err: err, Code: code}
}

// complete ends a run that went through all components. Recorded errors
// still fail it.
func (m *ConfigurationMigrationManager) complete(stats *RunStats, code types.ExitCode) (*RunStats, error) {
	stats.Report.End()
	if err := stats.Report.VerifyCompletion(); err != nil {
		m.finish(stats, code)
		return stats, &MigrationError{Phase: "migration", Err: err, Code: code}
	}
	m.finish(stats, types.ExitSuccess)
	return stats, nil
}

func (m *ConfigurationMigrationManager) finish(stats *RunStats, code types.ExitCode) {
	report := stats.Report
	report.End()
	stats.EndTime, _ = report.EndTime()
	stats.Duration = report.Duration()
	stats.ExitCode = code
	stats.ErrorCount = len(report.Errors())
	stats.WarningCount = len(report.Warnings())

	if m.opts.MetricsTextfileDir == "" {
		return
	}
	exporter := metrics.NewPrometheusExporter(m.opts.MetricsTextfileDir, m.logger)
	if err := exporter.Export(stats.toPrometheusMetrics()); err != nil {
		m.logger.Warning("Failed to export Prometheus metrics: %v", err)
	}
}

// discard removes an archive that cannot be trusted. The key file is kept
// for the next attempt.
func (m *ConfigurationMigrationManager) discard(archive string) {
	if err := os.Remove(archive); err != nil && !os.IsNotExist(err) {
		m.logger.Warning("Failed to remove incomplete archive %s: %v", archive, err)
		return
	}
	m.logger.Debug("Removed incomplete archive %s", archive)
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
