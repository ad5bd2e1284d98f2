package migration

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/tis24dev/confmigrate/internal/crypt"
	"github.com/tis24dev/confmigrate/internal/logging"
	"github.com/tis24dev/confmigrate/internal/version"
)

// ExportManager writes every registered component into one archive.
type ExportManager struct {
	report   *Report
	opts     Options
	logger   *logging.Logger
	path     string
	file     *os.File
	archive  *archiveWriter
	contexts []*exportContext
	metadata *Metadata
	closed   bool
	closeErr error
}

// NewExportManager creates the archive at archivePath, truncating any
// previous one. Components keep the order given; repeated ids are ignored.
func NewExportManager(r *Report, archivePath string, c crypt.Cipher, opts Options, migratables []Migratable) (*ExportManager, error) {
	if err := opts.validate(); err != nil {
		return nil, NewError(archivePath, err, "invalid export options")
	}
	if c == nil {
		c = crypt.None()
	}
	if err := os.MkdirAll(filepath.Dir(archivePath), 0o755); err != nil {
		return nil, NewError(archivePath, err, "failed to create export directory for [%s]", archivePath)
	}
	f, err := os.OpenFile(archivePath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, NewError(archivePath, err, "failed to create export archive [%s]", archivePath)
	}
	archive, err := newArchiveWriter(f, c)
	if err != nil {
		f.Close()
		return nil, NewError(archivePath, err, "failed to initialize export archive [%s]", archivePath)
	}

	m := &ExportManager{
		report:  r,
		opts:    opts,
		logger:  opts.logger(),
		path:    archivePath,
		file:    f,
		archive: archive,
		metadata: &Metadata{
			Version:        version.SchemaVersion,
			ProductVersion: opts.ProductVersion,
			Date:           r.StartTime().UTC().Format(time.RFC3339),
			ReportID:       r.ID(),
			Migratables:    make(map[string]*MigratableMetadata),
		},
	}
	for _, mig := range uniqueMigratables(r, migratables) {
		m.contexts = append(m.contexts, newExportContext(mig, r, opts, archive))
	}
	return m, nil
}

// Path returns the archive location.
func (m *ExportManager) Path() string { return m.path }

// DoExport runs every component in order. Component failures are recorded
// and the export moves on; an archive stream failure stops it and is
// returned. Cancellation is checked between components.
func (m *ExportManager) DoExport(ctx context.Context) error {
	for _, c := range m.contexts {
		if err := ctx.Err(); err != nil {
			m.report.RecordError(NewError("", err, "export interrupted before [%s]", c.id))
			return err
		}
		m.logger.Step("Exporting %s [%s]", c.migratable.Title(), c.id)
		before := c.archive.entries
		if err := c.run(); err != nil {
			return err
		}
		m.metadata.Migratables[c.id] = c.metadata()
		m.logger.Debug("Exported [%s]: %d file(s), %d archive entries", c.id, c.files, c.archive.entries-before)
	}
	return nil
}

// Close writes export.json and finishes the archive. A failed archive is
// removed. Close is idempotent.
func (m *ExportManager) Close() error {
	if m.closed {
		return m.closeErr
	}
	m.closed = true

	err := m.archive.close(m.metadata)
	if cerr := m.file.Close(); cerr != nil && err == nil {
		err = asStreamError(cerr)
	}
	if err != nil {
		m.report.RecordError(NewError(m.path, err, "failed to complete export archive [%s]", m.path))
		if rmErr := os.Remove(m.path); rmErr != nil && !os.IsNotExist(rmErr) {
			m.logger.Warning("Failed to remove incomplete archive %s: %v", m.path, rmErr)
		}
		m.closeErr = err
		return err
	}
	if info, statErr := os.Stat(m.path); statErr == nil {
		m.logger.Info("Export archive %s written (%s, %d entries)", m.path, humanize.Bytes(uint64(info.Size())), m.archive.entries)
	}
	return nil
}
