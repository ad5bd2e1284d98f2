package migration

import (
	"context"
	"sort"
	"strings"

	"github.com/tis24dev/confmigrate/internal/logging"
	"github.com/tis24dev/confmigrate/internal/version"
)

// ImportManager replays an archive into the installed components.
type ImportManager struct {
	report   *Report
	opts     Options
	logger   *logging.Logger
	path     string
	archive  *archiveReader
	metadata *Metadata
	system   *importContext
	contexts []*importContext
	byID     map[string]*importContext
	closed   bool
}

// NewImportManager opens archivePath and validates export.json before any
// component runs. The key file next to the archive is loaded when the
// archive is encrypted.
func NewImportManager(r *Report, archivePath string, opts Options, migratables []Migratable) (*ImportManager, error) {
	if err := opts.validate(); err != nil {
		return nil, NewError(archivePath, err, "invalid import options")
	}
	archive, err := openArchive(archivePath)
	if err != nil {
		return nil, NewError(archivePath, err, "failed to open export archive [%s]", archivePath)
	}
	md, err := archive.metadata()
	if err != nil {
		archive.close()
		return nil, NewError(archivePath, err, "failed to read export archive [%s]", archivePath)
	}
	if md.Version != version.SchemaVersion {
		archive.close()
		return nil, NewError(archivePath, nil, "unsupported exported version [%s] for [%s]; currently supporting [%s]", md.Version, archivePath, version.SchemaVersion)
	}
	if md.ProductVersion != opts.ProductVersion {
		archive.close()
		return nil, NewError(archivePath, nil, "mismatched product version [%s] for [%s]; expecting [%s]", md.ProductVersion, archivePath, opts.ProductVersion)
	}

	m := &ImportManager{
		report:   r,
		opts:     opts,
		logger:   opts.logger(),
		path:     archivePath,
		archive:  archive,
		metadata: md,
		byID:     make(map[string]*importContext),
	}
	m.system = newImportContext(m, "", nil, nil)
	for _, mig := range uniqueMigratables(r, migratables) {
		c := newImportContext(m, mig.ID(), mig, md.Migratables[mig.ID()])
		m.contexts = append(m.contexts, c)
		m.byID[c.id] = c
	}

	uninstalled := make(map[string]struct{})
	ids := make([]string, 0, len(md.Migratables))
	for id := range md.Migratables {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if _, ok := m.byID[id]; !ok {
			uninstalled[id] = struct{}{}
			r.RecordError(NewError("", nil, "migratable [%s] was exported but is not installed; its configuration cannot be imported", id))
		}
	}

	for _, f := range archive.files() {
		if f.Name == MetadataEntryName || strings.HasSuffix(f.Name, "/") {
			continue
		}
		if id, rest, found := strings.Cut(f.Name, "/"); found {
			if c, ok := m.byID[id]; ok {
				c.addFile(rest, f)
				continue
			}
			if _, skip := uninstalled[id]; skip {
				continue
			}
		}
		m.system.addFile(f.Name, f)
	}
	return m, nil
}

// Metadata returns the parsed export.json.
func (m *ImportManager) Metadata() *Metadata { return m.metadata }

// DoImport runs every installed component in registration order.
// Cancellation is checked between components.
func (m *ImportManager) DoImport(ctx context.Context) error {
	for _, c := range m.contexts {
		if err := ctx.Err(); err != nil {
			m.report.RecordError(NewError("", err, "import interrupted before [%s]", c.id))
			return err
		}
		m.logger.Step("Importing %s [%s]", c.migratable.Title(), c.id)
		c.run()
		m.logger.Debug("Imported [%s]: %d file(s) restored", c.id, c.restored)
	}
	return nil
}

func (m *ImportManager) lookupElsewhere(name string, from *importContext) ImportEntry {
	if from != m.system {
		if e := m.system.lookup(name); e != nil {
			return e
		}
	}
	for _, c := range m.contexts {
		if c == from {
			continue
		}
		if e := c.lookup(name); e != nil {
			return e
		}
	}
	return nil
}

// Close releases the archive. It is idempotent.
func (m *ImportManager) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	return m.archive.close()
}
