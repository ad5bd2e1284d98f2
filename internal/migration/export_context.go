package migration

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/tis24dev/confmigrate/internal/logging"
	"github.com/tis24dev/confmigrate/internal/pathutil"
	"github.com/tis24dev/confmigrate/internal/properties"
)

// ExportContext is handed to a component while it exports.
type ExportContext interface {
	ID() string
	Report() *Report
	// Entry returns the entry for path, relative to home when not absolute.
	Entry(path string) ExportEntry
	// Entries lists the files below path accepted by filter.
	Entries(path string, filter Filter) []ExportEntry
	SystemPropertyReferencedEntry(name string, validator Validator) (ExportEntry, bool)
	JavaPropertyReferencedEntry(propertiesPath, name string, validator Validator) (ExportEntry, bool)
}

type exportContext struct {
	id         string
	migratable Migratable
	report     *Report
	logger     *logging.Logger
	paths      *pathutil.Resolver
	sysprops   properties.Source
	archive    *archiveWriter

	entries  map[string]*exportEntry
	sysRefs  map[string]*exportPropertyEntry
	javaRefs map[javaRefKey]*exportPropertyEntry
	writers  []*lazyWriter
	files    int

	externals    []ExternalMetadata
	externalSeen map[string]struct{}
	folders      []FolderMetadata
	sysMeta      []SystemPropertyMetadata
	javaMeta     []JavaPropertyMetadata
}

func newExportContext(m Migratable, r *Report, opts Options, archive *archiveWriter) *exportContext {
	return &exportContext{
		id:           m.ID(),
		migratable:   m,
		report:       r,
		logger:       opts.logger(),
		paths:        opts.Paths,
		sysprops:     opts.SystemProperties,
		archive:      archive,
		entries:      make(map[string]*exportEntry),
		sysRefs:      make(map[string]*exportPropertyEntry),
		javaRefs:     make(map[javaRefKey]*exportPropertyEntry),
		externalSeen: make(map[string]struct{}),
	}
}

func (c *exportContext) ID() string      { return c.id }
func (c *exportContext) Report() *Report { return c.report }

func (c *exportContext) Entry(p string) ExportEntry { return c.entry(p) }

func (c *exportContext) entry(p string) *exportEntry {
	rel := c.paths.RelativizeFromHome(c.paths.ResolveAgainstHome(pathutil.FromName(p)))
	name := pathutil.ToName(rel)
	if e, ok := c.entries[name]; ok {
		return e
	}
	e := &exportEntry{
		ctx:      c,
		name:     name,
		path:     c.paths.ResolveAgainstHome(rel),
		absolute: filepath.IsAbs(rel),
	}
	c.entries[name] = e
	return e
}

func (c *exportContext) Entries(p string, filter Filter) []ExportEntry {
	root := c.entry(p)
	children := c.walk(root.name, root.path, filter)
	out := make([]ExportEntry, 0, len(children))
	for _, child := range children {
		out = append(out, child)
	}
	return out
}

// walk lists the non directory children of dir in lexical order. Symbolic
// links are listed but not followed.
func (c *exportContext) walk(name, dir string, filter Filter) []*exportEntry {
	var out []*exportEntry
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			c.report.RecordError(NewError(name, err, "cannot list [%s]", pathutil.ToName(c.paths.RelativizeFromHome(p))))
			return nil
		}
		if d.IsDir() {
			return nil
		}
		child := c.entry(c.paths.RelativizeFromHome(p))
		if filter != nil && !filter(child.name) {
			return nil
		}
		out = append(out, child)
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		c.report.RecordError(NewError(name, err, "cannot list [%s]", name))
	}
	return out
}

func (c *exportContext) SystemPropertyReferencedEntry(name string, validator Validator) (ExportEntry, bool) {
	if e, ok := c.sysRefs[name]; ok {
		return e, true
	}
	ref := systemPropertyRef(c.paths, c.sysprops, name)
	e, ok := c.propertyEntry(ref, validator)
	if !ok {
		return nil, false
	}
	c.sysRefs[name] = e
	c.sysMeta = append(c.sysMeta, SystemPropertyMetadata{Property: name, Reference: e.ref.name})
	return e, true
}

func (c *exportContext) JavaPropertyReferencedEntry(propertiesPath, name string, validator Validator) (ExportEntry, bool) {
	file := c.entry(propertiesPath).name
	key := javaRefKey{file: file, property: name}
	if e, ok := c.javaRefs[key]; ok {
		return e, true
	}
	ref := javaPropertyRef(c.paths, file, name)
	e, ok := c.propertyEntry(ref, validator)
	if !ok {
		return nil, false
	}
	c.javaRefs[key] = e
	c.javaMeta = append(c.javaMeta, JavaPropertyMetadata{Name: file, Property: name, Reference: e.ref.name})
	return e, true
}

func (c *exportContext) propertyEntry(ref propertyRef, validator Validator) (*exportPropertyEntry, bool) {
	value, err := ref.resolve()
	if err != nil {
		c.report.RecordError(err)
		return nil, false
	}
	if validator != nil && !validator(c.report, value) {
		return nil, false
	}
	return &exportPropertyEntry{ref: c.entry(value), prop: ref}, true
}

func (c *exportContext) addExternal(ext ExternalMetadata) {
	if _, dup := c.externalSeen[ext.Name]; dup {
		return
	}
	c.externalSeen[ext.Name] = struct{}{}
	c.externals = append(c.externals, ext)
}

func (c *exportContext) addFolder(f FolderMetadata) {
	c.folders = append(c.folders, f)
}

func (c *exportContext) openEntry(name string, mode os.FileMode, modified time.Time) (io.Writer, error) {
	return c.archive.open(c.id+"/"+name, mode, modified)
}

func (c *exportContext) aborted() bool { return c.archive.failed() != nil }

// abort records the stream failure once; the manager stops afterwards.
func (c *exportContext) abort(name string, err error) {
	c.report.RecordError(NewError(name, err, "failed to write [%s] to the export archive", name))
}

// run exports the component and closes its last archive entry.
func (c *exportContext) run() error {
	err := c.migratable.Export(c)
	for _, w := range c.writers {
		if werr := w.ensure(); werr != nil && err == nil {
			err = werr
		}
	}
	if cerr := c.archive.closeCurrent(); cerr != nil && err == nil {
		err = cerr
	}
	if failure := c.archive.failed(); failure != nil {
		return failure
	}
	if err != nil {
		c.report.RecordError(NewError("", err, "migratable [%s] failed to export", c.id))
	}
	return nil
}

func (c *exportContext) metadata() *MigratableMetadata {
	return &MigratableMetadata{
		Version:          c.migratable.Version(),
		Name:             c.migratable.Title(),
		Description:      c.migratable.Description(),
		Organization:     c.migratable.Organization(),
		Externals:        c.externals,
		Folders:          c.folders,
		SystemProperties: c.sysMeta,
		JavaProperties:   c.javaMeta,
	}
}

// exportPropertyEntry delegates to the referenced file and checks after the
// export that the property still points at it.
type exportPropertyEntry struct {
	ref       *exportEntry
	prop      propertyRef
	scheduled bool
}

func (e *exportPropertyEntry) ID() string   { return e.ref.ID() }
func (e *exportPropertyEntry) Name() string { return e.ref.Name() }
func (e *exportPropertyEntry) Path() string { return e.ref.Path() }

func (e *exportPropertyEntry) Store(required bool) bool {
	defer e.schedule()
	return e.ref.Store(required)
}

func (e *exportPropertyEntry) StoreFiltered(required bool, filter Filter) bool {
	defer e.schedule()
	return e.ref.StoreFiltered(required, filter)
}

func (e *exportPropertyEntry) StoreWith(fn func(r *Report, w io.Writer) error) bool {
	defer e.schedule()
	return e.ref.StoreWith(fn)
}

func (e *exportPropertyEntry) Writer() (io.Writer, error) {
	e.schedule()
	return e.ref.Writer()
}

func (e *exportPropertyEntry) PropertyReferencedEntry(name string, validator Validator) (ExportEntry, bool) {
	return e.ref.PropertyReferencedEntry(name, validator)
}

func (e *exportPropertyEntry) schedule() {
	if e.scheduled {
		return
	}
	e.scheduled = true
	reference := e.ref.name
	e.ref.ctx.report.DoAfterCompletion(func(r *Report) {
		e.prop.verify(r, reference)
	})
}
